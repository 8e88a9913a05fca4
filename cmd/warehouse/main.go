// Command warehouse executes one daily analytics run: for each configured
// symbol it ingests the day's chain snapshot, computes the exposure record
// and persists it to the partition store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gexhaus/internal/chain"
	"gexhaus/internal/config"
	"gexhaus/internal/exposure"
	"gexhaus/internal/feed"
	"gexhaus/internal/infrastructure"
	"gexhaus/internal/metrics"
	"gexhaus/internal/pipeline"
	"gexhaus/internal/ratios"
	"gexhaus/internal/realized"
	"gexhaus/internal/record"
	"gexhaus/internal/storage"
	"gexhaus/internal/stress"
	"gexhaus/internal/surface"
)

func main() {
	configPath := flag.String("config", "gexhaus.yaml", "path to the YAML config file")
	dateFlag := flag.String("date", "", "run date as YYYY-MM-DD (defaults to the last weekday)")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbol override")
	force := flag.Bool("force", false, "replace an already-stored record")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	date, err := resolveDate(*dateFlag)
	if err != nil {
		logger.Error("invalid -date", "error", err)
		os.Exit(1)
	}

	symbols := cfg.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}

	metrics.Init()

	runner, err := buildRunner(cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	ctx := infrastructure.EnsureTraceID(context.Background())
	failed := 0
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		res, err := runner.RunForDate(ctx, symbol, date, *force)
		if err != nil {
			logger.ErrorContext(ctx, "daily run failed",
				"symbol", symbol,
				"date", date.Format("2006-01-02"),
				"error", err,
			)
			failed++
			continue
		}
		logger.InfoContext(ctx, "daily run complete",
			"symbol", symbol,
			"run_id", res.RunID,
			"status", res.Status,
			"written", res.Written,
		)
	}

	if failed > 0 {
		logger.Error("some daily runs failed", "failed", failed, "total", len(symbols))
		os.Exit(1)
	}
}

// resolveDate parses the -date flag, defaulting to today or, on weekends,
// the preceding Friday.
func resolveDate(raw string) (time.Time, error) {
	if raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", raw, err)
		}
		return d, nil
	}

	d := time.Now().UTC().Truncate(24 * time.Hour)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d, nil
}

func buildRunner(cfg *config.Config, logger *slog.Logger) (*pipeline.Runner, error) {
	store, err := storage.NewManager(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	chains := feed.NewRetryingChainSource(
		&feed.FileChainSource{BaseDir: cfg.Feed.SnapshotDir}, cfg.Vendor, logger)
	chains.OnRetry = func() { metrics.RecordVendorRetry("chain") }

	prices := feed.NewRetryingPriceHistory(
		&feed.FilePriceHistory{BaseDir: cfg.Feed.PriceDir}, cfg.Vendor, logger)
	prices.OnRetry = func() { metrics.RecordVendorRetry("prices") }

	return pipeline.NewRunner(pipeline.Deps{
		Chains:    chains,
		Prices:    prices,
		Store:     store,
		Validator: chain.NewValidator(cfg.Validator, logger),
		Exposure:  exposure.NewAggregator(logger),
		Surface:   surface.NewBuilder(cfg.Surface, logger),
		Realized:  realized.NewEstimator(logger),
		Stress:    stress.NewScorer(cfg.Stress, logger),
		Ratios:    ratios.NewCalculator(logger),
		Assembler: record.NewAssembler(logger),
	}, logger), nil
}
