// Command backfill replays the daily pipeline over a date range, skipping
// weekends and days the vendor mirror has no snapshot for.
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
	fromFlag := flag.String("from", "", "first date as YYYY-MM-DD (required)")
	toFlag := flag.String("to", "", "last date as YYYY-MM-DD (defaults to -from)")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbol override")
	force := flag.Bool("force", false, "replace already-stored records")
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

	from, to, err := resolveRange(*fromFlag, *toFlag)
	if err != nil {
		logger.Error("invalid date range", "error", err)
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
		results, err := runner.RunRange(ctx, symbol, from, to, *force)
		if err != nil {
			logger.ErrorContext(ctx, "backfill aborted",
				"symbol", symbol,
				"completed", len(results),
				"error", err,
			)
			failed++
			continue
		}

		written := 0
		for _, res := range results {
			if res.Written {
				written++
			}
		}
		logger.InfoContext(ctx, "backfill complete",
			"symbol", symbol,
			"from", from.Format("2006-01-02"),
			"to", to.Format("2006-01-02"),
			"runs", len(results),
			"written", written,
		)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func resolveRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	if fromRaw == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("-from is required")
	}
	from, err := time.Parse("2006-01-02", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse -from %q: %w", fromRaw, err)
	}

	to := from
	if toRaw != "" {
		if to, err = time.Parse("2006-01-02", toRaw); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -to %q: %w", toRaw, err)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("-to precedes -from")
	}
	return from, to, nil
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
