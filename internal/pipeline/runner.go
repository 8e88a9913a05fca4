// Package pipeline orchestrates one daily analytics run: fetch the chain
// snapshot, validate it, fan the validated snapshot out to the analytic
// calculators, join at the assembly barrier and persist the finished record.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
	"gexhaus/internal/exposure"
	"gexhaus/internal/feed"
	"gexhaus/internal/metrics"
	"gexhaus/internal/ratios"
	"gexhaus/internal/realized"
	"gexhaus/internal/record"
	"gexhaus/internal/storage"
	"gexhaus/internal/stress"
	"gexhaus/internal/surface"
)

// Status is the overall outcome of one run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// RunResult reports one run's identity and outcome. Record is nil when the
// run failed before assembly.
type RunResult struct {
	RunID    uuid.UUID
	Symbol   string
	Date     time.Time
	Status   Status
	Record   *record.DailyExposureRecord
	Written  bool
	Duration time.Duration
}

// Store is the slice of the storage manager the runner needs.
type Store interface {
	Write(ctx context.Context, rec *record.DailyExposureRecord, force bool) (bool, error)
}

var _ Store = (*storage.Manager)(nil)

// Deps wires the runner's collaborators. Chains and Prices are required;
// Alerter defaults to a no-op.
type Deps struct {
	Chains  feed.ChainSource
	Prices  feed.PriceHistory
	Store   Store
	Alerter feed.Alerter

	Validator *chain.Validator
	Exposure  *exposure.Aggregator
	Surface   *surface.Builder
	Realized  *realized.Estimator
	Stress    *stress.Scorer
	Ratios    *ratios.Calculator
	Assembler *record.Assembler
}

// Runner executes daily analytics runs.
type Runner struct {
	deps   Deps
	logger *slog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(deps Deps, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Alerter == nil {
		deps.Alerter = feed.NopAlerter{}
	}
	return &Runner{deps: deps, logger: logger}
}

// RunForDate executes the full pipeline for one (symbol, date). With
// force=false an already-stored date is recomputed but not rewritten; with
// force=true the stored row is replaced. The returned error carries the
// fatal cause when Status is failed.
func (r *Runner) RunForDate(ctx context.Context, symbol string, date time.Time, force bool) (RunResult, error) {
	res := RunResult{
		RunID:  uuid.New(),
		Symbol: symbol,
		Date:   date,
	}
	started := time.Now()
	defer func() {
		res.Duration = time.Since(started)
		metrics.RecordRun(symbol, string(res.Status), res.Duration)
	}()

	logger := r.logger.With("run_id", res.RunID, "symbol", symbol, "date", date.Format("2006-01-02"))
	logger.InfoContext(ctx, "pipeline run started", "force", force)

	snap, err := r.deps.Chains.FetchChain(ctx, symbol, date)
	if err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("run %s: %w", res.RunID, err)
	}

	validation, err := r.deps.Validator.Validate(ctx, snap)
	if err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("run %s: %w", res.RunID, err)
	}

	in := record.Inputs{Validation: validation}
	valid := validation.Snapshot

	// Each branch owns its own fields of in; the group is a pure join
	// barrier, with per-component failures carried in the Inputs so the
	// assembler decides which of them sink the record.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		in.Exposure, in.ExposureErr = r.deps.Exposure.Aggregate(gctx, valid)
		return nil
	})
	g.Go(func() error {
		in.Surface, in.SurfaceErr = r.deps.Surface.Build(gctx, valid)
		return nil
	})
	g.Go(func() error {
		closes, err := r.deps.Prices.Closes(gctx, symbol, date)
		if err != nil {
			in.RealizedErr = err
			return nil
		}
		in.Realized, in.RealizedErr = r.deps.Realized.Estimate(gctx, closes)
		return nil
	})
	g.Go(func() error {
		in.Stress = r.deps.Stress.Score(gctx, valid, validation.ExclusionRatio)
		return nil
	})
	g.Go(func() error {
		in.Ratios = r.deps.Ratios.Compute(gctx, valid)
		return nil
	})
	_ = g.Wait()

	rec, err := r.deps.Assembler.Assemble(ctx, symbol, date, in)
	if err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("run %s: %w", res.RunID, err)
	}
	res.Record = rec
	for _, f := range rec.Flags {
		metrics.RecordFlag(string(f))
	}

	wrote, err := r.deps.Store.Write(ctx, rec, force)
	if err != nil {
		res.Status = StatusFailed
		if errs.Is(err, errs.KindStorageConflict) {
			metrics.RecordWrite("conflict")
		} else {
			metrics.RecordWrite("error")
		}
		return res, fmt.Errorf("run %s: %w", res.RunID, err)
	}
	res.Written = wrote
	if wrote {
		metrics.RecordWrite("written")
	} else {
		metrics.RecordWrite("skipped")
	}

	res.Status = statusFromQuality(rec.Quality)
	r.deps.Alerter.RecordReady(ctx, rec)

	logger.InfoContext(ctx, "pipeline run finished",
		"status", res.Status,
		"quality", rec.Quality,
		"written", wrote,
		"duration", time.Since(started),
	)
	return res, nil
}

// RunRange executes RunForDate for every weekday in [from, to]. Days the
// vendor has no snapshot for (holidays, data gaps) are skipped with a
// warning; any other failure aborts the range.
func (r *Runner) RunRange(ctx context.Context, symbol string, from, to time.Time, force bool) ([]RunResult, error) {
	var out []RunResult
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		res, err := r.RunForDate(ctx, symbol, d, force)
		if err != nil {
			if errs.Is(err, errs.KindVendorUnavailable) {
				r.logger.WarnContext(ctx, "no vendor data for date, skipping",
					"symbol", symbol,
					"date", d.Format("2006-01-02"),
					"error", err,
				)
				continue
			}
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func statusFromQuality(q record.Quality) Status {
	if q == record.QualityOK {
		return StatusOK
	}
	return StatusPartial
}
