// Package realized computes multi-window annualized historical volatility
// from a chronological close-price series supplied by the price-history
// collaborator.
package realized

import (
	"context"
	"log/slog"
	"math"

	"gexhaus/internal/errs"
)

// Windows are the lookback lengths in trading days, ascending. The shortest
// window is mandatory; longer windows degrade to null when history is thin.
var Windows = []int{10, 20, 252}

// TradingDaysPerYear annualizes the daily return standard deviation.
const TradingDaysPerYear = 252

// WindowVol is one window's annualized volatility. Vol is nil when the
// window lacked history.
type WindowVol struct {
	Window int      `json:"window"`
	Vol    *float64 `json:"vol"`
}

// Result holds per-window volatilities ordered by ascending window.
type Result struct {
	Vols []WindowVol
}

// Missing reports whether any window degraded to null.
func (r Result) Missing() bool {
	for _, wv := range r.Vols {
		if wv.Vol == nil {
			return true
		}
	}
	return false
}

// Estimator computes realized volatility.
type Estimator struct {
	logger *slog.Logger
}

// NewEstimator creates a realized volatility estimator.
func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{logger: logger}
}

// Estimate computes annualized vol for each window from the most recent
// closes. A window W needs at least W+1 prices. A missing shortest window is
// fatal; missing longer windows degrade to null plus a quality flag.
func (e *Estimator) Estimate(ctx context.Context, closes []float64) (Result, error) {
	const op = "realized.Estimate"

	shortest := Windows[0]
	if len(closes) < shortest+1 {
		return Result{}, errs.New(errs.KindInsufficientData, op,
			"%d closes available, shortest window %d needs %d", len(closes), shortest, shortest+1)
	}

	returns := logReturns(closes)
	res := Result{Vols: make([]WindowVol, 0, len(Windows))}
	for _, w := range Windows {
		wv := WindowVol{Window: w}
		if len(closes) >= w+1 {
			vol := stdev(returns[len(returns)-w:]) * math.Sqrt(TradingDaysPerYear)
			wv.Vol = &vol
		} else {
			e.logger.DebugContext(ctx, "window lacks price history",
				"window", w,
				"closes", len(closes),
			)
		}
		res.Vols = append(res.Vols, wv)
	}

	return res, nil
}

func logReturns(closes []float64) []float64 {
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
