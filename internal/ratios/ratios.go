// Package ratios computes the four put/call activity ratios: volume, open
// interest, premium and delta-weighted volume.
package ratios

import (
	"context"
	"log/slog"
	"math"

	"gexhaus/internal/chain"
)

// Ratio is a put/call quotient. A zero call-side denominator against a
// nonzero put side is reported as Undefined rather than +Inf so the value
// survives serialization without collapsing to NaN.
type Ratio struct {
	Value     float64 `json:"value"`
	Undefined bool    `json:"undefined,omitempty"`
}

// Float returns the ratio as a float64, with Undefined mapping to +Inf.
// Storage always round-trips the struct form, never this projection.
func (r Ratio) Float() float64 {
	if r.Undefined {
		return math.Inf(1)
	}
	return r.Value
}

func divide(put, call float64) Ratio {
	if call == 0 {
		if put == 0 {
			return Ratio{Value: 0}
		}
		return Ratio{Undefined: true}
	}
	return Ratio{Value: put / call}
}

// Sentiment labels derived from the volume ratio.
const (
	SentimentBearish = "BEARISH"
	SentimentBullish = "BULLISH"
	SentimentNeutral = "NEUTRAL"
)

// Result holds the four ratio variants plus the derived sentiment label.
type Result struct {
	Volume        Ratio
	OpenInterest  Ratio
	Premium       Ratio
	DeltaWeighted Ratio
	Sentiment     string
}

// AnyUndefined reports whether any ratio hit the zero-denominator sentinel.
func (r Result) AnyUndefined() bool {
	return r.Volume.Undefined || r.OpenInterest.Undefined ||
		r.Premium.Undefined || r.DeltaWeighted.Undefined
}

// Calculator computes put/call ratios.
type Calculator struct {
	logger *slog.Logger
}

// NewCalculator creates a ratio calculator.
func NewCalculator(logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{logger: logger}
}

// Compute sums each activity dimension per side and divides put by call.
// Premium weights mid price by volume; delta-weighted uses |delta| times
// volume. Compute never fails.
func (c *Calculator) Compute(ctx context.Context, snap chain.Snapshot) Result {
	var put, call struct {
		volume  float64
		oi      float64
		premium float64
		delta   float64
	}

	for _, rec := range snap.Contracts {
		side := &call
		if rec.Type == chain.Put {
			side = &put
		}
		vol := float64(rec.Volume)
		side.volume += vol
		side.oi += float64(rec.OpenInterest)
		side.premium += rec.Mid() * vol
		if rec.Delta != nil {
			side.delta += math.Abs(*rec.Delta) * vol
		}
	}

	res := Result{
		Volume:        divide(put.volume, call.volume),
		OpenInterest:  divide(put.oi, call.oi),
		Premium:       divide(put.premium, call.premium),
		DeltaWeighted: divide(put.delta, call.delta),
	}
	res.Sentiment = sentiment(res.Volume)

	if res.AnyUndefined() {
		c.logger.DebugContext(ctx, "put/call ratio undefined, zero call-side sum",
			"symbol", snap.Symbol,
		)
	}

	return res
}

func sentiment(volume Ratio) string {
	switch {
	case volume.Undefined || volume.Value > 1.5:
		return SentimentBearish
	case volume.Value < 0.7:
		return SentimentBullish
	default:
		return SentimentNeutral
	}
}
