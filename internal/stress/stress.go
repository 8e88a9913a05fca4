// Package stress derives a composite liquidity stress index in [0,100] from
// spread width, near-spot depth and data completeness. The scorer never
// fails: insufficient input is itself a low-liquidity signal and degrades to
// the maximum-stress sentinel.
package stress

import (
	"context"
	"log/slog"

	"gexhaus/internal/chain"
)

// MaxStress is the sentinel index reported when the snapshot is unusable.
const MaxStress = 100.0

// Weights combines the three sub-factors. Equal by default.
type Weights struct {
	Spread    float64 `yaml:"spread" envconfig:"SPREAD" default:"1"`
	Depth     float64 `yaml:"depth" envconfig:"DEPTH" default:"1"`
	Exclusion float64 `yaml:"exclusion" envconfig:"EXCLUSION" default:"1"`
}

// Config holds the reference bands each sub-factor is normalized against.
type Config struct {
	// NearSpotBand selects contracts whose strike is within this fraction of
	// the underlying price.
	NearSpotBand float64 `yaml:"near_spot_band" envconfig:"NEAR_SPOT_BAND" default:"0.1" validate:"gt=0,lte=1"`

	// SpreadCeiling is the OI-weighted relative spread that maps to full
	// stress.
	SpreadCeiling float64 `yaml:"spread_ceiling" envconfig:"SPREAD_CEILING" default:"0.25" validate:"gt=0"`

	// DepthRefLow..DepthRefHigh is the near-spot open-interest band mapped
	// inversely onto [1,0]: a book at or below the low bound is fully
	// stressed, at or above the high bound fully relaxed.
	DepthRefLow  float64 `yaml:"depth_ref_low" envconfig:"DEPTH_REF_LOW" default:"1000" validate:"gte=0"`
	DepthRefHigh float64 `yaml:"depth_ref_high" envconfig:"DEPTH_REF_HIGH" default:"100000" validate:"gt=0"`

	// ExclusionCeiling is the validator exclusion ratio that maps to full
	// stress.
	ExclusionCeiling float64 `yaml:"exclusion_ceiling" envconfig:"EXCLUSION_CEILING" default:"0.5" validate:"gt=0,lte=1"`

	Weights Weights `yaml:"weights" envconfig:"WEIGHTS"`
}

// DefaultConfig returns the standard reference bands with equal weights.
func DefaultConfig() Config {
	return Config{
		NearSpotBand:     0.10,
		SpreadCeiling:    0.25,
		DepthRefLow:      1_000,
		DepthRefHigh:     100_000,
		ExclusionCeiling: 0.5,
		Weights:          Weights{Spread: 1, Depth: 1, Exclusion: 1},
	}
}

// Result carries the composite index and its sub-factors (each in [0,1]).
type Result struct {
	Index           float64
	SpreadFactor    float64
	DepthFactor     float64
	ExclusionFactor float64
	Degraded        bool
}

// Scorer computes liquidity stress indices.
type Scorer struct {
	cfg    Config
	logger *slog.Logger
}

// NewScorer creates a stress scorer.
func NewScorer(cfg Config, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{cfg: cfg, logger: logger}
}

// Score computes the stress index for a validated snapshot. exclusionRatio
// is the fraction of raw contracts the validator discarded.
func (s *Scorer) Score(ctx context.Context, snap chain.Snapshot, exclusionRatio float64) Result {
	if snap.Empty() {
		s.logger.WarnContext(ctx, "no valid contracts, degrading to maximum stress",
			"symbol", snap.Symbol,
		)
		return Result{
			Index:           MaxStress,
			SpreadFactor:    1,
			DepthFactor:     1,
			ExclusionFactor: clamp01(exclusionRatio / s.cfg.ExclusionCeiling),
			Degraded:        true,
		}
	}

	spot := snap.Underlying
	var weightedSpread, oiNearSpot float64
	for _, c := range snap.Contracts {
		dist := c.Strike - spot
		if dist < 0 {
			dist = -dist
		}
		if dist > s.cfg.NearSpotBand*spot {
			continue
		}
		mid := c.Mid()
		if mid <= 0 {
			continue
		}
		oi := float64(c.OpenInterest)
		weightedSpread += (c.Ask - c.Bid) / mid * oi
		oiNearSpot += oi
	}

	res := Result{}
	if oiNearSpot > 0 {
		res.SpreadFactor = clamp01((weightedSpread / oiNearSpot) / s.cfg.SpreadCeiling)
	} else {
		// Nothing trading near spot is a thin book, not clean data.
		res.SpreadFactor = 1
	}
	res.DepthFactor = 1 - clamp01((oiNearSpot-s.cfg.DepthRefLow)/(s.cfg.DepthRefHigh-s.cfg.DepthRefLow))
	res.ExclusionFactor = clamp01(exclusionRatio / s.cfg.ExclusionCeiling)

	w := s.cfg.Weights
	totalWeight := w.Spread + w.Depth + w.Exclusion
	if totalWeight <= 0 {
		w = Weights{Spread: 1, Depth: 1, Exclusion: 1}
		totalWeight = 3
	}
	res.Index = (w.Spread*res.SpreadFactor + w.Depth*res.DepthFactor + w.Exclusion*res.ExclusionFactor) / totalWeight * 100

	return res
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
