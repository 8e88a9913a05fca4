package chain

import (
	"context"
	"log/slog"
	"math"

	"gexhaus/internal/errs"
)

// ValidatorConfig bounds how much of a snapshot may be discarded before the
// whole day is considered unusable.
type ValidatorConfig struct {
	// MaxExclusionRatio aborts validation when more than this fraction of
	// contracts is rejected.
	MaxExclusionRatio float64 `yaml:"max_exclusion_ratio" envconfig:"MAX_EXCLUSION_RATIO" default:"0.5" validate:"gt=0,lte=1"`

	// MinContracts is the minimum number of contracts that must survive.
	MinContracts int `yaml:"min_contracts" envconfig:"MIN_CONTRACTS" default:"10" validate:"gte=1"`
}

// DefaultValidatorConfig returns the standard thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{MaxExclusionRatio: 0.5, MinContracts: 10}
}

// Result carries the filtered snapshot plus exclusion accounting. The
// exclusion ratio feeds both the quality flags and the liquidity stress
// score.
type Result struct {
	Snapshot       Snapshot
	Excluded       int
	ExclusionRatio float64
}

// Validator cleans and filters raw per-contract records.
type Validator struct {
	cfg    ValidatorConfig
	logger *slog.Logger
}

// NewValidator creates a snapshot validator.
func NewValidator(cfg ValidatorConfig, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Validate filters the snapshot, rejecting contracts with negative or NaN
// open interest or volume, missing greeks or IV, a non-positive strike, or a
// crossed market (bid > ask). It fails when the exclusion ratio exceeds the
// configured threshold or fewer than the minimum contract count remains.
func (v *Validator) Validate(ctx context.Context, snap Snapshot) (Result, error) {
	const op = "chain.Validate"

	total := len(snap.Contracts)
	if total == 0 {
		return Result{}, errs.New(errs.KindInsufficientData, op, "empty snapshot for %s", snap.Symbol)
	}

	kept := make([]ContractRecord, 0, total)
	reasons := map[string]int{}
	for _, c := range snap.Contracts {
		if reason := rejectReason(c); reason != "" {
			reasons[reason]++
			continue
		}
		kept = append(kept, c)
	}

	excluded := total - len(kept)
	ratio := float64(excluded) / float64(total)

	if excluded > 0 {
		v.logger.WarnContext(ctx, "contracts excluded during validation",
			"symbol", snap.Symbol,
			"excluded", excluded,
			"total", total,
			"reasons", reasons,
		)
	}

	if ratio > v.cfg.MaxExclusionRatio {
		return Result{}, errs.New(errs.KindInsufficientData, op,
			"exclusion ratio %.0f%% exceeds %.0f%% for %s",
			ratio*100, v.cfg.MaxExclusionRatio*100, snap.Symbol)
	}
	if len(kept) < v.cfg.MinContracts {
		return Result{}, errs.New(errs.KindInsufficientData, op,
			"%d contracts remain after validation, need %d", len(kept), v.cfg.MinContracts)
	}

	filtered := snap
	filtered.Contracts = kept
	return Result{Snapshot: filtered, Excluded: excluded, ExclusionRatio: ratio}, nil
}

// rejectReason returns a short label for why the contract is unusable, or ""
// when it passes.
func rejectReason(c ContractRecord) string {
	switch {
	case c.Strike <= 0 || math.IsNaN(c.Strike):
		return "bad_strike"
	case c.OpenInterest < 0:
		return "negative_oi"
	case c.Volume < 0:
		return "negative_volume"
	case !c.HasGreeks():
		return "missing_greeks"
	case c.Bid > c.Ask:
		return "crossed_market"
	default:
		return ""
	}
}
