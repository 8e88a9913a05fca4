// Package surface summarizes the implied-volatility surface of a validated
// snapshot: ATM IV, the 25-delta risk reversal, the 25-delta butterfly and a
// bucketed term structure.
package surface

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
)

// TenorBucket names a days-to-expiry band of the term structure.
type TenorBucket string

const (
	TenorWeekly    TenorBucket = "weekly"    // <10d
	TenorMonthly   TenorBucket = "monthly"   // 10-45d
	TenorQuarterly TenorBucket = "quarterly" // >45d
)

// TermPoint is one tenor bucket's ATM implied volatility.
type TermPoint struct {
	Tenor TenorBucket `json:"tenor"`
	ATMIV float64     `json:"atm_iv"`
}

// Config tunes the surface construction.
type Config struct {
	// DeltaTolerance is the maximum absolute distance from the 25-delta
	// target. No contract within tolerance means the skew is unavailable.
	DeltaTolerance float64 `yaml:"delta_tolerance" envconfig:"DELTA_TOLERANCE" default:"0.05" validate:"gt=0,lt=0.5"`

	// WeeklyMaxDTE and MonthlyMaxDTE bound the tenor buckets.
	WeeklyMaxDTE  int `yaml:"weekly_max_dte" envconfig:"WEEKLY_MAX_DTE" default:"10" validate:"gte=1"`
	MonthlyMaxDTE int `yaml:"monthly_max_dte" envconfig:"MONTHLY_MAX_DTE" default:"45" validate:"gte=1"`
}

// DefaultConfig returns the standard surface parameters.
func DefaultConfig() Config {
	return Config{DeltaTolerance: 0.05, WeeklyMaxDTE: 10, MonthlyMaxDTE: 45}
}

// Result holds the surface summary. Nil fields mean the value could not be
// computed; the assembler turns those into quality flags.
type Result struct {
	ATMIV *float64
	RR25  *float64
	BF25  *float64
	Term  []TermPoint
}

// Builder constructs volatility surface summaries.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// NewBuilder creates a surface builder.
func NewBuilder(cfg Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build computes the surface summary. A snapshot with no unexpired
// expiration fails with a computation error; a missing skew or butterfly is
// reported as a nil field instead.
func (b *Builder) Build(ctx context.Context, snap chain.Snapshot) (Result, error) {
	const op = "surface.Build"

	front := nearestExpiration(snap.Contracts, snap.AsOf)
	if front.IsZero() {
		return Result{}, errs.New(errs.KindComputation, op, "no unexpired expiration for %s", snap.Symbol)
	}

	frontContracts := contractsFor(snap.Contracts, front)
	res := Result{}

	if atm, ok := atmIV(frontContracts, snap.Underlying); ok {
		res.ATMIV = &atm
	}

	ivPut, putOK := ivNearestDelta(frontContracts, chain.Put, -0.25, b.cfg.DeltaTolerance)
	ivCall, callOK := ivNearestDelta(frontContracts, chain.Call, 0.25, b.cfg.DeltaTolerance)
	if putOK && callOK {
		rr := ivPut - ivCall
		res.RR25 = &rr
		if res.ATMIV != nil {
			bf := (ivPut+ivCall)/2 - *res.ATMIV
			res.BF25 = &bf
		}
	} else {
		b.logger.DebugContext(ctx, "25-delta skew unavailable",
			"symbol", snap.Symbol,
			"put_wing", putOK,
			"call_wing", callOK,
			"tolerance", b.cfg.DeltaTolerance,
		)
	}

	res.Term = b.termStructure(snap)
	return res, nil
}

// termStructure buckets expirations by days-to-expiry and computes the ATM
// IV of each bucket's nearest-term expiration. Buckets with no eligible
// expiration are omitted, never null-padded.
func (b *Builder) termStructure(snap chain.Snapshot) []TermPoint {
	buckets := []struct {
		tenor TenorBucket
		min   int // inclusive
		max   int // exclusive, -1 = unbounded
	}{
		{TenorWeekly, 0, b.cfg.WeeklyMaxDTE},
		{TenorMonthly, b.cfg.WeeklyMaxDTE, b.cfg.MonthlyMaxDTE + 1},
		{TenorQuarterly, b.cfg.MonthlyMaxDTE + 1, -1},
	}

	var points []TermPoint
	for _, bucket := range buckets {
		exp := nearestExpirationInBand(snap.Contracts, snap.AsOf, bucket.min, bucket.max)
		if exp.IsZero() {
			continue
		}
		if atm, ok := atmIV(contractsFor(snap.Contracts, exp), snap.Underlying); ok {
			points = append(points, TermPoint{Tenor: bucket.tenor, ATMIV: atm})
		}
	}
	return points
}

// nearestExpiration returns the soonest expiration strictly after asOf, or
// the zero time when none exists.
func nearestExpiration(contracts []chain.ContractRecord, asOf time.Time) time.Time {
	var best time.Time
	for _, c := range contracts {
		if !c.Expiration.After(asOf) {
			continue
		}
		if best.IsZero() || c.Expiration.Before(best) {
			best = c.Expiration
		}
	}
	return best
}

// nearestExpirationInBand returns the soonest unexpired expiration whose DTE
// falls in [minDTE, maxDTE), with maxDTE = -1 meaning unbounded.
func nearestExpirationInBand(contracts []chain.ContractRecord, asOf time.Time, minDTE, maxDTE int) time.Time {
	var best time.Time
	for _, c := range contracts {
		if !c.Expiration.After(asOf) {
			continue
		}
		dte := c.DTE(asOf)
		if dte < minDTE || (maxDTE >= 0 && dte >= maxDTE) {
			continue
		}
		if best.IsZero() || c.Expiration.Before(best) {
			best = c.Expiration
		}
	}
	return best
}

func contractsFor(contracts []chain.ContractRecord, exp time.Time) []chain.ContractRecord {
	var out []chain.ContractRecord
	for _, c := range contracts {
		if c.Expiration.Equal(exp) {
			out = append(out, c)
		}
	}
	return out
}

// atmIV picks the IV of the strike closest to spot. Equidistant candidates
// prefer the call side.
func atmIV(contracts []chain.ContractRecord, spot float64) (float64, bool) {
	// Stable selection regardless of input order: sort by distance, then
	// calls before puts, then ascending strike.
	sorted := make([]chain.ContractRecord, len(contracts))
	copy(sorted, contracts)
	sort.SliceStable(sorted, func(i, j int) bool {
		di := math.Abs(sorted[i].Strike - spot)
		dj := math.Abs(sorted[j].Strike - spot)
		if di != dj {
			return di < dj
		}
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type == chain.Call
		}
		return sorted[i].Strike < sorted[j].Strike
	})

	for _, c := range sorted {
		if c.IV != nil {
			return *c.IV, true
		}
	}
	return 0, false
}

// ivNearestDelta finds the IV of the contract whose delta is nearest the
// target among the given side, within tolerance.
func ivNearestDelta(contracts []chain.ContractRecord, side chain.OptionType, target, tolerance float64) (float64, bool) {
	bestDist := math.Inf(1)
	var bestIV float64
	found := false
	for _, c := range contracts {
		if c.Type != side || c.Delta == nil || c.IV == nil {
			continue
		}
		dist := math.Abs(*c.Delta - target)
		if dist <= tolerance && dist < bestDist {
			bestDist = dist
			bestIV = *c.IV
			found = true
		}
	}
	return bestIV, found
}
