// Package record defines the persisted daily exposure record and the
// assembler that merges the analytic sub-results into one immutable row per
// (symbol, date).
package record

import (
	"sort"
	"time"

	"gexhaus/internal/ratios"
)

// Flag signals a partial or degraded computation on a record. Downstream
// consumers use flags to distinguish "no data" from a clean zero.
type Flag string

const (
	FlagContractsExcluded  Flag = "contracts_excluded"
	FlagSurfaceUnavailable Flag = "surface_unavailable"
	FlagSkewUnavailable    Flag = "skew_unavailable"
	FlagTermStructureEmpty Flag = "term_structure_empty"
	FlagRealizedVolPartial Flag = "realized_vol_partial"
	FlagRealizedVolMissing Flag = "realized_vol_missing"
	FlagStressDegraded     Flag = "stress_degraded"
	FlagRatioUndefined     Flag = "pc_ratio_undefined"
)

// Quality summarizes the union of flags on a record.
type Quality string

const (
	QualityOK       Quality = "ok"
	QualityPartial  Quality = "partial"
	QualityDegraded Quality = "degraded"
)

// StrikeGamma is one strike's signed gamma exposure in billions of notional.
type StrikeGamma struct {
	Strike        float64 `json:"strike"`
	GammaBillions float64 `json:"gamma_billions"`
}

// TermPoint is one tenor bucket's ATM implied volatility, ordered ascending
// by tenor in the record.
type TermPoint struct {
	Tenor string  `json:"tenor"`
	ATMIV float64 `json:"atm_iv"`
}

// WindowVol is one realized-volatility window; Vol is nil when the window
// lacked price history.
type WindowVol struct {
	Window int      `json:"window"`
	Vol    *float64 `json:"vol"`
}

// PutCallRatios carries the four ratio variants.
type PutCallRatios struct {
	Volume        ratios.Ratio `json:"volume"`
	OpenInterest  ratios.Ratio `json:"open_interest"`
	Premium       ratios.Ratio `json:"premium"`
	DeltaWeighted ratios.Ratio `json:"delta_weighted"`
}

// DailyExposureRecord is the persisted unit: exactly one per (symbol, date),
// immutable once written except via an explicit forced overwrite.
type DailyExposureRecord struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`

	NetGammaBillions float64       `json:"net_gamma_billions"`
	NetDeltaMillions float64       `json:"net_delta_millions"`
	GEXByStrike      []StrikeGamma `json:"gex_by_strike"`

	IVATM    *float64    `json:"iv_atm"`
	SkewRR25 *float64    `json:"skew_rr25"`
	BF25     *float64    `json:"bf25"`
	Term     []TermPoint `json:"term_structure"`

	RealizedVol []WindowVol `json:"realized_vol"`

	PutCallRatios PutCallRatios `json:"put_call_ratios"`
	Sentiment     string        `json:"sentiment"`

	TotalOI int64 `json:"total_oi"`
	CallOI  int64 `json:"call_oi"`
	PutOI   int64 `json:"put_oi"`

	LiquidityStress float64 `json:"liquidity_stress_index"`

	Excluded int     `json:"excluded_contracts"`
	Flags    []Flag  `json:"quality_flags"`
	Quality  Quality `json:"quality"`

	CreatedAt time.Time `json:"created_at"`
}

// HasFlag reports whether the record carries the given flag.
func (r *DailyExposureRecord) HasFlag(f Flag) bool {
	for _, have := range r.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// normalizeFlags deduplicates and sorts a flag set.
func normalizeFlags(flags []Flag) []Flag {
	seen := make(map[Flag]bool, len(flags))
	out := make([]Flag, 0, len(flags))
	for _, f := range flags {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deriveQuality maps a flag set to the overall record quality. A degraded
// stress score, or three or more distinct flagged fields, marks the whole
// record degraded.
func deriveQuality(flags []Flag) Quality {
	switch {
	case len(flags) == 0:
		return QualityOK
	case len(flags) >= 3 || containsFlag(flags, FlagStressDegraded):
		return QualityDegraded
	default:
		return QualityPartial
	}
}

func containsFlag(flags []Flag, f Flag) bool {
	for _, have := range flags {
		if have == f {
			return true
		}
	}
	return false
}
