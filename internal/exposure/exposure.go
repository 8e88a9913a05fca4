// Package exposure computes net dealer gamma and delta exposure plus the
// per-strike GEX distribution from a validated chain snapshot.
//
// Sign convention (fixed policy, not derived from market data): dealers are
// assumed long calls and short puts, so calls contribute positively to gamma
// exposure and puts negatively. Delta exposure keeps the put delta's natural
// negative sign with no extra flip.
package exposure

import (
	"context"
	"log/slog"
	"sort"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
)

// ContractMultiplier is the equity option share multiplier.
const ContractMultiplier = 100

// StrikeExposure is the signed dollar gamma exposure aggregated at one
// strike, expressed in billions so the values sum exactly to the net figure.
type StrikeExposure struct {
	Strike        float64 `json:"strike"`
	GammaBillions float64 `json:"gamma_billions"`
}

// Result holds the aggregated exposure metrics for one snapshot.
type Result struct {
	// NetGammaBillions is the dollar gamma exposure of a 1% underlying move,
	// in billions of notional.
	NetGammaBillions float64

	// NetDeltaMillions is the dollar-equivalent directional exposure, in
	// millions of notional.
	NetDeltaMillions float64

	// GEXByStrike is ordered by ascending strike. The values sum to
	// NetGammaBillions by construction.
	GEXByStrike []StrikeExposure

	TotalOI int64
	CallOI  int64
	PutOI   int64
}

// CallWall returns the strike with the largest positive gamma exposure.
func (r Result) CallWall() (StrikeExposure, bool) {
	var best StrikeExposure
	found := false
	for _, se := range r.GEXByStrike {
		if se.GammaBillions > 0 && (!found || se.GammaBillions > best.GammaBillions) {
			best, found = se, true
		}
	}
	return best, found
}

// PutWall returns the strike with the most negative gamma exposure.
func (r Result) PutWall() (StrikeExposure, bool) {
	var best StrikeExposure
	found := false
	for _, se := range r.GEXByStrike {
		if se.GammaBillions < 0 && (!found || se.GammaBillions < best.GammaBillions) {
			best, found = se, true
		}
	}
	return best, found
}

// Walls returns the local maxima of |gamma| across strikes, the levels where
// dealer hedging flow concentrates. Derived data, not persisted.
func (r Result) Walls() []StrikeExposure {
	var walls []StrikeExposure
	n := len(r.GEXByStrike)
	for i, se := range r.GEXByStrike {
		abs := se.GammaBillions
		if abs < 0 {
			abs = -abs
		}
		leftOK := i == 0 || absBillions(r.GEXByStrike[i-1]) < abs
		rightOK := i == n-1 || absBillions(r.GEXByStrike[i+1]) < abs
		if leftOK && rightOK && abs > 0 {
			walls = append(walls, se)
		}
	}
	return walls
}

func absBillions(se StrikeExposure) float64 {
	if se.GammaBillions < 0 {
		return -se.GammaBillions
	}
	return se.GammaBillions
}

// Aggregator computes exposure metrics from validated snapshots.
type Aggregator struct {
	logger *slog.Logger
}

// NewAggregator creates an exposure aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{logger: logger}
}

// Aggregate computes net gamma/delta exposure and the GEX-by-strike
// distribution. A snapshot with zero usable contracts is fatal to the whole
// day's record.
func (a *Aggregator) Aggregate(ctx context.Context, snap chain.Snapshot) (Result, error) {
	const op = "exposure.Aggregate"

	if snap.Empty() {
		return Result{}, errs.New(errs.KindInsufficientData, op, "no valid contracts for %s", snap.Symbol)
	}

	spot := snap.Underlying
	byStrike := make(map[float64]float64, len(snap.Contracts))
	var deltaDollars float64
	var res Result

	for _, c := range snap.Contracts {
		oi := float64(c.OpenInterest)

		// Dollar gamma of a 1% spot move for this contract's open interest.
		gex := *c.Gamma * oi * ContractMultiplier * spot * spot * 0.01
		if c.Type == chain.Put {
			gex = -gex
		}
		byStrike[c.Strike] += gex / 1e9

		// Put deltas already carry their sign from the pricing feed.
		deltaDollars += *c.Delta * oi * ContractMultiplier * spot

		res.TotalOI += c.OpenInterest
		if c.Type == chain.Put {
			res.PutOI += c.OpenInterest
		} else {
			res.CallOI += c.OpenInterest
		}
	}

	strikes := make([]float64, 0, len(byStrike))
	for k := range byStrike {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)

	res.GEXByStrike = make([]StrikeExposure, 0, len(strikes))
	for _, k := range strikes {
		v := byStrike[k]
		res.GEXByStrike = append(res.GEXByStrike, StrikeExposure{Strike: k, GammaBillions: v})
		// Net gamma is the sum of the per-strike buckets so the distribution
		// invariant holds exactly, not just within rounding of two passes.
		res.NetGammaBillions += v
	}
	res.NetDeltaMillions = deltaDollars / 1e6

	a.logger.DebugContext(ctx, "exposure aggregated",
		"symbol", snap.Symbol,
		"net_gamma_billions", res.NetGammaBillions,
		"net_delta_millions", res.NetDeltaMillions,
		"strikes", len(res.GEXByStrike),
		"total_oi", res.TotalOI,
	)

	return res, nil
}
