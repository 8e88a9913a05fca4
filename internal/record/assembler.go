package record

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gexhaus/internal/chain"
	"gexhaus/internal/exposure"
	"gexhaus/internal/ratios"
	"gexhaus/internal/realized"
	"gexhaus/internal/stress"
	"gexhaus/internal/surface"
)

// Inputs collects every sub-component result for one (symbol, date) after
// the analytic join barrier. Err fields hold the component's failure, if
// any; which failures are fatal is the assembler's decision.
type Inputs struct {
	Validation chain.Result

	Exposure    exposure.Result
	ExposureErr error

	Surface    surface.Result
	SurfaceErr error

	Realized    realized.Result
	RealizedErr error

	Stress stress.Result
	Ratios ratios.Result
}

// Assembler merges sub-component outputs into a DailyExposureRecord.
type Assembler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAssembler creates a record assembler.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger, now: time.Now}
}

// Assemble produces the day's record. An exposure or realized-volatility
// failure is fatal and aborts the whole record; every other sub-component
// failure degrades its own fields to null plus a quality flag.
func (a *Assembler) Assemble(ctx context.Context, symbol string, date time.Time, in Inputs) (*DailyExposureRecord, error) {
	if in.ExposureErr != nil {
		return nil, fmt.Errorf("assemble %s %s: %w", symbol, date.Format("2006-01-02"), in.ExposureErr)
	}
	if in.RealizedErr != nil {
		return nil, fmt.Errorf("assemble %s %s: %w", symbol, date.Format("2006-01-02"), in.RealizedErr)
	}

	var flags []Flag

	rec := &DailyExposureRecord{
		Symbol:           symbol,
		Date:             date.Truncate(24 * time.Hour),
		NetGammaBillions: in.Exposure.NetGammaBillions,
		NetDeltaMillions: in.Exposure.NetDeltaMillions,
		TotalOI:          in.Exposure.TotalOI,
		CallOI:           in.Exposure.CallOI,
		PutOI:            in.Exposure.PutOI,
		LiquidityStress:  in.Stress.Index,
		Sentiment:        in.Ratios.Sentiment,
		Excluded:         in.Validation.Excluded,
		CreatedAt:        a.now().UTC(),
	}

	rec.GEXByStrike = make([]StrikeGamma, 0, len(in.Exposure.GEXByStrike))
	for _, se := range in.Exposure.GEXByStrike {
		rec.GEXByStrike = append(rec.GEXByStrike, StrikeGamma{Strike: se.Strike, GammaBillions: se.GammaBillions})
	}

	if in.Validation.Excluded > 0 {
		flags = append(flags, FlagContractsExcluded)
	}

	if in.SurfaceErr != nil {
		a.logger.WarnContext(ctx, "surface unavailable, degrading fields",
			"symbol", symbol,
			"error", in.SurfaceErr,
		)
		flags = append(flags, FlagSurfaceUnavailable)
	} else {
		rec.IVATM = in.Surface.ATMIV
		rec.SkewRR25 = in.Surface.RR25
		rec.BF25 = in.Surface.BF25
		if rec.SkewRR25 == nil {
			flags = append(flags, FlagSkewUnavailable)
		}
		for _, tp := range in.Surface.Term {
			rec.Term = append(rec.Term, TermPoint{Tenor: string(tp.Tenor), ATMIV: tp.ATMIV})
		}
		if len(rec.Term) == 0 {
			flags = append(flags, FlagTermStructureEmpty)
		}
	}

	rec.RealizedVol = make([]WindowVol, 0, len(in.Realized.Vols))
	for _, wv := range in.Realized.Vols {
		rec.RealizedVol = append(rec.RealizedVol, WindowVol{Window: wv.Window, Vol: wv.Vol})
	}
	if in.Realized.Missing() {
		flags = append(flags, FlagRealizedVolPartial)
	}

	rec.PutCallRatios = PutCallRatios{
		Volume:        in.Ratios.Volume,
		OpenInterest:  in.Ratios.OpenInterest,
		Premium:       in.Ratios.Premium,
		DeltaWeighted: in.Ratios.DeltaWeighted,
	}
	if in.Ratios.AnyUndefined() {
		flags = append(flags, FlagRatioUndefined)
	}

	if in.Stress.Degraded {
		flags = append(flags, FlagStressDegraded)
	}

	rec.Flags = normalizeFlags(flags)
	rec.Quality = deriveQuality(rec.Flags)

	a.logger.InfoContext(ctx, "daily record assembled",
		"symbol", symbol,
		"date", rec.Date.Format("2006-01-02"),
		"quality", rec.Quality,
		"flags", len(rec.Flags),
		"net_gamma_billions", rec.NetGammaBillions,
	)

	return rec, nil
}
