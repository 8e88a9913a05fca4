// Package feed defines the external collaborator contracts: the vendor
// chain-data source, the price-history source and the alerting consumer. The
// pipeline never reimplements vendor transports; it wraps whatever
// implementation is injected with bounded timeouts, retries and rate
// limiting.
package feed

import (
	"context"
	"time"

	"gexhaus/internal/chain"
	"gexhaus/internal/record"
)

// ChainSource supplies an options-chain snapshot for (symbol, as-of date).
type ChainSource interface {
	FetchChain(ctx context.Context, symbol string, asOf time.Time) (chain.Snapshot, error)
}

// PriceHistory supplies chronologically ordered close prices for a symbol up
// to and including the target date.
type PriceHistory interface {
	Closes(ctx context.Context, symbol string, through time.Time) ([]float64, error)
}

// Alerter consumes a finished daily record and independently evaluates its
// threshold rules. The pipeline's only obligation is to hand over a
// complete, correctly-flagged record.
type Alerter interface {
	RecordReady(ctx context.Context, rec *record.DailyExposureRecord)
}

// NopAlerter discards records.
type NopAlerter struct{}

// RecordReady implements Alerter.
func (NopAlerter) RecordReady(context.Context, *record.DailyExposureRecord) {}
