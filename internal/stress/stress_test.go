package stress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gexhaus/internal/chain"
)

func contract(strike, bid, ask float64, oi int64) chain.ContractRecord {
	return chain.ContractRecord{
		Strike:       strike,
		Expiration:   time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC),
		Type:         chain.Call,
		Delta:        chain.F(0.5),
		Gamma:        chain.F(0.01),
		IV:           chain.F(0.2),
		OpenInterest: oi,
		Volume:       10,
		Bid:          bid,
		Ask:          ask,
	}
}

func snap(contracts ...chain.ContractRecord) chain.Snapshot {
	return chain.Snapshot{Symbol: "SPY", Underlying: 500, Contracts: contracts}
}

func TestEmptySnapshotDegradesToSentinel(t *testing.T) {
	res := NewScorer(DefaultConfig(), nil).Score(context.Background(), snap(), 0.5)

	assert.Equal(t, MaxStress, res.Index)
	assert.True(t, res.Degraded)
}

func TestIndexBounds(t *testing.T) {
	// Pathologically wide spreads and a thin book stay within [0,100].
	res := NewScorer(DefaultConfig(), nil).Score(context.Background(),
		snap(contract(500, 0.01, 50, 5)), 1.0)

	assert.LessOrEqual(t, res.Index, 100.0)
	assert.GreaterOrEqual(t, res.Index, 0.0)
	assert.False(t, res.Degraded)
}

func TestWiderSpreadsRaiseStress(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	tight := scorer.Score(context.Background(),
		snap(contract(500, 1.00, 1.02, 50_000), contract(505, 1.00, 1.02, 50_000)), 0)
	wide := scorer.Score(context.Background(),
		snap(contract(500, 0.80, 1.20, 50_000), contract(505, 0.80, 1.20, 50_000)), 0)

	assert.Greater(t, wide.Index, tight.Index)
	assert.Greater(t, wide.SpreadFactor, tight.SpreadFactor)
}

func TestThinBookRaisesStress(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	deep := scorer.Score(context.Background(), snap(contract(500, 1.0, 1.05, 200_000)), 0)
	thin := scorer.Score(context.Background(), snap(contract(500, 1.0, 1.05, 500)), 0)

	assert.Greater(t, thin.DepthFactor, deep.DepthFactor)
	assert.Equal(t, 0.0, deep.DepthFactor)
	assert.Equal(t, 1.0, thin.DepthFactor)
}

func TestExclusionRatioRaisesStress(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)
	s := snap(contract(500, 1.0, 1.05, 50_000))

	clean := scorer.Score(context.Background(), s, 0)
	dirty := scorer.Score(context.Background(), s, 0.4)

	assert.Greater(t, dirty.Index, clean.Index)
	assert.InDelta(t, 0.8, dirty.ExclusionFactor, 1e-12)
}

func TestFarFromSpotContractsIgnored(t *testing.T) {
	scorer := NewScorer(DefaultConfig(), nil)

	// A terrible spread 30% away from spot must not move the index.
	base := scorer.Score(context.Background(), snap(contract(500, 1.0, 1.05, 50_000)), 0)
	withFar := scorer.Score(context.Background(),
		snap(contract(500, 1.0, 1.05, 50_000), contract(650, 0.01, 5.0, 90_000)), 0)

	assert.InDelta(t, base.Index, withFar.Index, 1e-12)
}
