package exposure

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
)

func contract(typ chain.OptionType, strike, delta, gamma float64, oi int64) chain.ContractRecord {
	return chain.ContractRecord{
		Strike:       strike,
		Expiration:   time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC),
		Type:         typ,
		Delta:        chain.F(delta),
		Gamma:        chain.F(gamma),
		IV:           chain.F(0.2),
		OpenInterest: oi,
		Volume:       10,
		Bid:          1.0,
		Ask:          1.2,
	}
}

func snapshot(spot float64, contracts ...chain.ContractRecord) chain.Snapshot {
	return chain.Snapshot{
		Symbol:     "SPY",
		AsOf:       time.Date(2025, 1, 27, 21, 0, 0, 0, time.UTC),
		Underlying: spot,
		Contracts:  contracts,
	}
}

func TestAggregateScenario(t *testing.T) {
	// call K=500 delta=0.25 gamma=0.02 OI=1000; put K=480 delta=-0.25
	// gamma=0.018 OI=800; spot=500.
	snap := snapshot(500,
		contract(chain.Call, 500, 0.25, 0.02, 1000),
		contract(chain.Put, 480, -0.25, 0.018, 800),
	)

	res, err := NewAggregator(nil).Aggregate(context.Background(), snap)
	require.NoError(t, err)

	callGex := 0.02 * 1000 * 100 * 500 * 500 * 0.01  // +5,000,000
	putGex := -0.018 * 800 * 100 * 500 * 500 * 0.01  // -3,600,000
	wantGamma := (callGex + putGex) / 1e9

	assert.InDelta(t, wantGamma, res.NetGammaBillions, 1e-15)

	wantDelta := (0.25*1000*100*500 + -0.25*800*100*500) / 1e6
	assert.InDelta(t, wantDelta, res.NetDeltaMillions, 1e-12)

	assert.Equal(t, int64(1800), res.TotalOI)
	assert.Equal(t, int64(1000), res.CallOI)
	assert.Equal(t, int64(800), res.PutOI)
}

func TestGEXByStrikeSumsToNet(t *testing.T) {
	snap := snapshot(447.13,
		contract(chain.Call, 440, 0.62, 0.013, 5230),
		contract(chain.Call, 445, 0.52, 0.019, 12400),
		contract(chain.Call, 450, 0.41, 0.021, 33012),
		contract(chain.Put, 445, -0.48, 0.019, 9100),
		contract(chain.Put, 440, -0.35, 0.016, 27550),
		contract(chain.Put, 430, -0.18, 0.009, 41200),
	)

	res, err := NewAggregator(nil).Aggregate(context.Background(), snap)
	require.NoError(t, err)

	var sum float64
	for _, se := range res.GEXByStrike {
		sum += se.GammaBillions
	}
	relTol := math.Abs(res.NetGammaBillions) * 1e-9
	assert.InDelta(t, res.NetGammaBillions, sum, relTol)

	// Strikes ascending.
	for i := 1; i < len(res.GEXByStrike); i++ {
		assert.Greater(t, res.GEXByStrike[i].Strike, res.GEXByStrike[i-1].Strike)
	}
}

func TestDoublingOIDoublesStrikeContribution(t *testing.T) {
	base := snapshot(500,
		contract(chain.Call, 490, 0.6, 0.015, 1000),
		contract(chain.Call, 500, 0.5, 0.02, 1000),
	)
	doubled := snapshot(500,
		contract(chain.Call, 490, 0.6, 0.015, 1000),
		contract(chain.Call, 500, 0.5, 0.02, 2000),
	)

	agg := NewAggregator(nil)
	r1, err := agg.Aggregate(context.Background(), base)
	require.NoError(t, err)
	r2, err := agg.Aggregate(context.Background(), doubled)
	require.NoError(t, err)

	find := func(r Result, strike float64) float64 {
		for _, se := range r.GEXByStrike {
			if se.Strike == strike {
				return se.GammaBillions
			}
		}
		t.Fatalf("strike %v not found", strike)
		return 0
	}

	assert.InDelta(t, 2*find(r1, 500), find(r2, 500), 1e-15)
	assert.InDelta(t, find(r1, 490), find(r2, 490), 1e-15)
}

func TestSignConvention(t *testing.T) {
	callsOnly := snapshot(500, contract(chain.Call, 500, 0.5, 0.02, 1000))
	putsOnly := snapshot(500, contract(chain.Put, 500, -0.5, 0.02, 1000))

	agg := NewAggregator(nil)
	rc, err := agg.Aggregate(context.Background(), callsOnly)
	require.NoError(t, err)
	rp, err := agg.Aggregate(context.Background(), putsOnly)
	require.NoError(t, err)

	assert.Positive(t, rc.NetGammaBillions)
	assert.Negative(t, rp.NetGammaBillions)
	// Same magnitude, opposite sign.
	assert.InDelta(t, rc.NetGammaBillions, -rp.NetGammaBillions, 1e-15)

	// Put delta keeps its natural negative sign.
	assert.Negative(t, rp.NetDeltaMillions)
}

func TestAggregateEmptyIsFatal(t *testing.T) {
	_, err := NewAggregator(nil).Aggregate(context.Background(), snapshot(500))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInsufficientData))
}

func TestWalls(t *testing.T) {
	snap := snapshot(500,
		contract(chain.Put, 480, -0.2, 0.03, 9000),
		contract(chain.Call, 490, 0.6, 0.005, 500),
		contract(chain.Call, 500, 0.5, 0.04, 8000),
		contract(chain.Call, 510, 0.4, 0.006, 400),
	)

	res, err := NewAggregator(nil).Aggregate(context.Background(), snap)
	require.NoError(t, err)

	cw, ok := res.CallWall()
	require.True(t, ok)
	assert.Equal(t, 500.0, cw.Strike)

	pw, ok := res.PutWall()
	require.True(t, ok)
	assert.Equal(t, 480.0, pw.Strike)

	walls := res.Walls()
	require.Len(t, walls, 2)
	assert.Equal(t, 480.0, walls[0].Strike)
	assert.Equal(t, 500.0, walls[1].Strike)
}
