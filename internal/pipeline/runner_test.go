package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
	"gexhaus/internal/exposure"
	"gexhaus/internal/ratios"
	"gexhaus/internal/realized"
	"gexhaus/internal/record"
	"gexhaus/internal/stress"
	"gexhaus/internal/surface"
)

type stubChains struct {
	snap chain.Snapshot
	err  error
}

func (s *stubChains) FetchChain(ctx context.Context, symbol string, asOf time.Time) (chain.Snapshot, error) {
	if s.err != nil {
		return chain.Snapshot{}, s.err
	}
	snap := s.snap
	snap.Symbol = symbol
	snap.AsOf = asOf
	return snap, nil
}

type stubPrices struct {
	closes []float64
	err    error
}

func (s *stubPrices) Closes(ctx context.Context, symbol string, through time.Time) ([]float64, error) {
	return s.closes, s.err
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*record.DailyExposureRecord
	err     error
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*record.DailyExposureRecord{}}
}

func (s *memStore) Write(ctx context.Context, rec *record.DailyExposureRecord, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	key := rec.Symbol + "/" + rec.Date.Format("2006-01-02")
	if _, exists := s.records[key]; exists && !force {
		return false, nil
	}
	s.records[key] = rec
	return true, nil
}

type recordingAlerter struct {
	mu   sync.Mutex
	seen []*record.DailyExposureRecord
}

func (a *recordingAlerter) RecordReady(ctx context.Context, rec *record.DailyExposureRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen = append(a.seen, rec)
}

// testSnapshot builds a chain with enough contracts to pass validation and
// populate every calculator: liquid strikes around spot 500 on two
// expirations.
func testSnapshot(asOf time.Time) chain.Snapshot {
	snap := chain.Snapshot{Underlying: 500}

	front := asOf.AddDate(0, 0, 7)
	back := asOf.AddDate(0, 0, 30)

	strikes := []float64{480, 490, 500, 510, 520}
	for _, exp := range []time.Time{front, back} {
		for _, k := range strikes {
			moneyness := (k - 500) / 500
			snap.Contracts = append(snap.Contracts,
				chain.ContractRecord{
					Strike: k, Expiration: exp, Type: chain.Call,
					Delta: chain.F(0.5 - moneyness*6.5), Gamma: chain.F(0.02), IV: chain.F(0.19 + moneyness/10),
					OpenInterest: 1000, Volume: 400, Bid: 4.9, Ask: 5.1,
				},
				chain.ContractRecord{
					Strike: k, Expiration: exp, Type: chain.Put,
					Delta: chain.F(-0.5 - moneyness*6.5), Gamma: chain.F(0.018), IV: chain.F(0.20 - moneyness/10),
					OpenInterest: 800, Volume: 500, Bid: 4.8, Ask: 5.0,
				},
			)
		}
	}
	return snap
}

func testCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 500 + float64(i%2)
	}
	return closes
}

func newTestRunner(t *testing.T, deps Deps) *Runner {
	t.Helper()
	if deps.Validator == nil {
		deps.Validator = chain.NewValidator(chain.DefaultValidatorConfig(), nil)
	}
	if deps.Exposure == nil {
		deps.Exposure = exposure.NewAggregator(nil)
	}
	if deps.Surface == nil {
		deps.Surface = surface.NewBuilder(surface.DefaultConfig(), nil)
	}
	if deps.Realized == nil {
		deps.Realized = realized.NewEstimator(nil)
	}
	if deps.Stress == nil {
		deps.Stress = stress.NewScorer(stress.DefaultConfig(), nil)
	}
	if deps.Ratios == nil {
		deps.Ratios = ratios.NewCalculator(nil)
	}
	if deps.Assembler == nil {
		deps.Assembler = record.NewAssembler(nil)
	}
	return NewRunner(deps, nil)
}

func runDate() time.Time {
	return time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC)
}

func TestRunForDateHappyPath(t *testing.T) {
	date := runDate()
	store := newMemStore()
	alerter := &recordingAlerter{}

	r := newTestRunner(t, Deps{
		Chains:  &stubChains{snap: testSnapshot(date)},
		Prices:  &stubPrices{closes: testCloses(260)},
		Store:   store,
		Alerter: alerter,
	})

	res, err := r.RunForDate(context.Background(), "SPY", date, false)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.True(t, res.Written)
	require.NotNil(t, res.Record)

	rec := res.Record
	assert.Equal(t, "SPY", rec.Symbol)
	assert.Equal(t, record.QualityOK, rec.Quality)
	assert.NotZero(t, rec.NetGammaBillions)
	assert.NotNil(t, rec.IVATM)
	assert.NotEmpty(t, rec.Term)
	require.Len(t, rec.RealizedVol, 3)
	for _, wv := range rec.RealizedVol {
		assert.NotNil(t, wv.Vol, "window %d", wv.Window)
	}

	require.Len(t, alerter.seen, 1)
	assert.Same(t, rec, alerter.seen[0])
}

func TestRunForDateIdempotentRepeat(t *testing.T) {
	date := runDate()
	store := newMemStore()
	r := newTestRunner(t, Deps{
		Chains: &stubChains{snap: testSnapshot(date)},
		Prices: &stubPrices{closes: testCloses(15)},
		Store:  store,
	})
	ctx := context.Background()

	res, err := r.RunForDate(ctx, "SPY", date, false)
	require.NoError(t, err)
	assert.True(t, res.Written)

	res, err = r.RunForDate(ctx, "SPY", date, false)
	require.NoError(t, err)
	assert.False(t, res.Written)

	res, err = r.RunForDate(ctx, "SPY", date, true)
	require.NoError(t, err)
	assert.True(t, res.Written)
}

func TestRunForDateVendorDownFails(t *testing.T) {
	r := newTestRunner(t, Deps{
		Chains: &stubChains{err: errs.New(errs.KindVendorUnavailable, "test", "vendor down")},
		Prices: &stubPrices{closes: testCloses(15)},
		Store:  newMemStore(),
	})

	res, err := r.RunForDate(context.Background(), "SPY", runDate(), false)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errs.Is(err, errs.KindVendorUnavailable))
	assert.Nil(t, res.Record)
}

func TestRunForDateShortPriceHistoryFails(t *testing.T) {
	date := runDate()
	r := newTestRunner(t, Deps{
		Chains: &stubChains{snap: testSnapshot(date)},
		Prices: &stubPrices{closes: testCloses(5)}, // below shortest window
		Store:  newMemStore(),
	})

	res, err := r.RunForDate(context.Background(), "SPY", date, false)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errs.Is(err, errs.KindInsufficientData))
}

func TestRunForDatePartialWhenLongWindowsMissing(t *testing.T) {
	date := runDate()
	r := newTestRunner(t, Deps{
		Chains: &stubChains{snap: testSnapshot(date)},
		Prices: &stubPrices{closes: testCloses(15)}, // covers 10d only
		Store:  newMemStore(),
	})

	res, err := r.RunForDate(context.Background(), "SPY", date, false)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.HasFlag(record.FlagRealizedVolPartial))
}

func TestRunForDateStorageConflictFails(t *testing.T) {
	date := runDate()
	store := newMemStore()
	store.err = errs.New(errs.KindStorageConflict, "test", "lease held")

	r := newTestRunner(t, Deps{
		Chains: &stubChains{snap: testSnapshot(date)},
		Prices: &stubPrices{closes: testCloses(15)},
		Store:  store,
	})

	res, err := r.RunForDate(context.Background(), "SPY", date, false)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errs.Is(err, errs.KindStorageConflict))
}

func TestRunRangeSkipsWeekendsAndGaps(t *testing.T) {
	// Mon 2025-01-20 through Mon 2025-01-27: six weekdays.
	from := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC)

	store := newMemStore()
	r := newTestRunner(t, Deps{
		Chains: &stubChains{snap: testSnapshot(from)},
		Prices: &stubPrices{closes: testCloses(15)},
		Store:  store,
	})

	results, err := r.RunRange(context.Background(), "SPY", from, to, false)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	for _, res := range results {
		wd := res.Date.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}
}

func TestRunRangeSkipsMissingVendorDays(t *testing.T) {
	from := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)

	r := newTestRunner(t, Deps{
		Chains: &stubChains{err: errs.New(errs.KindVendorUnavailable, "test", "holiday")},
		Prices: &stubPrices{closes: testCloses(15)},
		Store:  newMemStore(),
	})

	results, err := r.RunRange(context.Background(), "SPY", from, from, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}
