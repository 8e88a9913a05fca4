package feed

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
)

type flakyChainSource struct {
	failures int
	calls    int
	snap     chain.Snapshot
	err      error
}

func (s *flakyChainSource) FetchChain(ctx context.Context, symbol string, asOf time.Time) (chain.Snapshot, error) {
	s.calls++
	if s.calls <= s.failures {
		if s.err != nil {
			return chain.Snapshot{}, s.err
		}
		return chain.Snapshot{}, errors.New("connection reset")
	}
	return s.snap, nil
}

func fastRetryConfig(attempts int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Attempts = attempts
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.RequestsPerSecond = 10000
	return cfg
}

func TestRetryingChainSourceRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyChainSource{
		failures: 2,
		snap:     chain.Snapshot{Symbol: "SPY", Underlying: 500},
	}
	src := NewRetryingChainSource(inner, fastRetryConfig(3), nil)

	var retries int
	src.OnRetry = func() { retries++ }

	snap, err := src.FetchChain(context.Background(), "SPY", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "SPY", snap.Symbol)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, 2, retries)
}

func TestRetryingChainSourceExhaustsAttempts(t *testing.T) {
	inner := &flakyChainSource{failures: 10}
	src := NewRetryingChainSource(inner, fastRetryConfig(3), nil)

	_, err := src.FetchChain(context.Background(), "SPY", time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindVendorUnavailable))
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingChainSourceDoesNotRetryValidationErrors(t *testing.T) {
	inner := &flakyChainSource{
		failures: 10,
		err:      errs.New(errs.KindValidation, "test", "malformed payload"),
	}
	src := NewRetryingChainSource(inner, fastRetryConfig(3), nil)

	_, err := src.FetchChain(context.Background(), "SPY", time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingChainSourceHonorsContextCancellation(t *testing.T) {
	inner := &flakyChainSource{failures: 10}
	cfg := fastRetryConfig(5)
	cfg.InitialBackoff = time.Second
	src := NewRetryingChainSource(inner, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.FetchChain(ctx, "SPY", time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindVendorUnavailable))
	assert.Less(t, inner.calls, 5)
}

func TestFileChainSourceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	asOf := time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC)

	snap := chain.Snapshot{
		Symbol:     "SPY",
		AsOf:       asOf,
		Underlying: 500,
		Contracts: []chain.ContractRecord{
			{
				Strike: 500, Expiration: asOf.AddDate(0, 0, 7), Type: chain.Call,
				Delta: chain.F(0.5), Gamma: chain.F(0.02), IV: chain.F(0.19),
				OpenInterest: 1000, Volume: 500, Bid: 4.9, Ask: 5.1,
			},
		},
	}
	buf, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "SPY"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY", "2025-01-27.json"), buf, 0o644))

	src := &FileChainSource{BaseDir: dir}
	got, err := src.FetchChain(context.Background(), "SPY", asOf)
	require.NoError(t, err)
	assert.Equal(t, snap.Underlying, got.Underlying)
	require.Len(t, got.Contracts, 1)
	assert.Equal(t, chain.Call, got.Contracts[0].Type)
}

func TestFileChainSourceMissingFile(t *testing.T) {
	src := &FileChainSource{BaseDir: t.TempDir()}
	_, err := src.FetchChain(context.Background(), "SPY", time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindVendorUnavailable))
}

func TestFilePriceHistoryDropsFutureRows(t *testing.T) {
	dir := t.TempDir()
	csvData := "date,close\n" +
		"2025-01-24,498.2\n" +
		"2025-01-28,505.0\n" + // after target, dropped
		"2025-01-27,501.5\n" // out of order, re-sorted
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY.csv"), []byte(csvData), 0o644))

	src := &FilePriceHistory{BaseDir: dir}
	closes, err := src.Closes(context.Background(), "SPY", time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []float64{498.2, 501.5}, closes)
}

func TestFilePriceHistoryMalformedRow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SPY.csv"), []byte("2025-01-24,abc\n"), 0o644))

	src := &FilePriceHistory{BaseDir: dir}
	_, err := src.Closes(context.Background(), "SPY", time.Now())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
}
