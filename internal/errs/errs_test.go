package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindInsufficientData, "exposure.Aggregate", "no valid contracts")
	assert.Equal(t, KindInsufficientData, KindOf(err))

	wrapped := fmt.Errorf("run SPY 2025-01-27: %w", err)
	assert.Equal(t, KindInsufficientData, KindOf(wrapped))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindVendorUnavailable, "feed.FetchChain", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "feed.FetchChain")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"insufficient_data", New(KindInsufficientData, "op", "x"), true},
		{"vendor_unavailable", New(KindVendorUnavailable, "op", "x"), true},
		{"storage_conflict", New(KindStorageConflict, "op", "x"), true},
		{"insufficient_history", New(KindInsufficientHistory, "op", "x"), false},
		{"computation", New(KindComputation, "op", "x"), false},
		{"plain", errors.New("x"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, Fatal(tt.err))
		})
	}
}
