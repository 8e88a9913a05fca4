package feed

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gexhaus/internal/chain"
	"gexhaus/internal/errs"
)

const dateLayout = "2006-01-02"

// FileChainSource reads snapshots from a local drop directory, one JSON file
// per (symbol, date) at <BaseDir>/<SYMBOL>/<YYYY-MM-DD>.json. It backs
// offline backfills and tests, where a vendor feed has already been mirrored
// to disk.
type FileChainSource struct {
	BaseDir string
}

// FetchChain implements ChainSource.
func (s *FileChainSource) FetchChain(ctx context.Context, symbol string, asOf time.Time) (chain.Snapshot, error) {
	const op = "feed.FileChainSource.FetchChain"

	path := filepath.Join(s.BaseDir, symbol, asOf.Format(dateLayout)+".json")
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return chain.Snapshot{}, errs.New(errs.KindVendorUnavailable, op,
			"no snapshot file for %s on %s", symbol, asOf.Format(dateLayout))
	}
	if err != nil {
		return chain.Snapshot{}, errs.Wrap(errs.KindVendorUnavailable, op, err)
	}

	var snap chain.Snapshot
	if err := json.Unmarshal(buf, &snap); err != nil {
		return chain.Snapshot{}, errs.Wrap(errs.KindValidation, op,
			fmt.Errorf("decode %s: %w", path, err))
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	if snap.AsOf.IsZero() {
		snap.AsOf = asOf
	}
	return snap, nil
}

// FilePriceHistory reads daily closes from <BaseDir>/<SYMBOL>.csv with
// "date,close" rows. Rows after the target date are dropped so a backfill
// run never sees the future.
type FilePriceHistory struct {
	BaseDir string
}

// Closes implements PriceHistory.
func (s *FilePriceHistory) Closes(ctx context.Context, symbol string, through time.Time) ([]float64, error) {
	const op = "feed.FilePriceHistory.Closes"

	path := filepath.Join(s.BaseDir, symbol+".csv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errs.New(errs.KindVendorUnavailable, op,
			"no price history file for %s", symbol)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindVendorUnavailable, op, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, op,
			fmt.Errorf("parse %s: %w", path, err))
	}

	type bar struct {
		date  time.Time
		close float64
	}
	bars := make([]bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, errs.New(errs.KindValidation, op,
				"%s row %d: expected date,close", path, i+1)
		}
		if i == 0 && row[0] == "date" {
			continue
		}
		d, err := time.Parse(dateLayout, row[0])
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, op,
				fmt.Errorf("%s row %d: %w", path, i+1, err))
		}
		c, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, op,
				fmt.Errorf("%s row %d: %w", path, i+1, err))
		}
		if d.After(through) {
			continue
		}
		bars = append(bars, bar{date: d, close: c})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].date.Before(bars[j].date) })

	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		closes = append(closes, b.close)
	}
	return closes, nil
}
