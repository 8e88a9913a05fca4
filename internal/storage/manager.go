// Package storage provides the append-only, idempotent persistence layer:
// one compressed columnar partition per (symbol, year), rows keyed by date,
// published via an atomic rename so readers never observe a partial
// partition.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gexhaus/internal/record"
)

const (
	partitionExt  = ".colz"
	stateFileName = "collection_state.json"
)

// Config holds storage settings.
type Config struct {
	// BaseDir is the warehouse root. Partitions live under
	// BaseDir/<SYMBOL>/<year>.colz.
	BaseDir string `yaml:"base_dir" envconfig:"BASE_DIR" default:"data/warehouse" validate:"required"`

	// LeaseTimeout bounds how long a writer waits for a partition lease
	// before failing with a storage conflict.
	LeaseTimeout time.Duration `yaml:"lease_timeout" envconfig:"LEASE_TIMEOUT" default:"5s" validate:"gt=0"`
}

// DefaultConfig returns the standard storage settings.
func DefaultConfig() Config {
	return Config{BaseDir: "data/warehouse", LeaseTimeout: 5 * time.Second}
}

// Manager owns the warehouse directory tree.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	leases *leaseTable

	stateMu sync.Mutex
}

// NewManager creates the storage manager and its base directory.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage base dir: %w", err)
	}
	return &Manager{cfg: cfg, logger: logger, leases: newLeaseTable()}, nil
}

func (m *Manager) partitionPath(symbol string, year int) string {
	return filepath.Join(m.cfg.BaseDir, symbol, strconv.Itoa(year)+partitionExt)
}

// Write upserts the record keyed by (symbol, date). With force=false an
// existing row is left untouched and Write reports false; with force=true
// the row is atomically replaced. Returns whether the partition was
// modified.
func (m *Manager) Write(ctx context.Context, rec *record.DailyExposureRecord, force bool) (bool, error) {
	year := rec.Date.Year()
	path := m.partitionPath(rec.Symbol, year)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create partition dir: %w", err)
	}

	release, err := m.leases.acquire(ctx, rec.Symbol+"/"+strconv.Itoa(year), path+".lock", m.cfg.LeaseTimeout)
	if err != nil {
		return false, err
	}
	defer release()

	doc, err := loadPartition(path, rec.Symbol, year)
	if err != nil {
		return false, err
	}

	if idx := doc.indexOf(rec.Date); idx >= 0 && !force {
		m.logger.DebugContext(ctx, "record already stored, skipping",
			"symbol", rec.Symbol,
			"date", rec.Date.Format(dateLayout),
		)
		return false, nil
	}

	doc.upsert(rec)

	if err := m.publish(path, doc); err != nil {
		return false, err
	}
	if err := m.updateState(rec.Symbol, rec.Date); err != nil {
		// State is advisory; the partition is already committed.
		m.logger.WarnContext(ctx, "failed to update collection state", "error", err)
	}

	m.logger.InfoContext(ctx, "record persisted",
		"symbol", rec.Symbol,
		"date", rec.Date.Format(dateLayout),
		"partition", path,
		"rows", doc.rows(),
		"force", force,
	)
	return true, nil
}

// publish stages the encoded partition to a temporary file in the same
// directory and commits it with an atomic rename. A crashed or cancelled
// writer leaves at most a stale temp file, never a partial partition.
func (m *Manager) publish(path string, doc *partitionDoc) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage partition: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := doc.encodeTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync partition: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close staged partition: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit partition: %w", err)
	}
	return nil
}

// ReadHistory returns the stored records for symbol in [from, to],
// ascending by date.
func (m *Manager) ReadHistory(ctx context.Context, symbol string, from, to time.Time) ([]record.DailyExposureRecord, error) {
	var out []record.DailyExposureRecord
	for year := from.Year(); year <= to.Year(); year++ {
		doc, err := loadPartition(m.partitionPath(symbol, year), symbol, year)
		if err != nil {
			return nil, err
		}
		for i := 0; i < doc.rows(); i++ {
			rec := doc.rowAt(i)
			if rec.Date.Before(from) || rec.Date.After(to) {
				continue
			}
			out = append(out, *rec)
		}
	}
	return out, nil
}

// Latest returns the most recent stored record for symbol, or nil when the
// symbol has no history.
func (m *Manager) Latest(ctx context.Context, symbol string) (*record.DailyExposureRecord, error) {
	dir := filepath.Join(m.cfg.BaseDir, symbol)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read partition dir: %w", err)
	}

	bestYear := -1
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, partitionExt) {
			continue
		}
		year, err := strconv.Atoi(strings.TrimSuffix(name, partitionExt))
		if err != nil {
			continue
		}
		if year > bestYear {
			bestYear = year
		}
	}
	if bestYear < 0 {
		return nil, nil
	}

	doc, err := loadPartition(m.partitionPath(symbol, bestYear), symbol, bestYear)
	if err != nil {
		return nil, err
	}
	if doc.rows() == 0 {
		return nil, nil
	}
	return doc.rowAt(doc.rows() - 1), nil
}

// collectionState tracks the last written date per symbol for the external
// scheduler.
type collectionState struct {
	LastDate  string `json:"last_date"`
	UpdatedAt string `json:"updated_at"`
}

// LastDate returns the last recorded collection date for symbol.
func (m *Manager) LastDate(symbol string) (time.Time, bool, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	state, err := m.loadState()
	if err != nil {
		return time.Time{}, false, err
	}
	entry, ok := state[symbol]
	if !ok {
		return time.Time{}, false, nil
	}
	d, err := time.Parse(dateLayout, entry.LastDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse state date for %s: %w", symbol, err)
	}
	return d, true, nil
}

func (m *Manager) updateState(symbol string, date time.Time) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	state, err := m.loadState()
	if err != nil {
		return err
	}
	entry := state[symbol]
	if entry.LastDate == "" || entry.LastDate < date.Format(dateLayout) {
		entry.LastDate = date.Format(dateLayout)
	}
	entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	state[symbol] = entry

	buf, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	path := filepath.Join(m.cfg.BaseDir, stateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("stage state: %w", err)
	}
	return os.Rename(tmp, path)
}

func (m *Manager) loadState() (map[string]collectionState, error) {
	buf, err := os.ReadFile(filepath.Join(m.cfg.BaseDir, stateFileName))
	if os.IsNotExist(err) {
		return map[string]collectionState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state map[string]collectionState
	if err := json.Unmarshal(buf, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return state, nil
}
