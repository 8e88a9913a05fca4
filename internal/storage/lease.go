package storage

import (
	"context"
	"os"
	"sync"
	"time"

	"gexhaus/internal/errs"
)

// leaseTable serializes writers per partition. In-process contention is
// handled by a keyed mutex map; cross-process contention by an exclusive
// lock file next to the partition. A writer that cannot acquire the lease
// within the bounded timeout fails with a storage-conflict error so the
// caller may retry.
type leaseTable struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLeaseTable() *leaseTable {
	return &leaseTable{held: map[string]bool{}}
}

const leasePollInterval = 25 * time.Millisecond

// acquire takes the lease for key, backed by lockPath on disk. The returned
// release function must be called exactly once.
func (lt *leaseTable) acquire(ctx context.Context, key, lockPath string, timeout time.Duration) (func(), error) {
	const op = "storage.acquireLease"

	deadline := time.Now().Add(timeout)
	for {
		if took := lt.tryAcquire(key, lockPath); took {
			return func() { lt.release(key, lockPath) }, nil
		}

		if time.Now().After(deadline) {
			return nil, errs.New(errs.KindStorageConflict, op,
				"lease for %s not acquired within %s", key, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.KindStorageConflict, op, ctx.Err())
		case <-time.After(leasePollInterval):
		}
	}
}

func (lt *leaseTable) tryAcquire(key, lockPath string) bool {
	lt.mu.Lock()
	if lt.held[key] {
		lt.mu.Unlock()
		return false
	}
	lt.held[key] = true
	lt.mu.Unlock()

	// O_EXCL guards against writers in other processes.
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		lt.mu.Lock()
		delete(lt.held, key)
		lt.mu.Unlock()
		return false
	}
	f.Close()
	return true
}

func (lt *leaseTable) release(key, lockPath string) {
	os.Remove(lockPath)
	lt.mu.Lock()
	delete(lt.held, key)
	lt.mu.Unlock()
}
