// Package lock implements in-process advisory locking over resource keys.
//
// An execution attempt locks the union of its plan's write sets before
// touching the database. Keys are always acquired in lexicographic order,
// which gives a total order over all resources and rules out deadlock
// between attempts. Contention is bounded by the caller's context; a missed
// acquisition reports the current holder so operators can see what blocked.
//
// Locks are advisory and process-local. Durable steps commit mid-attempt,
// but the lease spans the whole attempt, so a resource stays claimed across
// those commit boundaries.
package lock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ContentionError reports a failed acquisition: the context expired while
// Key was held by another runbook.
type ContentionError struct {
	Key    string
	Holder uuid.UUID
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("lock contention on %q: held by runbook %s", e.Key, e.Holder)
}

type lockState struct {
	holder  uuid.UUID
	since   time.Time
	release chan struct{}
}

// Manager is the process-wide advisory lock table.
type Manager struct {
	mu   sync.Mutex
	held map[string]*lockState
}

// NewManager creates an empty lock table.
func NewManager() *Manager {
	return &Manager{held: make(map[string]*lockState)}
}

// Lease is a set of held keys. Release returns them; a Lease is released
// exactly once and is not shared across goroutines.
type Lease struct {
	m        *Manager
	runbook  uuid.UUID
	keys     []string
	released bool
}

// Keys returns the held keys in acquisition order.
func (l *Lease) Keys() []string {
	return l.keys
}

// Release returns every key of the lease. Idempotent.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true

	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	for _, key := range l.keys {
		st, ok := l.m.held[key]
		if !ok || st.holder != l.runbook {
			continue
		}
		delete(l.m.held, key)
		close(st.release)
	}
}

// Acquire locks every key for the given runbook, blocking per key until it
// frees or ctx expires. Keys are deduplicated and taken in lexicographic
// order regardless of input order. On failure every already-acquired key is
// released and the returned error identifies the contended key and its
// holder.
func (m *Manager) Acquire(ctx context.Context, runbookID uuid.UUID, keys []string) (*Lease, error) {
	ordered := dedupSorted(keys)
	lease := &Lease{m: m, runbook: runbookID}

	for _, key := range ordered {
		if err := m.acquireOne(ctx, runbookID, key); err != nil {
			lease.Release()
			return nil, err
		}
		lease.keys = append(lease.keys, key)
	}
	return lease, nil
}

func (m *Manager) acquireOne(ctx context.Context, runbookID uuid.UUID, key string) error {
	for {
		m.mu.Lock()
		st, taken := m.held[key]
		if !taken {
			m.held[key] = &lockState{
				holder:  runbookID,
				since:   time.Now(),
				release: make(chan struct{}),
			}
			m.mu.Unlock()
			return nil
		}
		holder := st.holder
		release := st.release
		m.mu.Unlock()

		select {
		case <-release:
			// Freed; race the other waiters for it.
		case <-ctx.Done():
			return &ContentionError{Key: key, Holder: holder}
		}
	}
}

// Holder reports which runbook currently holds a key, and since when.
func (m *Manager) Holder(key string) (uuid.UUID, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.held[key]
	if !ok {
		return uuid.Nil, time.Time{}, false
	}
	return st.holder, st.since, true
}

func dedupSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
