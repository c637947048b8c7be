package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/hydrastral/pkg/snapshot"
)

// MemoryStore keeps the latest snapshot per scope in process memory.
// It is safe for concurrent use by multiple goroutines.
//
// If TTL is configured, a background goroutine removes snapshots whose
// GeneratedAt is older than the TTL. Use RedisStore when several serve
// replicas must share one cache.
type MemoryStore struct {
	mu          sync.RWMutex
	snapshots   map[string]snapshot.Snapshot
	ttl         time.Duration
	clock       clockwork.Clock
	ticker      clockwork.Ticker
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store with no TTL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]snapshot.Snapshot),
		clock:     clockwork.NewRealClock(),
	}
}

// NewMemoryStoreWithTTL creates a store that evicts stale snapshots every
// cleanupInterval. Stop must be called to release the cleanup goroutine.
// A nil clock uses the real clock.
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration, clock clockwork.Clock) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store := &MemoryStore{
		snapshots:   make(map[string]snapshot.Snapshot),
		ttl:         ttl,
		clock:       clock,
		ticker:      clock.NewTicker(cleanupInterval),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and waits for it to exit.
// It is safe to call more than once, and on a store without TTL.
func (s *MemoryStore) Stop() {
	if s.ticker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		s.ticker.Stop()
	})
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.ticker.Chan():
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for scope, snap := range s.snapshots {
		if now.Sub(snap.GeneratedAt) > s.ttl {
			delete(s.snapshots, scope)
		}
	}
}

// Put replaces the snapshot for scope.
func (s *MemoryStore) Put(ctx context.Context, scope string, snap snapshot.Snapshot) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[scope] = snap
	return nil
}

// GetLatest returns the snapshot for scope. found is false when none is
// cached.
func (s *MemoryStore) GetLatest(ctx context.Context, scope string) (snapshot.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, found := s.snapshots[scope]
	return snap, found, nil
}

// Len returns the number of cached scopes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes the snapshot for scope and reports whether one existed.
func (s *MemoryStore) Delete(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[scope]
	delete(s.snapshots, scope)
	return existed
}
