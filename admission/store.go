package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Store holds the shared per-tenant admission state. Implementations must
// make TryConsume an atomic check-and-increment: under concurrent calls
// the committed total never exceeds the limit.
type Store interface {
	// TryConsume checks current+tokens<=limit for the counter named key
	// and commits the increment only when the check passes. A denial
	// leaves the counter untouched.
	TryConsume(ctx context.Context, key string, tokens int, limit int64) (bool, error)

	// Usage returns the committed total for key.
	Usage(ctx context.Context, key string) (int64, error)

	// Disable trips the kill-switch for a tenant.
	Disable(ctx context.Context, tenantID string) error

	// Disabled reports whether the tenant kill-switch is set.
	Disabled(ctx context.Context, tenantID string) (bool, error)

	// Reset clears the tenant kill-switch. It is the only way to clear
	// it; the switch never self-clears.
	Reset(ctx context.Context, tenantID string) error
}

// counter is one daily window. The window start is guarded by mu, the
// count itself is CAS-updated so admissions do not serialize on the lock.
type counter struct {
	mu       sync.Mutex
	dayStart time.Time
	count    atomic.Int64
}

// MemoryStore is the in-process Store. Counters reset at the local
// midnight boundary, checked lazily on access.
type MemoryStore struct {
	counters sync.Map // key -> *counter
	disabled sync.Map // tenantID -> struct{}
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// WithClock overrides the time source, for tests that cross the daily
// boundary.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) counterFor(key string) *counter {
	if c, ok := s.counters.Load(key); ok {
		return c.(*counter)
	}
	c, _ := s.counters.LoadOrStore(key, &counter{dayStart: s.now().Truncate(24 * time.Hour)})
	return c.(*counter)
}

// resetIfNeeded rolls the counter over when the daily window has passed.
func (s *MemoryStore) resetIfNeeded(c *counter) {
	day := s.now().Truncate(24 * time.Hour)
	c.mu.Lock()
	if day.After(c.dayStart) {
		c.count.Store(0)
		c.dayStart = day
	}
	c.mu.Unlock()
}

// TryConsume implements Store with a CAS loop, so concurrent admissions
// never overshoot the limit and a denial commits nothing.
func (s *MemoryStore) TryConsume(_ context.Context, key string, tokens int, limit int64) (bool, error) {
	c := s.counterFor(key)
	s.resetIfNeeded(c)

	for {
		current := c.count.Load()
		if current+int64(tokens) > limit {
			return false, nil
		}
		if c.count.CompareAndSwap(current, current+int64(tokens)) {
			return true, nil
		}
	}
}

// Usage implements Store.
func (s *MemoryStore) Usage(_ context.Context, key string) (int64, error) {
	c := s.counterFor(key)
	s.resetIfNeeded(c)
	return c.count.Load(), nil
}

// Disable implements Store.
func (s *MemoryStore) Disable(_ context.Context, tenantID string) error {
	s.disabled.Store(tenantID, struct{}{})
	return nil
}

// Disabled implements Store.
func (s *MemoryStore) Disabled(_ context.Context, tenantID string) (bool, error) {
	_, ok := s.disabled.Load(tenantID)
	return ok, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, tenantID string) error {
	s.disabled.Delete(tenantID)
	return nil
}
