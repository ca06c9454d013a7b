// Package dedup suppresses listings whose fingerprint was seen within the last 24 hours.
package dedup

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a fingerprint suppresses repeats.
const DefaultTTL = 24 * time.Hour

// Tracker records fingerprints. Claim is Seen followed by Mark as one step, so two
// producers racing on the same fingerprint cannot both win.
type Tracker interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Mark(ctx context.Context, fingerprint string) error
	Claim(ctx context.Context, fingerprint string) (bool, error)
}

// Memory is an in-process tracker. Expired entries are swept on every Mark.
type Memory struct {
	mu   sync.Mutex
	seen map[string]int64
	ttl  time.Duration
	now  func() time.Time
}

type MemoryOption func(*Memory)

func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		seen: make(map[string]int64),
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Seen(_ context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seenLocked(fingerprint, m.now().Unix()), nil
}

func (m *Memory) Mark(_ context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markLocked(fingerprint, m.now().Unix())
	return nil
}

func (m *Memory) Claim(_ context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().Unix()
	if m.seenLocked(fingerprint, now) {
		return false, nil
	}
	m.markLocked(fingerprint, now)
	return true, nil
}

// Len reports how many fingerprints are currently held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) seenLocked(fingerprint string, now int64) bool {
	ts, ok := m.seen[fingerprint]
	return ok && now-ts <= int64(m.ttl/time.Second)
}

func (m *Memory) markLocked(fingerprint string, now int64) {
	m.seen[fingerprint] = now
	cutoff := now - int64(m.ttl/time.Second)
	for fp, ts := range m.seen {
		if ts < cutoff {
			delete(m.seen, fp)
		}
	}
}
