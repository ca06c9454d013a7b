// Package ratelimit provides per-channel sliding window admission control for
// outbound provider calls, with retry and backoff around each call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultCapacity = 5
	DefaultWindow   = time.Minute

	// admitBuffer is added to every computed wait so the oldest call has left the window.
	admitBuffer = 100 * time.Millisecond
)

// Clock returns the current time.
type Clock func() time.Time

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// channel is the timestamp window for one provider. calls is a FIFO of at most capacity entries.
type channel struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	calls    []time.Time
}

// Limiter tracks independent channels. Callers on different channels never share a lock
// beyond the brief map lookup.
type Limiter struct {
	mu       sync.RWMutex
	channels map[string]*channel

	now     Clock
	sleep   Sleeper
	retries int
	backoff func(attempt int) time.Duration
	onWait  func(channel string, d time.Duration)
}

type Option func(*Limiter)

func WithClock(c Clock) Option {
	return func(l *Limiter) { l.now = c }
}

func WithSleeper(s Sleeper) Option {
	return func(l *Limiter) { l.sleep = s }
}

// WithRetries sets the total number of attempts Execute makes.
func WithRetries(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.retries = n
		}
	}
}

func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(l *Limiter) { l.backoff = f }
}

// WithWaitHook is called whenever a caller has to wait for admission.
func WithWaitHook(f func(channel string, d time.Duration)) Option {
	return func(l *Limiter) { l.onWait = f }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		channels: make(map[string]*channel),
		now:      time.Now,
		sleep:    SleepContext,
		retries:  DefaultRetries,
		backoff:  Backoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Register defines or replaces a channel's capacity and window.
func (l *Limiter) Register(name string, capacity int, window time.Duration) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[name] = &channel{
		capacity: capacity,
		window:   window,
		calls:    make([]time.Time, 0, capacity),
	}
}

func (l *Limiter) channel(name string) *channel {
	l.mu.RLock()
	ch, ok := l.channels[name]
	l.mu.RUnlock()
	if ok {
		return ch
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.channels[name]; ok {
		return ch
	}
	ch = &channel{capacity: DefaultCapacity, window: DefaultWindow}
	l.channels[name] = ch
	return ch
}

// Admit reports how long a call on the channel would have to wait right now. It does
// not record anything.
func (l *Limiter) Admit(name string) time.Duration {
	ch := l.channel(name)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.waitLocked(l.now())
}

// Wait blocks until the channel admits a call, then records the call's start time.
func (l *Limiter) Wait(ctx context.Context, name string) error {
	ch := l.channel(name)
	for {
		ch.mu.Lock()
		now := l.now()
		wait := ch.waitLocked(now)
		if wait == 0 {
			ch.recordLocked(now)
			ch.mu.Unlock()
			return nil
		}
		ch.mu.Unlock()

		if l.onWait != nil {
			l.onWait(name, wait)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *channel) waitLocked(now time.Time) time.Duration {
	if len(c.calls) < c.capacity {
		return 0
	}
	elapsed := now.Sub(c.calls[0])
	if elapsed >= c.window {
		return 0
	}
	return c.window - elapsed + admitBuffer
}

func (c *channel) recordLocked(now time.Time) {
	if len(c.calls) >= c.capacity {
		c.calls = c.calls[1:]
	}
	c.calls = append(c.calls, now)
}

// SleepContext sleeps for d, returning early with ctx.Err() if ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
