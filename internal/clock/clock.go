// Package clock provides a mockable time source.
// In production it wraps the time package; tests drive MockClock by hand so
// that pollers and session expiry can be exercised without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock is the interface for time operations.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// --- Real Clock ---

// RealClock provides the actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time { return time.Now() }

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// NewTicker wraps time.NewTicker.
func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// --- Mock Clock ---

// MockClock is a test clock with controllable time. Tickers created from it
// fire only when the clock is advanced past their next deadline.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	tickers []*mockTicker
}

// NewMockClock creates a mock clock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{current: t}
}

// Now returns the mock time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Since returns the duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set sets the mock time without firing tickers.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// Advance moves the clock forward and fires every ticker whose deadline
// has passed. Like time.Ticker, a ticker holds at most one pending tick.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current
	tickers := append([]*mockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

// NewTicker returns a ticker bound to the mock clock.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTicker{
		clock:  c,
		period: d,
		next:   c.current.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// Tickers returns the number of live tickers.
func (c *MockClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

func (c *MockClock) remove(t *mockTicker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.tickers {
		if other == t {
			c.tickers = append(c.tickers[:i], c.tickers[i+1:]...)
			return
		}
	}
}

type mockTicker struct {
	clock  *MockClock
	period time.Duration

	mu      sync.Mutex
	next    time.Time
	stopped bool
	ch      chan time.Time
}

func (t *mockTicker) C() <-chan time.Time { return t.ch }

func (t *mockTicker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	t.clock.remove(t)
}

func (t *mockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.period)
	}
	select {
	case t.ch <- now:
	default:
	}
}

// --- Package-level convenience ---

var (
	defaultMu    sync.RWMutex
	defaultClock Clock = RealClock{}
)

// Default returns the process-wide clock.
func Default() Clock {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultClock
}

// SetDefault replaces the process-wide clock and returns a restore func.
func SetDefault(c Clock) (restore func()) {
	defaultMu.Lock()
	prev := defaultClock
	defaultClock = c
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultClock = prev
		defaultMu.Unlock()
	}
}

// Now returns the current time of the default clock.
func Now() time.Time { return Default().Now() }

// Since returns the time elapsed since t on the default clock.
func Since(t time.Time) time.Duration { return Default().Since(t) }
