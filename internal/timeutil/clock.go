// Package timeutil lets the engine read time through an interface so tests
// can step it deterministically.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the engine's only time source.
type Clock interface {
	Now() time.Time
	NewTicker(period time.Duration) Ticker
}

// Ticker delivers the clock's time once per period until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(period time.Duration) Ticker {
	return wallTicker{time.NewTicker(period)}
}

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// MockClock only moves when Advance is called. Its tickers fire from
// Advance, at most once per call, and drop ticks nobody has read.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*stepTicker
}

// NewMockClock returns a clock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and fires every ticker that is due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	due := make([]*stepTicker, len(c.tickers))
	copy(due, c.tickers)
	c.mu.Unlock()

	for _, t := range due {
		t.fire(now)
	}
}

func (c *MockClock) NewTicker(period time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &stepTicker{
		ch:     make(chan time.Time, 1),
		period: period,
		next:   c.now.Add(period),
	}
	c.tickers = append(c.tickers, t)
	return t
}

type stepTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *stepTicker) C() <-chan time.Time { return t.ch }

func (t *stepTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *stepTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	t.next = now.Add(t.period)
}
