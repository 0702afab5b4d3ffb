// Package testutil provides shared fixtures for tests that drive the gaze
// engine from outside the gaze package.
package testutil

import (
	"testing"
	"time"

	"github.com/banshee-data/gazetrack/internal/gaze"
	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/timeutil"
	"github.com/banshee-data/gazetrack/internal/tracking"
)

// Epoch is the start time of every mock clock handed out here.
var Epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TickPeriod matches the default 120 Hz control loop.
const TickPeriod = time.Second / 120

// NewController builds a controller on a mock clock with fresh metrics.
// mutate may adjust the default config before construction.
func NewController(t *testing.T, mutate func(*gaze.Config)) (*gaze.Controller, *timeutil.MockClock) {
	t.Helper()
	cfg := gaze.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := timeutil.NewMockClock(Epoch)
	return gaze.NewController(cfg, clock, nil, monitoring.NewMetrics(nil)), clock
}

// Tick advances clock by one TickPeriod and ticks c, n times.
func Tick(c *gaze.Controller, clock *timeutil.MockClock, n int) {
	for i := 0; i < n; i++ {
		clock.Advance(TickPeriod)
		c.Tick()
	}
}

// Register registers spec on c and fails the test if it is refused.
func Register(t testing.TB, c *gaze.Controller, spec tracking.TargetSpec) string {
	t.Helper()
	id, err := c.RegisterTarget(spec)
	AssertNoError(t, err)
	return id
}

// Walk moves target id from start by step once per tick for n ticks,
// reporting each position before the tick. Rejected updates fail the test.
func Walk(t *testing.T, c *gaze.Controller, clock *timeutil.MockClock, id string, start, step tracking.Vec2, n int) tracking.Vec2 {
	t.Helper()
	pos := start
	for i := 0; i < n; i++ {
		clock.Advance(TickPeriod)
		pos = pos.Add(step)
		_, err := c.UpdatePosition(id, pos, nil)
		AssertNoError(t, err)
		c.Tick()
	}
	return pos
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
