package gaze

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazetrack/internal/tracking"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestChooseMovement(t *testing.T) {
	t.Parallel()

	s := NewSaccadeController(DefaultSaccadeConfig())
	fast := tracking.Vec2{X: 60}
	slow := tracking.Vec2{X: 10}

	tests := []struct {
		name     string
		distance float64
		velocity *tracking.Vec2
		want     Mode
	}{
		{"tiny shift holds fixation", 5, &fast, ModeFixation},
		{"far always saccades", 150, &fast, ModeSaccade},
		{"mid with fast target pursues", 50, &fast, ModeSmoothPursuit},
		{"mid with slow target saccades", 50, &slow, ModeSaccade},
		{"mid without velocity saccades", 50, nil, ModeSaccade},
		{"exactly fixation radius", 10, nil, ModeSaccade},
		{"exactly saccade distance", 100, &fast, ModeSmoothPursuit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.ChooseMovement(tt.distance, tt.velocity))
		})
	}
}

func TestSaccadeDuration_BoundsAndMonotone(t *testing.T) {
	t.Parallel()

	prev := time.Duration(0)
	for amp := 1.0; amp <= 50; amp += 0.5 {
		d := SaccadeDuration(amp)
		assert.GreaterOrEqual(t, d, 20*time.Millisecond, "amp %.1f", amp)
		assert.LessOrEqual(t, d, 100*time.Millisecond, "amp %.1f", amp)
		assert.GreaterOrEqual(t, d, prev, "amp %.1f", amp)
		prev = d
	}
	assert.Equal(t, 100*time.Millisecond, SaccadeDuration(50))
	assert.Equal(t, 21*time.Millisecond, SaccadeDuration(0))
}

func TestPlan(t *testing.T) {
	t.Parallel()

	s := NewSaccadeController(DefaultSaccadeConfig())
	plan := s.Plan(tracking.Vec2{}, tracking.Vec2{X: 500, Y: 500})

	assert.InDelta(t, 707.107, plan.Distance, 1e-3)
	assert.InDelta(t, 20.203, plan.AmplitudeDeg, 1e-3)
	assert.InDelta(t, 65.446, plan.DurationMs(), 1e-3)
	assert.Equal(t, 700.0, plan.PeakVelocity, "capped at max velocity")

	small := s.Plan(tracking.Vec2{}, tracking.Vec2{X: 35})
	assert.InDelta(t, 500.0, small.PeakVelocity, 1e-9)
	assert.True(t, plan.StartedAt.IsZero(), "planning does not start")
	_, busy := s.InFlight()
	assert.False(t, busy)
}

func TestEase(t *testing.T) {
	t.Parallel()

	s := NewSaccadeController(DefaultSaccadeConfig())
	assert.InDelta(t, 0.0, s.Ease(0), 1e-12)
	assert.InDelta(t, 0.5, s.Ease(0.5), 1e-12)
	assert.InDelta(t, 1.0, s.Ease(1), 1e-12)
	assert.InDelta(t, 1.0, s.Ease(3), 1e-12)
	assert.InDelta(t, 0.0, s.Ease(-1), 1e-12)

	prev := -1.0
	for p := 0.0; p <= 1.0; p += 0.05 {
		v := s.Ease(p)
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestSaccadeController_NotInterruptible(t *testing.T) {
	t.Parallel()

	s := NewSaccadeController(DefaultSaccadeConfig())
	first, err := s.Begin(s.Plan(tracking.Vec2{}, tracking.Vec2{X: 500}), testEpoch)
	require.NoError(t, err)
	assert.Equal(t, testEpoch, first.StartedAt)

	inflight, err := s.Begin(s.Plan(tracking.Vec2{}, tracking.Vec2{Y: 300}), testEpoch.Add(time.Millisecond))
	assert.True(t, errors.Is(err, ErrSaccadeInProgress))
	assert.Equal(t, first, inflight)

	current, ok := s.InFlight()
	require.True(t, ok)
	assert.Equal(t, first, current)
}

func TestSaccadeController_Advance(t *testing.T) {
	t.Parallel()

	s := NewSaccadeController(DefaultSaccadeConfig())
	_, ok := s.Advance(testEpoch)
	assert.False(t, ok, "nothing in flight")

	plan, err := s.Begin(s.Plan(tracking.Vec2{}, tracking.Vec2{X: 200, Y: 100}), testEpoch)
	require.NoError(t, err)

	start, ok := s.Advance(testEpoch)
	require.True(t, ok)
	assert.Equal(t, tracking.Vec2{}, start.Position)
	assert.False(t, start.Done)

	mid, _ := s.Advance(testEpoch.Add(plan.Duration / 2))
	assert.InDelta(t, 100.0, mid.Position.X, 1e-3)
	assert.InDelta(t, 50.0, mid.Position.Y, 1e-3)
	assert.InDelta(t, 0.5, mid.Progress, 1e-6)

	end, _ := s.Advance(testEpoch.Add(plan.Duration))
	assert.True(t, end.Done)
	assert.Equal(t, plan.Target, end.Position)
	assert.Equal(t, 1.0, end.Progress)

	_, ok = s.InFlight()
	assert.False(t, ok)
	_, err = s.Begin(s.Plan(end.Position, tracking.Vec2{}), testEpoch.Add(time.Second))
	assert.NoError(t, err)
}
