package tracking

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/timeutil"
)

type lostEvent struct {
	ID     string
	Reason LossReason
}

type recordingObserver struct {
	acquired []string
	lost     []lostEvent
}

func (o *recordingObserver) TargetAcquired(t Target) { o.acquired = append(o.acquired, t.ID) }
func (o *recordingObserver) TargetLost(t Target, reason LossReason) {
	o.lost = append(o.lost, lostEvent{t.ID, reason})
}

func newTestRegistry(t *testing.T, mutate func(*Config)) (*Registry, *timeutil.MockClock, *recordingObserver) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := timeutil.NewMockClock(testEpoch)
	reg := NewRegistry(cfg, clock, nil, monitoring.NewMetrics(nil))
	obs := &recordingObserver{}
	reg.SetObserver(obs)
	return reg, clock, obs
}

func ptr(v float64) *float64 { return &v }

func nan() float64 { return math.NaN() }

func TestRegistry_RegisterGeneratesID(t *testing.T) {
	t.Parallel()

	reg, _, obs := newTestRegistry(t, nil)
	id, err := reg.Register(TargetSpec{Kind: "face", Position: Vec2{100, 100}})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(id, "tgt_"))
	tgt, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, 0.5, tgt.Confidence, "nil noise draws the low end")
	assert.Equal(t, tgt.Confidence, tgt.Quality)
	assert.Len(t, tgt.History, 1)
	assert.True(t, tgt.Visible)
	assert.Equal(t, []string{id}, obs.acquired)

	_, seeded := reg.Kalman().State(id)
	assert.True(t, seeded)
}

func TestRegistry_ReRegisterReseeds(t *testing.T) {
	t.Parallel()

	reg, clock, obs := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a", Position: Vec2{0, 0}})
	clock.Advance(50 * time.Millisecond)
	_, err := reg.UpdatePosition("a", Vec2{5, 0}, nil)
	require.NoError(t, err)

	reg.Register(TargetSpec{ID: "a", Position: Vec2{300, 300}, Confidence: ptr(0.9)})

	tgt, _ := reg.Get("a")
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, Vec2{300, 300}, tgt.Position)
	assert.Equal(t, Vec2{}, tgt.Velocity)
	assert.Len(t, tgt.History, 1)
	assert.Equal(t, 0.9, tgt.Confidence)
	assert.Len(t, obs.acquired, 1)
}

func TestRegistry_UpdateBlendsTowardMeasurement(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "t1", Position: Vec2{100, 100}})
	clock.Advance(50 * time.Millisecond)

	out, err := reg.UpdatePosition("t1", Vec2{105, 102}, nil)
	require.NoError(t, err)

	// Kalman gives (102.5, 101); smoothing with alpha 0.7 gives (100.75, 100.3).
	assert.InDelta(t, 100.75, out.Filtered.X, 1e-9)
	assert.InDelta(t, 100.3, out.Filtered.Y, 1e-9)
	assert.True(t, out.KinematicsUpdated)
	assert.InDelta(t, 15.0, out.Velocity.X, 1e-6)
	assert.InDelta(t, 6.0, out.Velocity.Y, 1e-6)

	tgt, _ := reg.Get("t1")
	assert.Equal(t, out.Filtered, tgt.Position)
	assert.Len(t, tgt.History, 2)
	assert.Equal(t, testEpoch.Add(50*time.Millisecond), tgt.LastUpdateAt)
}

func TestRegistry_RejectsNonFiniteRegistration(t *testing.T) {
	t.Parallel()

	reg, _, obs := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a", Position: Vec2{10, 10}, Confidence: ptr(0.8)})
	before, _ := reg.Get("a")

	for _, pos := range []Vec2{{X: nan()}, {Y: math.Inf(1)}, {X: math.Inf(-1), Y: nan()}} {
		id, err := reg.Register(TargetSpec{ID: "b", Position: pos})
		assert.True(t, errors.Is(err, ErrInvalidMeasurement))
		assert.Empty(t, id)

		_, err = reg.Register(TargetSpec{ID: "a", Position: pos})
		assert.True(t, errors.Is(err, ErrInvalidMeasurement))
	}

	assert.False(t, reg.Has("b"))
	assert.Equal(t, 1, reg.Len())
	after, _ := reg.Get("a")
	if diff := cmp.Diff(before, after, cmp.AllowUnexported(Target{})); diff != "" {
		t.Errorf("refused registration touched existing target (-before +after):\n%s", diff)
	}
	assert.InDelta(t, 0.8, reg.AverageQuality(), 1e-9)
	assert.Equal(t, []string{"a"}, obs.acquired)
	_, seeded := reg.Kalman().State("b")
	assert.False(t, seeded)
}

func TestRegistry_ConvergesOnStationaryMeasurement(t *testing.T) {
	t.Parallel()

	for _, mode := range []KalmanMode{KalmanFixedGain, KalmanCovariance} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			reg, clock, _ := newTestRegistry(t, func(cfg *Config) { cfg.Kalman.Mode = mode })
			reg.Register(TargetSpec{ID: "a", Position: Vec2{100, 100}})

			z := Vec2{120, 110}
			prev := z.Dist(Vec2{100, 100})
			for i := 0; i < 60; i++ {
				clock.Advance(50 * time.Millisecond)
				out, err := reg.UpdatePosition("a", z, nil)
				require.NoError(t, err)
				d := out.Filtered.Dist(z)
				require.LessOrEqualf(t, d, prev+1e-9, "update %d moved away from the measurement", i)
				prev = d
			}

			tgt, _ := reg.Get("a")
			assert.InDelta(t, z.X, tgt.Position.X, 1.0)
			assert.InDelta(t, z.Y, tgt.Position.Y, 1.0)
			assert.Len(t, tgt.History, DefaultConfig().HistoryLength)
		})
	}
}

func TestRegistry_FollowsFastTarget(t *testing.T) {
	t.Parallel()

	for _, mode := range []KalmanMode{KalmanFixedGain, KalmanCovariance} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			reg, clock, obs := newTestRegistry(t, func(cfg *Config) { cfg.Kalman.Mode = mode })
			reg.Register(TargetSpec{ID: "a", Position: Vec2{100, 300}})

			// 600 px/s sampled at 20 Hz: 30 px between measurements.
			const step = 30.0
			var z Vec2
			rejected, run := 0, 0
			for i := 1; i <= 40; i++ {
				clock.Advance(50 * time.Millisecond)
				z = Vec2{100 + step*float64(i), 300}
				_, err := reg.UpdatePosition("a", z, nil)
				if err != nil {
					require.True(t, errors.Is(err, ErrOutlierRejected))
					rejected++
					run++
				} else {
					run = 0
				}
				require.LessOrEqualf(t, run, 2, "update %d: target froze", i)

				tgt, ok := reg.Get("a")
				require.True(t, ok)
				require.LessOrEqualf(t, z.X-tgt.Position.X, 4*step, "update %d: fell behind", i)
			}

			tgt, _ := reg.Get("a")
			assert.InDelta(t, z.X, tgt.Position.X, 4*step)
			assert.Greater(t, tgt.Velocity.X, 0.0)
			assert.Less(t, rejected, 20)
			assert.Equal(t, float64(rejected), reg.metrics.Snapshot()[monitoring.MetricOutliersRejected])
			assert.Empty(t, obs.lost)
		})
	}
}

func TestRegistry_ScatteredGlitchesDoNotReacquire(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a", Position: Vec2{100, 100}})
	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Millisecond)
		_, err := reg.UpdatePosition("a", Vec2{100, 100}, nil)
		require.NoError(t, err)
	}

	for _, glitch := range []Vec2{{1000, 1000}, {-500, 200}, {900, -700}, {1000, 1000}} {
		clock.Advance(50 * time.Millisecond)
		_, err := reg.UpdatePosition("a", glitch, nil)
		assert.True(t, errors.Is(err, ErrOutlierRejected))
	}
	tgt, _ := reg.Get("a")
	assert.InDelta(t, 100.0, tgt.Position.X, 1e-9)
	assert.InDelta(t, 100.0, tgt.Position.Y, 1e-9)

	// A run broken by an accepted sample starts over.
	for _, z := range []Vec2{{400, 100}, {430, 100}, {100, 100}, {460, 100}, {490, 100}} {
		clock.Advance(50 * time.Millisecond)
		reg.UpdatePosition("a", z, nil)
	}
	tgt, _ = reg.Get("a")
	assert.Less(t, tgt.Position.X, 101.0)
}

func TestRegistry_ZeroDTSkipsKinematics(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a", Position: Vec2{0, 0}})

	out, err := reg.UpdatePosition("a", Vec2{4, 0}, ptr(0.8))
	require.NoError(t, err)
	assert.False(t, out.KinematicsUpdated)
	assert.Equal(t, Vec2{}, out.Velocity)

	tgt, _ := reg.Get("a")
	assert.Equal(t, 0.8, tgt.Confidence)
}

func TestRegistry_UpdateErrors(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a", Position: Vec2{100, 100}})
	for i := 0; i < 2; i++ {
		clock.Advance(50 * time.Millisecond)
		_, err := reg.UpdatePosition("a", Vec2{101, 100}, nil)
		require.NoError(t, err)
	}
	before, _ := reg.Get("a")

	_, err := reg.UpdatePosition("missing", Vec2{}, nil)
	assert.True(t, errors.Is(err, ErrTargetNotFound))

	_, err = reg.UpdatePosition("a", Vec2{X: nan()}, nil)
	assert.True(t, errors.Is(err, ErrInvalidMeasurement))

	out, err := reg.UpdatePosition("a", Vec2{1000, 1000}, nil)
	assert.True(t, errors.Is(err, ErrOutlierRejected))
	assert.Equal(t, before.Position, out.Filtered)

	after, _ := reg.Get("a")
	if diff := cmp.Diff(before, after, cmp.AllowUnexported(Target{})); diff != "" {
		t.Errorf("rejected update mutated target (-before +after):\n%s", diff)
	}
	assert.Equal(t, float64(1), reg.metrics.Snapshot()[monitoring.MetricOutliersRejected])
}

func TestRegistry_CapacityEvictsOldest(t *testing.T) {
	t.Parallel()

	reg, clock, obs := newTestRegistry(t, func(c *Config) { c.MaxTargets = 2 })
	reg.Register(TargetSpec{ID: "a"})
	clock.Advance(time.Millisecond)
	reg.Register(TargetSpec{ID: "b"})
	clock.Advance(time.Millisecond)
	reg.Register(TargetSpec{ID: "c"})

	assert.Equal(t, 2, reg.Len())
	assert.False(t, reg.Has("a"))
	assert.Equal(t, []lostEvent{{"a", LossCapacity}}, obs.lost)
	_, ok := reg.Kalman().State("a")
	assert.False(t, ok)

	ids := []string{}
	for _, tgt := range reg.Targets() {
		ids = append(ids, tgt.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestRegistry_CapacityTieBreaksOnInsertionOrder(t *testing.T) {
	t.Parallel()

	reg, _, obs := newTestRegistry(t, func(c *Config) { c.MaxTargets = 2 })
	reg.Register(TargetSpec{ID: "first"})
	reg.Register(TargetSpec{ID: "second"})
	reg.Register(TargetSpec{ID: "third"})

	assert.Equal(t, []lostEvent{{"first", LossCapacity}}, obs.lost)
}

func TestRegistry_CheckLostTargets(t *testing.T) {
	t.Parallel()

	reg, clock, obs := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "stale"})
	reg.Register(TargetSpec{ID: "fresh"})
	clock.Advance(300 * time.Millisecond)
	_, err := reg.UpdatePosition("fresh", Vec2{1, 0}, nil)
	require.NoError(t, err)

	timeout := 250 * time.Millisecond
	assert.Empty(t, reg.CheckLostTargets(timeout, 2))
	assert.Empty(t, reg.CheckLostTargets(timeout, 2))

	stale, _ := reg.Get("stale")
	assert.Equal(t, uint32(2), stale.LostFrames)
	assert.False(t, stale.Visible)

	lost := reg.CheckLostTargets(timeout, 2)
	require.Len(t, lost, 1)
	assert.Equal(t, "stale", lost[0].ID)
	assert.Empty(t, reg.CheckLostTargets(timeout, 2))

	assert.Equal(t, []lostEvent{{"stale", LossTimeout}}, obs.lost)
	fresh, _ := reg.Get("fresh")
	assert.Equal(t, uint32(0), fresh.LostFrames)
}

func TestRegistry_UpdateResetsLostFrames(t *testing.T) {
	t.Parallel()

	reg, clock, _ := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a"})
	clock.Advance(time.Second)
	reg.CheckLostTargets(250*time.Millisecond, 30)

	_, err := reg.UpdatePosition("a", Vec2{1, 1}, nil)
	require.NoError(t, err)
	tgt, _ := reg.Get("a")
	assert.Equal(t, uint32(0), tgt.LostFrames)
	assert.True(t, tgt.Visible)
}

func TestRegistry_RemoveAndNearest(t *testing.T) {
	t.Parallel()

	reg, _, obs := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "origin", Position: Vec2{0, 0}})
	reg.Register(TargetSpec{ID: "right", Position: Vec2{50, 0}})

	id, ok := reg.NearestTo(Vec2{40, 0})
	assert.True(t, ok)
	assert.Equal(t, "right", id)

	_, ok = reg.NearestTo(Vec2{500, 500})
	assert.False(t, ok)

	removed, err := reg.Remove("right")
	require.NoError(t, err)
	assert.Equal(t, "right", removed.ID)
	assert.Equal(t, []lostEvent{{"right", LossStopped}}, obs.lost)

	_, err = reg.Remove("right")
	assert.True(t, errors.Is(err, ErrTargetNotFound))

	id, _ = reg.NearestTo(Vec2{40, 0})
	assert.Equal(t, "origin", id)
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, nil)
	reg.Register(TargetSpec{ID: "a", Position: Vec2{1, 2}})
	require.True(t, reg.SetPredictions("a", []Prediction{{Confidence: 1}}))
	assert.False(t, reg.SetPredictions("missing", nil))

	snap, _ := reg.Get("a")
	snap.History[0].Position = Vec2{99, 99}
	snap.Predictions[0].Confidence = 0

	again, _ := reg.Get("a")
	assert.Equal(t, Vec2{1, 2}, again.History[0].Position)
	assert.Equal(t, 1.0, again.Predictions[0].Confidence)
}

func TestTrackQuality(t *testing.T) {
	t.Parallel()

	five := historyAt(Vec2{}, Vec2{}, Vec2{}, Vec2{}, Vec2{})
	tests := []struct {
		name string
		tgt  Target
		want float64
	}{
		{"ideal", Target{Confidence: 1, History: five}, 0.4 + 0.27 + 0.3},
		{"short history", Target{Confidence: 1, History: five[:2]}, 0.4 + 0.21 + 0.3},
		{"fast diagonal", Target{Confidence: 1, History: five, Velocity: Vec2{600, 400}}, 0.4 + 0.27},
		{"opposing components cancel", Target{Confidence: 0, History: five, Velocity: Vec2{600, -600}}, 0.2 + 0.27 + 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, trackQuality(&tt.tgt), 1e-9)
		})
	}
}

func TestRegistry_AverageQuality(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t, nil)
	assert.Equal(t, 0.0, reg.AverageQuality())

	reg.Register(TargetSpec{ID: "a", Confidence: ptr(0.4)})
	reg.Register(TargetSpec{ID: "b", Confidence: ptr(0.8)})
	assert.InDelta(t, 0.6, reg.AverageQuality(), 1e-9)
}
