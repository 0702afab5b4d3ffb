package tracking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testKalmanConfig(mode KalmanMode) KalmanConfig {
	return KalmanConfig{
		Mode:              mode,
		Gain:              0.5,
		DT:                1.0 / 120,
		InitialCovariance: 100,
		ProcessNoise:      0.1,
		MeasurementNoise:  1.0,
		IdleTimeout:       time.Second,
	}
}

func TestKalman_FirstUpdateInitialises(t *testing.T) {
	t.Parallel()

	k := NewKalmanEstimator(testKalmanConfig(KalmanFixedGain))
	got := k.Update("a", Vec2{10, 20}, testEpoch)

	assert.Equal(t, Vec2{10, 20}, got)
	s, ok := k.State("a")
	require.True(t, ok)
	assert.Equal(t, Vec2{}, s.Velocity())
	assert.Equal(t, 0, s.Updates)
}

func TestKalman_ConvergesToConstantMeasurement(t *testing.T) {
	t.Parallel()

	for _, mode := range []KalmanMode{KalmanFixedGain, KalmanCovariance} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			k := NewKalmanEstimator(testKalmanConfig(mode))
			k.Seed("a", Vec2{0, 0}, testEpoch)

			z := Vec2{100, 50}
			var got Vec2
			prev := z.Dist(Vec2{})
			for i := 0; i < 50; i++ {
				got = k.Update("a", z, testEpoch.Add(time.Duration(i)*time.Second/120))
				d := got.Dist(z)
				require.LessOrEqualf(t, d, prev+1e-9, "update %d moved away from the measurement", i)
				prev = d
			}
			assert.InDelta(t, z.X, got.X, 1.0)
			assert.InDelta(t, z.Y, got.Y, 1.0)
		})
	}
}

func TestKalman_DoesNotOvershootStep(t *testing.T) {
	t.Parallel()

	for _, mode := range []KalmanMode{KalmanFixedGain, KalmanCovariance} {
		t.Run(string(mode), func(t *testing.T) {
			t.Parallel()

			k := NewKalmanEstimator(testKalmanConfig(mode))
			k.Seed("a", Vec2{0, 0}, testEpoch)

			// Walk right, then hold still just ahead of the last sample.
			for i := 1; i <= 10; i++ {
				k.Update("a", Vec2{float64(10 * i), 0}, testEpoch)
			}
			z := Vec2{105, -3}
			for i := 0; i < 30; i++ {
				got := k.Update("a", z, testEpoch)
				assert.LessOrEqualf(t, got.X, z.X+1e-9, "update %d ran past x", i)
				assert.GreaterOrEqualf(t, got.Y, z.Y-1e-9, "update %d ran past y", i)
			}
		})
	}
}

func TestKalman_FixedGainBlendsTowardMeasurement(t *testing.T) {
	t.Parallel()

	k := NewKalmanEstimator(testKalmanConfig(KalmanFixedGain))
	k.Seed("a", Vec2{100, 100}, testEpoch)

	got := k.Update("a", Vec2{105, 102}, testEpoch)
	assert.InDelta(t, 102.5, got.X, 1e-9)
	assert.InDelta(t, 101.0, got.Y, 1e-9)

	s, _ := k.State("a")
	assert.InDelta(t, 2.5, s.VX, 1e-9)
	assert.InDelta(t, 1.0, s.VY, 1e-9)
	assert.Less(t, s.P[0], 100.0)
}

func TestKalman_CovarianceShrinksUncertainty(t *testing.T) {
	t.Parallel()

	k := NewKalmanEstimator(testKalmanConfig(KalmanCovariance))
	k.Seed("a", Vec2{0, 0}, testEpoch)
	before, _ := k.State("a")

	for i := 0; i < 10; i++ {
		k.Update("a", Vec2{1, 1}, testEpoch)
	}
	after, _ := k.State("a")

	assert.Less(t, after.PositionUncertainty(), before.PositionUncertainty())
	assert.Equal(t, 10, after.Updates)
	assert.True(t, after.isFinite())
}

func TestKalmanState_PredictDoesNotMutate(t *testing.T) {
	t.Parallel()

	s := KalmanState{X: 1, Y: 2, VX: 10, VY: -20, ProcessNoise: 0.1}
	s.P[0], s.P[5], s.P[10], s.P[15] = 1, 1, 1, 1

	next := s.Predict(0.5)
	assert.Equal(t, 6.0, next.X)
	assert.Equal(t, -8.0, next.Y)
	assert.Equal(t, 1.0, s.X)
	assert.Greater(t, next.PositionUncertainty(), s.PositionUncertainty())
}

func TestKalman_CleanupAndForget(t *testing.T) {
	t.Parallel()

	k := NewKalmanEstimator(testKalmanConfig(KalmanFixedGain))
	k.Seed("old", Vec2{}, testEpoch)
	k.Seed("new", Vec2{}, testEpoch.Add(2*time.Second))
	k.Seed("gone", Vec2{}, testEpoch.Add(2*time.Second))
	require.Equal(t, 3, k.Len())

	k.Forget("gone")
	assert.Equal(t, 2, k.Len())

	removed := k.Cleanup(testEpoch.Add(2500 * time.Millisecond))
	assert.Equal(t, 1, removed)
	_, ok := k.State("old")
	assert.False(t, ok)
	_, ok = k.State("new")
	assert.True(t, ok)
}

func TestKalman_CleanupDisabled(t *testing.T) {
	t.Parallel()

	cfg := testKalmanConfig(KalmanFixedGain)
	cfg.IdleTimeout = 0
	k := NewKalmanEstimator(cfg)
	k.Seed("a", Vec2{}, testEpoch)

	assert.Equal(t, 0, k.Cleanup(testEpoch.Add(time.Hour)))
	assert.Equal(t, 1, k.Len())
}

func TestKalman_ResetsOnNonFiniteState(t *testing.T) {
	t.Parallel()

	k := NewKalmanEstimator(testKalmanConfig(KalmanFixedGain))
	k.Seed("a", Vec2{}, testEpoch)
	k.states["a"].VX = math.Inf(1)

	got := k.Update("a", Vec2{3, 4}, testEpoch)
	assert.Equal(t, Vec2{3, 4}, got)
	s, _ := k.State("a")
	assert.True(t, s.isFinite())
}

func TestNewKalmanEstimator_Defaults(t *testing.T) {
	t.Parallel()

	k := NewKalmanEstimator(KalmanConfig{Gain: 3})
	cfg := k.Config()
	assert.Equal(t, KalmanFixedGain, cfg.Mode)
	assert.Equal(t, 0.5, cfg.Gain)
	assert.InDelta(t, 1.0/120, cfg.DT, 1e-12)
}
