package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/gazetrack/internal/noise"
)

func TestSmoothingFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		alpha float64
		want  Vec2
	}{
		{"default weight", 0.7, Vec2{3, 30}},
		{"all previous", 1, Vec2{0, 0}},
		{"all next", 0, Vec2{10, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SmoothingFilter{Alpha: tt.alpha}.Smooth(Vec2{0, 0}, Vec2{10, 100})
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
		})
	}
}

func historyAt(points ...Vec2) []HistoryEntry {
	out := make([]HistoryEntry, len(points))
	for i, p := range points {
		out[i] = HistoryEntry{Position: p, Timestamp: testEpoch.Add(time.Duration(i) * 50 * time.Millisecond)}
	}
	return out
}

func TestOutlierGuard_Threshold(t *testing.T) {
	t.Parallel()

	g := OutlierGuard{Base: 50, JitterScale: 10, Noise: noise.Constant(0.5)}

	slow := &Target{}
	assert.InDelta(t, 55.0, g.Threshold(slow), 1e-9)

	fast := &Target{Velocity: Vec2{1000, 0}}
	assert.InDelta(t, 120.0, g.Threshold(fast), 1e-9)

	noJitter := OutlierGuard{Base: 50, JitterScale: 10}
	assert.InDelta(t, 50.0, noJitter.Threshold(slow), 1e-9)
}

func TestOutlierGuard_IsOutlier(t *testing.T) {
	t.Parallel()

	g := OutlierGuard{Base: 50}

	short := &Target{History: historyAt(Vec2{0, 0}, Vec2{1, 1})}
	assert.False(t, g.IsOutlier(short, Vec2{5000, 5000}), "fewer than three entries accepts everything")

	tgt := &Target{History: historyAt(Vec2{900, 900}, Vec2{0, 0}, Vec2{3, 0}, Vec2{6, 0})}
	assert.False(t, g.IsOutlier(tgt, Vec2{40, 0}))
	assert.True(t, g.IsOutlier(tgt, Vec2{60, 0}), "only the last three entries form the mean")

	tgt.Velocity = Vec2{500, 0}
	assert.False(t, g.IsOutlier(tgt, Vec2{60, 0}), "fast targets widen the gate")
}
