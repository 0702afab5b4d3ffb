package tracking

import (
	"math"

	"github.com/banshee-data/gazetrack/internal/noise"
)

// Outlier gate constants: the speed-based gate is |v|*speedGateFactor + speedGateFloor.
const (
	outlierMinHistory = 3
	outlierWindow     = 3
	speedGateFactor   = 0.1
	speedGateFloor    = 20.0
)

// OutlierGuard rejects single-frame glitches before they reach the
// estimator while letting genuinely fast targets through.
type OutlierGuard struct {
	Base        float64      // noise_threshold_base
	JitterScale float64      // jitter drawn from Noise is scaled into [0, JitterScale)
	Noise       noise.Source // nil disables jitter
}

// Threshold returns the rejection distance for t. It consumes one value
// from the noise source.
func (g OutlierGuard) Threshold(t *Target) float64 {
	jitter := noise.Between(g.Noise, 0, g.JitterScale)
	speedGate := t.Speed()*speedGateFactor + speedGateFloor
	return math.Max(g.Base+jitter, speedGate)
}

// IsOutlier reports whether candidate is too far from the mean of the
// last three history positions. Targets with fewer than three history
// entries accept everything.
func (g OutlierGuard) IsOutlier(t *Target, candidate Vec2) bool {
	n := len(t.History)
	if n < outlierMinHistory {
		return false
	}
	var mean Vec2
	for _, h := range t.History[n-outlierWindow:] {
		mean = mean.Add(h.Position)
	}
	mean = mean.Scale(1.0 / outlierWindow)
	return candidate.Dist(mean) > g.Threshold(t)
}
