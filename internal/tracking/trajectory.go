package tracking

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Classification labels a trajectory's motion pattern.
type Classification string

const (
	ClassInsufficientData Classification = "insufficient_data"
	ClassStationary       Classification = "stationary"
	ClassLinear           Classification = "linear"
	ClassCurved           Classification = "curved"
	ClassCircular         Classification = "circular"
	ClassErratic          Classification = "erratic"
)

const (
	minTrajectorySamples = 3
	// below this speed a heading is too noisy to count toward turning
	minHeadingSpeed = 1e-6
)

// TrajectoryConfig holds classification thresholds.
type TrajectoryConfig struct {
	StationarySpeed float64 // Average speed below which a track is stationary
	LinearVariance  float64 // Speed variance below which motion is linear
	ErraticVariance float64 // Speed variance above which motion is erratic
	AccelScale      float64 // Smoothness = 1 / (1 + avgAccel/AccelScale)
	VarianceScale   float64 // Predictability = 1 / (1 + variance/VarianceScale)
}

// Analysis summarises a target's recent motion.
type Analysis struct {
	Class               Classification `json:"class"`
	Samples             int            `json:"samples"`
	AverageSpeed        float64        `json:"average_speed"`
	SpeedVariance       float64        `json:"speed_variance"`
	AverageAcceleration float64        `json:"average_acceleration"`
	TotalTurn           float64        `json:"total_turn"` // radians, sum of absolute heading changes
	TotalDistance       float64        `json:"total_distance"`
	Smoothness          float64        `json:"smoothness"`
	Predictability      float64        `json:"predictability"`
}

// TrajectoryAnalyzer classifies target histories.
type TrajectoryAnalyzer struct {
	cfg TrajectoryConfig
}

// NewTrajectoryAnalyzer returns an analyzer with non-positive scales
// replaced by 1000.
func NewTrajectoryAnalyzer(cfg TrajectoryConfig) TrajectoryAnalyzer {
	if cfg.AccelScale <= 0 {
		cfg.AccelScale = 1000
	}
	if cfg.VarianceScale <= 0 {
		cfg.VarianceScale = 1000
	}
	return TrajectoryAnalyzer{cfg: cfg}
}

// Analyze derives speeds, accelerations and heading changes from
// consecutive history entries and classifies the result. Pairs with a
// non-positive time delta are skipped.
func (a TrajectoryAnalyzer) Analyze(history []HistoryEntry) Analysis {
	out := Analysis{Class: ClassInsufficientData, Samples: len(history)}
	if len(history) < minTrajectorySamples {
		return out
	}

	dists := make([]float64, 0, len(history)-1)
	vels := make([]Vec2, 0, len(history)-1)
	speeds := make([]float64, 0, len(history)-1)
	stamps := make([]float64, 0, len(history)-1)
	t0 := history[0].Timestamp

	for i := 1; i < len(history); i++ {
		prev, cur := history[i-1], history[i]
		dists = append(dists, cur.Position.Dist(prev.Position))
		dt := cur.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		v := cur.Position.Sub(prev.Position).Scale(1 / dt)
		vels = append(vels, v)
		speeds = append(speeds, v.Len())
		stamps = append(stamps, cur.Timestamp.Sub(t0).Seconds())
	}
	out.TotalDistance = floats.Sum(dists)
	if len(speeds) < 2 {
		return out
	}

	var accels []float64
	for i := 1; i < len(vels); i++ {
		dt := stamps[i] - stamps[i-1]
		if dt <= 0 {
			continue
		}
		accels = append(accels, vels[i].Sub(vels[i-1]).Scale(1/dt).Len())
	}

	for i := 1; i < len(vels); i++ {
		if vels[i-1].Len() < minHeadingSpeed || vels[i].Len() < minHeadingSpeed {
			continue
		}
		h0 := math.Atan2(vels[i-1].Y, vels[i-1].X)
		h1 := math.Atan2(vels[i].Y, vels[i].X)
		out.TotalTurn += math.Abs(math.Remainder(h1-h0, 2*math.Pi))
	}

	out.AverageSpeed = stat.Mean(speeds, nil)
	out.SpeedVariance = stat.Variance(speeds, nil)
	if len(accels) > 0 {
		out.AverageAcceleration = stat.Mean(accels, nil)
	}
	out.Smoothness = 1 / (1 + out.AverageAcceleration/a.cfg.AccelScale)
	out.Predictability = 1 / (1 + out.SpeedVariance/a.cfg.VarianceScale)
	out.Class = a.classify(out)
	return out
}

// classify applies the thresholds in priority order: stationary,
// circular, linear, erratic, then curved.
func (a TrajectoryAnalyzer) classify(an Analysis) Classification {
	switch {
	case an.AverageSpeed < a.cfg.StationarySpeed:
		return ClassStationary
	case an.TotalTurn > math.Pi:
		return ClassCircular
	case an.SpeedVariance < a.cfg.LinearVariance:
		return ClassLinear
	case an.SpeedVariance > a.cfg.ErraticVariance:
		return ClassErratic
	default:
		return ClassCurved
	}
}
