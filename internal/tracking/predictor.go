package tracking

import (
	"math"
	"time"
)

// PredictionStrategy selects how future positions are extrapolated.
type PredictionStrategy string

const (
	StrategyLinear PredictionStrategy = "linear"
	StrategyKalman PredictionStrategy = "kalman"
)

const (
	defaultPredictionStep = 50 * time.Millisecond

	linearConfidenceFloor   = 0.1
	kalmanConfidenceDecay   = 0.95
	kalmanConfidenceFloor   = 0.05
	kalmanUncertaintyGrowth = 1.05
)

// PredictorConfig holds MotionPredictor parameters.
type PredictorConfig struct {
	Strategy PredictionStrategy
	Step     time.Duration // Spacing between prediction points
}

// Predictor extrapolates target motion over a horizon.
type Predictor struct {
	cfg PredictorConfig
}

// NewPredictor returns a Predictor, filling in a default step and strategy.
func NewPredictor(cfg PredictorConfig) Predictor {
	if cfg.Step <= 0 {
		cfg.Step = defaultPredictionStep
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyLinear
	}
	return Predictor{cfg: cfg}
}

// Strategy returns the configured strategy.
func (p Predictor) Strategy() PredictionStrategy { return p.cfg.Strategy }

// Predict returns max(1, horizon/step) predictions for t, starting one step
// after now. state is the target's Kalman state and may be nil; the Kalman
// strategy falls back to a fresh state built from t when it is. A target
// with no history is treated as stationary. Returns nil for a non-positive
// horizon.
func (p Predictor) Predict(t Target, state *KalmanState, horizon time.Duration, now time.Time) []Prediction {
	if horizon <= 0 {
		return nil
	}
	steps := int(horizon / p.cfg.Step)
	if steps < 1 {
		steps = 1
	}

	vel := t.Velocity
	if len(t.History) == 0 {
		vel = Vec2{}
	}

	if p.cfg.Strategy == StrategyKalman {
		return p.predictKalman(t, vel, state, steps, now)
	}
	return p.predictLinear(t.Position, vel, horizon, steps, now)
}

// predictLinear extrapolates at constant velocity. Confidence falls
// linearly from 1 toward linearConfidenceFloor at the horizon.
func (p Predictor) predictLinear(pos, vel Vec2, horizon time.Duration, steps int, now time.Time) []Prediction {
	out := make([]Prediction, 0, steps)
	for i := 1; i <= steps; i++ {
		dt := time.Duration(i) * p.cfg.Step
		if dt > horizon {
			dt = horizon
		}
		frac := dt.Seconds() / horizon.Seconds()
		out = append(out, Prediction{
			Position:   pos.Add(vel.Scale(dt.Seconds())),
			Velocity:   vel,
			Timestamp:  now.Add(dt),
			Confidence: math.Max(linearConfidenceFloor, 1-(1-linearConfidenceFloor)*frac),
		})
	}
	return out
}

// predictKalman repeatedly applies the estimator's predict-only step from
// the target's smoothed position, inflating uncertainty and decaying
// confidence each step.
func (p Predictor) predictKalman(t Target, vel Vec2, state *KalmanState, steps int, now time.Time) []Prediction {
	var s KalmanState
	if state != nil {
		s = *state
	} else {
		s = KalmanState{VX: vel.X, VY: vel.Y}
		s.P[0], s.P[5], s.P[10], s.P[15] = 1, 1, 1, 1
	}
	s.X, s.Y = t.Position.X, t.Position.Y
	if len(t.History) == 0 {
		s.VX, s.VY = 0, 0
	}

	uncertainty := s.PositionUncertainty()
	if uncertainty <= 0 {
		uncertainty = 1
	}
	confidence := 1.0
	stepSec := p.cfg.Step.Seconds()

	out := make([]Prediction, 0, steps)
	for i := 1; i <= steps; i++ {
		s = s.Predict(stepSec)
		uncertainty *= kalmanUncertaintyGrowth
		confidence = math.Max(kalmanConfidenceFloor, confidence*kalmanConfidenceDecay)
		out = append(out, Prediction{
			Position:    s.Position(),
			Velocity:    s.Velocity(),
			Timestamp:   now.Add(time.Duration(i) * p.cfg.Step),
			Confidence:  confidence,
			Uncertainty: uncertainty,
		})
	}
	return out
}
