package gaze

import (
	"errors"
	"math"
	"time"

	"github.com/banshee-data/gazetrack/internal/tracking"
)

// Mode is the gaze state machine state.
type Mode string

const (
	ModeFixation      Mode = "fixation"
	ModeSaccade       Mode = "saccade"
	ModeSmoothPursuit Mode = "smooth_pursuit"
)

// ErrSaccadeInProgress is returned when a movement is requested while a
// saccade is in flight. The in-flight saccade is not affected.
var ErrSaccadeInProgress = errors.New("saccade in progress")

// Main-sequence constants: duration_ms = 2.2*amplitude + 21, clamped.
const (
	durationSlopeMs       = 2.2
	durationInterceptMs   = 21.0
	minSaccadeDurationMs  = 20.0
	maxSaccadeDurationMs  = 100.0
	peakVelocityPerDegree = 500.0
)

// SaccadeConfig holds movement-selection and saccade planning parameters.
type SaccadeConfig struct {
	PixelsPerDegree float64 // Screen units per degree of visual angle
	MaxVelocity     float64 // Peak velocity cap, deg/s
	Steepness       float64 // Sigmoid k
	FixationRadius  float64 // Below this distance gaze holds fixation
	SaccadeDistance float64 // Above this distance gaze always saccades
	PursuitSpeed    float64 // Target speed above which pursuit is chosen
}

// DefaultSaccadeConfig returns the built-in parameters.
func DefaultSaccadeConfig() SaccadeConfig {
	return SaccadeConfig{
		PixelsPerDegree: 35,
		MaxVelocity:     700,
		Steepness:       10,
		FixationRadius:  10,
		SaccadeDistance: 100,
		PursuitSpeed:    50,
	}
}

// SaccadePlan describes one ballistic movement.
type SaccadePlan struct {
	Start        tracking.Vec2 `json:"start"`
	Target       tracking.Vec2 `json:"target"`
	TargetID     string        `json:"target_id,omitempty"`
	Distance     float64       `json:"distance"`
	AmplitudeDeg float64       `json:"amplitude_deg"`
	Duration     time.Duration `json:"duration"`
	PeakVelocity float64       `json:"peak_velocity"` // deg/s
	StartedAt    time.Time     `json:"started_at"`
}

// DurationMs returns the planned duration in milliseconds.
func (p SaccadePlan) DurationMs() float64 {
	return float64(p.Duration) / float64(time.Millisecond)
}

// SaccadeDuration maps an amplitude in degrees to a duration on the
// clamped main sequence.
func SaccadeDuration(amplitudeDeg float64) time.Duration {
	ms := durationSlopeMs*amplitudeDeg + durationInterceptMs
	ms = math.Min(maxSaccadeDurationMs, math.Max(minSaccadeDurationMs, ms))
	return time.Duration(ms * float64(time.Millisecond))
}

// SaccadeStep is the result of advancing an in-flight saccade.
type SaccadeStep struct {
	Plan     SaccadePlan
	Position tracking.Vec2
	Progress float64 // elapsed/duration, clamped to [0, 1]
	Done     bool
}

// SaccadeController plans saccades and interpolates the active one.
// It is not safe for concurrent use.
type SaccadeController struct {
	cfg    SaccadeConfig
	active *SaccadePlan

	// normalisation for Ease so progress 0 and 1 land exactly on the endpoints
	sigLo, sigHi float64
}

// NewSaccadeController creates a controller in fixation.
func NewSaccadeController(cfg SaccadeConfig) *SaccadeController {
	def := DefaultSaccadeConfig()
	if cfg.PixelsPerDegree <= 0 {
		cfg.PixelsPerDegree = def.PixelsPerDegree
	}
	if cfg.Steepness <= 0 {
		cfg.Steepness = def.Steepness
	}
	s := &SaccadeController{cfg: cfg}
	s.sigLo = sigmoid(0, cfg.Steepness)
	s.sigHi = sigmoid(1, cfg.Steepness)
	return s
}

func sigmoid(t, k float64) float64 {
	return 1 / (1 + math.Exp(-k*(t-0.5)))
}

// ChooseMovement picks the movement for a gaze shift of distance. velocity
// is the target's velocity when known.
func (s *SaccadeController) ChooseMovement(distance float64, velocity *tracking.Vec2) Mode {
	switch {
	case distance < s.cfg.FixationRadius:
		return ModeFixation
	case distance > s.cfg.SaccadeDistance:
		return ModeSaccade
	case velocity != nil && velocity.Len() > s.cfg.PursuitSpeed:
		return ModeSmoothPursuit
	default:
		return ModeSaccade
	}
}

// Plan computes a saccade from start to target. It does not start it.
func (s *SaccadeController) Plan(start, target tracking.Vec2) SaccadePlan {
	dist := start.Dist(target)
	amp := dist / s.cfg.PixelsPerDegree
	peak := peakVelocityPerDegree * amp
	if s.cfg.MaxVelocity > 0 {
		peak = math.Min(s.cfg.MaxVelocity, peak)
	}
	return SaccadePlan{
		Start:        start,
		Target:       target,
		Distance:     dist,
		AmplitudeDeg: amp,
		Duration:     SaccadeDuration(amp),
		PeakVelocity: peak,
	}
}

// Begin makes plan the active saccade starting at now.
func (s *SaccadeController) Begin(plan SaccadePlan, now time.Time) (SaccadePlan, error) {
	if s.active != nil {
		return *s.active, ErrSaccadeInProgress
	}
	plan.StartedAt = now
	s.active = &plan
	return plan, nil
}

// InFlight returns the active plan, if any.
func (s *SaccadeController) InFlight() (SaccadePlan, bool) {
	if s.active == nil {
		return SaccadePlan{}, false
	}
	return *s.active, true
}

// Ease maps linear progress in [0, 1] onto the normalised sigmoid.
func (s *SaccadeController) Ease(progress float64) float64 {
	p := math.Min(1, math.Max(0, progress))
	return (sigmoid(p, s.cfg.Steepness) - s.sigLo) / (s.sigHi - s.sigLo)
}

// Advance interpolates the active saccade at now. When progress reaches 1
// the saccade completes, the returned position is exactly the target, and
// the controller returns to idle. ok is false when nothing is in flight.
func (s *SaccadeController) Advance(now time.Time) (step SaccadeStep, ok bool) {
	if s.active == nil {
		return SaccadeStep{}, false
	}
	plan := *s.active
	progress := 1.0
	if plan.Duration > 0 {
		progress = float64(now.Sub(plan.StartedAt)) / float64(plan.Duration)
	}
	if progress >= 1 {
		s.active = nil
		return SaccadeStep{Plan: plan, Position: plan.Target, Progress: 1, Done: true}, true
	}
	if progress < 0 {
		progress = 0
	}
	return SaccadeStep{
		Plan:     plan,
		Position: tracking.Lerp(plan.Start, plan.Target, s.Ease(progress)),
		Progress: progress,
	}, true
}
