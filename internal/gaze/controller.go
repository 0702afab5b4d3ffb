package gaze

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/gazetrack/internal/config"
	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/noise"
	"github.com/banshee-data/gazetrack/internal/timeutil"
	"github.com/banshee-data/gazetrack/internal/tracking"
)

// Config holds GazeController parameters.
type Config struct {
	Tracking tracking.Config
	Saccade  SaccadeConfig

	HistoryLength         int           // Gaze samples kept for CurrentGaze
	LostTimeout           time.Duration // No-update window before a target accrues lost frames
	MaxLostFrames         int           // Lost frames tolerated before eviction
	KalmanCleanupInterval time.Duration // Interval between Kalman state collections
	PredictionHorizon     time.Duration // Horizon for per-tick prediction refresh
	PursuitGain           float64       // Fraction of the remaining offset covered per tick
	InitialGaze           tracking.Vec2
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTrackingConfig())
}

// ConfigFromTuning builds a Config from a loaded TrackingConfig.
func ConfigFromTuning(cfg *config.TrackingConfig) Config {
	return Config{
		Tracking: tracking.ConfigFromTuning(cfg),
		Saccade: SaccadeConfig{
			PixelsPerDegree: cfg.GetPixelsPerDegree(),
			MaxVelocity:     cfg.GetMaxSaccadeVelocity(),
			Steepness:       cfg.GetSaccadeSteepness(),
			FixationRadius:  cfg.GetFixationRadius(),
			SaccadeDistance: cfg.GetSaccadeDistance(),
			PursuitSpeed:    cfg.GetPursuitSpeed(),
		},
		HistoryLength:         cfg.GetGazeHistoryLength(),
		LostTimeout:           cfg.GetLostTimeout(),
		MaxLostFrames:         cfg.GetMaxLostFrames(),
		KalmanCleanupInterval: cfg.GetKalmanCleanupInterval(),
		PredictionHorizon:     cfg.GetPredictionHorizon(),
		PursuitGain:           cfg.GetPursuitGain(),
	}
}

// MoveHint carries optional context for MoveGazeTo.
type MoveHint struct {
	TargetID string         // target being looked at; enables pursuit
	Velocity *tracking.Vec2 // overrides the target's tracked velocity
}

// MoveOutcome reports which movement MoveGazeTo selected.
type MoveOutcome struct {
	Mode     Mode
	Distance float64
	Plan     *SaccadePlan // set when Mode is ModeSaccade
}

// GazeSample is one entry of the gaze history.
type GazeSample struct {
	Position  tracking.Vec2 `json:"position"`
	Mode      Mode          `json:"mode"`
	Timestamp time.Time     `json:"timestamp"`
}

// GazeSnapshot is the externally visible gaze state.
type GazeSnapshot struct {
	Position      tracking.Vec2
	Mode          Mode
	NearestTarget string // empty when no target is within the nearest radius
	PursuitTarget string
	Saccade       *SaccadePlan
	History       []GazeSample
}

// Status summarises the engine.
type Status struct {
	Gaze           GazeSnapshot
	TrackedCount   int
	AverageQuality float64
	TotalSaccades  uint64
}

// Controller is the engine facade: it owns the target registry, the gaze
// state machine, and event dispatch. All methods are safe for concurrent
// use; calls are serialized on one mutex. Events raised during a call are
// delivered after the mutex is released, so listeners may call back in.
type Controller struct {
	mu sync.Mutex

	cfg       Config
	clock     timeutil.Clock
	registry  *tracking.Registry
	predictor tracking.Predictor
	analyzer  tracking.TrajectoryAnalyzer
	saccades  *SaccadeController
	bus       *Bus
	metrics   *monitoring.Metrics

	gaze          tracking.Vec2
	mode          Mode
	pursuitTarget string
	pursuitGoal   tracking.Vec2
	history       []GazeSample
	totalSaccades uint64
	lastCleanup   time.Time

	pending []Event
}

// NewController wires a controller. src feeds the outlier-gate jitter and
// initial target confidence; m may be nil.
func NewController(cfg Config, clock timeutil.Clock, src noise.Source, m *monitoring.Metrics) *Controller {
	if m == nil {
		m = monitoring.NewMetrics(nil)
	}
	c := &Controller{
		cfg:         cfg,
		clock:       clock,
		registry:    tracking.NewRegistry(cfg.Tracking, clock, src, m),
		predictor:   tracking.NewPredictor(cfg.Tracking.Prediction),
		analyzer:    tracking.NewTrajectoryAnalyzer(cfg.Tracking.Trajectory),
		saccades:    NewSaccadeController(cfg.Saccade),
		bus:         NewBus(m),
		metrics:     m,
		gaze:        cfg.InitialGaze,
		mode:        ModeFixation,
		lastCleanup: clock.Now(),
	}
	c.registry.SetObserver(registryObserver{c})
	return c
}

// registryObserver turns registry callbacks into queued events. It runs
// with c.mu held.
type registryObserver struct{ c *Controller }

func (o registryObserver) TargetAcquired(t tracking.Target) {
	o.c.emit(TargetAcquired{At: o.c.clock.Now(), Target: t})
}

func (o registryObserver) TargetLost(t tracking.Target, reason tracking.LossReason) {
	c := o.c
	if c.mode == ModeSmoothPursuit && c.pursuitTarget == t.ID {
		monitoring.Debugf("[gaze] pursuit target %s lost, holding fixation", t.ID)
		c.mode = ModeFixation
		c.pursuitTarget = ""
	}
	c.emit(TargetLost{At: c.clock.Now(), Target: t, Reason: reason})
}

func (c *Controller) emit(e Event) {
	c.pending = append(c.pending, e)
}

// unlock releases c.mu and delivers events queued while it was held.
func (c *Controller) unlock() {
	events := c.pending
	c.pending = nil
	c.mu.Unlock()
	c.bus.Publish(events...)
}

// Subscribe registers l for every event and returns its unsubscribe func.
func (c *Controller) Subscribe(l Listener) func() {
	return c.bus.Subscribe(l)
}

// Metrics returns the metrics the controller reports into.
func (c *Controller) Metrics() *monitoring.Metrics {
	return c.metrics
}

// Config returns the controller configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// RegisterTarget starts tracking a target and returns its id.
func (c *Controller) RegisterTarget(spec tracking.TargetSpec) (string, error) {
	c.mu.Lock()
	id, err := c.registry.Register(spec)
	c.unlock()
	return id, err
}

// UpdatePosition feeds a measurement for id.
func (c *Controller) UpdatePosition(id string, pos tracking.Vec2, confidence *float64) (tracking.UpdateOutcome, error) {
	c.mu.Lock()
	out, err := c.registry.UpdatePosition(id, pos, confidence)
	c.unlock()
	return out, err
}

// StopTracking removes id immediately. An in-flight saccade toward the
// target's last position completes as planned.
func (c *Controller) StopTracking(id string) error {
	c.mu.Lock()
	_, err := c.registry.Remove(id)
	c.unlock()
	return err
}

// HasTarget reports whether id is tracked.
func (c *Controller) HasTarget(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Has(id)
}

// Target returns a snapshot of target id.
func (c *Controller) Target(id string) (tracking.Target, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.registry.Get(id)
	if !ok {
		return tracking.Target{}, fmt.Errorf("target %q: %w", id, tracking.ErrTargetNotFound)
	}
	return t, nil
}

// Targets returns snapshots of every target in creation order.
func (c *Controller) Targets() []tracking.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Targets()
}

// Predict projects target id over horizon without storing the result.
func (c *Controller) Predict(id string, horizon time.Duration) ([]tracking.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("predict %q: %w", id, tracking.ErrTargetNotFound)
	}
	return c.predictFor(t, horizon, c.clock.Now()), nil
}

func (c *Controller) predictFor(t tracking.Target, horizon time.Duration, now time.Time) []tracking.Prediction {
	var state *tracking.KalmanState
	if s, ok := c.registry.Kalman().State(t.ID); ok {
		state = &s
	}
	return c.predictor.Predict(t, state, horizon, now)
}

// Analyze classifies the recent trajectory of target id.
func (c *Controller) Analyze(id string) (tracking.Analysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.registry.Get(id)
	if !ok {
		return tracking.Analysis{}, fmt.Errorf("analyze %q: %w", id, tracking.ErrTargetNotFound)
	}
	return c.analyzer.Analyze(t.History), nil
}

// MoveGazeTo chooses between fixation, smooth pursuit and a saccade toward
// pos. While a saccade is in flight it returns ErrSaccadeInProgress and
// leaves the saccade untouched.
func (c *Controller) MoveGazeTo(pos tracking.Vec2, hint MoveHint) (MoveOutcome, error) {
	c.mu.Lock()
	defer c.unlock()

	if !pos.IsFinite() {
		return MoveOutcome{}, fmt.Errorf("move gaze: %w", tracking.ErrInvalidMeasurement)
	}
	if plan, busy := c.saccades.InFlight(); busy {
		return MoveOutcome{Mode: ModeSaccade, Plan: &plan},
			fmt.Errorf("move gaze to (%.1f, %.1f): %w", pos.X, pos.Y, ErrSaccadeInProgress)
	}

	distance := c.gaze.Dist(pos)
	velocity := hint.Velocity
	if velocity == nil && hint.TargetID != "" {
		if t, ok := c.registry.Get(hint.TargetID); ok {
			v := t.Velocity
			velocity = &v
		}
	}

	now := c.clock.Now()
	switch mode := c.saccades.ChooseMovement(distance, velocity); mode {
	case ModeFixation:
		c.mode = ModeFixation
		c.pursuitTarget = ""
		return MoveOutcome{Mode: mode, Distance: distance}, nil

	case ModeSmoothPursuit:
		c.mode = ModeSmoothPursuit
		// An unknown id pursues the fixed position instead.
		c.pursuitTarget = ""
		if c.registry.Has(hint.TargetID) {
			c.pursuitTarget = hint.TargetID
		}
		c.pursuitGoal = pos
		monitoring.Debugf("[gaze] pursuit of %q from (%.1f, %.1f)", hint.TargetID, c.gaze.X, c.gaze.Y)
		return MoveOutcome{Mode: mode, Distance: distance}, nil

	default:
		plan := c.saccades.Plan(c.gaze, pos)
		plan.TargetID = hint.TargetID
		plan, err := c.saccades.Begin(plan, now)
		if err != nil {
			return MoveOutcome{Mode: ModeSaccade, Plan: &plan}, fmt.Errorf("move gaze: %w", err)
		}
		c.mode = ModeSaccade
		c.pursuitTarget = ""
		c.totalSaccades++
		c.metrics.Saccades.Inc(1)
		c.emit(SaccadeStart{At: now, Plan: plan})
		return MoveOutcome{Mode: ModeSaccade, Distance: distance, Plan: &plan}, nil
	}
}

// Tick advances the engine by one period: housekeeping, then prediction
// refresh, then gaze motion, then a GazeMoved event. The host must not
// call Tick concurrently with itself.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.unlock()

	now := c.clock.Now()
	c.metrics.Ticks.Inc(1)

	c.registry.CheckLostTargets(c.cfg.LostTimeout, c.cfg.MaxLostFrames)
	if c.cfg.KalmanCleanupInterval > 0 && now.Sub(c.lastCleanup) >= c.cfg.KalmanCleanupInterval {
		if n := c.registry.Kalman().Cleanup(now); n > 0 {
			c.metrics.KalmanCollected.Inc(int64(n))
			monitoring.Debugf("[gaze] collected %d idle kalman states", n)
		}
		c.lastCleanup = now
	}

	if c.cfg.PredictionHorizon > 0 {
		for _, t := range c.registry.Targets() {
			preds := c.predictFor(t, c.cfg.PredictionHorizon, now)
			c.registry.SetPredictions(t.ID, preds)
			c.emit(PredictionUpdated{At: now, TargetID: t.ID, Predictions: preds})
		}
	}

	switch c.mode {
	case ModeSaccade:
		c.advanceSaccade(now)
	case ModeSmoothPursuit:
		c.advancePursuit()
	}

	c.recordGaze(now)
	c.emit(GazeMoved{At: now, Position: c.gaze, Mode: c.mode})
}

func (c *Controller) advanceSaccade(now time.Time) {
	step, ok := c.saccades.Advance(now)
	if !ok {
		c.mode = ModeFixation
		return
	}
	c.gaze = step.Position
	if !step.Done {
		return
	}
	c.mode = ModeFixation
	actual := now.Sub(step.Plan.StartedAt)
	c.metrics.SaccadeDuration.Update(actual.Milliseconds())
	c.emit(SaccadeEnd{At: now, Plan: step.Plan, ActualDuration: actual, FinalPosition: step.Position})
}

// advancePursuit moves gaze a PursuitGain fraction of the way toward the
// pursued target (or fixed goal). Pursuit ends in fixation once gaze is
// within the fixation radius and the target has slowed below pursuit speed.
func (c *Controller) advancePursuit() {
	goal := c.pursuitGoal
	targetSpeed := 0.0
	if c.pursuitTarget != "" {
		t, ok := c.registry.Get(c.pursuitTarget)
		if !ok {
			c.mode = ModeFixation
			c.pursuitTarget = ""
			return
		}
		goal = t.Position
		targetSpeed = t.Speed()
		c.pursuitGoal = goal
	}

	c.gaze = tracking.Lerp(c.gaze, goal, c.cfg.PursuitGain)
	if c.gaze.Dist(goal) < c.cfg.Saccade.FixationRadius && targetSpeed <= c.cfg.Saccade.PursuitSpeed {
		c.mode = ModeFixation
		c.pursuitTarget = ""
	}
}

func (c *Controller) recordGaze(now time.Time) {
	c.history = append(c.history, GazeSample{Position: c.gaze, Mode: c.mode, Timestamp: now})
	if limit := c.cfg.HistoryLength; limit > 0 && len(c.history) > limit {
		n := copy(c.history, c.history[len(c.history)-limit:])
		c.history = c.history[:n]
	}
}

// CurrentGaze returns the gaze position, mode, nearest target and recent
// history.
func (c *Controller) CurrentGaze() GazeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() GazeSnapshot {
	s := GazeSnapshot{
		Position:      c.gaze,
		Mode:          c.mode,
		PursuitTarget: c.pursuitTarget,
		History:       append([]GazeSample(nil), c.history...),
	}
	if id, ok := c.registry.NearestTo(c.gaze); ok {
		s.NearestTarget = id
	}
	if plan, ok := c.saccades.InFlight(); ok {
		s.Saccade = &plan
	}
	return s
}

// Status returns a summary of gaze and tracking state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Gaze:           c.snapshot(),
		TrackedCount:   c.registry.Len(),
		AverageQuality: c.registry.AverageQuality(),
		TotalSaccades:  c.totalSaccades,
	}
}
