package tracking

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/noise"
	"github.com/banshee-data/gazetrack/internal/timeutil"
)

// Quality blend weights and the history-sufficiency bonus.
const (
	qualityWeightGeneral     = 0.4
	qualityWeightHistory     = 0.3
	qualityWeightConsistency = 0.3

	historyBonusSamples = 5
	historyBonusFull    = 0.9
	historyBonusPartial = 0.7

	velocityConsistencyScale = 1000.0

	// reacquireRun consecutive rejected measurements lying on a
	// constant-velocity line re-seed the target at the latest of them.
	reacquireRun = 3
)

// LossReason explains why a target left the registry.
type LossReason string

const (
	LossCapacity LossReason = "capacity" // evicted to make room for a new target
	LossTimeout  LossReason = "timeout"  // exceeded max lost frames
	LossStopped  LossReason = "stopped"  // removed by the caller
)

// Observer receives target lifecycle notifications. Calls happen
// synchronously inside the registry operation that caused them.
type Observer interface {
	TargetAcquired(t Target)
	TargetLost(t Target, reason LossReason)
}

// TargetSpec describes a target to register.
type TargetSpec struct {
	ID       string // optional; generated when empty
	Kind     string
	Position Vec2
	Priority float64
	Size     Size
	// Confidence is the caller's initial quality estimate. When nil the
	// registry draws one from its noise source in [0.5, 1).
	Confidence *float64
}

// UpdateOutcome reports the result of an accepted measurement.
type UpdateOutcome struct {
	TargetID     string
	Measured     Vec2
	Filtered     Vec2 // the target's new position after Kalman and smoothing
	Velocity     Vec2
	Acceleration Vec2
	Quality      float64
	// KinematicsUpdated is false when dt since the last update was not
	// positive and velocity/acceleration were left unchanged.
	KinematicsUpdated bool
}

// Registry owns every tracked target, its history, and eviction policy.
// It is not safe for concurrent use; the gaze controller serializes access.
type Registry struct {
	cfg      Config
	clock    timeutil.Clock
	kalman   *KalmanEstimator
	smoother SmoothingFilter
	guard    OutlierGuard
	noise    noise.Source
	metrics  *monitoring.Metrics
	observer Observer

	targets  map[string]*Target
	rejected map[string][]HistoryEntry // consecutive guard rejections per target
	nextSeq  uint64
}

// NewRegistry creates an empty registry. A nil noise source disables
// outlier-gate jitter and makes initial confidence 0.5; nil metrics get a
// private registry.
func NewRegistry(cfg Config, clock timeutil.Clock, src noise.Source, m *monitoring.Metrics) *Registry {
	if cfg.MaxTargets < 1 {
		cfg.MaxTargets = 1
	}
	if m == nil {
		m = monitoring.NewMetrics(nil)
	}
	return &Registry{
		cfg:      cfg,
		clock:    clock,
		kalman:   NewKalmanEstimator(cfg.Kalman),
		smoother: SmoothingFilter{Alpha: cfg.SmoothingAlpha},
		guard: OutlierGuard{
			Base:        cfg.NoiseThresholdBase,
			JitterScale: cfg.LoadJitterScale,
			Noise:       src,
		},
		noise:   src,
		metrics: m,
		targets:  make(map[string]*Target),
		rejected: make(map[string][]HistoryEntry),
	}
}

// SetObserver installs the lifecycle observer. Passing nil removes it.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Kalman exposes the estimator so the controller can run Cleanup and the
// predictor can read per-target state.
func (r *Registry) Kalman() *KalmanEstimator {
	return r.kalman
}

// Guard returns the outlier guard used by UpdatePosition.
func (r *Registry) Guard() OutlierGuard {
	return r.guard
}

// Register adds a target and returns its id. At capacity the oldest
// target (by creation) is evicted first. Registering an id that already
// exists re-seeds that target in place. A non-finite position is refused
// with ErrInvalidMeasurement and nothing is stored.
func (r *Registry) Register(spec TargetSpec) (string, error) {
	if !spec.Position.IsFinite() {
		return "", fmt.Errorf("register %q: %w", spec.ID, ErrInvalidMeasurement)
	}
	now := r.clock.Now()
	id := spec.ID
	if id == "" {
		id = fmt.Sprintf("tgt_%s", uuid.NewString())
	}

	confidence := 0.5 + 0.5*noise.Between(r.noise, 0, 1)
	if spec.Confidence != nil {
		confidence = clamp(*spec.Confidence, 0, 1)
	}

	if existing, ok := r.targets[id]; ok {
		r.reseed(existing, spec, confidence, now)
		return id, nil
	}

	for len(r.targets) >= r.cfg.MaxTargets {
		oldest := r.ordered()[0]
		monitoring.Logf("[tracking] %v: evicting %s to register %s", ErrCapacityExceeded, oldest.ID, id)
		r.evict(oldest.ID, LossCapacity)
	}

	r.nextSeq++
	t := &Target{
		ID:           id,
		Kind:         spec.Kind,
		Priority:     spec.Priority,
		Size:         spec.Size,
		Position:     spec.Position,
		Confidence:   confidence,
		Quality:      confidence,
		CreatedAt:    now,
		LastUpdateAt: now,
		Visible:      true,
		seq:          r.nextSeq,
	}
	t.appendHistory(HistoryEntry{Position: spec.Position, Timestamp: now, Confidence: confidence}, r.cfg.HistoryLength)
	r.targets[id] = t
	r.kalman.Seed(id, spec.Position, now)

	if r.observer != nil {
		r.observer.TargetAcquired(t.Snapshot())
	}
	return id, nil
}

func (r *Registry) reseed(t *Target, spec TargetSpec, confidence float64, now time.Time) {
	t.Kind = spec.Kind
	t.Priority = spec.Priority
	t.Size = spec.Size
	t.Position = spec.Position
	t.Velocity = Vec2{}
	t.Acceleration = Vec2{}
	t.Confidence = confidence
	t.Quality = confidence
	t.LastUpdateAt = now
	t.LostFrames = 0
	t.Visible = true
	t.Predictions = nil
	t.History = t.History[:0]
	t.appendHistory(HistoryEntry{Position: spec.Position, Timestamp: now, Confidence: confidence}, r.cfg.HistoryLength)
	r.kalman.Seed(t.ID, spec.Position, now)
	delete(r.rejected, t.ID)
}

// UpdatePosition feeds a measurement through outlier rejection, Kalman
// correction and smoothing, then refreshes kinematics, history and quality.
// A rejected measurement returns ErrOutlierRejected and leaves the target
// untouched. A nil confidence keeps the target's current confidence.
//
// Smoothing lags a target that moves much faster than the guard threshold
// per update, so the guard would reject it forever. When three rejections
// in a row line up at constant velocity the target is re-acquired at the
// latest one instead.
func (r *Registry) UpdatePosition(id string, pos Vec2, confidence *float64) (UpdateOutcome, error) {
	t, ok := r.targets[id]
	if !ok {
		return UpdateOutcome{}, fmt.Errorf("update %q: %w", id, ErrTargetNotFound)
	}
	if !pos.IsFinite() {
		return UpdateOutcome{}, fmt.Errorf("update %q: %w", id, ErrInvalidMeasurement)
	}
	now := r.clock.Now()
	if r.guard.IsOutlier(t, pos) {
		if out, ok := r.reacquire(t, pos, confidence, now); ok {
			return out, nil
		}
		r.metrics.OutliersRejected.Inc(1)
		return UpdateOutcome{TargetID: id, Measured: pos, Filtered: t.Position, Quality: t.Quality},
			fmt.Errorf("update %q at (%.1f, %.1f): %w", id, pos.X, pos.Y, ErrOutlierRejected)
	}
	delete(r.rejected, id)

	filtered := r.kalman.Update(id, pos, now)
	smoothed := r.smoother.Smooth(t.Position, filtered)

	kinematics := false
	if dt := now.Sub(t.LastUpdateAt).Seconds(); dt > 0 {
		vel := smoothed.Sub(t.Position).Scale(1 / dt)
		t.Acceleration = vel.Sub(t.Velocity).Scale(1 / dt)
		t.Velocity = vel
		kinematics = true
	}

	t.Position = smoothed
	if confidence != nil {
		t.Confidence = clamp(*confidence, 0, 1)
	}
	t.LastUpdateAt = now
	t.appendHistory(HistoryEntry{
		Position:   smoothed,
		Velocity:   t.Velocity,
		Timestamp:  now,
		Confidence: t.Confidence,
	}, r.cfg.HistoryLength)
	t.Quality = trackQuality(t)
	t.LostFrames = 0
	t.Visible = true
	r.metrics.Updates.Inc(1)

	return UpdateOutcome{
		TargetID:          id,
		Measured:          pos,
		Filtered:          smoothed,
		Velocity:          t.Velocity,
		Acceleration:      t.Acceleration,
		Quality:           t.Quality,
		KinematicsUpdated: kinematics,
	}, nil
}

// reacquire records a rejected measurement and, once the last reacquireRun
// rejections line up, jumps the target onto the newest one with the
// velocity they imply.
func (r *Registry) reacquire(t *Target, pos Vec2, confidence *float64, now time.Time) (UpdateOutcome, bool) {
	run := append(r.rejected[t.ID], HistoryEntry{Position: pos, Timestamp: now})
	if len(run) > reacquireRun {
		run = run[len(run)-reacquireRun:]
	}
	r.rejected[t.ID] = run
	if len(run) < reacquireRun {
		return UpdateOutcome{}, false
	}

	first, mid := run[0], run[1]
	span := now.Sub(first.Timestamp).Seconds()
	expected := mid.Position.Scale(2).Sub(first.Position)
	if span <= 0 || pos.Dist(expected) > r.guard.Threshold(t) {
		return UpdateOutcome{}, false
	}
	delete(r.rejected, t.ID)

	vel := pos.Sub(first.Position).Scale(1 / span)
	monitoring.Debugf("[tracking] re-acquired %s at (%.1f, %.1f) moving %.0f px/s", t.ID, pos.X, pos.Y, vel.Len())

	t.Acceleration = Vec2{}
	t.Velocity = vel
	t.Position = pos
	if confidence != nil {
		t.Confidence = clamp(*confidence, 0, 1)
	}
	t.LastUpdateAt = now
	t.Predictions = nil
	t.History = t.History[:0]
	t.appendHistory(HistoryEntry{Position: pos, Velocity: vel, Timestamp: now, Confidence: t.Confidence}, r.cfg.HistoryLength)
	t.Quality = trackQuality(t)
	t.LostFrames = 0
	t.Visible = true
	r.kalman.Seed(t.ID, pos, now)
	r.metrics.Updates.Inc(1)

	return UpdateOutcome{
		TargetID:          t.ID,
		Measured:          pos,
		Filtered:          pos,
		Velocity:          vel,
		Quality:           t.Quality,
		KinematicsUpdated: true,
	}, true
}

// trackQuality blends general tracking quality, history sufficiency and
// velocity consistency with fixed weights.
func trackQuality(t *Target) float64 {
	general := 0.5 + 0.5*t.Confidence

	history := historyBonusPartial
	if len(t.History) >= historyBonusSamples {
		history = historyBonusFull
	}

	consistency := clamp(1-math.Abs(t.Velocity.X+t.Velocity.Y)/velocityConsistencyScale, 0, 1)

	q := qualityWeightGeneral*general + qualityWeightHistory*history + qualityWeightConsistency*consistency
	return clamp(q, 0, 1)
}

// CheckLostTargets increments LostFrames on every target not updated within
// timeout and evicts those whose LostFrames exceeds maxLostFrames. The
// evicted targets are returned in creation order.
func (r *Registry) CheckLostTargets(timeout time.Duration, maxLostFrames int) []Target {
	now := r.clock.Now()
	var lost []Target
	for _, t := range r.ordered() {
		if now.Sub(t.LastUpdateAt) <= timeout {
			continue
		}
		t.LostFrames++
		t.Visible = false
		if int(t.LostFrames) > maxLostFrames {
			lost = append(lost, r.evict(t.ID, LossTimeout))
		}
	}
	return lost
}

// Remove stops tracking id immediately.
func (r *Registry) Remove(id string) (Target, error) {
	if _, ok := r.targets[id]; !ok {
		return Target{}, fmt.Errorf("remove %q: %w", id, ErrTargetNotFound)
	}
	return r.evict(id, LossStopped), nil
}

func (r *Registry) evict(id string, reason LossReason) Target {
	t := r.targets[id]
	delete(r.targets, id)
	delete(r.rejected, id)
	r.kalman.Forget(id)
	r.metrics.Evictions.Inc(1)

	snap := t.Snapshot()
	monitoring.Debugf("[tracking] target %s lost (%s) after %d lost frames", id, reason, t.LostFrames)
	if r.observer != nil {
		r.observer.TargetLost(snap, reason)
	}
	return snap
}

// NearestTo returns the id of the closest target within NearestRadius of p.
func (r *Registry) NearestTo(p Vec2) (string, bool) {
	best := ""
	bestDist := math.Inf(1)
	for _, t := range r.ordered() {
		d := t.Position.Dist(p)
		if d <= r.cfg.NearestRadius && d < bestDist {
			best, bestDist = t.ID, d
		}
	}
	return best, best != ""
}

// SetPredictions replaces the stored predictions for id.
func (r *Registry) SetPredictions(id string, preds []Prediction) bool {
	t, ok := r.targets[id]
	if !ok {
		return false
	}
	t.Predictions = preds
	return true
}

// Get returns a snapshot of the target with id.
func (r *Registry) Get(id string) (Target, bool) {
	t, ok := r.targets[id]
	if !ok {
		return Target{}, false
	}
	return t.Snapshot(), true
}

// Has reports whether id is tracked.
func (r *Registry) Has(id string) bool {
	_, ok := r.targets[id]
	return ok
}

// Targets returns snapshots of every target in creation order.
func (r *Registry) Targets() []Target {
	ordered := r.ordered()
	out := make([]Target, 0, len(ordered))
	for _, t := range ordered {
		out = append(out, t.Snapshot())
	}
	return out
}

// Len returns the number of tracked targets.
func (r *Registry) Len() int {
	return len(r.targets)
}

// AverageQuality returns the mean Quality across targets, or 0 when empty.
func (r *Registry) AverageQuality() float64 {
	if len(r.targets) == 0 {
		return 0
	}
	var sum float64
	for _, t := range r.targets {
		sum += t.Quality
	}
	return sum / float64(len(r.targets))
}

// ordered returns live targets sorted by creation time, oldest first.
func (r *Registry) ordered() []*Target {
	out := make([]*Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}
