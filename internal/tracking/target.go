package tracking

import "time"

// Size is a target's width and height in screen units.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// HistoryEntry is an immutable snapshot appended on every accepted update.
type HistoryEntry struct {
	Position   Vec2      `json:"position"`
	Velocity   Vec2      `json:"velocity"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Prediction is a projected future state. Predictions are regenerated in
// full on every request.
type Prediction struct {
	Position   Vec2      `json:"position"`
	Velocity   Vec2      `json:"velocity"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	// Uncertainty is the propagated position uncertainty; zero for linear
	// predictions.
	Uncertainty float64 `json:"uncertainty,omitempty"`
}

// Target is a single tracked object. The Registry owns every Target;
// callers only ever see copies returned by Snapshot.
type Target struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Priority float64 `json:"priority"`
	Size     Size    `json:"size"`

	Position     Vec2 `json:"position"`
	Velocity     Vec2 `json:"velocity"`
	Acceleration Vec2 `json:"acceleration"`

	Confidence float64 `json:"confidence"` // [0, 1]
	Quality    float64 `json:"quality"`    // [0, 1]

	CreatedAt    time.Time `json:"created_at"`
	LastUpdateAt time.Time `json:"last_update_at"`

	History     []HistoryEntry `json:"history"`
	Predictions []Prediction   `json:"predictions,omitempty"`

	LostFrames uint32 `json:"lost_frames"`
	Visible    bool   `json:"visible"`

	// seq breaks CreatedAt ties so capacity eviction is deterministic.
	seq uint64
}

// Snapshot returns a deep copy safe to hand outside the registry.
func (t *Target) Snapshot() Target {
	c := *t
	c.History = append([]HistoryEntry(nil), t.History...)
	c.Predictions = append([]Prediction(nil), t.Predictions...)
	return c
}

// Speed returns the magnitude of the target's velocity.
func (t *Target) Speed() float64 {
	return t.Velocity.Len()
}

// appendHistory appends e and drops the oldest entries beyond limit.
func (t *Target) appendHistory(e HistoryEntry, limit int) {
	t.History = append(t.History, e)
	if limit > 0 && len(t.History) > limit {
		// copy down so the backing array does not grow without bound
		n := copy(t.History, t.History[len(t.History)-limit:])
		t.History = t.History[:n]
	}
}
