package gaze

import (
	"sync"
	"time"

	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/tracking"
)

// EventKind names an event type. The values are also used as the
// target_events.kind column by the recorder.
type EventKind string

const (
	KindGazeMoved         EventKind = "gaze_moved"
	KindSaccadeStart      EventKind = "saccade_start"
	KindSaccadeEnd        EventKind = "saccade_end"
	KindTargetAcquired    EventKind = "target_acquired"
	KindTargetLost        EventKind = "target_lost"
	KindPredictionUpdated EventKind = "prediction_updated"
)

// Event is emitted synchronously to every subscribed Listener.
type Event interface {
	Kind() EventKind
	Time() time.Time
}

type GazeMoved struct {
	At       time.Time
	Position tracking.Vec2
	Mode     Mode
}

type SaccadeStart struct {
	At   time.Time
	Plan SaccadePlan
}

type SaccadeEnd struct {
	At             time.Time
	Plan           SaccadePlan
	ActualDuration time.Duration
	FinalPosition  tracking.Vec2
}

type TargetAcquired struct {
	At     time.Time
	Target tracking.Target
}

type TargetLost struct {
	At     time.Time
	Target tracking.Target
	Reason tracking.LossReason
}

type PredictionUpdated struct {
	At          time.Time
	TargetID    string
	Predictions []tracking.Prediction
}

func (e GazeMoved) Kind() EventKind         { return KindGazeMoved }
func (e SaccadeStart) Kind() EventKind      { return KindSaccadeStart }
func (e SaccadeEnd) Kind() EventKind        { return KindSaccadeEnd }
func (e TargetAcquired) Kind() EventKind    { return KindTargetAcquired }
func (e TargetLost) Kind() EventKind        { return KindTargetLost }
func (e PredictionUpdated) Kind() EventKind { return KindPredictionUpdated }

func (e GazeMoved) Time() time.Time         { return e.At }
func (e SaccadeStart) Time() time.Time      { return e.At }
func (e SaccadeEnd) Time() time.Time        { return e.At }
func (e TargetAcquired) Time() time.Time    { return e.At }
func (e TargetLost) Time() time.Time        { return e.At }
func (e PredictionUpdated) Time() time.Time { return e.At }

// Listener receives engine events. HandleEvent runs on the caller's
// goroutine and must not block.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Bus fans events out to listeners. A panicking listener is logged,
// counted, and skipped; delivery to the remaining listeners continues.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	order     []uint64
	nextID    uint64
	panics    func()
}

// NewBus creates an empty bus. m may be nil.
func NewBus(m *monitoring.Metrics) *Bus {
	b := &Bus{listeners: make(map[uint64]Listener)}
	if m != nil {
		b.panics = func() { m.ListenerPanics.Inc(1) }
	}
	return b
}

// Subscribe adds l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of subscribed listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Publish delivers each event to every listener in subscription order.
func (b *Bus) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	ls := make([]Listener, 0, len(b.order))
	for _, id := range b.order {
		ls = append(ls, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, e := range events {
		for _, l := range ls {
			b.deliver(l, e)
		}
	}
}

func (b *Bus) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("[gaze] listener panic on %s: %v", e.Kind(), r)
			if b.panics != nil {
				b.panics()
			}
		}
	}()
	l.HandleEvent(e)
}
