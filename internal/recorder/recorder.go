// Package recorder persists gaze engine events to SQLite so sessions can
// be reviewed and charted after the fact.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/gazetrack/internal/gaze"
	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/tracking"
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// queueSize bounds the events waiting for the writer goroutine.
const queueSize = 1024

type queued struct {
	ev    gaze.Event
	flush chan struct{} // closed by the writer once everything before it is stored
}

// Recorder writes engine events into a SQLite database. Events handed to
// its Listener are queued and written by a background goroutine, so the
// engine tick never waits on disk.
type Recorder struct {
	db *sql.DB

	mu          sync.Mutex
	sampleEvery int
	gazeSeen    uint64

	sendMu  sync.RWMutex // held for write only while closing queue
	closed  bool
	queue   chan queued
	done    chan struct{}
	dropped atomic.Uint64
}

// Open opens (or creates) the database at path and applies migrations.
// sampleEvery decimates GazeMoved events: only every Nth is stored.
// Values below 1 store every sample.
func Open(path string, sampleEvery int) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if sampleEvery < 1 {
		sampleEvery = 1
	}

	r := &Recorder{
		db:          db,
		sampleEvery: sampleEvery,
		queue:       make(chan queued, queueSize),
		done:        make(chan struct{}),
	}
	if err := r.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	go r.writeLoop()
	return r, nil
}

// Close stores every queued event, stops the writer and closes the
// database. Events arriving after Close are dropped.
func (r *Recorder) Close() error {
	r.sendMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.sendMu.Unlock()
	<-r.done

	if n := r.dropped.Load(); n > 0 {
		monitoring.Logf("[recorder] dropped %d events while the writer was behind", n)
	}
	return r.db.Close()
}

// Listener returns a gaze.Listener that queues events for the writer. It
// never blocks: when the queue is full the event is dropped and counted.
// Write failures are logged by the writer.
func (r *Recorder) Listener() gaze.Listener {
	return gaze.ListenerFunc(r.enqueue)
}

// Dropped returns how many events were discarded because the queue was full
// or the recorder was closed.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Flush waits until every event queued before the call has been written.
func (r *Recorder) Flush(ctx context.Context) error {
	r.sendMu.RLock()
	if r.closed {
		r.sendMu.RUnlock()
		return nil
	}
	marker := make(chan struct{})
	select {
	case r.queue <- queued{flush: marker}:
	case <-ctx.Done():
		r.sendMu.RUnlock()
		return ctx.Err()
	}
	r.sendMu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) enqueue(e gaze.Event) {
	r.sendMu.RLock()
	defer r.sendMu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- queued{ev: e}:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)
	for q := range r.queue {
		if q.flush != nil {
			close(q.flush)
			continue
		}
		r.handle(q.ev)
	}
}

func (r *Recorder) handle(e gaze.Event) {
	var err error
	switch ev := e.(type) {
	case gaze.GazeMoved:
		if r.shouldSample() {
			err = r.RecordGaze(ev.At, ev.Position, string(ev.Mode))
		}
	case gaze.SaccadeEnd:
		err = r.RecordSaccade(ev)
	case gaze.TargetAcquired:
		err = r.RecordTargetEvent(ev.At, ev.Target, string(gaze.KindTargetAcquired), "")
	case gaze.TargetLost:
		err = r.RecordTargetEvent(ev.At, ev.Target, string(gaze.KindTargetLost), string(ev.Reason))
	}
	if err != nil {
		monitoring.Logf("[recorder] failed to record %s: %v", e.Kind(), err)
	}
}

func (r *Recorder) shouldSample() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.gazeSeen
	r.gazeSeen++
	return n%uint64(r.sampleEvery) == 0
}

// RecordGaze inserts one gaze sample.
func (r *Recorder) RecordGaze(at time.Time, pos tracking.Vec2, mode string) error {
	_, err := r.db.Exec(
		`INSERT INTO gaze_samples (ts_unix_nanos, x, y, mode) VALUES (?, ?, ?, ?)`,
		at.UnixNano(), pos.X, pos.Y, mode,
	)
	return err
}

// RecordSaccade inserts a completed saccade.
func (r *Recorder) RecordSaccade(ev gaze.SaccadeEnd) error {
	p := ev.Plan
	_, err := r.db.Exec(`
		INSERT INTO saccades (
			started_unix_nanos, ended_unix_nanos, target_id,
			start_x, start_y, target_x, target_y, final_x, final_y,
			amplitude_deg, planned_ms, actual_ms, peak_velocity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.StartedAt.UnixNano(), ev.At.UnixNano(), p.TargetID,
		p.Start.X, p.Start.Y, p.Target.X, p.Target.Y, ev.FinalPosition.X, ev.FinalPosition.Y,
		p.AmplitudeDeg, p.DurationMs(), float64(ev.ActualDuration)/float64(time.Millisecond), p.PeakVelocity,
	)
	return err
}

// RecordTargetEvent inserts a target lifecycle event.
func (r *Recorder) RecordTargetEvent(at time.Time, t tracking.Target, kind, reason string) error {
	_, err := r.db.Exec(
		`INSERT INTO target_events (ts_unix_nanos, target_id, kind, reason, x, y, quality) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.UnixNano(), t.ID, kind, reason, t.Position.X, t.Position.Y, t.Quality,
	)
	return err
}

// GazeSample is a stored gaze position.
type GazeSample struct {
	At       time.Time
	Position tracking.Vec2
	Mode     string
}

// Saccade is a stored completed saccade.
type Saccade struct {
	StartedAt    time.Time
	EndedAt      time.Time
	TargetID     string
	Start        tracking.Vec2
	Target       tracking.Vec2
	Final        tracking.Vec2
	AmplitudeDeg float64
	PlannedMs    float64
	ActualMs     float64
	PeakVelocity float64
}

// TargetEvent is a stored acquisition or loss.
type TargetEvent struct {
	At       time.Time
	TargetID string
	Kind     string
	Reason   string
	Position tracking.Vec2
	Quality  float64
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// limitClause returns a LIMIT suffix; limit <= 0 means no limit.
func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

// GazeSamples returns stored gaze samples oldest first.
func (r *Recorder) GazeSamples(ctx context.Context, limit int) ([]GazeSample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts_unix_nanos, x, y, mode FROM gaze_samples ORDER BY ts_unix_nanos, sample_id`+limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query gaze samples: %w", err)
	}
	defer rows.Close()

	var out []GazeSample
	for rows.Next() {
		var ts int64
		var s GazeSample
		if err := rows.Scan(&ts, &s.Position.X, &s.Position.Y, &s.Mode); err != nil {
			return nil, fmt.Errorf("failed to scan gaze sample: %w", err)
		}
		s.At = fromNanos(ts)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Saccades returns stored saccades oldest first.
func (r *Recorder) Saccades(ctx context.Context, limit int) ([]Saccade, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT started_unix_nanos, ended_unix_nanos, COALESCE(target_id, ''),
		       start_x, start_y, target_x, target_y, final_x, final_y,
		       amplitude_deg, planned_ms, actual_ms, peak_velocity
		FROM saccades ORDER BY started_unix_nanos, saccade_id`+limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query saccades: %w", err)
	}
	defer rows.Close()

	var out []Saccade
	for rows.Next() {
		var started, ended int64
		var s Saccade
		if err := rows.Scan(&started, &ended, &s.TargetID,
			&s.Start.X, &s.Start.Y, &s.Target.X, &s.Target.Y, &s.Final.X, &s.Final.Y,
			&s.AmplitudeDeg, &s.PlannedMs, &s.ActualMs, &s.PeakVelocity); err != nil {
			return nil, fmt.Errorf("failed to scan saccade: %w", err)
		}
		s.StartedAt = fromNanos(started)
		s.EndedAt = fromNanos(ended)
		out = append(out, s)
	}
	return out, rows.Err()
}

// TargetEvents returns stored lifecycle events oldest first.
func (r *Recorder) TargetEvents(ctx context.Context, limit int) ([]TargetEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts_unix_nanos, target_id, kind, COALESCE(reason, ''), x, y, quality
		FROM target_events ORDER BY ts_unix_nanos, event_id`+limitClause(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query target events: %w", err)
	}
	defer rows.Close()

	var out []TargetEvent
	for rows.Next() {
		var ts int64
		var e TargetEvent
		if err := rows.Scan(&ts, &e.TargetID, &e.Kind, &e.Reason, &e.Position.X, &e.Position.Y, &e.Quality); err != nil {
			return nil, fmt.Errorf("failed to scan target event: %w", err)
		}
		e.At = fromNanos(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
