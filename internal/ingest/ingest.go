package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/gazetrack/internal/gaze"
	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/tracking"
)

// DetectedKind is the kind given to targets registered implicitly by a T
// command for an unknown id.
const DetectedKind = "detected"

// Sink receives parsed commands. *gaze.Controller satisfies it.
type Sink interface {
	HasTarget(id string) bool
	RegisterTarget(spec tracking.TargetSpec) (string, error)
	UpdatePosition(id string, pos tracking.Vec2, confidence *float64) (tracking.UpdateOutcome, error)
	MoveGazeTo(pos tracking.Vec2, hint gaze.MoveHint) (gaze.MoveOutcome, error)
	StopTracking(id string) error
}

// Stats counts what happened to ingested lines.
type Stats struct {
	Lines       int // every line read, including comments
	Applied     int
	Skipped     int // blank and comment lines
	ParseErrors int
	Rejected    int // outliers and gaze commands refused during a saccade
	Failed      int // commands the engine refused for other reasons
}

// Apply executes cmd against sink. Outlier rejections and saccades in
// progress are reported as errors wrapping their sentinels so callers can
// count them separately.
func Apply(sink Sink, cmd Command) error {
	switch cmd.Op {
	case OpTrack:
		if !sink.HasTarget(cmd.ID) {
			_, err := sink.RegisterTarget(tracking.TargetSpec{
				ID:         cmd.ID,
				Kind:       DetectedKind,
				Position:   cmd.Position,
				Confidence: cmd.Confidence,
			})
			return err
		}
		_, err := sink.UpdatePosition(cmd.ID, cmd.Position, cmd.Confidence)
		return err

	case OpRegister:
		_, err := sink.RegisterTarget(tracking.TargetSpec{
			ID:       cmd.ID,
			Kind:     cmd.Kind,
			Position: cmd.Position,
			Priority: cmd.Priority,
		})
		return err

	case OpGaze:
		_, err := sink.MoveGazeTo(cmd.Position, gaze.MoveHint{TargetID: cmd.ID})
		return err

	case OpStop:
		return sink.StopTracking(cmd.ID)
	}
	return fmt.Errorf("apply: unknown op %q", cmd.Op)
}

func isRejection(err error) bool {
	return errors.Is(err, tracking.ErrOutlierRejected) || errors.Is(err, gaze.ErrSaccadeInProgress)
}

// Run reads lines from r and applies them to sink until r is exhausted or
// ctx is cancelled. Malformed lines and refused commands are logged and
// counted; only read errors and cancellation end the loop early.
func Run(ctx context.Context, r io.Reader, sink Sink) (Stats, error) {
	var stats Stats
	scan := bufio.NewScanner(r)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// Scan blocks on the reader, so it runs on its own goroutine and the
	// loop below stays responsive to ctx.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return stats, fmt.Errorf("ingest read failed: %w", err)
				default:
					return stats, nil
				}
			}
			stats.Lines++
			handleLine(&stats, sink, line)
		}
	}
}

func handleLine(stats *Stats, sink Sink, line string) {
	cmd, ok, err := Parse(line)
	if err != nil {
		stats.ParseErrors++
		monitoring.Logf("[ingest] %v", err)
		return
	}
	if !ok {
		stats.Skipped++
		return
	}

	switch err := Apply(sink, cmd); {
	case err == nil:
		stats.Applied++
	case isRejection(err):
		stats.Rejected++
		monitoring.Debugf("[ingest] %s %s: %v", cmd.Op, cmd.ID, err)
	default:
		stats.Failed++
		monitoring.Logf("[ingest] %s %s: %v", cmd.Op, cmd.ID, err)
	}
}
