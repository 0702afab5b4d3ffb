package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/gazetrack/internal/ingest"
	"github.com/banshee-data/gazetrack/internal/timeutil"
)

// runTicker calls tick once per period until ctx is done.
func runTicker(ctx context.Context, clock timeutil.Clock, period time.Duration, tick func()) {
	t := clock.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			tick()
		}
	}
}

// openInput returns the detector line stream, or nil when neither source is
// configured. A fixture is replayed on a goroutine tracked by wg.
func openInput(ctx context.Context, wg *sync.WaitGroup, serialPath, fixturePath string, baud int, interval time.Duration) (io.ReadCloser, error) {
	switch {
	case serialPath != "":
		return ingest.OpenSerial(serialPath, ingest.PortOptions{BaudRate: baud})
	case fixturePath != "":
		data, err := os.ReadFile(fixturePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture: %w", err)
		}
		pr, pw := io.Pipe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			pw.CloseWithError(replay(ctx, pw, data, interval))
		}()
		return pr, nil
	}
	return nil, nil
}

// replay writes data to w one line at a time, pausing between lines so the
// engine sees detections spread over time.
func replay(ctx context.Context, w io.Writer, data []byte, interval time.Duration) error {
	scan := bufio.NewScanner(bytes.NewReader(data))
	for scan.Scan() {
		if _, err := fmt.Fprintln(w, scan.Text()); err != nil {
			return err
		}
		if interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return scan.Err()
}
