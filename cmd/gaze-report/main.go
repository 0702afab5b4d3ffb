// Command gaze-report renders a recorded gaze session as an HTML chart page
// and a PNG time series.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/gazetrack/internal/recorder"
	"github.com/banshee-data/gazetrack/internal/report"
)

func main() {
	dbPath := flag.String("db", "gaze_session.db", "SQLite file written by gazetrack")
	htmlOut := flag.String("html", "gaze_report.html", "HTML output path (empty to skip)")
	pngOut := flag.String("png", "gaze_report.png", "PNG output path (empty to skip)")
	limit := flag.Int("limit", 0, "Rows to load per table, oldest first (0 loads all)")
	flag.Parse()

	if err := run(context.Background(), *dbPath, *htmlOut, *pngOut, *limit); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, dbPath, htmlOut, pngOut string, limit int) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("session database: %w", err)
	}
	rec, err := recorder.Open(dbPath, 1)
	if err != nil {
		return err
	}
	defer rec.Close()

	var s report.Session
	if s.Samples, err = rec.GazeSamples(ctx, limit); err != nil {
		return fmt.Errorf("load gaze samples: %w", err)
	}
	if s.Saccades, err = rec.Saccades(ctx, limit); err != nil {
		return fmt.Errorf("load saccades: %w", err)
	}
	if s.Events, err = rec.TargetEvents(ctx, limit); err != nil {
		return fmt.Errorf("load target events: %w", err)
	}
	log.Printf("loaded %d gaze samples, %d saccades, %d target events", len(s.Samples), len(s.Saccades), len(s.Events))

	if htmlOut != "" {
		f, err := os.Create(htmlOut)
		if err != nil {
			return err
		}
		if err := report.RenderHTML(f, s); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		log.Printf("wrote %s", htmlOut)
	}
	if pngOut != "" {
		if err := report.RenderPNG(pngOut, s.Samples); err != nil {
			return err
		}
		log.Printf("wrote %s", pngOut)
	}
	return nil
}
