package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/gazetrack/internal/config"
	"github.com/banshee-data/gazetrack/internal/gaze"
	"github.com/banshee-data/gazetrack/internal/ingest"
	"github.com/banshee-data/gazetrack/internal/monitoring"
	"github.com/banshee-data/gazetrack/internal/noise"
	"github.com/banshee-data/gazetrack/internal/recorder"
	"github.com/banshee-data/gazetrack/internal/timeutil"
	"github.com/banshee-data/gazetrack/internal/version"
)

var (
	configPath   = flag.String("config", "", "Tracking config file (.json or .toml); built-in defaults when empty")
	dbPath       = flag.String("db", "gaze_session.db", "SQLite file for the recorded session (empty disables recording)")
	serialPort   = flag.String("serial", "", "Serial port streaming detector lines")
	baudRate     = flag.Int("baud", ingest.DefaultBaudRate, "Serial baud rate")
	fixture      = flag.String("fixture", "", "Replay detector lines from a file instead of a serial port")
	lineInterval = flag.Duration("line-interval", 10*time.Millisecond, "Delay between replayed fixture lines")
	sampleEvery  = flag.Int("sample-every", 4, "Record every Nth gaze sample")
	seed         = flag.Uint64("seed", 0, "Noise seed (0 seeds from the wall clock)")
	duration     = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	debug        = flag.Bool("debug", false, "Enable per-tick debug logging")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *serialPort != "" && *fixture != "" {
		log.Fatal("-serial and -fixture are mutually exclusive")
	}
	monitoring.SetDebug(*debug)

	tuning := config.DefaultTrackingConfig()
	if *configPath != "" {
		var err error
		if tuning, err = config.LoadTrackingConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	s := *seed
	if s == 0 {
		s = uint64(time.Now().UnixNano())
	}
	clock := timeutil.RealClock{}
	metrics := monitoring.NewMetrics(nil)
	ctrl := gaze.NewController(gaze.ConfigFromTuning(tuning), clock, noise.NewPRNG(s), metrics)

	if *dbPath != "" {
		rec, err := recorder.Open(*dbPath, *sampleEvery)
		if err != nil {
			log.Fatalf("failed to open recorder: %v", err)
		}
		defer rec.Close()
		ctrl.Subscribe(rec.Listener())
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		runTicker(ctx, clock, tuning.GetTickPeriod(), ctrl.Tick)
		log.Print("tick routine terminated")
	}()

	input, err := openInput(ctx, &wg, *serialPort, *fixture, *baudRate, *lineInterval)
	if err != nil {
		log.Fatalf("failed to open input: %v", err)
	}
	if input != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer input.Close()
			stats, err := ingest.Run(ctx, input, ctrl)
			if err != nil && err != context.Canceled && err != context.DeadlineExceeded {
				log.Printf("ingest stopped: %v", err)
			}
			log.Printf("ingest: %d lines, %d applied, %d skipped, %d malformed, %d rejected, %d failed",
				stats.Lines, stats.Applied, stats.Skipped, stats.ParseErrors, stats.Rejected, stats.Failed)
		}()
	} else {
		log.Print("no -serial or -fixture given; ticking with no detector input")
	}

	log.Printf("%s running at %d Hz", version.String(), tuning.GetTickHz())
	<-ctx.Done()
	wg.Wait()

	st := ctrl.Status()
	log.Printf("session ended: gaze=(%.1f, %.1f) mode=%s tracked=%d saccades=%d quality=%.2f",
		st.Gaze.Position.X, st.Gaze.Position.Y, st.Gaze.Mode, st.TrackedCount, st.TotalSaccades, st.AverageQuality)
	metrics.LogSnapshot()
}
