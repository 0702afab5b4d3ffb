package monitoring

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Metric names registered by NewMetrics.
const (
	MetricUpdates          = "tracking.updates"
	MetricOutliersRejected = "tracking.outliers_rejected"
	MetricEvictions        = "tracking.evictions"
	MetricKalmanCollected  = "tracking.kalman_collected"
	MetricSaccades         = "gaze.saccades"
	MetricSaccadeDuration  = "gaze.saccade_duration_ms"
	MetricListenerPanics   = "gaze.listener_panics"
	MetricTicks            = "gaze.ticks"
)

// Metrics bundles the counters the engine updates on its hot path.
// Counters are looked up once at construction so the tick never touches
// the registry map.
type Metrics struct {
	Registry gometrics.Registry

	Updates          gometrics.Counter
	OutliersRejected gometrics.Counter
	Evictions        gometrics.Counter
	KalmanCollected  gometrics.Counter
	Saccades         gometrics.Counter
	ListenerPanics   gometrics.Counter
	Ticks            gometrics.Counter
	SaccadeDuration  gometrics.Histogram
}

// NewMetrics registers the engine metrics in r. A nil registry gets a
// private one so independent engines in the same process do not share counts.
func NewMetrics(r gometrics.Registry) *Metrics {
	if r == nil {
		r = gometrics.NewRegistry()
	}
	return &Metrics{
		Registry:         r,
		Updates:          gometrics.GetOrRegisterCounter(MetricUpdates, r),
		OutliersRejected: gometrics.GetOrRegisterCounter(MetricOutliersRejected, r),
		Evictions:        gometrics.GetOrRegisterCounter(MetricEvictions, r),
		KalmanCollected:  gometrics.GetOrRegisterCounter(MetricKalmanCollected, r),
		Saccades:         gometrics.GetOrRegisterCounter(MetricSaccades, r),
		ListenerPanics:   gometrics.GetOrRegisterCounter(MetricListenerPanics, r),
		Ticks:            gometrics.GetOrRegisterCounter(MetricTicks, r),
		SaccadeDuration:  gometrics.GetOrRegisterHistogram(MetricSaccadeDuration, r, gometrics.NewUniformSample(1028)),
	}
}

// Snapshot returns counter values keyed by metric name, plus the saccade
// duration mean under "<name>.mean".
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	m.Registry.Each(func(name string, metric interface{}) {
		switch v := metric.(type) {
		case gometrics.Counter:
			out[name] = float64(v.Count())
		case gometrics.Histogram:
			out[name+".count"] = float64(v.Count())
			out[name+".mean"] = v.Mean()
		}
	})
	return out
}

// LogSnapshot writes every metric through Logf in one line per metric.
func (m *Metrics) LogSnapshot() {
	for name, v := range m.Snapshot() {
		Logf("[metrics] %s=%g", name, v)
	}
}
