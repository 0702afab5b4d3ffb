package tracking

import (
	"github.com/banshee-data/gazetrack/internal/config"
)

// Config holds the parameters for every component in this package.
type Config struct {
	MaxTargets         int     // Maximum concurrent targets before oldest-first eviction
	HistoryLength      int     // Maximum history entries per target
	SmoothingAlpha     float64 // Weight on the previous position when smoothing
	NoiseThresholdBase float64 // Base outlier gate (screen units)
	LoadJitterScale    float64 // Upper bound of the noise-driven gate jitter
	NearestRadius      float64 // Search radius for NearestTo

	Kalman     KalmanConfig
	Prediction PredictorConfig
	Trajectory TrajectoryConfig
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTrackingConfig())
}

// ConfigFromTuning builds a Config from a loaded TrackingConfig.
func ConfigFromTuning(cfg *config.TrackingConfig) Config {
	mode := KalmanFixedGain
	if cfg.GetKalmanMode() == config.KalmanModeCovariance {
		mode = KalmanCovariance
	}
	strategy := StrategyLinear
	if cfg.GetPredictionStrategy() == config.PredictionKalman {
		strategy = StrategyKalman
	}
	return Config{
		MaxTargets:         cfg.GetMaxTargets(),
		HistoryLength:      cfg.GetHistoryLength(),
		SmoothingAlpha:     cfg.GetSmoothingAlpha(),
		NoiseThresholdBase: cfg.GetNoiseThresholdBase(),
		LoadJitterScale:    cfg.GetLoadJitterScale(),
		NearestRadius:      cfg.GetNearestRadius(),
		Kalman: KalmanConfig{
			Mode:              mode,
			Gain:              cfg.GetKalmanGain(),
			DT:                cfg.GetTickPeriod().Seconds(),
			InitialCovariance: cfg.GetInitialCovariance(),
			ProcessNoise:      cfg.GetProcessNoise(),
			MeasurementNoise:  cfg.GetMeasurementNoise(),
			IdleTimeout:       cfg.GetKalmanIdleTimeout(),
		},
		Prediction: PredictorConfig{
			Strategy: strategy,
			Step:     cfg.GetPredictionStep(),
		},
		Trajectory: TrajectoryConfig{
			StationarySpeed: cfg.GetStationarySpeed(),
			LinearVariance:  cfg.GetLinearVariance(),
			ErraticVariance: cfg.GetErraticVariance(),
			AccelScale:      1000,
			VarianceScale:   1000,
		},
	}
}
