package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultConfigPath is the path to the checked-in tracking defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

// Kalman filter modes accepted by kalman_mode.
const (
	KalmanModeFixedGain  = "fixed_gain"
	KalmanModeCovariance = "covariance"
)

// Prediction strategies accepted by prediction_strategy.
const (
	PredictionLinear = "linear"
	PredictionKalman = "kalman"
)

// TrackingConfig is the root configuration for the tracking and gaze
// engine. Every field is optional: the Get* accessors fall back to the
// built-in defaults, so partial files are safe.
type TrackingConfig struct {
	// Engine cadence
	TickHz *int `json:"tick_hz,omitempty" toml:"tick_hz"`

	// Target registry
	MaxTargets         *int     `json:"max_targets,omitempty" toml:"max_targets"`
	HistoryLength      *int     `json:"history_length,omitempty" toml:"history_length"`
	SmoothingAlpha     *float64 `json:"smoothing_alpha,omitempty" toml:"smoothing_alpha"`
	NoiseThresholdBase *float64 `json:"noise_threshold_base,omitempty" toml:"noise_threshold_base"`
	LoadJitterScale    *float64 `json:"load_jitter_scale,omitempty" toml:"load_jitter_scale"`
	LostTimeout        *string  `json:"lost_timeout,omitempty" toml:"lost_timeout"` // duration string like "250ms"
	MaxLostFrames      *int     `json:"max_lost_frames,omitempty" toml:"max_lost_frames"`
	NearestRadius      *float64 `json:"nearest_radius,omitempty" toml:"nearest_radius"`

	// Kalman estimator
	KalmanMode            *string  `json:"kalman_mode,omitempty" toml:"kalman_mode"`
	KalmanGain            *float64 `json:"kalman_gain,omitempty" toml:"kalman_gain"`
	ProcessNoise          *float64 `json:"process_noise,omitempty" toml:"process_noise"`
	MeasurementNoise      *float64 `json:"measurement_noise,omitempty" toml:"measurement_noise"`
	InitialCovariance     *float64 `json:"initial_covariance,omitempty" toml:"initial_covariance"`
	KalmanIdleTimeout     *string  `json:"kalman_idle_timeout,omitempty" toml:"kalman_idle_timeout"`
	KalmanCleanupInterval *string  `json:"kalman_cleanup_interval,omitempty" toml:"kalman_cleanup_interval"`

	// Motion prediction
	PredictionStep     *string `json:"prediction_step,omitempty" toml:"prediction_step"`
	PredictionHorizon  *string `json:"prediction_horizon,omitempty" toml:"prediction_horizon"`
	PredictionStrategy *string `json:"prediction_strategy,omitempty" toml:"prediction_strategy"`

	// Trajectory classification
	StationarySpeed *float64 `json:"stationary_speed,omitempty" toml:"stationary_speed"`
	LinearVariance  *float64 `json:"linear_variance,omitempty" toml:"linear_variance"`
	ErraticVariance *float64 `json:"erratic_variance,omitempty" toml:"erratic_variance"`

	// Gaze control
	GazeHistoryLength  *int     `json:"gaze_history_length,omitempty" toml:"gaze_history_length"`
	MaxSaccadeVelocity *float64 `json:"max_saccade_velocity,omitempty" toml:"max_saccade_velocity"`
	PixelsPerDegree    *float64 `json:"pixels_per_degree,omitempty" toml:"pixels_per_degree"`
	SaccadeSteepness   *float64 `json:"saccade_steepness,omitempty" toml:"saccade_steepness"`
	FixationRadius     *float64 `json:"fixation_radius,omitempty" toml:"fixation_radius"`
	SaccadeDistance    *float64 `json:"saccade_distance,omitempty" toml:"saccade_distance"`
	PursuitSpeed       *float64 `json:"pursuit_speed,omitempty" toml:"pursuit_speed"`
	PursuitGain        *float64 `json:"pursuit_gain,omitempty" toml:"pursuit_gain"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTrackingConfig returns a TrackingConfig with all fields set to nil,
// which resolves to the built-in defaults through the Get* accessors.
func EmptyTrackingConfig() *TrackingConfig {
	return &TrackingConfig{}
}

// DefaultTrackingConfig returns a TrackingConfig with every field populated
// from the built-in defaults. Useful for writing out a template file.
func DefaultTrackingConfig() *TrackingConfig {
	e := EmptyTrackingConfig()
	return &TrackingConfig{
		TickHz:                ptrInt(e.GetTickHz()),
		MaxTargets:            ptrInt(e.GetMaxTargets()),
		HistoryLength:         ptrInt(e.GetHistoryLength()),
		SmoothingAlpha:        ptrFloat64(e.GetSmoothingAlpha()),
		NoiseThresholdBase:    ptrFloat64(e.GetNoiseThresholdBase()),
		LoadJitterScale:       ptrFloat64(e.GetLoadJitterScale()),
		LostTimeout:           ptrString(e.GetLostTimeout().String()),
		MaxLostFrames:         ptrInt(e.GetMaxLostFrames()),
		NearestRadius:         ptrFloat64(e.GetNearestRadius()),
		KalmanMode:            ptrString(e.GetKalmanMode()),
		KalmanGain:            ptrFloat64(e.GetKalmanGain()),
		ProcessNoise:          ptrFloat64(e.GetProcessNoise()),
		MeasurementNoise:      ptrFloat64(e.GetMeasurementNoise()),
		InitialCovariance:     ptrFloat64(e.GetInitialCovariance()),
		KalmanIdleTimeout:     ptrString(e.GetKalmanIdleTimeout().String()),
		KalmanCleanupInterval: ptrString(e.GetKalmanCleanupInterval().String()),
		PredictionStep:        ptrString(e.GetPredictionStep().String()),
		PredictionHorizon:     ptrString(e.GetPredictionHorizon().String()),
		PredictionStrategy:    ptrString(e.GetPredictionStrategy()),
		StationarySpeed:       ptrFloat64(e.GetStationarySpeed()),
		LinearVariance:        ptrFloat64(e.GetLinearVariance()),
		ErraticVariance:       ptrFloat64(e.GetErraticVariance()),
		GazeHistoryLength:     ptrInt(e.GetGazeHistoryLength()),
		MaxSaccadeVelocity:    ptrFloat64(e.GetMaxSaccadeVelocity()),
		PixelsPerDegree:       ptrFloat64(e.GetPixelsPerDegree()),
		SaccadeSteepness:      ptrFloat64(e.GetSaccadeSteepness()),
		FixationRadius:        ptrFloat64(e.GetFixationRadius()),
		SaccadeDistance:       ptrFloat64(e.GetSaccadeDistance()),
		PursuitSpeed:          ptrFloat64(e.GetPursuitSpeed()),
		PursuitGain:           ptrFloat64(e.GetPursuitGain()),
	}
}

// LoadTrackingConfig loads a TrackingConfig from a .json or .toml file.
// The file must be under 1MB. Fields omitted from the file keep their
// defaults.
func LoadTrackingConfig(path string) (*TrackingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTrackingConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TrackingConfig) Validate() error {
	if c.TickHz != nil && *c.TickHz <= 0 {
		return fmt.Errorf("tick_hz must be positive, got %d", *c.TickHz)
	}
	if c.MaxTargets != nil && *c.MaxTargets < 1 {
		return fmt.Errorf("max_targets must be at least 1, got %d", *c.MaxTargets)
	}
	if c.HistoryLength != nil && *c.HistoryLength < 1 {
		return fmt.Errorf("history_length must be at least 1, got %d", *c.HistoryLength)
	}
	if c.GazeHistoryLength != nil && *c.GazeHistoryLength < 1 {
		return fmt.Errorf("gaze_history_length must be at least 1, got %d", *c.GazeHistoryLength)
	}
	if c.SmoothingAlpha != nil && (*c.SmoothingAlpha < 0 || *c.SmoothingAlpha >= 1) {
		return fmt.Errorf("smoothing_alpha must be in [0, 1), got %f", *c.SmoothingAlpha)
	}
	if c.KalmanGain != nil && (*c.KalmanGain <= 0 || *c.KalmanGain > 1) {
		return fmt.Errorf("kalman_gain must be in (0, 1], got %f", *c.KalmanGain)
	}
	if c.PursuitGain != nil && (*c.PursuitGain <= 0 || *c.PursuitGain > 1) {
		return fmt.Errorf("pursuit_gain must be in (0, 1], got %f", *c.PursuitGain)
	}
	if c.MaxLostFrames != nil && *c.MaxLostFrames < 0 {
		return fmt.Errorf("max_lost_frames must be non-negative, got %d", *c.MaxLostFrames)
	}
	if c.PixelsPerDegree != nil && *c.PixelsPerDegree <= 0 {
		return fmt.Errorf("pixels_per_degree must be positive, got %f", *c.PixelsPerDegree)
	}
	if c.KalmanMode != nil {
		switch *c.KalmanMode {
		case KalmanModeFixedGain, KalmanModeCovariance:
		default:
			return fmt.Errorf("kalman_mode must be %q or %q, got %q", KalmanModeFixedGain, KalmanModeCovariance, *c.KalmanMode)
		}
	}
	if c.PredictionStrategy != nil {
		switch *c.PredictionStrategy {
		case PredictionLinear, PredictionKalman:
		default:
			return fmt.Errorf("prediction_strategy must be %q or %q, got %q", PredictionLinear, PredictionKalman, *c.PredictionStrategy)
		}
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"lost_timeout", c.LostTimeout},
		{"kalman_idle_timeout", c.KalmanIdleTimeout},
		{"kalman_cleanup_interval", c.KalmanCleanupInterval},
		{"prediction_step", c.PredictionStep},
		{"prediction_horizon", c.PredictionHorizon},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}
	return nil
}

// durationOr parses s, returning def when s is unset or unparseable.
func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetTickHz returns the tick_hz value or the default.
func (c *TrackingConfig) GetTickHz() int {
	if c.TickHz == nil {
		return 120
	}
	return *c.TickHz
}

// GetTickPeriod returns the tick period derived from tick_hz.
func (c *TrackingConfig) GetTickPeriod() time.Duration {
	return time.Second / time.Duration(c.GetTickHz())
}

// GetMaxTargets returns the max_targets value or the default.
func (c *TrackingConfig) GetMaxTargets() int {
	if c.MaxTargets == nil {
		return 5
	}
	return *c.MaxTargets
}

// GetHistoryLength returns the history_length value or the default.
func (c *TrackingConfig) GetHistoryLength() int {
	if c.HistoryLength == nil {
		return 30
	}
	return *c.HistoryLength
}

// GetSmoothingAlpha returns the smoothing_alpha value or the default.
func (c *TrackingConfig) GetSmoothingAlpha() float64 {
	if c.SmoothingAlpha == nil {
		return 0.7
	}
	return *c.SmoothingAlpha
}

// GetNoiseThresholdBase returns the noise_threshold_base value or the default.
func (c *TrackingConfig) GetNoiseThresholdBase() float64 {
	if c.NoiseThresholdBase == nil {
		return 50
	}
	return *c.NoiseThresholdBase
}

// GetLoadJitterScale returns the load_jitter_scale value or the default.
func (c *TrackingConfig) GetLoadJitterScale() float64 {
	if c.LoadJitterScale == nil {
		return 10
	}
	return *c.LoadJitterScale
}

// GetLostTimeout returns the lost_timeout duration or the default.
func (c *TrackingConfig) GetLostTimeout() time.Duration {
	return durationOr(c.LostTimeout, 250*time.Millisecond)
}

// GetMaxLostFrames returns the max_lost_frames value or the default.
func (c *TrackingConfig) GetMaxLostFrames() int {
	if c.MaxLostFrames == nil {
		return 30
	}
	return *c.MaxLostFrames
}

// GetNearestRadius returns the nearest_radius value or the default.
func (c *TrackingConfig) GetNearestRadius() float64 {
	if c.NearestRadius == nil {
		return 100
	}
	return *c.NearestRadius
}

// GetKalmanMode returns the kalman_mode value or the default.
func (c *TrackingConfig) GetKalmanMode() string {
	if c.KalmanMode == nil || *c.KalmanMode == "" {
		return KalmanModeFixedGain
	}
	return *c.KalmanMode
}

// GetKalmanGain returns the kalman_gain value or the default.
func (c *TrackingConfig) GetKalmanGain() float64 {
	if c.KalmanGain == nil {
		return 0.5
	}
	return *c.KalmanGain
}

// GetProcessNoise returns the process_noise value or the default.
func (c *TrackingConfig) GetProcessNoise() float64 {
	if c.ProcessNoise == nil {
		return 0.1
	}
	return *c.ProcessNoise
}

// GetMeasurementNoise returns the measurement_noise value or the default.
func (c *TrackingConfig) GetMeasurementNoise() float64 {
	if c.MeasurementNoise == nil {
		return 1.0
	}
	return *c.MeasurementNoise
}

// GetInitialCovariance returns the initial_covariance value or the default.
func (c *TrackingConfig) GetInitialCovariance() float64 {
	if c.InitialCovariance == nil {
		return 100
	}
	return *c.InitialCovariance
}

// GetKalmanIdleTimeout returns the kalman_idle_timeout duration or the default.
func (c *TrackingConfig) GetKalmanIdleTimeout() time.Duration {
	return durationOr(c.KalmanIdleTimeout, 30*time.Second)
}

// GetKalmanCleanupInterval returns the kalman_cleanup_interval duration or the default.
func (c *TrackingConfig) GetKalmanCleanupInterval() time.Duration {
	return durationOr(c.KalmanCleanupInterval, 5*time.Second)
}

// GetPredictionStep returns the prediction_step duration or the default.
func (c *TrackingConfig) GetPredictionStep() time.Duration {
	return durationOr(c.PredictionStep, 50*time.Millisecond)
}

// GetPredictionHorizon returns the prediction_horizon duration or the default.
func (c *TrackingConfig) GetPredictionHorizon() time.Duration {
	return durationOr(c.PredictionHorizon, 500*time.Millisecond)
}

// GetPredictionStrategy returns the prediction_strategy value or the default.
func (c *TrackingConfig) GetPredictionStrategy() string {
	if c.PredictionStrategy == nil || *c.PredictionStrategy == "" {
		return PredictionLinear
	}
	return *c.PredictionStrategy
}

// GetStationarySpeed returns the stationary_speed value or the default.
func (c *TrackingConfig) GetStationarySpeed() float64 {
	if c.StationarySpeed == nil {
		return 5
	}
	return *c.StationarySpeed
}

// GetLinearVariance returns the linear_variance value or the default.
func (c *TrackingConfig) GetLinearVariance() float64 {
	if c.LinearVariance == nil {
		return 100
	}
	return *c.LinearVariance
}

// GetErraticVariance returns the erratic_variance value or the default.
func (c *TrackingConfig) GetErraticVariance() float64 {
	if c.ErraticVariance == nil {
		return 10000
	}
	return *c.ErraticVariance
}

// GetGazeHistoryLength returns the gaze_history_length value or the default.
func (c *TrackingConfig) GetGazeHistoryLength() int {
	if c.GazeHistoryLength == nil {
		return 100
	}
	return *c.GazeHistoryLength
}

// GetMaxSaccadeVelocity returns the max_saccade_velocity value (deg/s) or the default.
func (c *TrackingConfig) GetMaxSaccadeVelocity() float64 {
	if c.MaxSaccadeVelocity == nil {
		return 700
	}
	return *c.MaxSaccadeVelocity
}

// GetPixelsPerDegree returns the pixels_per_degree value or the default.
func (c *TrackingConfig) GetPixelsPerDegree() float64 {
	if c.PixelsPerDegree == nil {
		return 35
	}
	return *c.PixelsPerDegree
}

// GetSaccadeSteepness returns the saccade_steepness value or the default.
func (c *TrackingConfig) GetSaccadeSteepness() float64 {
	if c.SaccadeSteepness == nil {
		return 10
	}
	return *c.SaccadeSteepness
}

// GetFixationRadius returns the fixation_radius value or the default.
func (c *TrackingConfig) GetFixationRadius() float64 {
	if c.FixationRadius == nil {
		return 10
	}
	return *c.FixationRadius
}

// GetSaccadeDistance returns the saccade_distance value or the default.
func (c *TrackingConfig) GetSaccadeDistance() float64 {
	if c.SaccadeDistance == nil {
		return 100
	}
	return *c.SaccadeDistance
}

// GetPursuitSpeed returns the pursuit_speed value or the default.
func (c *TrackingConfig) GetPursuitSpeed() float64 {
	if c.PursuitSpeed == nil {
		return 50
	}
	return *c.PursuitSpeed
}

// GetPursuitGain returns the pursuit_gain value or the default.
func (c *TrackingConfig) GetPursuitGain() float64 {
	if c.PursuitGain == nil {
		return 0.2
	}
	return *c.PursuitGain
}
