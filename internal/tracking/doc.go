// Package tracking owns per-target state estimation for the gaze engine.
//
// Responsibilities: outlier rejection, fixed-gain (or full covariance)
// Kalman filtering, exponential smoothing, target lifecycle with capacity
// and timeout eviction, short-horizon motion prediction, and trajectory
// classification.
// Key types: Registry, Target, KalmanEstimator, Predictor,
// TrajectoryAnalyzer.
//
// The package is single-threaded by contract: the gaze controller
// serializes every call. Nothing here spawns goroutines or blocks.
package tracking
