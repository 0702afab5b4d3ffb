package tracking

import "errors"

// Recoverable tracking errors. Callers match them with errors.Is; the
// engine never panics on bad input.
var (
	// ErrTargetNotFound is returned when an operation references an unknown id.
	ErrTargetNotFound = errors.New("target not found")
	// ErrOutlierRejected signals that a measurement was discarded by the
	// outlier guard. Target state is unchanged.
	ErrOutlierRejected = errors.New("measurement rejected as outlier")
	// ErrCapacityExceeded describes a registration beyond MaxTargets. The
	// registry resolves it internally by evicting the oldest target, so it
	// only appears in logs.
	ErrCapacityExceeded = errors.New("target capacity exceeded")
	// ErrInvalidMeasurement is returned for NaN or infinite positions.
	ErrInvalidMeasurement = errors.New("measurement is not finite")
)
