package tracking

// SmoothingFilter is an exponential blend applied after Kalman correction.
// It holds no per-target state: the previous value is the caller's
// current position.
type SmoothingFilter struct {
	Alpha float64 // weight on the previous value, [0, 1)
}

// Smooth returns previous*Alpha + next*(1-Alpha).
func (f SmoothingFilter) Smooth(previous, next Vec2) Vec2 {
	a := clamp(f.Alpha, 0, 1)
	return Vec2{
		X: previous.X*a + next.X*(1-a),
		Y: previous.Y*a + next.Y*(1-a),
	}
}
