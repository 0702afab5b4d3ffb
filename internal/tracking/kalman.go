package tracking

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// KalmanMode selects how the estimator computes its correction gain.
type KalmanMode string

const (
	// KalmanFixedGain blends prediction and measurement with a constant gain.
	// It matches a steady-state filter for near-constant-velocity targets at
	// tick timescales and is the default.
	KalmanFixedGain KalmanMode = "fixed_gain"
	// KalmanCovariance runs the full predict/update cycle, deriving the gain
	// from the propagated covariance.
	KalmanCovariance KalmanMode = "covariance"
)

// KalmanConfig holds estimator parameters.
type KalmanConfig struct {
	Mode              KalmanMode
	Gain              float64       // Fixed blend gain for KalmanFixedGain
	DT                float64       // Predict step in seconds (one engine tick)
	InitialCovariance float64       // Diagonal of P for a new state
	ProcessNoise      float64       // Q diagonal, dt-normalised
	MeasurementNoise  float64       // R diagonal
	IdleTimeout       time.Duration // Cleanup drops state unused for longer than this
}

// KalmanState is the per-target constant-velocity state [x, y, vx, vy].
type KalmanState struct {
	X, Y, VX, VY float64

	// P is the 4x4 covariance, row-major.
	P [16]float64

	ProcessNoise     float64
	MeasurementNoise float64

	Updates  int
	LastUsed time.Time
}

// Position returns the estimated position.
func (s KalmanState) Position() Vec2 { return Vec2{s.X, s.Y} }

// Velocity returns the estimated velocity.
func (s KalmanState) Velocity() Vec2 { return Vec2{s.VX, s.VY} }

// PositionUncertainty is the standard deviation of the position estimate,
// sqrt(Pxx + Pyy).
func (s KalmanState) PositionUncertainty() float64 {
	return math.Sqrt(math.Max(0, s.P[0]+s.P[5]))
}

// Predict returns the state advanced by dt seconds with no correction.
// The receiver is not modified.
func (s KalmanState) Predict(dt float64) KalmanState {
	s.X += s.VX * dt
	s.Y += s.VY * dt
	s.P = propagateCovariance(s.P, dt, s.ProcessNoise)
	return s
}

func (s *KalmanState) isFinite() bool {
	for _, v := range []float64{s.X, s.Y, s.VX, s.VY, s.P[0], s.P[5], s.P[10], s.P[15]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// propagateCovariance computes F*P*F^T + Q for the constant-velocity model.
func propagateCovariance(p [16]float64, dt, q float64) [16]float64 {
	F := mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	P := mat.NewDense(4, 4, p[:])

	var fp, fpft mat.Dense
	fp.Mul(F, P)
	fpft.Mul(&fp, F.T())

	var out [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i*4+j] = fpft.At(i, j)
		}
		out[i*4+i] += q * dt
	}
	return out
}

// KalmanEstimator keeps one KalmanState per target id. State lives in its
// own map, decoupled from the registry, so Cleanup must run periodically
// to collect ids the registry has forgotten about.
//
// Update is a filter step, not a pure function: two calls with the same
// measurement at the same instant give different results.
type KalmanEstimator struct {
	cfg    KalmanConfig
	states map[string]*KalmanState
}

// NewKalmanEstimator creates an estimator with no state.
func NewKalmanEstimator(cfg KalmanConfig) *KalmanEstimator {
	if cfg.DT <= 0 {
		cfg.DT = 1.0 / 120
	}
	if cfg.Gain <= 0 || cfg.Gain > 1 {
		cfg.Gain = 0.5
	}
	if cfg.Mode == "" {
		cfg.Mode = KalmanFixedGain
	}
	return &KalmanEstimator{
		cfg:    cfg,
		states: make(map[string]*KalmanState),
	}
}

// Config returns the estimator configuration.
func (k *KalmanEstimator) Config() KalmanConfig { return k.cfg }

func (k *KalmanEstimator) newState(z Vec2, now time.Time) *KalmanState {
	c := k.cfg.InitialCovariance
	return &KalmanState{
		X: z.X,
		Y: z.Y,
		P: [16]float64{
			c, 0, 0, 0,
			0, c, 0, 0,
			0, 0, c, 0,
			0, 0, 0, c,
		},
		ProcessNoise:     k.cfg.ProcessNoise,
		MeasurementNoise: k.cfg.MeasurementNoise,
		LastUsed:         now,
	}
}

// Seed (re)initialises the state for id at z with zero velocity.
func (k *KalmanEstimator) Seed(id string, z Vec2, now time.Time) {
	k.states[id] = k.newState(z, now)
}

// Update feeds measurement z for id and returns the corrected position.
// The first call for an id initialises the state at z and returns z.
func (k *KalmanEstimator) Update(id string, z Vec2, now time.Time) Vec2 {
	s, ok := k.states[id]
	if !ok {
		s = k.newState(z, now)
		k.states[id] = s
		return z
	}

	if s.isFinite() {
		limitOvershoot(s, z, k.cfg.DT)
	}
	switch k.cfg.Mode {
	case KalmanCovariance:
		k.correctCovariance(s, z)
	default:
		k.correctFixed(s, z)
	}

	// Reset on numerical blow-up rather than propagate NaN into the registry.
	if !s.isFinite() {
		*s = *k.newState(z, now)
	}
	s.Updates++
	s.LastUsed = now
	return s.Position()
}

// limitOvershoot caps each velocity component so the one-tick prediction
// stops at the measurement instead of running past it. Without the cap a
// step from rest rings around a constant measurement in both modes.
func limitOvershoot(s *KalmanState, z Vec2, dt float64) {
	if dt <= 0 {
		return
	}
	s.VX = capStep(s.VX, z.X-s.X, dt)
	s.VY = capStep(s.VY, z.Y-s.Y, dt)
}

func capStep(v, gap, dt float64) float64 {
	step := v * dt
	if (gap >= 0 && step > gap) || (gap <= 0 && step < gap) {
		return gap / dt
	}
	return v
}

// correctFixed predicts one tick ahead and blends with the measurement
// using the fixed gain. The velocity correction is the gain-scaled
// innovation.
func (k *KalmanEstimator) correctFixed(s *KalmanState, z Vec2) {
	dt := k.cfg.DT
	g := k.cfg.Gain

	px := s.X + s.VX*dt
	py := s.Y + s.VY*dt
	ix := z.X - px
	iy := z.Y - py

	s.X = px + g*ix
	s.Y = py + g*iy
	s.VX += g * ix
	s.VY += g * iy

	// Diagonal-only uncertainty bookkeeping; off-diagonals stay zero.
	for i := 0; i < 4; i++ {
		s.P[i*4+i] = (s.P[i*4+i] + s.ProcessNoise*dt) * (1 - g)
	}
}

// correctCovariance runs the textbook predict/update with H selecting position.
func (k *KalmanEstimator) correctCovariance(s *KalmanState, z Vec2) {
	pred := s.Predict(k.cfg.DT)

	P := mat.NewDense(4, 4, pred.P[:])
	H := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})
	r := pred.MeasurementNoise
	R := mat.NewDense(2, 2, []float64{r, 0, 0, r})

	// S = H*P*H^T + R
	var pht, S mat.Dense
	pht.Mul(P, H.T())
	S.Mul(H, &pht)
	S.Add(&S, R)

	var sInv mat.Dense
	if err := sInv.Inverse(&S); err != nil {
		// Singular innovation covariance: keep the prediction.
		*s = pred
		return
	}

	// K = P*H^T*S^-1
	var K mat.Dense
	K.Mul(&pht, &sInv)

	y := mat.NewVecDense(2, []float64{z.X - pred.X, z.Y - pred.Y})
	var ky mat.VecDense
	ky.MulVec(&K, y)

	pred.X += ky.AtVec(0)
	pred.Y += ky.AtVec(1)
	pred.VX += ky.AtVec(2)
	pred.VY += ky.AtVec(3)

	// P' = (I - K*H) * P
	var kh, ikh, newP mat.Dense
	kh.Mul(&K, H)
	ikh.Sub(mat.NewDiagDense(4, []float64{1, 1, 1, 1}), &kh)
	newP.Mul(&ikh, P)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			pred.P[i*4+j] = newP.At(i, j)
		}
	}
	*s = pred
}

// State returns a copy of the state for id.
func (k *KalmanEstimator) State(id string) (KalmanState, bool) {
	s, ok := k.states[id]
	if !ok {
		return KalmanState{}, false
	}
	return *s, true
}

// Forget drops the state for id. Called when the registry evicts a target.
func (k *KalmanEstimator) Forget(id string) {
	delete(k.states, id)
}

// Cleanup removes state unused for longer than IdleTimeout and returns
// how many entries were dropped. It is cheap but not free, so the
// controller calls it on an interval rather than every tick.
func (k *KalmanEstimator) Cleanup(now time.Time) int {
	if k.cfg.IdleTimeout <= 0 {
		return 0
	}
	removed := 0
	for id, s := range k.states {
		if now.Sub(s.LastUsed) > k.cfg.IdleTimeout {
			delete(k.states, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live states.
func (k *KalmanEstimator) Len() int { return len(k.states) }
