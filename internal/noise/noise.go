// Package noise supplies the bounded pseudo-random values the tracking
// engine uses for measurement-noise modelling and confidence estimates.
//
// The engine only depends on the Source interface. Hosts may back it with a
// PRNG, a recorded sensor-noise trace, or any other entropy provider.
package noise

import (
	"math"
	"math/rand/v2"
)

// Source yields values in [0, 1). Implementations are read from the tick
// goroutine only and need no locking.
type Source interface {
	NextFloat64() float64
}

// PRNG is a seeded PCG generator. Two PRNGs built from the same seed
// produce the same sequence.
type PRNG struct {
	r *rand.Rand
}

// NewPRNG returns a PRNG seeded with seed.
func NewPRNG(seed uint64) *PRNG {
	return &PRNG{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NextFloat64 returns the next value in [0, 1).
func (p *PRNG) NextFloat64() float64 {
	return p.r.Float64()
}

// Constant always returns the same value, clamped into [0, 1).
type Constant float64

// NextFloat64 returns the constant.
func (c Constant) NextFloat64() float64 {
	return clampUnit(float64(c))
}

// Sequence replays a fixed list of values in order and wraps around.
// An empty Sequence yields 0.
type Sequence struct {
	Values []float64
	next   int
}

// NextFloat64 returns the next recorded value.
func (s *Sequence) NextFloat64() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	v := s.Values[s.next%len(s.Values)]
	s.next++
	return clampUnit(v)
}

// Between maps the next value from src onto [lo, hi). A nil src yields lo.
func Between(src Source, lo, hi float64) float64 {
	if src == nil {
		return lo
	}
	return lo + (hi-lo)*src.NextFloat64()
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}
