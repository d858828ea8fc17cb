// Package synth generates the synthetic 2D signal used by the mock scanner:
// a table of randomly drawn structures and the analytic fields evaluated
// over it.
package synth

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Generator is a seedable, concurrency-safe source of uniform draws. The
// structure table and the per-cell noise both draw from a Generator so tests
// can fix the sequence.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a deterministic generator for the given seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewTimeSeededGenerator returns a generator seeded from the wall clock.
func NewTimeSeededGenerator() *Generator {
	return NewGenerator(uint64(time.Now().UnixNano()))
}

// Float64 returns a uniform draw in [0, 1).
func (g *Generator) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// fill writes len(dst) uniform draws in [0, scale) into dst.
func (g *Generator) fill(dst []float64, scale float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range dst {
		dst[i] = g.rng.Float64() * scale
	}
}

// addNoise adds an independent draw in [0, scale) to every element of dst.
func (g *Generator) addNoise(dst []float64, scale float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range dst {
		dst[i] += g.rng.Float64() * scale
	}
}
