// Package random supplies the deviates used for charge fluctuation and for the
// synthetic deposition sources.
package random

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source draws random deviates.
type Source interface {
	Uniform(lo, hi float64) float64
	Normal(mu, sigma float64) float64
	Binomial(n int, p float64) int
	Poisson(mean float64) int
}

// Gonum is a Source backed by gonum distributions over a seeded PCG stream.
// It is not safe for concurrent use.
type Gonum struct {
	src rand.Source
}

// New returns a deterministic source for seed.
func New(seed uint64) *Gonum {
	return &Gonum{src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// Uniform draws from [lo, hi).
func (g *Gonum) Uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: g.src}.Rand()
}

// Normal draws from a Gaussian. A non-positive sigma returns mu.
func (g *Gonum) Normal(mu, sigma float64) float64 {
	if !(sigma > 0) {
		return mu
	}
	return distuv.Normal{Mu: mu, Sigma: sigma, Src: g.src}.Rand()
}

// Binomial draws the number of successes in n trials with probability p.
func (g *Gonum) Binomial(n int, p float64) int {
	switch {
	case n <= 0 || p <= 0:
		return 0
	case p >= 1:
		return n
	}
	return int(distuv.Binomial{N: float64(n), P: p, Src: g.src}.Rand())
}

// Poisson draws a count with the given mean. A non-positive mean returns 0.
func (g *Gonum) Poisson(mean float64) int {
	if !(mean > 0) {
		return 0
	}
	return int(math.Round(distuv.Poisson{Lambda: mean, Src: g.src}.Rand()))
}
