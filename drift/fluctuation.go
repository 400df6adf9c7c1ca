package drift

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/driftsim/random"
)

// ErrNegativeCharge is returned when a counting model is asked to fluctuate a
// negative charge.
var ErrNegativeCharge = errors.New("drift: cannot fluctuate negative charge")

// Fluctuation redraws the charge that survives absorption. q is the charge before
// absorption and p the survival probability.
type Fluctuation interface {
	Survive(q, p float64, rng random.Source) (float64, error)
}

// Expected applies no fluctuation: the surviving charge is q·p.
type Expected struct{}

// Survive returns q·p.
func (Expected) Survive(q, p float64, _ random.Source) (float64, error) {
	return q * p, nil
}

// Binomial treats each electron as surviving independently with probability p.
type Binomial struct{}

// Survive draws from Binomial(round(q), p). Negative q is an error.
func (Binomial) Survive(q, p float64, rng random.Source) (float64, error) {
	if q < 0 {
		return 0, fmt.Errorf("%w: %v", ErrNegativeCharge, q)
	}
	return float64(rng.Binomial(int(math.Round(q)), p)), nil
}

// Poisson draws the surviving count around the expectation q·p.
type Poisson struct{}

// Survive draws from Poisson(q·p). Negative q is an error.
func (Poisson) Survive(q, p float64, rng random.Source) (float64, error) {
	if q < 0 {
		return 0, fmt.Errorf("%w: %v", ErrNegativeCharge, q)
	}
	return float64(rng.Poisson(q * p)), nil
}

// FluctuationByName resolves a model name as used in configuration files.
func FluctuationByName(name string) (Fluctuation, error) {
	switch name {
	case "", "binomial":
		return Binomial{}, nil
	case "poisson":
		return Poisson{}, nil
	case "expected", "none":
		return Expected{}, nil
	}
	return nil, fmt.Errorf("drift: unknown fluctuation model %q", name)
}
