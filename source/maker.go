package source

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/driftsim/random"
)

var (
	ErrKind          = errors.New("source: unknown kind")
	ErrEmptySequence = errors.New("source: sequence has no values")
	ErrRange         = errors.New("source: invalid range")
	ErrUnbounded     = errors.New("source: blip needs a count or a stop time")
)

// Kind selects how a Scalar or Point is drawn.
type Kind string

const (
	Constant    Kind = "constant"
	Uniform     Kind = "uniform"
	Gaussian    Kind = "gaussian"
	Exponential Kind = "exponential" // Scalar only
	Sequence    Kind = "sequence"    // Scalar only
)

// Scalar draws a number. Constant uses Value, Uniform uses [Min, Max), Gaussian
// uses Mean and Sigma, Exponential uses Mean and Sequence cycles through Values.
type Scalar struct {
	Kind   Kind      `yaml:"kind"`
	Value  float64   `yaml:"value,omitempty"`
	Min    float64   `yaml:"min,omitempty"`
	Max    float64   `yaml:"max,omitempty"`
	Mean   float64   `yaml:"mean,omitempty"`
	Sigma  float64   `yaml:"sigma,omitempty"`
	Values []float64 `yaml:"values,omitempty"`

	next int
}

// Fixed returns a constant scalar.
func Fixed(v float64) Scalar { return Scalar{Kind: Constant, Value: v} }

// Validate checks that the variant is known and its parameters usable.
func (s *Scalar) Validate() error {
	switch s.Kind {
	case Constant:
	case Uniform:
		if !(s.Max >= s.Min) {
			return fmt.Errorf("%w: uniform [%v, %v)", ErrRange, s.Min, s.Max)
		}
	case Gaussian:
		if !(s.Sigma >= 0) {
			return fmt.Errorf("%w: gaussian sigma %v", ErrRange, s.Sigma)
		}
	case Exponential:
		if !(s.Mean > 0) {
			return fmt.Errorf("%w: exponential mean %v", ErrRange, s.Mean)
		}
	case Sequence:
		if len(s.Values) == 0 {
			return ErrEmptySequence
		}
	default:
		return fmt.Errorf("%w: %q", ErrKind, s.Kind)
	}
	return nil
}

// Draw returns the next value.
func (s *Scalar) Draw(rng random.Source) float64 {
	switch s.Kind {
	case Uniform:
		return rng.Uniform(s.Min, s.Max)
	case Gaussian:
		return rng.Normal(s.Mean, s.Sigma)
	case Exponential:
		return -s.Mean * math.Log(1-rng.Uniform(0, 1))
	case Sequence:
		v := s.Values[s.next%len(s.Values)]
		s.next++
		return v
	}
	return s.Value
}

// Point draws a position. Constant uses Value, Uniform draws inside the box
// [Min, Max) and Gaussian scatters each coordinate around Mean by Sigma.
type Point struct {
	Kind  Kind   `yaml:"kind"`
	Value r3.Vec `yaml:"value,omitempty"`
	Min   r3.Vec `yaml:"min,omitempty"`
	Max   r3.Vec `yaml:"max,omitempty"`
	Mean  r3.Vec `yaml:"mean,omitempty"`
	Sigma r3.Vec `yaml:"sigma,omitempty"`
}

// Validate checks that the variant is known and its parameters usable.
func (p *Point) Validate() error {
	switch p.Kind {
	case Constant:
	case Uniform:
		if !(p.Max.X >= p.Min.X && p.Max.Y >= p.Min.Y && p.Max.Z >= p.Min.Z) {
			return fmt.Errorf("%w: box %v to %v", ErrRange, p.Min, p.Max)
		}
	case Gaussian:
		if !(p.Sigma.X >= 0 && p.Sigma.Y >= 0 && p.Sigma.Z >= 0) {
			return fmt.Errorf("%w: gaussian sigma %v", ErrRange, p.Sigma)
		}
	default:
		return fmt.Errorf("%w: %q for point", ErrKind, p.Kind)
	}
	return nil
}

// Draw returns a position.
func (p *Point) Draw(rng random.Source) r3.Vec {
	switch p.Kind {
	case Uniform:
		return r3.Vec{
			X: rng.Uniform(p.Min.X, p.Max.X),
			Y: rng.Uniform(p.Min.Y, p.Max.Y),
			Z: rng.Uniform(p.Min.Z, p.Max.Z),
		}
	case Gaussian:
		return r3.Vec{
			X: rng.Normal(p.Mean.X, p.Sigma.X),
			Y: rng.Normal(p.Mean.Y, p.Sigma.Y),
			Z: rng.Normal(p.Mean.Z, p.Sigma.Z),
		}
	}
	return p.Value
}
