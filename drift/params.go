package drift

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/driftsim/region"
	"github.com/pthm-cable/driftsim/units"
)

var (
	ErrSpeed     = errors.New("drift: speed must be positive")
	ErrDiffusion = errors.New("drift: diffusion coefficients must be non-negative")
	ErrLifetime  = errors.New("drift: lifetime must be positive")
	ErrMargin    = errors.New("drift: ripe margin must be non-negative")
	ErrNoRandom  = errors.New("drift: fluctuation requires a random source")
)

// Params configures a Drifter. All values are in base units.
type Params struct {
	DL         float64 // longitudinal diffusion coefficient (length²/time)
	DT         float64 // transverse diffusion coefficient (length²/time)
	Lifetime   float64 // electron absorption lifetime; +Inf disables absorption
	Speed      float64 // drift speed
	Fluctuate  bool    // redraw the surviving charge with a counting model
	RipeMargin float64 // extra time a buffered deposition waits past its arrival
	Regions    []region.Region
}

// DefaultParams returns liquid argon defaults with no regions.
func DefaultParams() Params {
	return Params{
		DL:        7.2 * units.CM2PerS,
		DT:        12.0 * units.CM2PerS,
		Lifetime:  8 * units.MS,
		Speed:     1.6 * units.MMPerUS,
		Fluctuate: true,
	}
}

// Validate reports every problem with p.
func (p Params) Validate() error {
	var errs []error
	if !(p.Speed > 0) || math.IsInf(p.Speed, 0) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrSpeed, p.Speed))
	}
	if !(p.DL >= 0) || !(p.DT >= 0) {
		errs = append(errs, fmt.Errorf("%w: DL=%v DT=%v", ErrDiffusion, p.DL, p.DT))
	}
	if !(p.Lifetime > 0) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrLifetime, p.Lifetime))
	}
	if !(p.RipeMargin >= 0) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrMargin, p.RipeMargin))
	}
	if _, err := region.NewTable(p.Regions); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Survival returns the fraction of charge surviving a drift of dt.
func (p Params) Survival(dt float64) float64 {
	if math.IsInf(p.Lifetime, 1) {
		return 1
	}
	return math.Exp(-dt / p.Lifetime)
}
