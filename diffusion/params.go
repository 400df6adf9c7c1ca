package diffusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/pthm-cable/driftsim/units"
)

var (
	ErrBinSize   = errors.New("diffusion: bin sizes must be positive")
	ErrNSigma    = errors.New("diffusion: truncation width must be positive")
	ErrSpeed     = errors.New("diffusion: speed must be positive")
	ErrMaxSigma  = errors.New("diffusion: maximum longitudinal sigma must be positive")
	ErrSigma     = errors.New("diffusion: diffusion parameters must be non-negative")
	ErrEndOfData = errors.New("diffusion: insert after end of stream")
)

// Params configures a Binner. The longitudinal axis is time, the transverse axis
// is the pitch coordinate.
type Params struct {
	BinSizeL   float64 // time bin
	OriginL    float64 // time of a bin edge
	TimeOffset float64 // added to every deposition time
	BinSizeT   float64 // pitch bin
	OriginT    float64 // pitch coordinate of a bin edge

	DL    float64 // longitudinal coefficient for depositions with only a drift history
	DT    float64 // transverse coefficient for depositions with only a drift history
	Speed float64 // converts longitudinal extent from length to time

	MaxSigmaL float64 // upper bound on the longitudinal sigma (time)
	NSigma    float64 // truncation half-width in sigmas

	FixedSigmaL float64 // used when a deposition carries no diffusion information
	FixedSigmaT float64
}

// DefaultParams returns defaults for a 0.5 µs sampling and 3 mm wire pitch.
func DefaultParams() Params {
	return Params{
		BinSizeL:  0.5 * units.US,
		BinSizeT:  3 * units.MM,
		DL:        7.2 * units.CM2PerS,
		DT:        12.0 * units.CM2PerS,
		Speed:     1.6 * units.MMPerUS,
		MaxSigmaL: 5 * units.US,
		NSigma:    3,
	}
}

// Validate reports every problem with p.
func (p Params) Validate() error {
	var errs []error
	if !(p.BinSizeL > 0) || !(p.BinSizeT > 0) {
		errs = append(errs, fmt.Errorf("%w: L=%v T=%v", ErrBinSize, p.BinSizeL, p.BinSizeT))
	}
	if !(p.NSigma > 0) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrNSigma, p.NSigma))
	}
	if !(p.Speed > 0) || math.IsInf(p.Speed, 0) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrSpeed, p.Speed))
	}
	if !(p.MaxSigmaL > 0) || math.IsInf(p.MaxSigmaL, 0) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrMaxSigma, p.MaxSigmaL))
	}
	for _, v := range []float64{p.DL, p.DT, p.FixedSigmaL, p.FixedSigmaT} {
		if !(v >= 0) {
			errs = append(errs, fmt.Errorf("%w: DL=%v DT=%v fixed=(%v, %v)",
				ErrSigma, p.DL, p.DT, p.FixedSigmaL, p.FixedSigmaT))
			break
		}
	}
	return errors.Join(errs...)
}
