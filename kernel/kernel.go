// Package kernel provides the numeric primitives used to bin a Gaussian charge
// cloud: a truncation window snapped to bin edges and the per-bin integrated mass
// of a normal distribution over that window.
package kernel

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrBinSize = errors.New("kernel: bin size must be positive")
	ErrNSigma  = errors.New("kernel: truncation width must be positive")
	ErrSigma   = errors.New("kernel: sigma must be non-negative")
)

// Range is a half-open interval [Low, High) whose edges lie on the bin grid.
type Range struct {
	Low, High float64
}

// Width returns High - Low.
func (r Range) Width() float64 { return r.High - r.Low }

// NBins returns the number of bins of the given size spanning the range.
func (r Range) NBins(binsize float64) int {
	x := r.Width() / binsize
	n := math.Round(x)
	// Edges are origin + k*binsize, so the ratio is an integer up to rounding.
	if math.Abs(x-n) > 1e-9*math.Max(1, x) {
		n = math.Ceil(x)
	}
	return int(n)
}

// Contains reports whether x lies in [Low, High).
func (r Range) Contains(x float64) bool {
	return x >= r.Low && x < r.High
}

// Bounds returns the window mean ± nsigma*sigma expanded outward to the nearest
// bin edges of the grid origin + k*binsize. A zero sigma yields the single bin
// containing mean.
func Bounds(mean, sigma, binsize, origin, nsigma float64) (Range, error) {
	if !(binsize > 0) {
		return Range{}, ErrBinSize
	}
	if !(nsigma > 0) {
		return Range{}, ErrNSigma
	}
	if !(sigma >= 0) {
		return Range{}, ErrSigma
	}

	lo, hi := mean, mean
	if sigma > 0 {
		lo = mean - nsigma*sigma
		hi = mean + nsigma*sigma
	}

	ilo := math.Floor((lo - origin) / binsize)
	ihi := math.Ceil((hi - origin) / binsize)
	if ihi <= ilo {
		ihi = ilo + 1
	}

	// The division can round an edge one bin inside the window. Beyond 2^53 bins
	// the index no longer resolves single steps, so correct once only.
	if origin+ilo*binsize > lo {
		ilo--
	}
	if origin+ihi*binsize < hi {
		ihi++
	}
	if sigma == 0 && origin+ihi*binsize == mean {
		ihi++
	}

	return Range{Low: origin + ilo*binsize, High: origin + ihi*binsize}, nil
}

// Profile returns the Gaussian mass integrated over each bin of r, using the
// standard normal CDF difference across the bin edges. The sum is the truncated
// mass inside r (below 1 when tails are cut). A zero sigma puts unit mass into
// the bin containing mean.
func Profile(mean, sigma, binsize float64, r Range) []float64 {
	n := r.NBins(binsize)
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)

	if sigma == 0 {
		if !r.Contains(mean) {
			return out
		}
		idx := int(math.Floor((mean - r.Low) / binsize))
		if idx >= n {
			idx = n - 1
		}
		out[idx] = 1
		return out
	}

	prev := distuv.UnitNormal.CDF((r.Low - mean) / sigma)
	for i := range out {
		edge := r.Low + float64(i+1)*binsize
		cur := distuv.UnitNormal.CDF((edge - mean) / sigma)
		out[i] = cur - prev
		prev = cur
	}
	return out
}

// Mass returns the total mass of a profile.
func Mass(profile []float64) float64 {
	return floats.Sum(profile)
}
