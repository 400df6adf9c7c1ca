// Package depo defines the point-like ionization deposition that flows through the
// drift and diffusion stages, and a bounded history arena that backs the weak
// prior-links between a deposition and the one it was derived from.
package depo

import (
	"fmt"
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point is a position in the detector frame (base length units).
type Point = r3.Vec

// Deposition is an immutable point-like charge event.
//
// ExtentL and ExtentT are the longitudinal and transverse Gaussian sigmas (length
// units) accumulated by drift. A deposition fresh from a source carries zero extent.
type Deposition struct {
	time    float64
	pos     Point
	charge  float64
	extentL float64
	extentT float64
	prior   Ref
}

// New creates a deposition with no diffusion extent and no prior.
func New(time float64, pos Point, charge float64) *Deposition {
	return &Deposition{time: time, pos: pos, charge: charge}
}

// Derive creates a deposition that carries extents and a prior-link.
func Derive(time float64, pos Point, charge, extentL, extentT float64, prior Ref) *Deposition {
	return &Deposition{
		time:    time,
		pos:     pos,
		charge:  charge,
		extentL: extentL,
		extentT: extentT,
		prior:   prior,
	}
}

// Time returns the absolute time of the deposition.
func (d *Deposition) Time() float64 { return d.time }

// Pos returns the position of the deposition.
func (d *Deposition) Pos() Point { return d.pos }

// Charge returns the (signed) charge.
func (d *Deposition) Charge() float64 { return d.charge }

// ExtentL returns the longitudinal sigma in length units.
func (d *Deposition) ExtentL() float64 { return d.extentL }

// ExtentT returns the transverse sigma in length units.
func (d *Deposition) ExtentT() float64 { return d.extentT }

// Prior returns the weak handle to the deposition this one was derived from.
func (d *Deposition) Prior() Ref { return d.prior }

// HasExtent reports whether the deposition carries any diffusion state.
func (d *Deposition) HasExtent() bool { return d.extentL > 0 || d.extentT > 0 }

func (d *Deposition) String() string {
	return fmt.Sprintf("depo(t=%g x=%g y=%g z=%g q=%g)", d.time, d.pos.X, d.pos.Y, d.pos.Z, d.charge)
}

// LogValue implements slog.LogValuer.
func (d *Deposition) LogValue() slog.Value {
	if d == nil {
		return slog.StringValue("eos")
	}
	return slog.GroupValue(
		slog.Float64("t", d.time),
		slog.Float64("x", d.pos.X),
		slog.Float64("y", d.pos.Y),
		slog.Float64("z", d.pos.Z),
		slog.Float64("q", d.charge),
		slog.Float64("sigma_l", d.extentL),
		slog.Float64("sigma_t", d.extentT),
	)
}

// SortByTime orders depositions by ascending time, keeping the relative order of
// equal times.
func SortByTime(depos []*Deposition) {
	sort.SliceStable(depos, func(i, j int) bool {
		return depos[i].time < depos[j].time
	})
}
