// Package geometry maps positions onto the transverse (pitch) coordinate used by
// the diffusion grid.
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

var ErrZeroDirection = errors.New("geometry: direction has zero length")

// PitchSource supplies the ray whose direction defines the transverse coordinate.
type PitchSource interface {
	PitchRay() Ray
}

// Ray is an origin and a unit direction.
type Ray struct {
	Origin    r3.Vec
	Direction r3.Vec
}

// NewRay returns a ray with the direction normalised.
func NewRay(origin, direction r3.Vec) (Ray, error) {
	n := r3.Norm(direction)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return Ray{}, ErrZeroDirection
	}
	return Ray{Origin: origin, Direction: r3.Scale(1/n, direction)}, nil
}

// Project returns the signed distance of p along the ray.
func (r Ray) Project(p r3.Vec) float64 {
	return r3.Dot(r3.Sub(p, r.Origin), r.Direction)
}

// At returns the point at distance s along the ray.
func (r Ray) At(s float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(s, r.Direction))
}

// PitchRay implements PitchSource.
func (r Ray) PitchRay() Ray { return r }

// WirePlane is a plane of parallel wires lying in the Y-Z plane. Angle is the wire
// direction measured from the Y axis toward Z; Pitch is the wire spacing and
// Origin sits on wire zero.
type WirePlane struct {
	Angle  float64
	Pitch  float64
	Origin r3.Vec
}

// WireDirection returns the unit vector along the wires.
func (w WirePlane) WireDirection() r3.Vec {
	return r3.Vec{Y: math.Cos(w.Angle), Z: math.Sin(w.Angle)}
}

// PitchRay returns the ray perpendicular to the wires within the plane.
func (w WirePlane) PitchRay() Ray {
	return Ray{
		Origin:    w.Origin,
		Direction: r3.Vec{Y: -math.Sin(w.Angle), Z: math.Cos(w.Angle)},
	}
}

// WireIndex returns the index of the wire nearest to p.
func (w WirePlane) WireIndex(p r3.Vec) int {
	if w.Pitch <= 0 {
		return 0
	}
	return int(math.Round(w.PitchRay().Project(p) / w.Pitch))
}
