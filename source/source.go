// Package source generates synthetic depositions: random blips and straight
// ionizing tracks.
package source

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/random"
)

// Source yields depositions in non-decreasing time. Next returns nil once the
// source is exhausted.
type Source interface {
	Next() *depo.Deposition
}

// Blip emits isolated depositions separated by a drawn time step.
type Blip struct {
	Start    float64 // time before the first step
	Stop     float64 // no deposition after this time; 0 means no limit
	Count    int     // number of depositions; 0 means no limit
	TimeStep Scalar
	Charge   Scalar
	Position Point

	rng     random.Source
	now     float64
	emitted int
}

// NewBlip validates the makers and returns a ready source.
func NewBlip(b Blip, rng random.Source) (*Blip, error) {
	if b.Count <= 0 && b.Stop <= b.Start {
		return nil, ErrUnbounded
	}
	if err := b.TimeStep.Validate(); err != nil {
		return nil, fmt.Errorf("blip time step: %w", err)
	}
	if err := b.Charge.Validate(); err != nil {
		return nil, fmt.Errorf("blip charge: %w", err)
	}
	if err := b.Position.Validate(); err != nil {
		return nil, fmt.Errorf("blip position: %w", err)
	}
	b.rng = rng
	b.now = b.Start
	b.emitted = 0
	return &b, nil
}

// Next implements Source.
func (b *Blip) Next() *depo.Deposition {
	if b.Count > 0 && b.emitted >= b.Count {
		return nil
	}
	// A negative draw would break time ordering.
	b.now += math.Max(0, b.TimeStep.Draw(b.rng))
	if b.Stop > b.Start && b.now > b.Stop {
		return nil
	}
	b.emitted++
	return depo.New(b.now, b.Position.Draw(b.rng), b.Charge.Draw(b.rng))
}

// Emitted returns the number of depositions produced so far.
func (b *Blip) Emitted() int { return b.emitted }

// Track lays depositions along straight line segments.
type Track struct {
	stepSize float64
	speed    float64
	depos    []*depo.Deposition
	next     int
}

// NewTrack returns an empty track source. Depositions are placed every stepSize
// along a segment, with time advancing at speed.
func NewTrack(stepSize, speed float64) (*Track, error) {
	if !(stepSize > 0) {
		return nil, fmt.Errorf("%w: step size %v", ErrRange, stepSize)
	}
	if !(speed > 0) {
		return nil, fmt.Errorf("%w: speed %v", ErrRange, speed)
	}
	return &Track{stepSize: stepSize, speed: speed}, nil
}

// AddTrack adds depositions from from toward to starting at time t0. A positive
// dedx is the total charge spread over the steps, a negative dedx is the charge of
// each deposition and zero gives unit charge.
func (t *Track) AddTrack(t0 float64, from, to r3.Vec, dedx float64) int {
	length := r3.Norm(r3.Sub(to, from))
	if length == 0 {
		return 0
	}
	dir := r3.Unit(r3.Sub(to, from))

	q := 1.0
	switch {
	case dedx > 0:
		q = dedx / (length / t.stepSize)
	case dedx < 0:
		q = -dedx
	}

	n := 0
	for step := 0.0; step < length; step += t.stepSize {
		pos := r3.Add(from, r3.Scale(step, dir))
		t.depos = append(t.depos, depo.New(t0+step/t.speed, pos, q))
		n++
	}
	depo.SortByTime(t.depos[t.next:])
	return n
}

// Next implements Source.
func (t *Track) Next() *depo.Deposition {
	if t.next >= len(t.depos) {
		return nil
	}
	d := t.depos[t.next]
	t.depos[t.next] = nil
	t.next++
	return d
}

// Remaining returns the number of depositions not yet returned by Next.
func (t *Track) Remaining() int { return len(t.depos) - t.next }

// Limit stops a source after n depositions.
func Limit(src Source, n int) Source {
	return &limited{src: src, left: n}
}

type limited struct {
	src  Source
	left int
}

func (l *limited) Next() *depo.Deposition {
	if l.left <= 0 {
		return nil
	}
	l.left--
	return l.src.Next()
}

// FromSlice replays depositions in the given order. Callers sort them first when
// the stages require time order.
func FromSlice(depos []*depo.Deposition) Source {
	return &replay{depos: depos}
}

type replay struct {
	depos []*depo.Deposition
	next  int
}

func (r *replay) Next() *depo.Deposition {
	if r.next >= len(r.depos) {
		return nil
	}
	d := r.depos[r.next]
	r.next++
	return d
}
