package depo

import (
	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"
)

// Ref is a weak handle to a deposition held in a History. The zero Ref means "no
// prior". A Ref whose record has been evicted is stale and resolves to nothing.
type Ref struct {
	entity ecs.Entity
}

// IsZero reports whether the handle refers to nothing at all.
func (r Ref) IsZero() bool {
	return r == Ref{}
}

// record is the single component stored per history entity.
type record struct {
	depo *Deposition
}

// History is a bounded arena of depositions addressed by weak handles.
//
// Stage buffers own depositions; the history only keeps the most recent Capacity
// records so that derivation chains can be walked without being retained forever.
// A nil *History is valid and resolves every handle to nothing.
type History struct {
	world    *ecs.World
	records  *ecs.Map1[record]
	order    []ecs.Entity // insertion order, oldest first
	capacity int
}

// NewHistory creates a history that keeps at most capacity records.
// capacity <= 0 means unbounded.
func NewHistory(capacity int) *History {
	world := ecs.NewWorld()
	return &History{
		world:    world,
		records:  ecs.NewMap1[record](world),
		capacity: capacity,
	}
}

// Record stores d and returns a handle to it, evicting the oldest record when the
// arena is full.
func (h *History) Record(d *Deposition) Ref {
	if h == nil || d == nil {
		return Ref{}
	}
	e := h.records.NewEntity(&record{depo: d})
	h.order = append(h.order, e)

	if h.capacity > 0 && len(h.order) > h.capacity {
		oldest := h.order[0]
		h.order = h.order[1:]
		if h.world.Alive(oldest) {
			h.world.RemoveEntity(oldest)
		}
	}
	return Ref{entity: e}
}

// Lookup resolves a handle. It returns false for the zero Ref and for stale handles.
func (h *History) Lookup(r Ref) (*Deposition, bool) {
	if h == nil || r.IsZero() || !h.world.Alive(r.entity) {
		return nil, false
	}
	rec := h.records.Get(r.entity)
	if rec == nil {
		return nil, false
	}
	return rec.depo, true
}

// Len returns the number of live records.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.order)
}

// Reset removes every record. Handles issued before the reset become stale.
func (h *History) Reset() {
	if h == nil {
		return
	}
	for _, e := range h.order {
		if h.world.Alive(e) {
			h.world.RemoveEntity(e)
		}
	}
	h.order = h.order[:0]
}

// Chain returns d followed by its resolvable priors, newest first. The walk stops
// at the first missing or stale link.
func (h *History) Chain(d *Deposition) []*Deposition {
	if d == nil {
		return nil
	}
	chain := []*Deposition{d}
	ref := d.Prior()
	for steps := 0; steps <= h.Len(); steps++ {
		p, ok := h.Lookup(ref)
		if !ok {
			break
		}
		chain = append(chain, p)
		ref = p.Prior()
	}
	return chain
}

// DriftDistance returns the path length accumulated along the resolvable chain.
func (h *History) DriftDistance(d *Deposition) float64 {
	chain := h.Chain(d)
	var dist float64
	for i := 1; i < len(chain); i++ {
		dist += r3.Norm(r3.Sub(chain[i-1].Pos(), chain[i].Pos()))
	}
	return dist
}

// DriftTime returns the time elapsed between the oldest resolvable ancestor and d.
func (h *History) DriftTime(d *Deposition) float64 {
	chain := h.Chain(d)
	if len(chain) < 2 {
		return 0
	}
	return d.Time() - chain[len(chain)-1].Time()
}
