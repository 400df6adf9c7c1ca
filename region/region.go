// Package region holds the bounded drift volumes. Each region spans the drift axis
// between a sensing boundary (the anode) and the far boundary (the cathode).
package region

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrDegenerate = errors.New("region: anode and cathode coincide")
	ErrBounds     = errors.New("region: bounds must be finite")
	ErrOverlap    = errors.New("region: regions overlap")
)

// Region is a drift volume along X. The anode may lie on either side of the cathode.
type Region struct {
	Anode   float64 `yaml:"anode"`
	Cathode float64 `yaml:"cathode"`
}

// Low returns the smaller boundary.
func (r Region) Low() float64 { return math.Min(r.Anode, r.Cathode) }

// High returns the larger boundary.
func (r Region) High() float64 { return math.Max(r.Anode, r.Cathode) }

// Length returns the distance between the boundaries.
func (r Region) Length() float64 { return math.Abs(r.Anode - r.Cathode) }

// Contains reports whether x lies between the boundaries, inclusive.
func (r Region) Contains(x float64) bool {
	return x >= r.Low() && x <= r.High()
}

// DriftDistance returns the distance from x to the anode.
func (r Region) DriftDistance(x float64) float64 {
	return math.Abs(x - r.Anode)
}

// Direction returns +1 when charge drifts toward increasing X and -1 otherwise.
func (r Region) Direction() float64 {
	if r.Anode > r.Cathode {
		return 1
	}
	return -1
}

func (r Region) validate() error {
	if math.IsNaN(r.Anode) || math.IsNaN(r.Cathode) || math.IsInf(r.Anode, 0) || math.IsInf(r.Cathode, 0) {
		return fmt.Errorf("%w: %+v", ErrBounds, r)
	}
	if r.Anode == r.Cathode {
		return fmt.Errorf("%w: %+v", ErrDegenerate, r)
	}
	return nil
}

// Table is an immutable set of non-overlapping regions. Regions may share a
// boundary, as two volumes on either side of a common cathode do. A point on a
// shared boundary belongs to the region with the lower span.
type Table struct {
	regions []Region // as configured
	sorted  []int    // indices into regions by ascending Low
}

// NewTable validates regions and builds a lookup table. Indices returned by Locate
// refer to the order of the input slice.
func NewTable(regions []Region) (*Table, error) {
	t := &Table{
		regions: append([]Region(nil), regions...),
		sorted:  make([]int, len(regions)),
	}
	for i, r := range t.regions {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		t.sorted[i] = i
	}
	sort.SliceStable(t.sorted, func(a, b int) bool {
		return t.regions[t.sorted[a]].Low() < t.regions[t.sorted[b]].Low()
	})
	for k := 1; k < len(t.sorted); k++ {
		prev, cur := t.regions[t.sorted[k-1]], t.regions[t.sorted[k]]
		if cur.Low() < prev.High() {
			return nil, fmt.Errorf("%w: region %d %+v and region %d %+v",
				ErrOverlap, t.sorted[k-1], prev, t.sorted[k], cur)
		}
	}
	return t, nil
}

// Len returns the number of regions.
func (t *Table) Len() int { return len(t.regions) }

// At returns region i.
func (t *Table) At(i int) Region { return t.regions[i] }

// Regions returns a copy of the configured regions.
func (t *Table) Regions() []Region {
	return append([]Region(nil), t.regions...)
}

// Locate returns the index of the region containing x. On a boundary shared by
// two regions the lower one wins.
func (t *Table) Locate(x float64) (int, bool) {
	if math.IsNaN(x) {
		return 0, false
	}
	// First region whose upper edge is at or beyond x.
	k := sort.Search(len(t.sorted), func(k int) bool {
		return t.regions[t.sorted[k]].High() >= x
	})
	if k == len(t.sorted) {
		return 0, false
	}
	i := t.sorted[k]
	if !t.regions[i].Contains(x) {
		return 0, false
	}
	return i, true
}

// MaxLength returns the length of the longest region, or 0 for an empty table.
func (t *Table) MaxLength() float64 {
	var longest float64
	for _, r := range t.regions {
		longest = math.Max(longest, r.Length())
	}
	return longest
}
