package diffusion

import (
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/kernel"
)

// Patch is the binned charge of one diffused deposition. Grid rows index the
// longitudinal (time) bins of LRange and columns the transverse (pitch) bins of
// TRange.
type Patch struct {
	Depo *depo.Deposition

	MeanL, SigmaL float64
	MeanT, SigmaT float64

	LRange, TRange     kernel.Range
	BinSizeL, BinSizeT float64

	Grid *mat.Dense
}

// Charge returns the total charge in the grid.
func (p *Patch) Charge() float64 { return mat.Sum(p.Grid) }

// NBinsL returns the number of longitudinal bins.
func (p *Patch) NBinsL() int {
	r, _ := p.Grid.Dims()
	return r
}

// NBinsT returns the number of transverse bins.
func (p *Patch) NBinsT() int {
	_, c := p.Grid.Dims()
	return c
}

// LBegin returns the time of the leading edge of the patch.
func (p *Patch) LBegin() float64 { return p.LRange.Low }

// Cell returns the charge in longitudinal bin i and transverse bin j.
func (p *Patch) Cell(i, j int) float64 { return p.Grid.At(i, j) }

// BinCenterL returns the time at the center of longitudinal bin i.
func (p *Patch) BinCenterL(i int) float64 {
	return p.LRange.Low + (float64(i)+0.5)*p.BinSizeL
}

// BinCenterT returns the pitch coordinate at the center of transverse bin j.
func (p *Patch) BinCenterT(j int) float64 {
	return p.TRange.Low + (float64(j)+0.5)*p.BinSizeT
}

// Mean returns the charge-weighted centroid of the grid. An empty grid returns the
// Gaussian means.
func (p *Patch) Mean() (l, t float64) {
	total := p.Charge()
	if total == 0 {
		return p.MeanL, p.MeanT
	}
	nl, nt := p.Grid.Dims()
	for i := 0; i < nl; i++ {
		row := p.Grid.RawRowView(i)
		for j := 0; j < nt; j++ {
			l += row[j] * p.BinCenterL(i)
			t += row[j] * p.BinCenterT(j)
		}
	}
	return l / total, t / total
}

// Marginals returns the charge per longitudinal bin and per transverse bin.
func (p *Patch) Marginals() (l, t []float64) {
	nl, nt := p.Grid.Dims()
	l = make([]float64, nl)
	t = make([]float64, nt)
	for i := 0; i < nl; i++ {
		row := p.Grid.RawRowView(i)
		l[i] = floats.Sum(row)
		floats.Add(t, row)
	}
	return l, t
}

// Variance returns the charge-weighted variance of the grid along each axis,
// measured between bin centers. An empty grid returns zeros.
func (p *Patch) Variance() (l, t float64) {
	ml, mt := p.Marginals()
	if floats.Sum(ml) == 0 {
		return 0, 0
	}
	return stat.PopVariance(BinCenters(p.LRange, p.BinSizeL), ml),
		stat.PopVariance(BinCenters(p.TRange, p.BinSizeT), mt)
}

// BinCenters returns the center of every bin of r.
func BinCenters(r kernel.Range, binsize float64) []float64 {
	c := make([]float64, r.NBins(binsize))
	for i := range c {
		c[i] = r.Low + (float64(i)+0.5)*binsize
	}
	return c
}

// LogValue implements slog.LogValuer.
func (p *Patch) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("l_begin", p.LBegin()),
		slog.Int("n_l", p.NBinsL()),
		slog.Int("n_t", p.NBinsT()),
		slog.Float64("charge", p.Charge()),
	)
}
