// Package telemetry provides run accounting, anomaly bookmarks, state snapshots
// and CSV output for a drift simulation.
package telemetry

import (
	"math"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/diffusion"
)

// Collector accumulates pipeline events within windows of simulated time and
// produces WindowStats. It also keeps run totals.
type Collector struct {
	windowDuration float64
	windowStart    float64
	started        bool

	// Event counters for current window
	inserted      int
	dropped       int
	drifted       int
	patches       int
	chargeIn      float64
	chargeDropped float64
	chargeSource  float64 // charge of accepted inputs later drifted
	chargeDrifted float64
	chargeBinned  float64

	driftTimes []float64
	sigmaL     []float64
	sigmaT     []float64
	cells      []float64

	totals RunStats
}

// NewCollector creates a new stats collector.
// windowDuration: length of each stats window in simulated time; <= 0 disables
// windowing so ShouldFlush never fires.
func NewCollector(windowDuration float64) *Collector {
	return &Collector{windowDuration: windowDuration}
}

// RecordInsert records a deposition entering the pipeline.
func (c *Collector) RecordInsert(d *depo.Deposition) {
	if !c.started {
		c.windowStart = d.Time()
		c.totals.FirstTime = d.Time()
		c.started = true
	}
	c.inserted++
	c.chargeIn += d.Charge()
	c.totals.Inserted++
	c.totals.ChargeIn += d.Charge()
	c.totals.LastTime = math.Max(c.totals.LastTime, d.Time())
}

// RecordDrop records a deposition rejected by the drift stage.
func (c *Collector) RecordDrop(d *depo.Deposition) {
	c.dropped++
	c.chargeDropped += d.Charge()
	c.totals.Dropped++
}

// RecordDrift records a transported deposition. driftTime is the time it spent
// drifting and before the charge it carried when it entered the drift stage.
func (c *Collector) RecordDrift(d *depo.Deposition, driftTime, before float64) {
	c.drifted++
	c.chargeSource += before
	c.chargeDrifted += d.Charge()
	c.driftTimes = append(c.driftTimes, driftTime)
	c.totals.Drifted++
	c.totals.ChargeDrifted += d.Charge()
}

// RecordPatch records a released charge patch.
func (c *Collector) RecordPatch(p *diffusion.Patch) {
	q := p.Charge()
	c.patches++
	c.chargeBinned += q
	c.sigmaL = append(c.sigmaL, p.SigmaL)
	c.sigmaT = append(c.sigmaT, p.SigmaT)
	c.cells = append(c.cells, float64(p.NBinsL()*p.NBinsT()))
	c.totals.Patches++
	c.totals.ChargeBinned += q
}

// ShouldFlush returns true if the window containing now has ended.
func (c *Collector) ShouldFlush(now float64) bool {
	return c.windowDuration > 0 && c.started && now-c.windowStart >= c.windowDuration
}

// Flush produces a WindowStats and resets counters for the next window.
// pendingDrift and pendingDiffusion are the stage buffer sizes at now.
func (c *Collector) Flush(now float64, pendingDrift, pendingDiffusion int) WindowStats {
	var survival float64
	if c.chargeSource != 0 {
		survival = c.chargeDrifted / c.chargeSource
	}

	dtMean, _, dtP50, dtP90 := ComputeStats(c.driftTimes)
	slMean, slStd := ComputeSpread(c.sigmaL)
	stMean, stStd := ComputeSpread(c.sigmaT)
	cellsMean, cellsP10, cellsP50, cellsP90 := ComputeStats(c.cells)

	stats := WindowStats{
		WindowStart: c.windowStart,
		WindowEnd:   now,

		Inserted: c.inserted,
		Dropped:  c.dropped,
		Drifted:  c.drifted,
		Patches:  c.patches,

		PendingDrift:     pendingDrift,
		PendingDiffusion: pendingDiffusion,

		ChargeIn:      c.chargeIn,
		ChargeDropped: c.chargeDropped,
		ChargeDrifted: c.chargeDrifted,
		ChargeBinned:  c.chargeBinned,
		Survival:      survival,

		DriftTimeMean: dtMean,
		DriftTimeP50:  dtP50,
		DriftTimeP90:  dtP90,

		SigmaLMean: slMean,
		SigmaLStd:  slStd,
		SigmaTMean: stMean,
		SigmaTStd:  stStd,
		CellsMean:  cellsMean,
		CellsP10:   cellsP10,
		CellsP50:   cellsP50,
		CellsP90:   cellsP90,
	}

	// Reset for next window
	c.windowStart = now
	c.inserted = 0
	c.dropped = 0
	c.drifted = 0
	c.patches = 0
	c.chargeIn = 0
	c.chargeDropped = 0
	c.chargeSource = 0
	c.chargeDrifted = 0
	c.chargeBinned = 0
	c.driftTimes = c.driftTimes[:0]
	c.sigmaL = c.sigmaL[:0]
	c.sigmaT = c.sigmaT[:0]
	c.cells = c.cells[:0]

	return stats
}

// Totals returns the run totals accumulated so far.
func (c *Collector) Totals() RunStats {
	return c.totals
}

// WindowDuration returns the window length in simulated time.
func (c *Collector) WindowDuration() float64 {
	return c.windowDuration
}

// ChargeBalance returns the relative difference between binned and drifted charge
// over the run. Truncation of patch tails makes it slightly negative.
func (c *Collector) ChargeBalance() float64 {
	if c.totals.ChargeDrifted == 0 {
		return 0
	}
	return (c.totals.ChargeBinned - c.totals.ChargeDrifted) / c.totals.ChargeDrifted
}
