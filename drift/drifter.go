// Package drift transports depositions through bounded drift regions to their
// sensing boundary. Transport grows the diffusion extent, applies electron
// absorption and optionally fluctuates the surviving charge. Output leaves in
// non-decreasing arrival time.
package drift

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/ordering"
	"github.com/pthm-cable/driftsim/random"
	"github.com/pthm-cable/driftsim/region"
)

// pending is a buffered deposition keyed by its arrival time at the anode.
type pending struct {
	depo    *depo.Deposition
	arrival float64
}

func arrivalKey(p pending) float64 { return p.arrival }

// Drifter is the drift transport stage. It is not safe for concurrent use.
type Drifter struct {
	params  Params
	table   *region.Table
	buffers []*ordering.Buffer[pending]

	rng     random.Source
	fluct   Fluctuation
	history *depo.History
	logger  *slog.Logger

	dropped int
	drifted int
}

// Option customises a Drifter.
type Option func(*Drifter)

// WithHistory records every transported input in h so outputs carry resolvable
// prior-links.
func WithHistory(h *depo.History) Option {
	return func(d *Drifter) { d.history = h }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Drifter) { d.logger = l }
}

// WithFluctuation sets the model used when Params.Fluctuate is on. The default is
// Binomial.
func WithFluctuation(f Fluctuation) Option {
	return func(d *Drifter) { d.fluct = f }
}

// New creates a Drifter.
func New(p Params, rng random.Source, opts ...Option) (*Drifter, error) {
	d := &Drifter{
		rng:    rng,
		fluct:  Binomial{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.fluct == nil {
		d.fluct = Binomial{}
	}
	if err := d.Configure(p); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure replaces the parameters. On error the previous configuration is kept.
// A successful reconfiguration discards any buffered depositions.
func (d *Drifter) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("configure drift: %w", err)
	}
	table, err := region.NewTable(p.Regions)
	if err != nil {
		return fmt.Errorf("configure drift: %w", err)
	}
	if p.Fluctuate && d.rng == nil {
		return fmt.Errorf("configure drift: %w", ErrNoRandom)
	}

	if n := d.Pending(); n > 0 {
		d.logger.Warn("drift reconfigured with buffered depositions", "discarded", n)
	}
	d.params = p
	d.table = table
	d.buffers = make([]*ordering.Buffer[pending], table.Len())
	for i := range d.buffers {
		d.buffers[i] = ordering.New(arrivalKey)
	}

	d.logger.Debug("drift configured",
		"regions", table.Len(),
		"speed", p.Speed,
		"dl", p.DL,
		"dt", p.DT,
		"lifetime", p.Lifetime,
		"fluctuate", p.Fluctuate,
		"max_drift_time", d.MaxDriftTime(),
	)
	return nil
}

// Params returns the active configuration.
func (d *Drifter) Params() Params { return d.params }

// ProperTime returns the time at which d reaches the anode of region i.
func (d *Drifter) ProperTime(dep *depo.Deposition, i int) float64 {
	r := d.table.At(i)
	return dep.Time() + r.DriftDistance(dep.Pos().X)/d.params.Speed
}

// Insert buffers dep in the region containing it. A deposition outside every
// region is dropped and Insert returns false. A nil dep is not counted and is
// not buffered; end of stream goes through Process or Flush.
func (d *Drifter) Insert(dep *depo.Deposition) bool {
	if dep == nil {
		return false
	}
	i, ok := d.table.Locate(dep.Pos().X)
	if !ok {
		d.dropped++
		d.logger.Debug("deposition outside drift regions", "depo", dep)
		return false
	}
	d.buffers[i].Push(pending{depo: dep, arrival: d.ProperTime(dep, i)})
	return true
}

// Transport drifts dep through region i to its anode.
func (d *Drifter) Transport(dep *depo.Deposition, i int) (*depo.Deposition, error) {
	r := d.table.At(i)
	dx := r.DriftDistance(dep.Pos().X)
	dt := dx / d.params.Speed

	sigmaL := math.Sqrt(dep.ExtentL()*dep.ExtentL() + 2*d.params.DL*dt)
	sigmaT := math.Sqrt(dep.ExtentT()*dep.ExtentT() + 2*d.params.DT*dt)

	p := d.params.Survival(dt)
	q := dep.Charge() * p
	if d.params.Fluctuate {
		var err error
		q, err = d.fluct.Survive(dep.Charge(), p, d.rng)
		if err != nil {
			return nil, fmt.Errorf("transport %v: %w", dep, err)
		}
	}

	pos := dep.Pos()
	pos.X = r.Anode
	prior := d.history.Record(dep)
	return depo.Derive(dep.Time()+dt, pos, q, sigmaL, sigmaT, prior), nil
}

// FlushRipe transports and returns every buffered deposition whose arrival time
// is at or before now minus the ripe margin, in arrival order.
//
// Inputs must be inserted in non-decreasing time. Since drift only adds time, no
// later input can arrive before now, so the returned batch never precedes a
// later one.
func (d *Drifter) FlushRipe(now float64) ([]*depo.Deposition, error) {
	return d.release(now - d.params.RipeMargin)
}

// Flush transports and returns everything buffered, in arrival order.
func (d *Drifter) Flush() ([]*depo.Deposition, error) {
	out, err := d.release(math.Inf(1))
	if err == nil && len(out) > 0 {
		d.logger.Debug("drift flushed", "released", len(out), "dropped", d.dropped)
	}
	return out, err
}

func (d *Drifter) release(watermark float64) ([]*depo.Deposition, error) {
	var out []*depo.Deposition
	for i, buf := range d.buffers {
		for {
			pd, ok := buf.PopReady(watermark)
			if !ok {
				break
			}
			moved, err := d.Transport(pd.depo, i)
			if err != nil {
				return nil, err
			}
			out = append(out, moved)
			d.drifted++
		}
	}
	// Each region's batch is already ordered; merge them.
	if len(d.buffers) > 1 {
		sort.SliceStable(out, func(a, b int) bool {
			return out[a].Time() < out[b].Time()
		})
	}
	return out, nil
}

// Process inserts dep and returns whatever became ripe. A nil dep marks the end of
// the stream: everything is flushed and the returned slice ends with nil.
func (d *Drifter) Process(dep *depo.Deposition) ([]*depo.Deposition, error) {
	if dep == nil {
		out, err := d.Flush()
		if err != nil {
			return nil, err
		}
		return append(out, nil), nil
	}
	d.Insert(dep)
	return d.FlushRipe(dep.Time())
}

// Reset discards buffered depositions and zeroes the counters.
func (d *Drifter) Reset() {
	for _, buf := range d.buffers {
		buf.Reset()
	}
	d.dropped = 0
	d.drifted = 0
}

// Dropped returns the number of depositions that fell outside every region.
func (d *Drifter) Dropped() int { return d.dropped }

// Drifted returns the number of depositions transported.
func (d *Drifter) Drifted() int { return d.drifted }

// Pending returns the number of buffered depositions.
func (d *Drifter) Pending() int {
	n := 0
	for _, buf := range d.buffers {
		n += buf.Len()
	}
	return n
}

// Buffered returns the depositions awaiting transport, in arrival order per
// region.
func (d *Drifter) Buffered() []*depo.Deposition {
	var out []*depo.Deposition
	for _, buf := range d.buffers {
		for _, p := range buf.Items() {
			out = append(out, p.depo)
		}
	}
	return out
}

// MaxDriftTime returns the longest possible drift time across the regions.
func (d *Drifter) MaxDriftTime() float64 {
	if d.table == nil || d.params.Speed <= 0 {
		return 0
	}
	return d.table.MaxLength() / d.params.Speed
}
