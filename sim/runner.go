// Package sim drives one synchronous chain of source, drift transport and
// diffusion binning, feeding telemetry and an output sink.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/diffusion"
	"github.com/pthm-cable/driftsim/drift"
	"github.com/pthm-cable/driftsim/source"
	"github.com/pthm-cable/driftsim/telemetry"
)

// ErrOutOfOrder reports a stage output earlier than one already emitted.
var ErrOutOfOrder = errors.New("sim: output out of order")

// Sink receives drifted depositions and released patches in order.
type Sink interface {
	Deposition(*depo.Deposition) error
	Patch(*diffusion.Patch) error
}

// Collect is a Sink that keeps everything in memory.
type Collect struct {
	Depos   []*depo.Deposition
	Patches []*diffusion.Patch
}

// Deposition implements Sink.
func (c *Collect) Deposition(d *depo.Deposition) error {
	c.Depos = append(c.Depos, d)
	return nil
}

// Patch implements Sink.
func (c *Collect) Patch(p *diffusion.Patch) error {
	c.Patches = append(c.Patches, p)
	return nil
}

// Runner pulls depositions from a source through the drift and diffusion stages.
// It is not safe for concurrent use.
type Runner struct {
	source  source.Source
	drifter *drift.Drifter
	binner  *diffusion.Binner

	history   *depo.History
	sink      Sink
	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	bookmarks *telemetry.BookmarkDetector
	logger    *slog.Logger

	onWindow   func(telemetry.WindowStats)
	onBookmark func(telemetry.Bookmark)

	now       float64
	lastDepo  float64
	lastPatch float64
	steps     int
	done      bool
}

// Option customises a Runner.
type Option func(*Runner)

// WithSink sets where outputs go. The default discards them.
func WithSink(s Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithHistory resolves prior-links for telemetry. Pass the history given to the
// drifter.
func WithHistory(h *depo.History) Option {
	return func(r *Runner) { r.history = h }
}

// WithCollector sets the telemetry collector. The default never flushes windows.
func WithCollector(c *telemetry.Collector) Option {
	return func(r *Runner) { r.collector = c }
}

// WithPerf enables phase timing.
func WithPerf(p *telemetry.PerfCollector) Option {
	return func(r *Runner) { r.perf = p }
}

// WithBookmarks runs the detector on every flushed window.
func WithBookmarks(b *telemetry.BookmarkDetector) Option {
	return func(r *Runner) { r.bookmarks = b }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// OnWindow is called with every flushed stats window.
func OnWindow(fn func(telemetry.WindowStats)) Option {
	return func(r *Runner) { r.onWindow = fn }
}

// OnBookmark is called with every bookmark the detector raises.
func OnBookmark(fn func(telemetry.Bookmark)) Option {
	return func(r *Runner) { r.onBookmark = fn }
}

// New creates a Runner over configured stages.
func New(src source.Source, d *drift.Drifter, b *diffusion.Binner, opts ...Option) *Runner {
	r := &Runner{
		source:    src,
		drifter:   d,
		binner:    b,
		sink:      discard{},
		collector: telemetry.NewCollector(0),
		logger:    slog.Default(),
		lastDepo:  math.Inf(-1),
		lastPatch: math.Inf(-1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

type discard struct{}

func (discard) Deposition(*depo.Deposition) error { return nil }
func (discard) Patch(*diffusion.Patch) error      { return nil }

// Step moves one source deposition (or the end of stream) through the chain.
// It returns false once the end of stream has been fully extracted.
func (r *Runner) Step() (bool, error) {
	if r.done {
		return false, nil
	}
	r.startStep()
	defer r.endStep()

	r.phase(telemetry.PhaseSource)
	d := r.source.Next()
	if d != nil {
		r.now = d.Time()
		r.collector.RecordInsert(d)
	}

	r.phase(telemetry.PhaseDrift)
	dropped := r.drifter.Dropped()
	outs, err := r.drifter.Process(d)
	if err != nil {
		return false, fmt.Errorf("drift: %w", err)
	}
	if d != nil && r.drifter.Dropped() > dropped {
		r.collector.RecordDrop(d)
	}

	for _, out := range outs {
		if err := r.deposition(out); err != nil {
			return false, err
		}
	}

	r.phase(telemetry.PhaseOutput)
	if err := r.extract(); err != nil {
		return false, err
	}

	r.phase(telemetry.PhaseTelemetry)
	r.steps++
	if r.done {
		r.flushWindow(math.Max(r.now, r.lastDepo))
		r.logger.Debug("end of stream", "steps", r.steps, "patches", r.binner.Extracted())
	} else if r.collector.ShouldFlush(r.now) {
		r.flushWindow(r.now)
	}
	return true, nil
}

// deposition forwards one drift output (nil at end of stream) to the sink and
// the binner.
func (r *Runner) deposition(out *depo.Deposition) error {
	if out != nil {
		if out.Time() < r.lastDepo {
			return fmt.Errorf("%w: deposition at %v after %v", ErrOutOfOrder, out.Time(), r.lastDepo)
		}
		r.lastDepo = out.Time()

		before, driftTime := out.Charge(), 0.0
		if prior, ok := r.history.Lookup(out.Prior()); ok {
			before = prior.Charge()
			driftTime = out.Time() - prior.Time()
		}
		r.collector.RecordDrift(out, driftTime, before)

		r.phase(telemetry.PhaseOutput)
		if err := r.sink.Deposition(out); err != nil {
			return fmt.Errorf("sink deposition: %w", err)
		}
	}

	r.phase(telemetry.PhaseDiffuse)
	if err := r.binner.Insert(out); err != nil {
		return fmt.Errorf("diffusion: %w", err)
	}
	return nil
}

// extract releases every patch the binner can guarantee is in order.
func (r *Runner) extract() error {
	for {
		p, status := r.binner.Extract()
		switch status {
		case diffusion.EndOfStream:
			r.done = true
			return nil
		case diffusion.Pending:
			return nil
		}
		if p.LBegin() < r.lastPatch {
			return fmt.Errorf("%w: patch at %v after %v", ErrOutOfOrder, p.LBegin(), r.lastPatch)
		}
		r.lastPatch = p.LBegin()
		r.collector.RecordPatch(p)
		if err := r.sink.Patch(p); err != nil {
			return fmt.Errorf("sink patch: %w", err)
		}
	}
}

func (r *Runner) flushWindow(now float64) {
	stats := r.collector.Flush(now, r.drifter.Pending(), r.binner.Pending())
	r.logger.Debug("window", "stats", stats)
	if r.onWindow != nil {
		r.onWindow(stats)
	}
	if r.bookmarks == nil {
		return
	}
	for _, bm := range r.bookmarks.Check(stats) {
		if r.onBookmark != nil {
			r.onBookmark(bm)
		}
	}
}

// Run steps until the source is exhausted and every patch extracted, or ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) (telemetry.RunStats, error) {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return r.totals(start), err
		}
		more, err := r.Step()
		if err != nil {
			return r.totals(start), err
		}
		if !more {
			break
		}
	}
	stats := r.totals(start)
	r.logger.Info("run complete", "stats", stats, "charge_balance", r.collector.ChargeBalance())
	return stats, nil
}

func (r *Runner) totals(start time.Time) telemetry.RunStats {
	stats := r.collector.Totals()
	stats.WallSeconds = time.Since(start).Seconds()
	return stats
}

func (r *Runner) startStep() {
	if r.perf != nil {
		r.perf.StartStep()
	}
}

func (r *Runner) endStep() {
	if r.perf != nil {
		r.perf.EndStep()
	}
}

func (r *Runner) phase(name string) {
	if r.perf != nil {
		r.perf.StartPhase(name)
	}
}

// Now returns the time of the last deposition read from the source.
func (r *Runner) Now() float64 { return r.now }

// Steps returns the number of completed steps.
func (r *Runner) Steps() int { return r.steps }

// Done reports whether the end of stream has been fully extracted.
func (r *Runner) Done() bool { return r.done }

// Buffered returns the depositions still waiting in the drift stage.
func (r *Runner) Buffered() []*depo.Deposition { return r.drifter.Buffered() }

// Collector returns the telemetry collector.
func (r *Runner) Collector() *telemetry.Collector { return r.collector }
