package sim

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/diffusion"
	"github.com/pthm-cable/driftsim/drift"
	"github.com/pthm-cable/driftsim/geometry"
	"github.com/pthm-cable/driftsim/random"
	"github.com/pthm-cable/driftsim/region"
	"github.com/pthm-cable/driftsim/source"
	"github.com/pthm-cable/driftsim/telemetry"
	"github.com/pthm-cable/driftsim/units"
)

var zPitch = geometry.Ray{Direction: r3.Vec{Z: 1}}

func quietDrift(regions ...region.Region) drift.Params {
	p := drift.DefaultParams()
	p.Lifetime = math.Inf(1)
	p.Fluctuate = false
	p.Regions = regions
	return p
}

type chain struct {
	runner  *Runner
	drifter *drift.Drifter
	binner  *diffusion.Binner
	out     *Collect
}

func newChain(t *testing.T, dp drift.Params, src source.Source, opts ...Option) chain {
	t.Helper()
	history := depo.NewHistory(0)
	d, err := drift.New(dp, random.New(3), drift.WithHistory(history))
	if err != nil {
		t.Fatalf("drift.New: %v", err)
	}
	bp := diffusion.DefaultParams()
	bp.NSigma = 5
	b, err := diffusion.New(bp, zPitch, diffusion.WithHistory(history))
	if err != nil {
		t.Fatalf("diffusion.New: %v", err)
	}
	out := &Collect{}
	opts = append([]Option{WithSink(out), WithHistory(history)}, opts...)
	return chain{runner: New(src, d, b, opts...), drifter: d, binner: b, out: out}
}

func TestSingleDepositionEndToEnd(t *testing.T) {
	dp := quietDrift(region.Region{Anode: 0, Cathode: 100})
	src := source.FromSlice([]*depo.Deposition{depo.New(0, depo.Point{X: 50, Z: 10}, 1000)})
	c := newChain(t, dp, src)

	stats, err := c.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(c.out.Depos) != 1 {
		t.Fatalf("got %d drifted depositions, want 1", len(c.out.Depos))
	}
	got := c.out.Depos[0]
	if want := 50 / dp.Speed; math.Abs(got.Time()-want) > 1e-9 {
		t.Errorf("arrival time = %v, want %v", got.Time(), want)
	}
	if want := math.Sqrt(2 * dp.DL * 50 / dp.Speed); math.Abs(got.ExtentL()-want) > 1e-12 {
		t.Errorf("sigma L = %v, want %v", got.ExtentL(), want)
	}

	if len(c.out.Patches) != 1 {
		t.Fatalf("got %d patches, want 1", len(c.out.Patches))
	}
	if q := c.out.Patches[0].Charge(); math.Abs(q-1000) > 1e-3 {
		t.Errorf("patch charge = %v, want about 1000", q)
	}

	if stats.Inserted != 1 || stats.Drifted != 1 || stats.Patches != 1 || stats.Dropped != 0 {
		t.Errorf("run stats = %+v", stats)
	}
	if !c.runner.Done() {
		t.Error("runner should be done")
	}
	if more, err := c.runner.Step(); more || err != nil {
		t.Errorf("Step after end = (%v, %v), want (false, nil)", more, err)
	}
}

func TestOutputsAreMonotonic(t *testing.T) {
	dp := quietDrift(
		region.Region{Anode: 0, Cathode: 500},
		region.Region{Anode: 1000, Cathode: 510},
	)
	rng := random.New(11)
	blip, err := source.NewBlip(source.Blip{
		Count:    3000,
		TimeStep: source.Scalar{Kind: source.Exponential, Mean: 200 * units.NS},
		Charge:   source.Scalar{Kind: source.Uniform, Min: 100, Max: 5000},
		Position: source.Point{
			Kind: source.Uniform,
			Min:  r3.Vec{X: -50, Y: -100, Z: 0},
			Max:  r3.Vec{X: 1050, Y: 100, Z: 300},
		},
	}, rng)
	if err != nil {
		t.Fatal(err)
	}
	c := newChain(t, dp, blip)

	stats, err := c.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 1; i < len(c.out.Depos); i++ {
		if c.out.Depos[i].Time() < c.out.Depos[i-1].Time() {
			t.Fatalf("deposition %d at %v before %v", i, c.out.Depos[i].Time(), c.out.Depos[i-1].Time())
		}
	}
	for i := 1; i < len(c.out.Patches); i++ {
		if c.out.Patches[i].LBegin() < c.out.Patches[i-1].LBegin() {
			t.Fatalf("patch %d at %v before %v", i, c.out.Patches[i].LBegin(), c.out.Patches[i-1].LBegin())
		}
	}

	if stats.Inserted != 3000 {
		t.Errorf("inserted = %d, want 3000", stats.Inserted)
	}
	if stats.Drifted+stats.Dropped != stats.Inserted {
		t.Errorf("drifted %d + dropped %d != inserted %d", stats.Drifted, stats.Dropped, stats.Inserted)
	}
	if stats.Dropped == 0 {
		t.Error("expected depositions outside both regions to be dropped")
	}
	if stats.Patches != stats.Drifted {
		t.Errorf("patches = %d, want one per drifted deposition (%d)", stats.Patches, stats.Drifted)
	}
	if c.drifter.Pending() != 0 || c.binner.Pending() != 0 {
		t.Errorf("buffers not empty: drift %d, diffusion %d", c.drifter.Pending(), c.binner.Pending())
	}
}

func TestDroppedDepositionNeverReachesSink(t *testing.T) {
	dp := quietDrift(region.Region{Anode: 0, Cathode: 100})
	src := source.FromSlice([]*depo.Deposition{depo.New(0, depo.Point{X: 150}, 1000)})
	c := newChain(t, dp, src)

	stats, err := c.runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Dropped != 1 || len(c.out.Depos) != 0 || len(c.out.Patches) != 0 {
		t.Errorf("dropped = %d, depos = %d, patches = %d", stats.Dropped, len(c.out.Depos), len(c.out.Patches))
	}
}

func TestWindowsCoverTheRun(t *testing.T) {
	dp := quietDrift(region.Region{Anode: 0, Cathode: 100})
	var depos []*depo.Deposition
	for i := range 200 {
		depos = append(depos, depo.New(float64(i)*units.US, depo.Point{X: 10 + float64(i%80)}, 500))
	}

	var windows []telemetry.WindowStats
	c := newChain(t, dp, source.FromSlice(depos),
		WithCollector(telemetry.NewCollector(20*units.US)),
		WithBookmarks(telemetry.NewBookmarkDetector(5)),
		WithPerf(telemetry.NewPerfCollector(50)),
		OnWindow(func(s telemetry.WindowStats) { windows = append(windows, s) }),
	)

	stats, err := c.runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(windows) < 5 {
		t.Fatalf("got %d windows, want at least 5", len(windows))
	}

	var inserted, patches int
	for _, w := range windows {
		inserted += w.Inserted
		patches += w.Patches
		if w.Drifted > 0 && math.Abs(w.Survival-1) > 1e-12 {
			t.Errorf("survival = %v without absorption", w.Survival)
		}
	}
	if inserted != stats.Inserted || patches != stats.Patches {
		t.Errorf("windows sum to %d inserted / %d patches, totals %d / %d",
			inserted, patches, stats.Inserted, stats.Patches)
	}
	if last := windows[len(windows)-1]; last.PendingDrift != 0 || last.PendingDiffusion != 0 {
		t.Errorf("final window reports buffered items: %+v", last)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	dp := quietDrift(region.Region{Anode: 0, Cathode: 100})
	src := source.FromSlice([]*depo.Deposition{depo.New(0, depo.Point{X: 50}, 1)})
	c := newChain(t, dp, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if c.runner.Steps() != 0 {
		t.Errorf("steps = %d after cancel, want 0", c.runner.Steps())
	}
}

type failingSink struct{ err error }

func (f failingSink) Deposition(*depo.Deposition) error { return f.err }
func (f failingSink) Patch(*diffusion.Patch) error      { return f.err }

func TestSinkErrorStopsRun(t *testing.T) {
	dp := quietDrift(region.Region{Anode: 0, Cathode: 100})
	src := source.FromSlice([]*depo.Deposition{depo.New(0, depo.Point{X: 50}, 1)})
	boom := errors.New("disk full")
	c := newChain(t, dp, src, WithSink(failingSink{err: boom}))

	if _, err := c.runner.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("got %v, want %v", err, boom)
	}
}
