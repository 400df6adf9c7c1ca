package diffusion

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/geometry"
	"github.com/pthm-cable/driftsim/units"
	"gonum.org/v1/gonum/spatial/r3"
)

// zPitch projects onto Z.
var zPitch = geometry.Ray{Direction: r3.Vec{Z: 1}}

func mustBinner(t *testing.T, p Params, opts ...Option) *Binner {
	t.Helper()
	b, err := New(p, zPitch, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestDiffuseConservesCharge(t *testing.T) {
	p := DefaultParams()
	p.NSigma = 10
	b := mustBinner(t, p)

	tests := []struct {
		name          string
		meanL, sigmaL float64
		meanT, sigmaT float64
		weight        float64
		wantL, wantT  int // expected bin counts, 0 to skip
	}{
		{"typical", 12.3 * units.US, 1.1 * units.US, 7.4, 1.6, 1000, 0, 0},
		{"narrow", 3 * units.US, 0.01 * units.US, 0.2, 0.05, 250, 0, 0},
		{"point", 1.2 * units.US, 0, 1.5, 0, 42, 1, 1},
		{"negative weight", 5 * units.US, 2 * units.US, -9, 3, -300, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := b.Diffuse(tt.meanL, tt.meanT, tt.sigmaL, tt.sigmaT, tt.weight, nil)
			if err != nil {
				t.Fatal(err)
			}
			if got := patch.Charge(); math.Abs(got-tt.weight) > 1e-6*math.Abs(tt.weight) {
				t.Errorf("charge = %v, want %v", got, tt.weight)
			}
			if tt.wantL > 0 && patch.NBinsL() != tt.wantL {
				t.Errorf("NBinsL = %d, want %d", patch.NBinsL(), tt.wantL)
			}
			if tt.wantT > 0 && patch.NBinsT() != tt.wantT {
				t.Errorf("NBinsT = %d, want %d", patch.NBinsT(), tt.wantT)
			}
		})
	}
}

func TestPatchCentroid(t *testing.T) {
	p := DefaultParams()
	p.NSigma = 8
	b := mustBinner(t, p)

	// Means on bin centers give a symmetric grid.
	meanL, meanT := 10.25*units.US, 4.5
	patch, err := b.Diffuse(meanL, meanT, 2*units.US, 6, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	l, tr := patch.Mean()
	if math.Abs(l-meanL) > 1e-6 || math.Abs(tr-meanT) > 1e-9 {
		t.Errorf("centroid = (%v, %v), want (%v, %v)", l, tr, meanL, meanT)
	}
	if patch.LBegin() > meanL-8*2*units.US {
		t.Errorf("leading edge %v inside the truncation window", patch.LBegin())
	}
	if c := patch.BinCenterL(0); c != patch.LRange.Low+0.5*p.BinSizeL {
		t.Errorf("BinCenterL(0) = %v", c)
	}
	if patch.Cell(0, 0) >= patch.Cell(patch.NBinsL()/2, patch.NBinsT()/2) {
		t.Error("corner cell should hold less charge than the center")
	}
}

func TestSigmas(t *testing.T) {
	p := DefaultParams()
	p.FixedSigmaL = 0.7 * units.US
	p.FixedSigmaT = 0.4
	p.MaxSigmaL = 2 * units.US

	h := depo.NewHistory(0)
	b := mustBinner(t, p, WithHistory(h))

	orig := depo.New(0, depo.Point{X: 80}, 1)
	drifted := depo.Derive(40*units.US, depo.Point{X: 16}, 1, 0, 0, h.Record(orig))

	tests := []struct {
		name  string
		d     *depo.Deposition
		wantL float64
		wantT float64
	}{
		{
			"carried extent",
			depo.Derive(0, depo.Point{}, 1, 0.8, 0.3, depo.Ref{}),
			0.8 / p.Speed, 0.3,
		},
		{
			"history drift time",
			drifted,
			math.Sqrt(2*p.DL*40*units.US) / p.Speed, math.Sqrt(2 * p.DT * 40 * units.US),
		},
		{
			"fixed",
			depo.New(0, depo.Point{}, 1),
			0.7 * units.US, 0.4,
		},
		{
			"clipped",
			depo.Derive(0, depo.Point{}, 1, 100, 0.3, depo.Ref{}),
			2 * units.US, 0.3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, tr := b.Sigmas(tt.d)
			if math.Abs(l-tt.wantL) > 1e-9 || math.Abs(tr-tt.wantT) > 1e-12 {
				t.Errorf("Sigmas = (%v, %v), want (%v, %v)", l, tr, tt.wantL, tt.wantT)
			}
		})
	}
}

func TestExtractStatus(t *testing.T) {
	b := mustBinner(t, DefaultParams())

	if _, st := b.Extract(); st != Pending {
		t.Fatalf("empty binner status = %v, want pending", st)
	}

	if err := b.Insert(depo.New(0, depo.Point{Z: 1}, 10)); err != nil {
		t.Fatal(err)
	}
	if _, st := b.Extract(); st != Pending {
		t.Fatalf("status = %v, want pending while later depositions may start earlier", st)
	}

	if err := b.Insert(depo.New(100*units.US, depo.Point{Z: 1}, 20)); err != nil {
		t.Fatal(err)
	}
	patch, st := b.Extract()
	if st != Ready || patch.Depo.Charge() != 10 {
		t.Fatalf("expected the first patch to be ready, got %v", st)
	}
	if _, st := b.Extract(); st != Pending {
		t.Fatalf("status = %v, want pending", st)
	}

	if err := b.Insert(nil); err != nil {
		t.Fatal(err)
	}
	patch, st = b.Extract()
	if st != Ready || patch.Depo.Charge() != 20 {
		t.Fatalf("expected the second patch after end of stream, got %v", st)
	}
	if _, st := b.Extract(); st != EndOfStream {
		t.Fatalf("status = %v, want end-of-stream", st)
	}
	if err := b.Insert(depo.New(200*units.US, depo.Point{}, 1)); !errors.Is(err, ErrEndOfData) {
		t.Errorf("got error %v, want %v", err, ErrEndOfData)
	}
	if b.Inserted() != 2 || b.Extracted() != 2 {
		t.Errorf("inserted %d extracted %d, want 2 and 2", b.Inserted(), b.Extracted())
	}

	b.Reset()
	if err := b.Insert(depo.New(0, depo.Point{}, 1)); err != nil {
		t.Errorf("Insert after Reset: %v", err)
	}
}

func TestFlushDrainsInOrder(t *testing.T) {
	b := mustBinner(t, DefaultParams())

	for _, tm := range []float64{5, 1, 3} {
		if err := b.Insert(depo.New(tm*units.US, depo.Point{}, tm)); err != nil {
			t.Fatal(err)
		}
	}
	out := b.Flush()
	if len(out) != 3 {
		t.Fatalf("expected 3 patches, got %d", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].LBegin() < out[i-1].LBegin() {
			t.Errorf("flush not ordered at %d", i)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("Pending = %d after flush", b.Pending())
	}
	if _, st := b.Extract(); st != Pending {
		t.Errorf("status after flush = %v, want pending", st)
	}

	// Still open for input after a flush.
	if err := b.Insert(depo.New(7*units.US, depo.Point{}, 7)); err != nil {
		t.Fatalf("Insert after flush: %v", err)
	}
	if err := b.Insert(nil); err != nil {
		t.Fatal(err)
	}
	if p, st := b.Extract(); st != Ready || p.Charge() <= 0 {
		t.Errorf("status after end of stream = %v, want ready with the late patch", st)
	}
	if _, st := b.Extract(); st != EndOfStream {
		t.Errorf("status after flush and end of stream = %v, want end-of-stream", st)
	}
}

func TestStreamIsMonotonic(t *testing.T) {
	p := DefaultParams()
	b := mustBinner(t, p)
	rng := rand.New(rand.NewPCG(3, 4))

	var out []*Patch
	drain := func() {
		for {
			patch, st := b.Extract()
			if st != Ready {
				return
			}
			out = append(out, patch)
		}
	}

	now := 0.0
	const n = 2000
	for i := 0; i < n; i++ {
		now += rng.Float64() * units.US
		// Extents up to twice the clip so some sigmas saturate.
		extL := rng.Float64() * 2 * p.MaxSigmaL * p.Speed
		d := depo.Derive(now, depo.Point{Z: rng.Float64() * 100}, 100, extL, rng.Float64(), depo.Ref{})
		if err := b.Insert(d); err != nil {
			t.Fatal(err)
		}
		drain()
	}
	b.Insert(nil)
	drain()

	if len(out) != n {
		t.Fatalf("extracted %d patches, want %d", len(out), n)
	}
	for i := 1; i < len(out); i++ {
		if out[i].LBegin() < out[i-1].LBegin() {
			t.Fatalf("patches not monotonic at %d: %v < %v", i, out[i].LBegin(), out[i-1].LBegin())
		}
	}
}

func TestTransverseProjection(t *testing.T) {
	plane := geometry.WirePlane{Angle: math.Pi / 3, Pitch: 5}
	b, err := New(DefaultParams(), plane)
	if err != nil {
		t.Fatal(err)
	}
	d := depo.New(0, depo.Point{Y: 10, Z: 20}, 1)
	if err := b.Insert(d); err != nil {
		t.Fatal(err)
	}
	patch := b.Flush()[0]
	want := plane.PitchRay().Project(d.Pos())
	if patch.MeanT != want {
		t.Errorf("MeanT = %v, want %v", patch.MeanT, want)
	}
	if !patch.TRange.Contains(want) {
		t.Errorf("transverse range %+v does not contain %v", patch.TRange, want)
	}
}

func TestConfigure(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
		want   error
	}{
		{"zero time bin", func(p *Params) { p.BinSizeL = 0 }, ErrBinSize},
		{"negative pitch bin", func(p *Params) { p.BinSizeT = -1 }, ErrBinSize},
		{"zero nsigma", func(p *Params) { p.NSigma = 0 }, ErrNSigma},
		{"zero speed", func(p *Params) { p.Speed = 0 }, ErrSpeed},
		{"zero max sigma", func(p *Params) { p.MaxSigmaL = 0 }, ErrMaxSigma},
		{"negative fixed sigma", func(p *Params) { p.FixedSigmaT = -1 }, ErrSigma},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustBinner(t, DefaultParams())
			bad := DefaultParams()
			tt.modify(&bad)
			if err := b.Configure(bad); !errors.Is(err, tt.want) {
				t.Errorf("got error %v, want %v", err, tt.want)
			}
			if b.Params() != DefaultParams() {
				t.Error("failed Configure should keep the previous parameters")
			}
		})
	}
}

func TestPatchVariance(t *testing.T) {
	p := DefaultParams()
	p.NSigma = 8
	b := mustBinner(t, p)

	sigmaL, sigmaT := 2*units.US, 6.0
	patch, err := b.Diffuse(10*units.US, 4.5, sigmaL, sigmaT, 100, nil)
	if err != nil {
		t.Fatal(err)
	}

	ml, mt := patch.Marginals()
	if len(ml) != patch.NBinsL() || len(mt) != patch.NBinsT() {
		t.Fatalf("marginal sizes %d, %d for a %dx%d grid", len(ml), len(mt), patch.NBinsL(), patch.NBinsT())
	}

	// Binning adds binsize²/12 to the variance of a well-sampled Gaussian.
	vl, vt := patch.Variance()
	wantL := sigmaL*sigmaL + p.BinSizeL*p.BinSizeL/12
	wantT := sigmaT*sigmaT + p.BinSizeT*p.BinSizeT/12
	if math.Abs(vl-wantL) > 0.01*wantL {
		t.Errorf("longitudinal variance = %v, want %v", vl, wantL)
	}
	if math.Abs(vt-wantT) > 0.01*wantT {
		t.Errorf("transverse variance = %v, want %v", vt, wantT)
	}
}
