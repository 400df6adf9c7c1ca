// Package diffusion turns drifted depositions into binned Gaussian charge patches
// over a time by pitch grid and releases them in order of their leading edge.
package diffusion

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/geometry"
	"github.com/pthm-cable/driftsim/kernel"
	"github.com/pthm-cable/driftsim/ordering"
)

// Status is the outcome of Extract.
type Status int

const (
	Pending     Status = iota // nothing can be released yet
	Ready                     // a patch was returned
	EndOfStream               // the stream ended and the buffer is empty
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case EndOfStream:
		return "end-of-stream"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Binner is the diffusion stage. It is not safe for concurrent use.
type Binner struct {
	params Params
	pitch  geometry.Ray

	buffer    *ordering.Buffer[*Patch]
	watermark float64
	ended     bool

	history *depo.History
	logger  *slog.Logger

	inserted  int
	extracted int
}

// Option customises a Binner.
type Option func(*Binner)

// WithHistory lets depositions without extents derive their sigma from the drift
// time recorded along their prior chain.
func WithHistory(h *depo.History) Option {
	return func(b *Binner) { b.history = h }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Binner) { b.logger = l }
}

// New creates a Binner projecting transverse positions onto pitch.
func New(p Params, pitch geometry.PitchSource, opts ...Option) (*Binner, error) {
	b := &Binner{
		pitch:     pitch.PitchRay(),
		buffer:    ordering.New((*Patch).LBegin),
		watermark: math.Inf(-1),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if err := b.Configure(p); err != nil {
		return nil, err
	}
	return b, nil
}

// Configure replaces the parameters. On error the previous configuration is kept.
// Already buffered patches are not rebinned.
func (b *Binner) Configure(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("configure diffusion: %w", err)
	}
	b.params = p
	b.logger.Debug("diffusion configured",
		"bin_l", p.BinSizeL,
		"bin_t", p.BinSizeT,
		"nsigma", p.NSigma,
		"max_sigma_l", p.MaxSigmaL,
	)
	return nil
}

// Params returns the active configuration.
func (b *Binner) Params() Params { return b.params }

// Diffuse bins a Gaussian of the given means and sigmas, scaled to weight, onto the
// configured grid. The result's Grid sums to weight less the truncated tails.
func (b *Binner) Diffuse(meanL, meanT, sigmaL, sigmaT, weight float64, src *depo.Deposition) (*Patch, error) {
	p := b.params
	lr, err := kernel.Bounds(meanL, sigmaL, p.BinSizeL, p.OriginL, p.NSigma)
	if err != nil {
		return nil, fmt.Errorf("longitudinal bounds: %w", err)
	}
	tr, err := kernel.Bounds(meanT, sigmaT, p.BinSizeT, p.OriginT, p.NSigma)
	if err != nil {
		return nil, fmt.Errorf("transverse bounds: %w", err)
	}

	pl := kernel.Profile(meanL, sigmaL, p.BinSizeL, lr)
	pt := kernel.Profile(meanT, sigmaT, p.BinSizeT, tr)

	grid := mat.NewDense(len(pl), len(pt), nil)
	grid.Outer(weight, mat.NewVecDense(len(pl), pl), mat.NewVecDense(len(pt), pt))

	return &Patch{
		Depo:     src,
		MeanL:    meanL,
		SigmaL:   sigmaL,
		MeanT:    meanT,
		SigmaT:   sigmaT,
		LRange:   lr,
		TRange:   tr,
		BinSizeL: p.BinSizeL,
		BinSizeT: p.BinSizeT,
		Grid:     grid,
	}, nil
}

// Sigmas returns the longitudinal (time) and transverse (length) sigma for d.
// Extents carried by d take precedence, then the drift time of its history chain,
// then the fixed configuration. The longitudinal sigma never exceeds MaxSigmaL.
func (b *Binner) Sigmas(d *depo.Deposition) (sigmaL, sigmaT float64) {
	p := b.params
	switch {
	case d.HasExtent():
		sigmaL = d.ExtentL() / p.Speed
		sigmaT = d.ExtentT()
	case b.history.DriftTime(d) > 0:
		t := b.history.DriftTime(d)
		sigmaL = math.Sqrt(2*p.DL*t) / p.Speed
		sigmaT = math.Sqrt(2 * p.DT * t)
	default:
		sigmaL = p.FixedSigmaL
		sigmaT = p.FixedSigmaT
	}
	return math.Min(sigmaL, p.MaxSigmaL), sigmaT
}

// Insert diffuses d and buffers the patch. A nil d marks the end of the stream,
// after which every buffered patch becomes extractable.
func (b *Binner) Insert(d *depo.Deposition) error {
	if b.ended {
		return ErrEndOfData
	}
	if d == nil {
		b.ended = true
		b.watermark = math.Inf(1)
		return nil
	}

	p := b.params
	meanL := d.Time() + p.TimeOffset
	meanT := b.pitch.Project(d.Pos())
	sigmaL, sigmaT := b.Sigmas(d)

	patch, err := b.Diffuse(meanL, meanT, sigmaL, sigmaT, d.Charge(), d)
	if err != nil {
		return fmt.Errorf("diffuse %v: %w", d, err)
	}
	b.buffer.Push(patch)
	b.inserted++

	// No later deposition can start before this.
	b.watermark = math.Max(b.watermark, meanL-p.NSigma*p.MaxSigmaL-p.BinSizeL)
	return nil
}

// Extract returns the earliest buffered patch once nothing still to come can start
// before it.
func (b *Binner) Extract() (*Patch, Status) {
	if patch, ok := b.buffer.PopReady(b.watermark); ok {
		b.extracted++
		return patch, Ready
	}
	if b.ended && b.buffer.Len() == 0 {
		return nil, EndOfStream
	}
	return nil, Pending
}

// Flush returns every buffered patch in order of leading edge and empties the
// buffer. It does not end the stream: the binner keeps accepting depositions and
// Extract reports Pending, not EndOfStream, until Insert(nil).
func (b *Binner) Flush() []*Patch {
	out := b.buffer.Drain()
	b.extracted += len(out)
	return out
}

// Reset discards buffered patches, clears the end-of-stream mark and zeroes the
// counters.
func (b *Binner) Reset() {
	b.buffer.Reset()
	b.watermark = math.Inf(-1)
	b.ended = false
	b.inserted = 0
	b.extracted = 0
}

// Inserted returns the number of patches produced.
func (b *Binner) Inserted() int { return b.inserted }

// Extracted returns the number of patches released by Extract or Flush.
func (b *Binner) Extracted() int { return b.extracted }

// Pending returns the number of buffered patches.
func (b *Binner) Pending() int { return b.buffer.Len() }

// Watermark returns the leading edge at or below which patches are releasable.
func (b *Binner) Watermark() float64 { return b.watermark }
