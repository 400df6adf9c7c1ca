package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/driftsim/config"
	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/diffusion"
	"github.com/pthm-cable/driftsim/drift"
	"github.com/pthm-cable/driftsim/kernel"
	"github.com/pthm-cable/driftsim/random"
	"github.com/pthm-cable/driftsim/sim"
	"github.com/pthm-cable/driftsim/units"
)

// minNSigma keeps truncation from biasing the measured widths.
const minNSigma = 6

// sample is one binned patch and the drift time that produced it.
type sample struct {
	meanL, meanT       float64
	driftTime          float64
	lRange, tRange     kernel.Range
	centersL, centersT []float64
	varL, varT         float64
}

// Dataset holds the patches of one simulated run.
type Dataset struct {
	Seed    uint64
	Samples []sample
}

// Simulate runs the pipeline described by cfg with the given seed and keeps every
// patch whose drift time can be recovered from the history.
func Simulate(ctx context.Context, cfg *config.Config, seed uint64, logger *slog.Logger) (*Dataset, error) {
	rng := random.New(seed)
	history := depo.NewHistory(0)

	drifter, err := drift.New(cfg.DriftParams(), rng,
		drift.WithHistory(history),
		drift.WithFluctuation(cfg.Fluctuation()),
		drift.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	bp := cfg.DiffusionParams()
	bp.NSigma = max(bp.NSigma, minNSigma)
	binner, err := diffusion.New(bp, cfg.Derived.Plane, diffusion.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	src, err := cfg.NewSource(rng)
	if err != nil {
		return nil, err
	}

	out := &sim.Collect{}
	runner := sim.New(src, drifter, binner,
		sim.WithSink(out),
		sim.WithHistory(history),
		sim.WithLogger(logger),
	)
	if _, err := runner.Run(ctx); err != nil {
		return nil, fmt.Errorf("seed %d: %w", seed, err)
	}

	ds := &Dataset{Seed: seed}
	for _, p := range out.Patches {
		dt := history.DriftTime(p.Depo)
		if p.Charge() <= 0 || dt <= 0 {
			continue
		}
		varL, varT := p.Variance()
		ds.Samples = append(ds.Samples, sample{
			meanL:     p.MeanL,
			meanT:     p.MeanT,
			driftTime: dt,
			lRange:    p.LRange,
			tRange:    p.TRange,
			centersL:  diffusion.BinCenters(p.LRange, p.BinSizeL),
			centersT:  diffusion.BinCenters(p.TRange, p.BinSizeT),
			varL:      varL,
			varT:      varT,
		})
	}
	return ds, nil
}

// SimulateSeeds runs one simulation per seed in parallel.
func SimulateSeeds(ctx context.Context, cfg *config.Config, seeds []uint64, logger *slog.Logger) ([]*Dataset, error) {
	datasets := make([]*Dataset, len(seeds))
	errs := make([]error, len(seeds))
	var wg sync.WaitGroup

	for i, seed := range seeds {
		wg.Add(1)
		go func(idx int, s uint64) {
			defer wg.Done()
			datasets[idx], errs[idx] = Simulate(ctx, cfg, s, logger)
		}(i, seed)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return datasets, nil
}

// Evaluator scores candidate diffusion coefficients against measured patch widths.
type Evaluator struct {
	params   *ParamVector
	datasets []*Dataset

	binL, binT float64
	speed      float64
	maxSigmaL  float64

	mu        sync.Mutex
	evals     int
	bestValue float64
	best      []float64
}

// NewEvaluator creates an evaluator for datasets simulated with cfg.
func NewEvaluator(params *ParamVector, cfg *config.Config, datasets []*Dataset) *Evaluator {
	bp := cfg.DiffusionParams()
	return &Evaluator{
		params:    params,
		datasets:  datasets,
		binL:      bp.BinSizeL,
		binT:      bp.BinSizeT,
		speed:     bp.Speed,
		maxSigmaL: bp.MaxSigmaL,
		bestValue: math.Inf(1),
	}
}

// Samples returns the number of patches across all datasets.
func (e *Evaluator) Samples() int {
	n := 0
	for _, ds := range e.datasets {
		n += len(ds.Samples)
	}
	return n
}

// Evaluate returns the mean squared difference between measured and predicted
// patch variances, in units of the bin size squared (lower = better).
// raw holds DL and DT in cm²/s.
func (e *Evaluator) Evaluate(raw []float64) float64 {
	x := e.params.Clamp(raw)
	dl := x[0] * units.CM2PerS
	dt := x[1] * units.CM2PerS

	var chi2 float64
	n := 0
	for _, ds := range e.datasets {
		for _, s := range ds.Samples {
			sigmaL := min(math.Sqrt(2*dl*s.driftTime)/e.speed, e.maxSigmaL)
			sigmaT := math.Sqrt(2 * dt * s.driftTime)

			predL := profileVariance(kernel.Profile(s.meanL, sigmaL, e.binL, s.lRange), s.centersL)
			predT := profileVariance(kernel.Profile(s.meanT, sigmaT, e.binT, s.tRange), s.centersT)

			rl := (s.varL - predL) / (e.binL * e.binL)
			rt := (s.varT - predT) / (e.binT * e.binT)
			chi2 += rl*rl + rt*rt
			n++
		}
	}
	if n == 0 {
		return math.Inf(1)
	}
	value := chi2 / float64(n)

	e.mu.Lock()
	e.evals++
	if value < e.bestValue {
		e.bestValue = value
		e.best = append(e.best[:0], x...)
	}
	e.mu.Unlock()
	return value
}

// Best returns the best parameters seen so far and their objective value.
func (e *Evaluator) Best() ([]float64, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.best...), e.bestValue
}

func profileVariance(profile, centers []float64) float64 {
	if floats.Sum(profile) == 0 {
		return 0
	}
	return stat.PopVariance(centers, profile)
}

// Fit minimises the evaluator objective with Nelder-Mead in the normalized
// parameter space. onEval, if set, sees every evaluation.
func Fit(e *Evaluator, maxEvals int, onEval func(raw []float64, value float64)) ([]float64, float64, error) {
	pv := e.params
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			raw := pv.Clamp(pv.Denormalize(x))
			value := e.Evaluate(raw)
			if onEval != nil {
				onEval(raw, value)
			}
			return value
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-14,
			Iterations: 50,
		},
	}

	_, err := optimize.Minimize(problem, pv.Normalize(pv.DefaultVector()), settings, &optimize.NelderMead{})
	best, value := e.Best()
	if best == nil {
		return nil, math.Inf(1), err
	}
	return best, value, err
}
