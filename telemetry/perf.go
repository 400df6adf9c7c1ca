package telemetry

import (
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Phase names for one pipeline step.
const (
	PhaseSource    = "source"
	PhaseDrift     = "drift"
	PhaseDiffuse   = "diffuse"
	PhaseOutput    = "output"
	PhaseTelemetry = "telemetry"
)

// PerfSample holds timing data for a single step.
type PerfSample struct {
	StepDuration time.Duration
	Phases       map[string]time.Duration
}

// PerfCollector keeps the timings of the most recent steps in a ring buffer.
type PerfCollector struct {
	windowSize    int
	samples       []PerfSample
	writeIndex    int
	sampleCount   int
	currentPhases map[string]time.Duration
	stepStart     time.Time
	phaseStart    time.Time
	lastPhase     string
}

// NewPerfCollector creates a collector averaging over windowSize steps. A
// non-positive size means 1000.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 1000
	}
	return &PerfCollector{
		windowSize:    windowSize,
		samples:       make([]PerfSample, windowSize),
		currentPhases: make(map[string]time.Duration),
	}
}

// StartStep begins timing a new pipeline step.
func (p *PerfCollector) StartStep() {
	p.stepStart = time.Now()
	p.currentPhases = make(map[string]time.Duration)
	p.lastPhase = ""
}

// StartPhase begins timing a specific phase.
func (p *PerfCollector) StartPhase(phase string) {
	now := time.Now()
	// End previous phase if any
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}
	p.phaseStart = now
	p.lastPhase = phase
}

// EndStep finishes timing the current step and records the sample.
func (p *PerfCollector) EndStep() {
	now := time.Now()
	// End final phase
	if p.lastPhase != "" {
		p.currentPhases[p.lastPhase] += now.Sub(p.phaseStart)
	}

	p.add(PerfSample{
		StepDuration: now.Sub(p.stepStart),
		Phases:       p.currentPhases,
	})
}

// add stores s, overwriting the oldest sample once the window is full.
func (p *PerfCollector) add(s PerfSample) {
	p.samples[p.writeIndex] = s
	p.writeIndex = (p.writeIndex + 1) % p.windowSize
	if p.sampleCount < p.windowSize {
		p.sampleCount++
	}
}

// Phases lists the runner phases in pipeline order.
var Phases = []string{PhaseSource, PhaseDrift, PhaseDiffuse, PhaseOutput, PhaseTelemetry}

// PerfStats holds step timing aggregated over the window.
type PerfStats struct {
	Steps int

	AvgStepDuration time.Duration
	P50StepDuration time.Duration
	P90StepDuration time.Duration
	MaxStepDuration time.Duration

	// Mean time per phase and its share of the mean step, in percent.
	PhaseAvg map[string]time.Duration
	PhasePct map[string]float64

	StepsPerSecond float64
}

// Stats aggregates the samples in the window.
func (p *PerfCollector) Stats() PerfStats {
	stats := PerfStats{
		Steps:    p.sampleCount,
		PhaseAvg: make(map[string]time.Duration),
		PhasePct: make(map[string]float64),
	}
	if p.sampleCount == 0 {
		return stats
	}

	steps := make([]float64, p.sampleCount)
	phaseSum := make(map[string]time.Duration)
	for i, s := range p.samples[:p.sampleCount] {
		steps[i] = float64(s.StepDuration)
		for phase, dur := range s.Phases {
			phaseSum[phase] += dur
		}
	}

	mean, _, p50, p90 := ComputeStats(steps)
	stats.AvgStepDuration = time.Duration(mean)
	stats.P50StepDuration = time.Duration(p50)
	stats.P90StepDuration = time.Duration(p90)
	stats.MaxStepDuration = time.Duration(floats.Max(steps))

	for phase, sum := range phaseSum {
		avg := sum / time.Duration(p.sampleCount)
		stats.PhaseAvg[phase] = avg
		if mean > 0 {
			stats.PhasePct[phase] = float64(avg) / mean * 100
		}
	}
	if mean > 0 {
		stats.StepsPerSecond = float64(time.Second) / mean
	}
	return stats
}

// LogStats logs performance statistics.
func (s PerfStats) LogStats() {
	attrs := []any{
		"steps", s.Steps,
		"avg_step_us", s.AvgStepDuration.Microseconds(),
		"p90_step_us", s.P90StepDuration.Microseconds(),
		"max_step_us", s.MaxStepDuration.Microseconds(),
		"steps_per_sec", int(s.StepsPerSecond),
	}
	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok && pct > 0.1 {
			attrs = append(attrs, phase+"_pct", math.Round(pct*10)/10)
		}
	}
	slog.Info("perf", attrs...)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("steps", s.Steps),
		slog.Int64("avg_step_us", s.AvgStepDuration.Microseconds()),
		slog.Int64("p50_step_us", s.P50StepDuration.Microseconds()),
		slog.Int64("p90_step_us", s.P90StepDuration.Microseconds()),
		slog.Int64("max_step_us", s.MaxStepDuration.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
	}
	for _, phase := range Phases {
		if pct, ok := s.PhasePct[phase]; ok {
			attrs = append(attrs, slog.Float64(phase+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	WindowEnd    float64 `csv:"window_end"`
	Steps        int     `csv:"steps"`
	AvgStepUS    int64   `csv:"avg_step_us"`
	P50StepUS    int64   `csv:"p50_step_us"`
	P90StepUS    int64   `csv:"p90_step_us"`
	MaxStepUS    int64   `csv:"max_step_us"`
	StepsPerSec  float64 `csv:"steps_per_sec"`
	SourcePct    float64 `csv:"source_pct"`
	DriftPct     float64 `csv:"drift_pct"`
	DiffusePct   float64 `csv:"diffuse_pct"`
	OutputPct    float64 `csv:"output_pct"`
	TelemetryPct float64 `csv:"telemetry_pct"`
}

// ToCSV flattens s into a perf.csv row for the window ending at windowEnd.
func (s PerfStats) ToCSV(windowEnd float64) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:    windowEnd,
		Steps:        s.Steps,
		AvgStepUS:    s.AvgStepDuration.Microseconds(),
		P50StepUS:    s.P50StepDuration.Microseconds(),
		P90StepUS:    s.P90StepDuration.Microseconds(),
		MaxStepUS:    s.MaxStepDuration.Microseconds(),
		StepsPerSec:  s.StepsPerSecond,
		SourcePct:    s.PhasePct[PhaseSource],
		DriftPct:     s.PhasePct[PhaseDrift],
		DiffusePct:   s.PhasePct[PhaseDiffuse],
		OutputPct:    s.PhasePct[PhaseOutput],
		TelemetryPct: s.PhasePct[PhaseTelemetry],
	}
}
