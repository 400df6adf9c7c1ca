package telemetry

import (
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func steps(pc *PerfCollector, durations ...time.Duration) {
	for _, d := range durations {
		pc.add(PerfSample{StepDuration: d})
	}
}

func near(a, b time.Duration) bool {
	d := a - b
	return d >= -1 && d <= 1
}

func TestNewPerfCollectorWindow(t *testing.T) {
	tests := []struct {
		size int
		want int
	}{
		{0, 1000},
		{-5, 1000},
		{1, 1},
		{7, 7},
	}
	for _, tt := range tests {
		pc := NewPerfCollector(tt.size)
		if pc.windowSize != tt.want || len(pc.samples) != tt.want {
			t.Errorf("NewPerfCollector(%d): window %d with %d slots, want %d",
				tt.size, pc.windowSize, len(pc.samples), tt.want)
		}
	}
}

func TestStepPercentiles(t *testing.T) {
	pc := NewPerfCollector(10)
	// Out of order on purpose; percentiles sort.
	for _, ms := range []time.Duration{7, 2, 9, 1, 10, 4, 3, 8, 6, 5} {
		steps(pc, ms*time.Millisecond)
	}

	s := pc.Stats()
	if s.Steps != 10 {
		t.Errorf("Steps = %d, want 10", s.Steps)
	}
	checks := []struct {
		name      string
		got, want time.Duration
	}{
		{"avg", s.AvgStepDuration, 5500 * time.Microsecond},
		{"p50", s.P50StepDuration, 5500 * time.Microsecond},
		{"p90", s.P90StepDuration, 9100 * time.Microsecond},
		{"max", s.MaxStepDuration, 10 * time.Millisecond},
	}
	for _, c := range checks {
		if !near(c.got, c.want) {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if want := 1 / 5.5e-3; math.Abs(s.StepsPerSecond-want) > 1e-6 {
		t.Errorf("StepsPerSecond = %v, want %v", s.StepsPerSecond, want)
	}
}

func TestWindowKeepsNewestSteps(t *testing.T) {
	pc := NewPerfCollector(4)
	steps(pc, 100, 1, 2, 3, 4, 5, 6)

	s := pc.Stats()
	if s.Steps != 4 {
		t.Errorf("Steps = %d, want 4", s.Steps)
	}
	// 100 and the first two small steps have been overwritten.
	if s.MaxStepDuration != 6 {
		t.Errorf("Max = %v, want 6ns", s.MaxStepDuration)
	}
	if !near(s.AvgStepDuration, 4) {
		t.Errorf("Avg = %v, want about 4.5ns", s.AvgStepDuration)
	}
}

func TestPhaseShares(t *testing.T) {
	pc := NewPerfCollector(8)
	for i := 0; i < 4; i++ {
		pc.add(PerfSample{
			StepDuration: 4 * time.Millisecond,
			Phases: map[string]time.Duration{
				PhaseDrift:   3 * time.Millisecond,
				PhaseDiffuse: time.Millisecond,
			},
		})
	}

	s := pc.Stats()
	want := map[string]float64{PhaseDrift: 75, PhaseDiffuse: 25}
	if diff := cmp.Diff(want, s.PhasePct); diff != "" {
		t.Errorf("PhasePct mismatch (-want +got):\n%s", diff)
	}
	if s.PhaseAvg[PhaseDrift] != 3*time.Millisecond {
		t.Errorf("drift average = %v, want 3ms", s.PhaseAvg[PhaseDrift])
	}
	if _, ok := s.PhaseAvg[PhaseSource]; ok {
		t.Error("source was never timed but has an average")
	}
}

func TestPhasesFitInsideStep(t *testing.T) {
	pc := NewPerfCollector(0)
	for i := 0; i < 3; i++ {
		pc.StartStep()
		for _, phase := range Phases {
			pc.StartPhase(phase)
		}
		pc.EndStep()
	}

	s := pc.Stats()
	if s.Steps != 3 {
		t.Fatalf("Steps = %d, want 3", s.Steps)
	}
	var total time.Duration
	for _, phase := range Phases {
		if _, ok := s.PhaseAvg[phase]; !ok {
			t.Errorf("phase %q not recorded", phase)
		}
		total += s.PhaseAvg[phase]
	}
	if total > s.AvgStepDuration {
		t.Errorf("phases sum to %v, more than the %v step", total, s.AvgStepDuration)
	}
}

func TestLogValueFollowsPhaseOrder(t *testing.T) {
	s := PerfStats{
		Steps: 2,
		PhasePct: map[string]float64{
			PhaseTelemetry: 5,
			PhaseSource:    10,
			PhaseDiffuse:   85,
		},
	}

	var phases []string
	for _, a := range s.LogValue().Group() {
		if name, ok := strings.CutSuffix(a.Key, "_pct"); ok {
			phases = append(phases, name)
		}
	}
	want := []string{PhaseSource, PhaseDiffuse, PhaseTelemetry}
	if diff := cmp.Diff(want, phases); diff != "" {
		t.Errorf("phase attributes (-want +got):\n%s", diff)
	}
	if got := s.LogValue().Kind(); got != slog.KindGroup {
		t.Errorf("LogValue kind = %v, want group", got)
	}
}

func TestPerfStatsCSVRow(t *testing.T) {
	s := PerfStats{
		Steps:           12,
		AvgStepDuration: 1500 * time.Microsecond,
		P50StepDuration: 1200 * time.Microsecond,
		P90StepDuration: 2 * time.Millisecond,
		MaxStepDuration: 3 * time.Millisecond,
		PhasePct:        map[string]float64{PhaseDrift: 60, PhaseDiffuse: 30, PhaseOutput: 10},
		StepsPerSecond:  666,
	}

	want := PerfStatsCSV{
		WindowEnd:   42,
		Steps:       12,
		AvgStepUS:   1500,
		P50StepUS:   1200,
		P90StepUS:   2000,
		MaxStepUS:   3000,
		StepsPerSec: 666,
		DriftPct:    60,
		DiffusePct:  30,
		OutputPct:   10,
	}
	if diff := cmp.Diff(want, s.ToCSV(42)); diff != "" {
		t.Errorf("ToCSV mismatch (-want +got):\n%s", diff)
	}

	empty := NewPerfCollector(5).Stats()
	if diff := cmp.Diff(PerfStatsCSV{WindowEnd: 1}, empty.ToCSV(1)); diff != "" {
		t.Errorf("empty ToCSV mismatch (-want +got):\n%s", diff)
	}
}
