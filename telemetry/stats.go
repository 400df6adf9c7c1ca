package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of simulated time.
type WindowStats struct {
	WindowStart float64 `csv:"-"`
	WindowEnd   float64 `csv:"window_end"`

	// Deposition counts during the window
	Inserted int `csv:"inserted"`
	Dropped  int `csv:"dropped"`
	Drifted  int `csv:"drifted"`
	Patches  int `csv:"patches"`

	// Buffered at window end
	PendingDrift     int `csv:"pending_drift"`
	PendingDiffusion int `csv:"pending_diffusion"`

	// Charge accounting
	ChargeIn      float64 `csv:"charge_in"`
	ChargeDropped float64 `csv:"charge_dropped"`
	ChargeDrifted float64 `csv:"charge_drifted"`
	ChargeBinned  float64 `csv:"charge_binned"`
	Survival      float64 `csv:"survival"` // drifted charge / charge entering drift

	// Drift time distribution
	DriftTimeMean float64 `csv:"drift_time_mean"`
	DriftTimeP50  float64 `csv:"drift_time_p50"`
	DriftTimeP90  float64 `csv:"drift_time_p90"`

	// Patch shape
	SigmaLMean float64 `csv:"sigma_l_mean"`
	SigmaLStd  float64 `csv:"sigma_l_std"`
	SigmaTMean float64 `csv:"sigma_t_mean"`
	SigmaTStd  float64 `csv:"sigma_t_std"`
	CellsMean  float64 `csv:"cells_mean"`
	CellsP10   float64 `csv:"cells_p10"`
	CellsP50   float64 `csv:"cells_p50"`
	CellsP90   float64 `csv:"cells_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeStats calculates mean and percentiles.
func ComputeStats(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// ComputeSpread returns the mean and population standard deviation.
func ComputeSpread(values []float64) (mean, std float64) {
	switch len(values) {
	case 0:
		return 0, 0
	case 1:
		return values[0], 0
	}
	mean = stat.Mean(values, nil)
	std = stat.PopStdDev(values, nil)
	return mean, std
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("window_start", s.WindowStart),
		slog.Float64("window_end", s.WindowEnd),
		slog.Int("inserted", s.Inserted),
		slog.Int("dropped", s.Dropped),
		slog.Int("drifted", s.Drifted),
		slog.Int("patches", s.Patches),
		slog.Int("pending_drift", s.PendingDrift),
		slog.Int("pending_diffusion", s.PendingDiffusion),
		slog.Float64("charge_in", s.ChargeIn),
		slog.Float64("charge_drifted", s.ChargeDrifted),
		slog.Float64("charge_binned", s.ChargeBinned),
		slog.Float64("survival", s.Survival),
		slog.Float64("drift_time_mean", s.DriftTimeMean),
		slog.Float64("sigma_l_mean", s.SigmaLMean),
		slog.Float64("sigma_t_mean", s.SigmaTMean),
		slog.Float64("cells_p50", s.CellsP50),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEnd,
		"inserted", s.Inserted,
		"dropped", s.Dropped,
		"drifted", s.Drifted,
		"patches", s.Patches,
		"pending_drift", s.PendingDrift,
		"pending_diffusion", s.PendingDiffusion,
		"charge_in", s.ChargeIn,
		"charge_binned", s.ChargeBinned,
		"survival", s.Survival,
		"drift_time_mean", s.DriftTimeMean,
		"sigma_l_mean", s.SigmaLMean,
		"sigma_t_mean", s.SigmaTMean,
		"cells_p50", s.CellsP50,
	)
}

// RunStats summarises a whole run.
type RunStats struct {
	RunID         string  `csv:"run_id"`
	Seed          uint64  `csv:"seed"`
	Inserted      int     `csv:"inserted"`
	Dropped       int     `csv:"dropped"`
	Drifted       int     `csv:"drifted"`
	Patches       int     `csv:"patches"`
	ChargeIn      float64 `csv:"charge_in"`
	ChargeDrifted float64 `csv:"charge_drifted"`
	ChargeBinned  float64 `csv:"charge_binned"`
	FirstTime     float64 `csv:"first_time"`
	LastTime      float64 `csv:"last_time"`
	WallSeconds   float64 `csv:"wall_seconds"`
}

// LogValue implements slog.LogValuer for structured logging.
func (s RunStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", s.RunID),
		slog.Uint64("seed", s.Seed),
		slog.Int("inserted", s.Inserted),
		slog.Int("dropped", s.Dropped),
		slog.Int("drifted", s.Drifted),
		slog.Int("patches", s.Patches),
		slog.Float64("charge_in", s.ChargeIn),
		slog.Float64("charge_drifted", s.ChargeDrifted),
		slog.Float64("charge_binned", s.ChargeBinned),
		slog.Float64("wall_seconds", s.WallSeconds),
	)
}
