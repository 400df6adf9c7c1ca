// Package main recovers the longitudinal and transverse diffusion coefficients
// from simulated charge patches with a Nelder-Mead fit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/driftsim/config"
)

// evalRecord is one row of calibrate_log.csv.
type evalRecord struct {
	Eval      int     `csv:"eval"`
	Objective float64 `csv:"objective"`
	DL        float64 `csv:"dl_cm2_per_s"`
	DT        float64 `csv:"dt_cm2_per_s"`
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	maxDepos := flag.Int("max-depos", 2000, "Depositions per simulated run")
	seeds := flag.Int("seeds", 3, "Number of simulated runs")
	maxEvals := flag.Int("max-evals", 200, "Maximum number of objective evaluations")
	trueDL := flag.Float64("true-dl", 0, "DL in cm²/s used to simulate the data (0 = config value)")
	trueDT := flag.Float64("true-dt", 0, "DT in cm²/s used to simulate the data (0 = config value)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}

	// Create output directory
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	// Load base config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Run.MaxDepos = *maxDepos
	if *trueDL > 0 {
		cfg.Drift.DLCM2PerS = *trueDL
	}
	if *trueDT > 0 {
		cfg.Drift.DTCM2PerS = *trueDT
	}
	if err := cfg.Rederive(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	params := NewParamVector()
	truth := params.ExtractFromConfig(cfg)

	// Stage logs are noise here
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	evalSeeds := make([]uint64, *seeds)
	for i := range evalSeeds {
		evalSeeds[i] = uint64(i*1000 + 42)
	}

	startTime := time.Now()
	datasets, err := SimulateSeeds(context.Background(), cfg, evalSeeds, logger)
	if err != nil {
		log.Fatalf("simulation failed: %v", err)
	}
	evaluator := NewEvaluator(params, cfg, datasets)
	fmt.Printf("Simulated %d runs, %d patches in %s\n",
		len(datasets), evaluator.Samples(), formatDuration(time.Since(startTime)))

	// Open log file
	logPath := filepath.Join(*outputDir, "calibrate_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	evalCount := 0
	fitStart := time.Now()
	onEval := func(raw []float64, value float64) {
		evalCount++
		rec := []evalRecord{{Eval: evalCount, Objective: value, DL: raw[0], DT: raw[1]}}
		var werr error
		if evalCount == 1 {
			werr = gocsv.Marshal(rec, logFile)
		} else {
			werr = gocsv.MarshalWithoutHeaders(rec, logFile)
		}
		if werr != nil {
			log.Printf("failed to log evaluation: %v", werr)
		}

		if evalCount%10 == 0 {
			elapsed := time.Since(fitStart)
			fmt.Printf("Eval %d/%d: objective=%.3g dl=%.3f dt=%.3f | elapsed: %s\n",
				evalCount, *maxEvals, value, raw[0], raw[1], formatDuration(elapsed))
		}
	}

	// Run optimization
	fmt.Printf("Starting Nelder-Mead fit with %d parameters, max_evals=%d\n", params.Dim(), *maxEvals)
	best, value, err := Fit(evaluator, *maxEvals, onEval)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}
	if best == nil {
		log.Fatal("no evaluation succeeded")
	}

	fmt.Printf("\nFit complete after %d evaluations in %s\n", evalCount, formatDuration(time.Since(fitStart)))
	fmt.Printf("Best objective: %.3g\n", value)

	fmt.Println("\nBest parameters (fitted / simulated):")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.4f / %.4f\n", spec.Name, best[i], truth[i])
	}

	// Save best config
	params.ApplyToConfig(cfg, best)
	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := cfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	}
}
