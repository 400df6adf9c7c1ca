package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"

	"github.com/pthm-cable/driftsim/config"
	"github.com/pthm-cable/driftsim/depo"
	"github.com/pthm-cable/driftsim/diffusion"
	"github.com/pthm-cable/driftsim/drift"
	"github.com/pthm-cable/driftsim/random"
	"github.com/pthm-cable/driftsim/sim"
	"github.com/pthm-cable/driftsim/source"
	"github.com/pthm-cable/driftsim/telemetry"
)

// options holds the command line after defaults are resolved.
type options struct {
	runID     string
	outputDir string
	replay    string
	logStats  bool
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	seed := flag.Uint64("seed", 0, "RNG seed (0 = config value, then time-based)")
	maxDepos := flag.Int("max-depos", 0, "Stop the source after N depositions (0 = config value)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	replay := flag.String("replay", "", "Replay the buffered depositions of a snapshot file")

	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if *maxDepos > 0 {
		cfg.Run.MaxDepos = *maxDepos
	}
	if *seed != 0 {
		cfg.Run.Seed = *seed
	}
	if cfg.Run.Seed == 0 {
		cfg.Run.Seed = uint64(time.Now().UnixNano())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := options{
		runID:     uuid.NewString(),
		outputDir: *outputDir,
		replay:    *replay,
		logStats:  *logStats,
	}
	if err := run(ctx, cfg, opts); err != nil {
		slog.Error("run failed", "run_id", opts.runID, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	rng := random.New(cfg.Run.Seed)
	history := depo.NewHistory(cfg.Run.HistoryCapacity)

	drifter, err := drift.New(cfg.DriftParams(), rng,
		drift.WithHistory(history),
		drift.WithFluctuation(cfg.Fluctuation()),
	)
	if err != nil {
		return err
	}
	binner, err := diffusion.New(cfg.DiffusionParams(), cfg.Derived.Plane, diffusion.WithHistory(history))
	if err != nil {
		return err
	}

	src, err := newSource(cfg, rng, opts.replay)
	if err != nil {
		return err
	}

	om, err := telemetry.NewOutputManager(opts.outputDir, opts.runID)
	if err != nil {
		return err
	}
	defer func() {
		if err := om.Close(); err != nil {
			slog.Error("closing output", "error", err)
		}
	}()
	if err := om.WriteConfig(cfg); err != nil {
		return err
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow)

	var runner *sim.Runner
	snapshot := func(bm *telemetry.Bookmark) {
		snap := telemetry.CaptureSnapshot(opts.runID, cfg.Run.Seed, runner.Now(), runner.Buffered(), bm)
		path, err := om.WriteSnapshot(snap)
		if err != nil {
			slog.Error("writing snapshot", "error", err)
			return
		}
		if path != "" {
			slog.Info("snapshot saved", "path", path, "pending", len(snap.Pending))
		}
	}

	runner = sim.New(src, drifter, binner,
		sim.WithSink(om),
		sim.WithHistory(history),
		sim.WithCollector(telemetry.NewCollector(cfg.Derived.StatsWindow)),
		sim.WithPerf(perf),
		sim.WithBookmarks(telemetry.NewBookmarkDetector(cfg.Telemetry.BookmarkHistorySize)),
		sim.OnWindow(func(stats telemetry.WindowStats) {
			if opts.logStats {
				stats.LogStats()
				perf.Stats().LogStats()
			}
			if err := om.WriteTelemetry(stats); err != nil {
				slog.Error("writing telemetry", "error", err)
			}
			if err := om.WritePerf(perf.Stats(), stats.WindowEnd); err != nil {
				slog.Error("writing perf", "error", err)
			}
		}),
		sim.OnBookmark(func(bm telemetry.Bookmark) {
			bm.LogBookmark()
			if err := om.WriteBookmark(bm); err != nil {
				slog.Error("writing bookmark", "error", err)
			}
			if cfg.Telemetry.SnapshotOnBookmark {
				snapshot(&bm)
			}
		}),
	)

	slog.Info("starting simulation",
		"run_id", opts.runID,
		"seed", cfg.Run.Seed,
		"source", cfg.Source.Kind,
		"max_depos", cfg.Run.MaxDepos,
		"regions", len(cfg.Drift.Regions),
		"output_dir", opts.outputDir,
	)

	stats, err := runner.Run(ctx)
	stats.RunID = opts.runID
	stats.Seed = cfg.Run.Seed
	if errors.Is(err, context.Canceled) {
		slog.Warn("interrupted", "now", runner.Now(), "pending", len(runner.Buffered()))
		snapshot(nil)
	} else if err != nil {
		return err
	}
	return om.WriteSummary(stats)
}

// newSource returns the configured source, or the buffered depositions of a
// snapshot when replay is set.
func newSource(cfg *config.Config, rng random.Source, replay string) (source.Source, error) {
	if replay == "" {
		return cfg.NewSource(rng)
	}
	snap, err := telemetry.LoadSnapshot(replay)
	if err != nil {
		return nil, err
	}
	depos := snap.Depositions()
	depo.SortByTime(depos)
	slog.Info("replaying snapshot", "path", replay, "run_id", snap.RunID, "depositions", len(depos))
	return source.FromSlice(depos), nil
}
