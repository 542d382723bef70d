package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/soupstats/config"
	"github.com/pthm-cable/soupstats/engine"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	sqlitePath := flag.String("sqlite", "", "SQLite database receiving the run history")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTimesteps := flag.Uint64("max-timesteps", 0, "Stop after N timesteps (0 = unlimited)")
	loadSnapshot := flag.String("load-snapshot", "", "Resume from a snapshot file")
	loadStatistics := flag.String("load-statistics", "", "Replace the run history with a CSV export")
	exportPath := flag.String("export", "", "Write the run history as CSV on exit")
	liveHistory := flag.Float64("live-history", 0, "Live window in seconds (0 = use config)")

	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *liveHistory > 0 {
		cfg.Statistics.LiveHistory = *liveHistory
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, engine.Options{
		Seed:       rngSeed,
		LogStats:   *logStats,
		OutputDir:  *outputDir,
		SQLitePath: *sqlitePath,
	}, *loadSnapshot, *loadStatistics, *exportPath, *maxTimesteps); err != nil {
		slog.Error("failed to run simulation", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts engine.Options, snapshot, statistics, export string, maxTimesteps uint64) (err error) {
	e, err := engine.New(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if snapshot != "" {
		if err := e.LoadSnapshot(snapshot); err != nil {
			return err
		}
	}
	if statistics != "" {
		if err := e.LoadStatistics(statistics); err != nil {
			return err
		}
	}

	slog.Info("starting headless simulation",
		"seed", e.Seed(),
		"session", e.SessionID(),
		"max_timesteps", maxTimesteps,
		"timesteps_per_update", cfg.Statistics.TimestepsPerUpdate,
	)

	if err := e.Run(ctx, maxTimesteps); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if export != "" {
		if err := e.ExportStatistics(export); err != nil {
			return err
		}
		slog.Info("statistics exported", "path", export, "collections", e.History().Len())
	}
	return nil
}
