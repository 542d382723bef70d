// Package engine runs the simulation and feeds its counters through the
// statistics pipeline: conversion, live window, run history, export and autosave.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pthm-cable/soupstats/autosave"
	"github.com/pthm-cable/soupstats/config"
	"github.com/pthm-cable/soupstats/persist"
	"github.com/pthm-cable/soupstats/sim"
	"github.com/pthm-cable/soupstats/stats"
	"github.com/pthm-cable/soupstats/telemetry"
)

// Options configures an Engine beyond the loaded config.
type Options struct {
	Seed     int64
	LogStats bool

	// OutputDir and SQLitePath override the config when non-empty.
	OutputDir  string
	SQLitePath string

	// Clock drives the live window and autosave timers (nil = system clock).
	Clock stats.Clock

	// StatsCallback receives every sampled history collection.
	StatsCallback func(stats.DataPointCollection)
}

// Engine owns the simulation thread side of the pipeline. It is not safe for
// concurrent use; History may be read from other goroutines.
type Engine struct {
	cfg   *config.Config
	opts  Options
	clock stats.Clock

	seed      int64
	sessionID string
	world     *sim.World

	live    *stats.LiveTimeline
	history *stats.History

	// converter state of the run history
	prev         *stats.TimelineCounters
	prevTimestep *uint64
	latest       *stats.DataPointCollection
	samples      int

	// timeOffset shifts history times past a loaded history that ends
	// later than the current timestep.
	timeOffset float64

	summaryMetrics []stats.Metric

	facade   *persist.Facade
	autosave *autosave.Controller
	output   *telemetry.OutputManager
	store    *telemetry.SQLiteStore
	perf     *telemetry.PerfCollector
	cancel   context.CancelFunc
}

// New creates an engine with a fresh simulation seeded from opts.Seed.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	clock := opts.Clock
	if clock == nil {
		clock = stats.SystemClock()
	}

	metrics := make([]stats.Metric, 0, len(cfg.Statistics.SummaryMetrics))
	for _, name := range cfg.Statistics.SummaryMetrics {
		m, err := stats.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("statistics.summary_metrics: %w", err)
		}
		metrics = append(metrics, m)
	}

	e := &Engine{
		cfg:            cfg,
		opts:           opts,
		clock:          clock,
		seed:           opts.Seed,
		sessionID:      uuid.NewString(),
		world:          sim.NewWorld(cfg.Sim, opts.Seed),
		live:           stats.NewLiveTimeline(clock, cfg.Statistics.LiveHistory),
		history:        stats.NewHistory(),
		summaryMetrics: metrics,
		perf:           telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow),
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.facade = persist.NewFacade(cfg.Telemetry.PersistWorkers, 0)
	e.facade.Start(ctx)

	var err error
	e.autosave, err = autosave.NewController(cfg, e.facade)
	if err != nil {
		e.abort()
		return nil, fmt.Errorf("creating autosave controller: %w", err)
	}

	outputDir := cfg.Output.Dir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	e.output, err = telemetry.NewOutputManager(outputDir)
	if err != nil {
		e.abort()
		return nil, err
	}
	if err := e.output.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config", "error", err)
	}

	sqlitePath := cfg.Output.SQLitePath
	if opts.SQLitePath != "" {
		sqlitePath = opts.SQLitePath
	}
	if sqlitePath != "" {
		e.store, err = telemetry.OpenSQLiteStore(ctx, sqlitePath)
		if err != nil {
			e.abort()
			return nil, fmt.Errorf("opening statistics database: %w", err)
		}
	}

	slog.Info("simulation started", "session", e.sessionID, "seed", e.seed)
	return e, nil
}

func (e *Engine) abort() {
	e.facade.Shutdown()
	e.cancel()
	e.output.Close()
}

// SessionID identifies the current simulation session. It changes on
// NewSimulation and LoadSnapshot.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Seed returns the seed of the current session.
func (e *Engine) Seed() int64 {
	return e.seed
}

// Timestep returns the simulation timestep.
func (e *Engine) Timestep() uint64 {
	return e.world.Timestep()
}

// Live returns the live window aggregator.
func (e *Engine) Live() *stats.LiveTimeline {
	return e.live
}

// History returns the run history. It is safe to read concurrently.
func (e *Engine) History() *stats.History {
	return e.history
}

// Autosave returns the savepoint controller.
func (e *Engine) Autosave() *autosave.Controller {
	return e.autosave
}

// Perf returns the pipeline timings.
func (e *Engine) Perf() telemetry.PerfStats {
	return e.perf.Stats()
}

// Latest returns the most recent history sample.
func (e *Engine) Latest() (stats.DataPointCollection, bool) {
	if e.latest == nil {
		return stats.DataPointCollection{}, false
	}
	return *e.latest, true
}

// Step advances the simulation by one timestep and runs the pipeline.
func (e *Engine) Step() {
	e.perf.StartStep()

	e.perf.StartPhase(telemetry.PhaseSimulation)
	e.world.Step()

	if e.world.Timestep()%uint64(e.cfg.Statistics.TimestepsPerUpdate) == 0 {
		e.sample()
	}

	e.perf.StartPhase(telemetry.PhaseAutosave)
	e.autosave.Process(e.clock.Now(), e.sessionID, e.latest, e.capture)

	e.perf.EndStep()
}

// Run steps until ctx is done or maxTimesteps is reached (0 = unlimited).
func (e *Engine) Run(ctx context.Context, maxTimesteps uint64) error {
	for {
		if maxTimesteps > 0 && e.world.Timestep() >= maxTimesteps {
			slog.Info("max timesteps reached", "timestep", e.world.Timestep())
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		e.Step()
	}
}

// sample converts the current counters into the live window and history.
func (e *Engine) sample() {
	ts := e.world.Timestep()
	counters := e.world.Counters()

	e.perf.StartPhase(telemetry.PhaseConvert)
	e.live.Add(counters.Timeline, ts)
	collection := stats.Convert(counters.Timeline, ts, e.historyTime(ts), e.prev, e.prevTimestep)
	e.prev = &counters.Timeline
	e.prevTimestep = &ts

	e.perf.StartPhase(telemetry.PhaseHistory)
	if err := e.history.Append(collection); err != nil {
		slog.Error("failed to append statistics", "timestep", ts, "error", err)
	}
	e.latest = &collection
	e.samples++

	e.perf.StartPhase(telemetry.PhaseExport)
	if err := e.output.WriteStatistics(collection); err != nil {
		slog.Error("failed to write statistics", "error", err)
	}
	if e.opts.StatsCallback != nil {
		e.opts.StatsCallback(collection)
	}

	if interval := e.cfg.Telemetry.LogInterval; interval > 0 && e.samples%interval == 0 {
		e.flushTelemetry(ts)
	}
}

// historyTime is the time stamped on the history sample of timestep ts.
func (e *Engine) historyTime(ts uint64) float64 {
	return float64(ts) + e.timeOffset
}

// flushTelemetry logs summaries of the live window and writes a perf row.
func (e *Engine) flushTelemetry(ts uint64) {
	perfStats := e.perf.Stats()

	if e.opts.LogStats {
		window := e.live.Window()
		attrs := []any{"timestep", ts, "session", e.sessionID, "window", len(window)}
		for _, m := range e.summaryMetrics {
			attrs = append(attrs, m.String(), stats.Summarize(window, m))
		}
		slog.Info("stats", attrs...)
		slog.Info("perf", "timestep", ts, "perf", perfStats)
	}

	if err := e.output.WritePerf(perfStats, ts); err != nil {
		slog.Error("failed to write perf", "error", err)
	}
}

// capture snapshots the simulation for a savepoint or peak candidate.
func (e *Engine) capture() *telemetry.Snapshot {
	ts := e.world.Timestep()
	snap := &telemetry.Snapshot{
		Version:   telemetry.SnapshotVersion,
		Seed:      e.seed,
		SessionID: e.sessionID,
		Timestep:  ts,
		Time:      e.historyTime(ts),
		World:     e.world.State(),
		Counters:  e.world.Counters(),
		History:   e.history.CopiedData(),
	}
	if e.latest != nil {
		snap.Statistics = *e.latest
	}
	return snap
}

// Savepoint schedules a savepoint of the current state.
func (e *Engine) Savepoint() {
	e.autosave.CreateSavepoint(e.capture)
}

// NewSimulation starts a new session: the world is reseeded and history,
// live window and peak tracking start over.
func (e *Engine) NewSimulation(seed int64) {
	e.world.Reset(seed)
	e.seed = seed
	e.resetStatistics()
	slog.Info("simulation started", "session", e.sessionID, "seed", seed)
}

func (e *Engine) resetStatistics() {
	e.sessionID = uuid.NewString()
	e.history.Clear()
	e.live.Reset()
	e.prev = nil
	e.prevTimestep = nil
	e.latest = nil
	e.samples = 0
	e.timeOffset = 0
}

// LoadSnapshot restores the world and history from a snapshot file and
// starts a new session.
func (e *Engine) LoadSnapshot(path string) error {
	snap, err := telemetry.LoadSnapshot(path)
	if err != nil {
		return err
	}

	e.world.Restore(snap.World, snap.Seed)
	e.seed = snap.Seed
	e.resetStatistics()
	e.history.Replace(snap.History)

	counters := snap.Counters.Timeline
	ts := snap.Timestep
	e.prev = &counters
	e.prevTimestep = &ts
	e.timeOffset = snap.Time - float64(ts)
	if last, ok := e.history.Last(); ok {
		e.latest = &last
	}

	slog.Info("snapshot loaded", "path", path, "session", e.sessionID, "timestep", ts)
	return nil
}

// LoadStatistics replaces the run history with a CSV export. When the loaded
// history ends after the current timestep, later samples are stamped after
// its last entry. The rate baseline stays the simulation's own counters.
func (e *Engine) LoadStatistics(path string) error {
	data, err := telemetry.LoadHistoryCSV(path)
	if err != nil {
		return err
	}
	e.history.Replace(data)
	e.latest = nil
	if len(data) == 0 {
		return nil
	}

	last := data[len(data)-1]
	e.latest = &last
	ts := e.world.Timestep()
	if last.Time > e.historyTime(ts) {
		e.timeOffset = last.Time - float64(ts)
	}
	slog.Info("statistics loaded", "path", path, "collections", len(data), "time_offset", e.timeOffset)
	return nil
}

// ExportStatistics writes the run history as CSV.
func (e *Engine) ExportStatistics(path string) error {
	return telemetry.SaveHistoryCSV(path, e.history.CopiedData())
}

// ScheduleStore saves a copy of the run history to the statistics database
// off the simulation thread. It returns false when no database is configured.
func (e *Engine) ScheduleStore() (persist.RequestID, bool) {
	if e.store == nil {
		return "", false
	}
	run, data := e.sessionID, e.history.CopiedData()
	id := e.facade.Schedule("engine", func(ctx context.Context) (persist.Result, error) {
		if err := e.store.SaveHistory(ctx, run, data); err != nil {
			return persist.Result{}, err
		}
		return persist.Result{Data: len(data)}, nil
	})
	return id, true
}

// RequestState reports the state of a request returned by ScheduleStore.
func (e *Engine) RequestState(id persist.RequestID) (persist.RequestState, bool) {
	return e.facade.State(id)
}

// Close waits for pending saves, stores the final history and closes all outputs.
func (e *Engine) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(e.facade.Shutdown())
	e.autosave.Flush(e.clock.Now())
	if e.store != nil {
		keep(e.store.SaveHistory(context.Background(), e.sessionID, e.history.CopiedData()))
		keep(e.store.Close())
	}
	keep(e.output.WriteHistory("history.csv", e.history.CopiedData()))
	keep(e.output.Close())
	e.cancel()
	return firstErr
}
