package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pthm-cable/soupstats/autosave"
	"github.com/pthm-cable/soupstats/config"
	"github.com/pthm-cable/soupstats/persist"
	"github.com/pthm-cable/soupstats/stats"
	"github.com/pthm-cable/soupstats/telemetry"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Statistics.TimestepsPerUpdate = 10
	cfg.Autosave.Directory = filepath.Join(t.TempDir(), "autosave")
	cfg.Autosave.CatchPeaks = "none"
	cfg.Derived.CatchPeaks = false
	cfg.Sim.InitialCells = 100
	cfg.Sim.InitialParticles = 20
	cfg.Telemetry.LogInterval = 5
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, opts Options) (*Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if opts.Clock == nil {
		opts.Clock = clock
	}
	e, err := New(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, clock
}

func stepN(e *Engine, clock *fakeClock, n int) {
	for i := 0; i < n; i++ {
		clock.Advance(100 * time.Millisecond)
		e.Step()
	}
}

func TestEngine_SamplesEveryUpdate(t *testing.T) {
	var sampled []float64
	e, clock := newEngine(t, testConfig(t), Options{
		Seed:          1,
		LogStats:      true,
		StatsCallback: func(c stats.DataPointCollection) { sampled = append(sampled, c.Time) },
	})
	defer e.Close()

	stepN(e, clock, 100)

	if e.Timestep() != 100 {
		t.Errorf("timestep = %d, want 100", e.Timestep())
	}
	if n := e.History().Len(); n != 10 {
		t.Errorf("history = %d, want 10", n)
	}
	if len(sampled) != 10 || sampled[0] != 10 || sampled[9] != 100 {
		t.Errorf("sampled times = %v", sampled)
	}
	latest, ok := e.Latest()
	if !ok || latest.Time != 100 {
		t.Errorf("latest = %v, %v", latest.Time, ok)
	}

	// 100 steps of 100ms each: the 10s window holds every sample.
	if n := e.Live().Len(); n != 10 {
		t.Errorf("live window = %d, want 10", n)
	}
	if e.Live().Discontinuities() != 0 {
		t.Error("unexpected discontinuities")
	}
}

func TestEngine_LiveWindowBounded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Statistics.LiveHistory = 2
	e, clock := newEngine(t, cfg, Options{Seed: 1})
	defer e.Close()

	stepN(e, clock, 200)

	window := e.Live().Window()
	for _, c := range window {
		if c.Time < e.Live().Timepoint()-2 {
			t.Errorf("entry at %v older than window", c.Time)
		}
	}
	if e.History().Len() != 20 {
		t.Errorf("history = %d, want 20", e.History().Len())
	}
}

func TestEngine_NewSimulationResets(t *testing.T) {
	e, clock := newEngine(t, testConfig(t), Options{Seed: 1})
	defer e.Close()

	stepN(e, clock, 50)
	session := e.SessionID()

	e.NewSimulation(2)

	if e.SessionID() == session {
		t.Error("session id unchanged")
	}
	if e.Timestep() != 0 || e.History().Len() != 0 || e.Live().Len() != 0 {
		t.Errorf("not reset: timestep %d history %d live %d", e.Timestep(), e.History().Len(), e.Live().Len())
	}
	if _, ok := e.Latest(); ok {
		t.Error("latest sample kept")
	}
	if e.Seed() != 2 {
		t.Errorf("seed = %d", e.Seed())
	}

	stepN(e, clock, 20)
	if e.History().Len() != 2 {
		t.Errorf("history after restart = %d, want 2", e.History().Len())
	}
}

func TestEngine_ExportLoadStatistics(t *testing.T) {
	e, clock := newEngine(t, testConfig(t), Options{Seed: 3})
	defer e.Close()
	stepN(e, clock, 60)

	path := filepath.Join(t.TempDir(), "stats.csv")
	if err := e.ExportStatistics(path); err != nil {
		t.Fatalf("ExportStatistics: %v", err)
	}

	other, _ := newEngine(t, testConfig(t), Options{Seed: 4})
	defer other.Close()
	if err := other.LoadStatistics(path); err != nil {
		t.Fatalf("LoadStatistics: %v", err)
	}
	got, want := other.History().CopiedData(), e.History().CopiedData()
	if len(got) != len(want) {
		t.Fatalf("loaded %d collections, want %d", len(got), len(want))
	}
	if got[5].NumCells != want[5].NumCells {
		t.Error("loaded collection differs")
	}
}

func TestEngine_LoadStatisticsAheadOfTimestep(t *testing.T) {
	e, clock := newEngine(t, testConfig(t), Options{Seed: 3})
	defer e.Close()
	stepN(e, clock, 20)

	path := filepath.Join(t.TempDir(), "stats.csv")
	loaded := stats.StatisticsHistoryData{{Time: 1000}, {Time: 2000}}
	if err := telemetry.SaveHistoryCSV(path, loaded); err != nil {
		t.Fatal(err)
	}
	if err := e.LoadStatistics(path); err != nil {
		t.Fatalf("LoadStatistics: %v", err)
	}
	if latest, ok := e.Latest(); !ok || latest.Time != 2000 {
		t.Errorf("latest after load = %v, %v", latest.Time, ok)
	}

	stepN(e, clock, 50)

	data := e.History().CopiedData()
	if len(data) != 7 {
		t.Fatalf("history = %d, want 2 loaded + 5 sampled", len(data))
	}
	for i, want := range []float64{1000, 2000, 2010, 2020, 2030, 2040, 2050} {
		if data[i].Time != want {
			t.Errorf("history[%d].Time = %v, want %v", i, data[i].Time, want)
		}
	}

	// A savepoint keeps the shifted time basis across a reload.
	e.Savepoint()
	entry := waitPersisted(t, e, clock)
	other, otherClock := newEngine(t, testConfig(t), Options{Seed: 4})
	defer other.Close()
	if err := other.LoadSnapshot(e.Autosave().Table().AbsPath(entry)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	stepN(other, otherClock, 10)
	last, _ := other.History().Last()
	if other.History().Len() != 8 || last.Time != 2060 {
		t.Errorf("after reload: history %d, last time %v", other.History().Len(), last.Time)
	}
}

func waitPersisted(t *testing.T, e *Engine, clock *fakeClock) autosave.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.Autosave().Flush(clock.Now())
		table := e.Autosave().Table()
		if e, ok := table.At(0); ok && e.State == autosave.StatePersisted {
			return e
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("savepoint not persisted")
	return autosave.Entry{}
}

func TestEngine_SavepointAndLoadSnapshot(t *testing.T) {
	cfg := testConfig(t)
	e, clock := newEngine(t, cfg, Options{Seed: 5})
	defer e.Close()

	stepN(e, clock, 40)
	e.Savepoint()
	entry := waitPersisted(t, e, clock)
	if entry.Timestep != 40 {
		t.Errorf("savepoint timestep = %d, want 40", entry.Timestep)
	}

	other, otherClock := newEngine(t, testConfig(t), Options{Seed: 9})
	defer other.Close()
	session := other.SessionID()

	if err := other.LoadSnapshot(e.Autosave().Table().AbsPath(entry)); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if other.Timestep() != 40 || other.Seed() != 5 {
		t.Errorf("restored timestep %d seed %d", other.Timestep(), other.Seed())
	}
	if other.SessionID() == session {
		t.Error("loading a snapshot must start a new session")
	}
	if other.History().Len() != 4 {
		t.Errorf("restored history = %d, want 4", other.History().Len())
	}

	// Sampling continues from the restored counters without discontinuities.
	stepN(other, otherClock, 10)
	if other.History().Len() != 5 {
		t.Errorf("history after restore = %d, want 5", other.History().Len())
	}
	if other.Live().Discontinuities() != 0 {
		t.Error("discontinuity after restore")
	}
}

func TestEngine_IntervalAutosave(t *testing.T) {
	cfg := testConfig(t)
	cfg.Derived.AutosaveInterval = time.Minute
	e, clock := newEngine(t, cfg, Options{Seed: 6})
	defer e.Close()

	stepN(e, clock, 10)
	if e.Autosave().Table().Len() != 0 {
		t.Fatal("savepoint before interval")
	}
	clock.Advance(time.Minute)
	e.Step()
	if e.Autosave().Table().Len() != 1 {
		t.Fatalf("entries = %d, want 1", e.Autosave().Table().Len())
	}
	waitPersisted(t, e, clock)
}

func TestEngine_SQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "stats.db")
	e, clock := newEngine(t, testConfig(t), Options{Seed: 7, SQLitePath: dbPath})
	stepN(e, clock, 30)

	id, ok := e.ScheduleStore()
	if !ok {
		t.Fatal("store not configured")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if s, _ := e.RequestState(id); s == persist.StateFinished {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("store request did not finish")
		}
		time.Sleep(time.Millisecond)
	}

	stepN(e, clock, 20)
	session := e.SessionID()
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err := telemetry.OpenSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	data, err := store.LoadHistory(context.Background(), session)
	if err != nil {
		t.Fatalf("LoadHistory: %v", err)
	}
	if len(data) != 5 {
		t.Errorf("stored collections = %d, want 5", len(data))
	}
}

func TestEngine_OutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	e, clock := newEngine(t, testConfig(t), Options{Seed: 8, OutputDir: dir})
	stepN(e, clock, 100)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, name := range []string{"statistics.csv", "perf.csv", "config.yaml", "history.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	streamed, err := telemetry.LoadHistoryCSV(filepath.Join(dir, "statistics.csv"))
	if err != nil {
		t.Fatalf("LoadHistoryCSV: %v", err)
	}
	if len(streamed) != 10 {
		t.Errorf("streamed collections = %d, want 10", len(streamed))
	}
}

func TestEngine_Run(t *testing.T) {
	e, _ := newEngine(t, testConfig(t), Options{Seed: 1})
	defer e.Close()

	if err := e.Run(context.Background(), 25); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if e.Timestep() != 25 {
		t.Errorf("timestep = %d, want 25", e.Timestep())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx, 0); err == nil {
		t.Error("expected context error")
	}
}

func TestNew_UnknownSummaryMetric(t *testing.T) {
	cfg := testConfig(t)
	cfg.Statistics.SummaryMetrics = []string{"bogus"}
	if _, err := New(context.Background(), cfg, Options{}); err == nil {
		t.Error("expected error for unknown summary metric")
	}
}
