package autosave

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/pthm-cable/soupstats/config"
	"github.com/pthm-cable/soupstats/persist"
	"github.com/pthm-cable/soupstats/stats"
	"github.com/pthm-cable/soupstats/telemetry"
)

// SenderID tags persistence requests issued by the controller.
const SenderID = "autosave"

// Capture returns a snapshot of the simulation as it is now. It runs on the
// caller's goroutine and must return a snapshot the caller no longer touches.
type Capture func() *telemetry.Snapshot

// Controller creates savepoints on a wall-clock interval and optionally keeps
// the best peak snapshot seen between savepoints.
type Controller struct {
	enabled       bool
	interval      time.Duration
	circular      bool
	numberOfFiles int

	facade *persist.Facade
	table  *SavepointTable
	peak   *stats.PeakDetector[*telemetry.Snapshot]

	hasSession   bool
	sessionID    string
	lastAutosave time.Time

	pendingDeletes []Entry
}

// NewController loads the savepoint table from the configured directory.
// Saves run on facade, which the caller starts and shuts down.
func NewController(cfg *config.Config, facade *persist.Facade) (*Controller, error) {
	table, err := LoadSavepointTable(cfg.Autosave.Directory)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		enabled:       cfg.Autosave.Enabled,
		interval:      cfg.Derived.AutosaveInterval,
		circular:      cfg.Derived.Circular,
		numberOfFiles: cfg.Autosave.NumberOfFiles,
		facade:        facade,
		table:         table,
	}
	if cfg.Derived.CatchPeaks {
		metric, err := stats.ParseMetric(cfg.Autosave.CatchPeaks)
		if err != nil {
			return nil, fmt.Errorf("autosave.catch_peaks: %w", err)
		}
		c.peak = stats.NewPeakDetector(metric, cfg.Derived.PeakInterval, (*telemetry.Snapshot).Clone)
	}
	return c, nil
}

// SetEnabled turns automatic savepoints on or off.
func (c *Controller) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// Table returns the savepoint table.
func (c *Controller) Table() *SavepointTable {
	return c.table
}

// PeakCandidate returns the held peak, if peaks are caught and one is held.
func (c *Controller) PeakCandidate() (stats.PeakCandidate[*telemetry.Snapshot], bool) {
	if c.peak == nil {
		return stats.PeakCandidate[*telemetry.Snapshot]{}, false
	}
	return c.peak.Candidate()
}

// Process runs one controller tick: it updates entries of finished saves,
// deletes superseded savepoints, creates a savepoint when the interval has
// elapsed and samples the peak metric. latest may be nil before the first
// statistics sample.
func (c *Controller) Process(now time.Time, sessionID string, latest *stats.DataPointCollection, capture Capture) {
	c.processPendingDeletes()
	c.updateEntries(now)

	if !c.enabled {
		return
	}

	if !c.hasSession || c.sessionID != sessionID {
		c.hasSession = true
		c.sessionID = sessionID
		c.lastAutosave = now
		if c.peak != nil {
			c.peak.Reset(now)
		}
	}

	if now.Sub(c.lastAutosave) >= c.interval {
		c.createSavepoint(capture, c.peak != nil)
		c.lastAutosave = now
		if c.peak != nil {
			c.peak.Reset(now)
		}
	}

	if c.peak != nil {
		if outcome := c.peak.Tick(now, latest, capture); outcome == stats.PeakReplaced {
			cand, _ := c.peak.Candidate()
			slog.Debug("peak candidate replaced", "metric", c.peak.Metric().String(), "value", cand.Value)
		}
	}
}

// Flush records finished saves in the table without creating savepoints.
func (c *Controller) Flush(now time.Time) {
	c.processPendingDeletes()
	c.updateEntries(now)
}

// CreateSavepoint schedules a savepoint of the current state immediately.
func (c *Controller) CreateSavepoint(capture Capture) {
	c.createSavepoint(capture, false)
}

func (c *Controller) createSavepoint(capture Capture, usePeak bool) {
	if c.circular {
		c.discard(c.table.Truncate(c.numberOfFiles - 1))
	}

	var snap *telemetry.Snapshot
	if usePeak {
		if cand, ok := c.peak.Take(); ok && cand.Payload != nil {
			snap = cand.Payload
			snap.Peak = &telemetry.PeakInfo{Metric: c.peak.Metric().String(), Value: cand.Value}
		}
	}
	if snap == nil {
		snap = capture()
	}
	if snap == nil {
		slog.Error("failed to create savepoint", "error", "capture returned no snapshot")
		return
	}

	dir := c.table.Dir()
	id := c.facade.Schedule(SenderID, func(ctx context.Context) (persist.Result, error) {
		path, err := telemetry.SaveSnapshot(snap, dir)
		if err != nil {
			return persist.Result{}, err
		}
		return persist.Result{Path: path, Timestep: snap.Timestep, Data: snap.Peak}, nil
	})

	c.table.InsertFront(Entry{State: StateInQueue, RequestID: string(id)})
	c.saveTable()
	slog.Info("savepoint scheduled", "request", string(id), "timestep", snap.Timestep, "peak", snap.Peak != nil)
}

// DeleteSavepoint removes the entry at index i and its file. It reports
// false when i is out of range.
func (c *Controller) DeleteSavepoint(i int) bool {
	e, ok := c.table.Delete(i)
	if !ok {
		return false
	}
	c.discard([]Entry{e})
	c.saveTable()
	return true
}

// Cleanup removes every savepoint.
func (c *Controller) Cleanup() {
	c.discard(c.table.Truncate(0))
	c.saveTable()
}

// discard deletes the files of removed entries. Saves still running are
// remembered and their files deleted once they finish.
func (c *Controller) discard(entries []Entry) {
	for _, e := range entries {
		switch {
		case e.State == StatePersisted:
			removeFile(c.table.AbsPath(e))
		case e.InFlight() && e.RequestID != "":
			c.pendingDeletes = append(c.pendingDeletes, e)
		}
	}
}

func (c *Controller) processPendingDeletes() {
	remaining := c.pendingDeletes[:0]
	for _, e := range c.pendingDeletes {
		id := persist.RequestID(e.RequestID)
		state, ok := c.facade.State(id)
		if !ok {
			continue
		}
		switch state {
		case persist.StateFinished:
			if res, err := c.facade.Result(id); err == nil {
				removeFile(res.Path)
			}
			c.facade.Forget(id)
		case persist.StateError:
			c.facade.Forget(id)
		default:
			remaining = append(remaining, e)
		}
	}
	c.pendingDeletes = remaining
}

// updateEntries copies request progress into the table.
func (c *Controller) updateEntries(now time.Time) {
	changed := false
	for i := 0; i < c.table.Len(); i++ {
		e, _ := c.table.At(i)
		if !e.InFlight() {
			continue
		}
		id := persist.RequestID(e.RequestID)
		state, ok := c.facade.State(id)
		if !ok {
			// Left over from an earlier process.
			e.State = StateError
			c.table.Update(i, e)
			changed = true
			continue
		}

		switch state {
		case persist.StateInProgress:
			if e.State != StateInProgress {
				e.State = StateInProgress
				changed = true
			}
		case persist.StateFinished:
			res, err := c.facade.Result(id)
			if err != nil {
				continue
			}
			e.State = StatePersisted
			e.Filename = c.table.EntryPath(res.Path)
			e.Timestep = res.Timestep
			e.Timestamp = now
			if peak, ok := res.Data.(*telemetry.PeakInfo); ok && peak != nil {
				e.Peak = peak.Value
				e.PeakMetric = peak.Metric
			}
			c.facade.Forget(id)
			changed = true
			slog.Info("savepoint persisted", "file", e.Filename, "timestep", e.Timestep)
		case persist.StateError:
			if _, err := c.facade.Result(id); err != nil {
				slog.Error("failed to persist savepoint", "request", e.RequestID, "error", err)
			}
			e.State = StateError
			c.facade.Forget(id)
			changed = true
		}
		c.table.Update(i, e)
	}
	if changed {
		c.saveTable()
	}
}

func (c *Controller) saveTable() {
	if err := c.table.Save(); err != nil {
		slog.Error("failed to save savepoint table", "error", err)
	}
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to delete savepoint", "path", path, "error", err)
	}
}
