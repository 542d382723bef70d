package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/soupstats/sim"
	"github.com/pthm-cable/soupstats/stats"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds everything needed to restore a simulation and its statistics.
type Snapshot struct {
	Version   int     `json:"version"`
	Seed      int64   `json:"seed"`
	SessionID string  `json:"session_id"`
	Timestep  uint64  `json:"timestep"`
	Time      float64 `json:"time"`

	World      sim.State                   `json:"world"`
	Counters   stats.RawCounters           `json:"counters"`
	Statistics stats.DataPointCollection   `json:"statistics"`
	History    stats.StatisticsHistoryData `json:"history"`

	Peak *PeakInfo `json:"peak,omitempty"`
}

// PeakInfo records why a snapshot was kept as a peak.
type PeakInfo struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.World = s.World.Clone()
	cp.History = append(stats.StatisticsHistoryData(nil), s.History...)
	if s.Peak != nil {
		peak := *s.Peak
		cp.Peak = &peak
	}
	return &cp
}

// SnapshotFilename returns the file name SaveSnapshot uses for s.
func SnapshotFilename(s *Snapshot) string {
	if s.Peak != nil {
		return fmt.Sprintf("snapshot_%d_peak_%s.json", s.Timestep, s.Peak.Metric)
	}
	return fmt.Sprintf("snapshot_%d.json", s.Timestep)
}

// SaveSnapshot writes a snapshot to dir.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, SnapshotFilename(snapshot))

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snapshot.Version)
	}

	return &snapshot, nil
}
