package telemetry

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pthm-cable/soupstats/sim"
)

func testSnapshot() *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		Seed:      42,
		SessionID: "session",
		Timestep:  900,
		Time:      12.5,
		World: sim.State{
			Timestep:       900,
			ExternalEnergy: 3.5,
			Cells: []sim.Cell{
				{Color: 1, Energy: 50, GenomeCells: 8, Function: sim.FunctionConstructor},
				{Color: 2, Energy: 20, Virus: true},
			},
			Particles: []sim.Particle{{Color: 3, Energy: 1}},
		},
		History: sampleHistory(),
	}
	s.Counters.Timeline.Timestep.NumCells[1] = 1
	s.Counters.Timeline.Timestep.NumCells[2] = 1
	s.Statistics.NumCells.Summed = 2
	return s
}

func TestSnapshotFilename(t *testing.T) {
	s := testSnapshot()
	if got := SnapshotFilename(s); got != "snapshot_900.json" {
		t.Errorf("filename = %q", got)
	}
	s.Peak = &PeakInfo{Metric: "genome_complexity_variance", Value: 3}
	if got := SnapshotFilename(s); got != "snapshot_900_peak_genome_complexity_variance.json" {
		t.Errorf("peak filename = %q", got)
	}
}

func TestSaveLoadSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	s := testSnapshot()
	s.Peak = &PeakInfo{Metric: "num_cells", Value: 7}

	path, err := SaveSnapshot(s, dir)
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("saved to %s, want dir %s", path, dir)
	}

	got, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Error("loaded snapshot differs from saved one")
	}
}

func TestLoadSnapshotRejectsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshot(path); err == nil {
		t.Error("expected version error")
	}
}

func TestSnapshotClone(t *testing.T) {
	s := testSnapshot()
	s.Peak = &PeakInfo{Metric: "num_cells", Value: 1}
	cp := s.Clone()

	cp.World.Cells[0].Energy = -1
	cp.History[0].NumCells.Summed = -1
	cp.Peak.Value = -1

	if s.World.Cells[0].Energy == -1 {
		t.Error("clone shares cells")
	}
	if s.History[0].NumCells.Summed == -1 {
		t.Error("clone shares history")
	}
	if s.Peak.Value == -1 {
		t.Error("clone shares peak info")
	}

	var nilSnap *Snapshot
	if nilSnap.Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}
