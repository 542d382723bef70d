// Package sim is a small CPU world of colored cells and energy particles.
// It stands in for the accelerated engine as a producer of raw counters.
package sim

import "github.com/pthm-cable/soupstats/stats"

// CellFunction is the specialized behavior of a cell.
type CellFunction uint8

const (
	FunctionNone CellFunction = iota
	FunctionConstructor
	FunctionAttacker
	FunctionMuscle
	FunctionDefender
	FunctionTransmitter
	FunctionInjector
	FunctionNerve
	FunctionNeuron
	FunctionSensor
	FunctionReconnector
	FunctionDetonator

	numCellFunctions
)

// Cell is a living cell. Cells with a genome are self-replicators.
type Cell struct {
	Color       uint8        `json:"color"`
	Energy      float32      `json:"energy"`
	Connections int32        `json:"connections"`
	Function    CellFunction `json:"function"`
	GenomeCells uint32       `json:"genome_cells"`
	Virus       bool         `json:"virus"`
	Age         uint32       `json:"age"`
}

// SelfReplicator reports whether the cell carries a genome.
func (c *Cell) SelfReplicator() bool {
	return c.GenomeCells > 0
}

// Particle is free energy left behind by dead cells.
type Particle struct {
	Color  uint8   `json:"color"`
	Energy float32 `json:"energy"`
}

// State is a serializable copy of a world.
type State struct {
	Timestep       uint64                    `json:"timestep"`
	ExternalEnergy float64                   `json:"external_energy"`
	Accumulated    stats.AccumulatedCounters `json:"accumulated"`
	Cells          []Cell                    `json:"cells"`
	Particles      []Particle                `json:"particles"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	s.Cells = append([]Cell(nil), s.Cells...)
	s.Particles = append([]Particle(nil), s.Particles...)
	return s
}
