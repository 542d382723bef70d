package sim

import (
	"math/rand"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/soupstats/config"
	"github.com/pthm-cable/soupstats/stats"
)

const (
	particleEnergy       = 1.0  // energy left by a dead cell
	particleDissolveRate = 0.02 // chance per timestep a particle returns to the external pool
	attackGain           = 5.0  // energy an attacker draws from the external pool
	virusChance          = 0.01 // chance a replicated cell is a virus
)

// World holds the ECS world and the lifetime accumulators.
type World struct {
	cfg config.SimConfig
	rng *rand.Rand

	world          *ecs.World
	cellMap        *ecs.Map1[Cell]
	particleMap    *ecs.Map1[Particle]
	cellFilter     *ecs.Filter1[Cell]
	particleFilter *ecs.Filter1[Particle]

	timestep       uint64
	externalEnergy float64
	acc            stats.AccumulatedCounters

	// scratch buffers reused across steps
	spawn   []Cell
	dead    []ecs.Entity
	deadPos []Cell
}

// NewWorld creates a world populated from cfg.
func NewWorld(cfg config.SimConfig, seed int64) *World {
	w := &World{cfg: cfg}
	w.Reset(seed)
	return w
}

func (w *World) init() {
	world := ecs.NewWorld()
	w.world = world
	w.cellMap = ecs.NewMap1[Cell](world)
	w.particleMap = ecs.NewMap1[Particle](world)
	w.cellFilter = ecs.NewFilter1[Cell](world)
	w.particleFilter = ecs.NewFilter1[Particle](world)
	w.timestep = 0
	w.externalEnergy = 0
	w.acc = stats.AccumulatedCounters{}
}

// Reset discards all entities and repopulates the world. Accumulators
// restart from zero.
func (w *World) Reset(seed int64) {
	w.rng = rand.New(rand.NewSource(seed))
	w.init()

	for i := 0; i < w.cfg.InitialCells; i++ {
		cell := w.randomCell()
		w.cellMap.NewEntity(&cell)
	}
	for i := 0; i < w.cfg.InitialParticles; i++ {
		p := Particle{Color: w.randomColor(), Energy: particleEnergy}
		w.particleMap.NewEntity(&p)
	}
}

func (w *World) randomColor() uint8 {
	return uint8(w.rng.Intn(w.cfg.NumColors))
}

func (w *World) randomCell() Cell {
	cell := Cell{
		Color:       w.randomColor(),
		Energy:      float32(w.cfg.CellEnergy),
		Connections: int32(w.rng.Intn(4)),
		Function:    CellFunction(w.rng.Intn(int(numCellFunctions))),
	}
	if cell.Function == FunctionConstructor {
		cell.GenomeCells = uint32(4 + w.rng.Intn(12))
	}
	return cell
}

// Timestep returns the number of completed steps.
func (w *World) Timestep() uint64 {
	return w.timestep
}

// Step advances the world by one timestep.
func (w *World) Step() {
	w.externalEnergy += w.cfg.ExternalInflow
	w.spawn = w.spawn[:0]
	w.dead = w.dead[:0]
	w.deadPos = w.deadPos[:0]

	numCells := 0
	query := w.cellFilter.Query()
	for query.Next() {
		cell := query.Get()
		numCells++
		cell.Age++
		cell.Energy -= float32(w.cfg.DecayRate)

		if w.rng.Float64() < w.cfg.ActivityChance {
			w.activate(cell)
		}

		if cell.SelfReplicator() && float64(cell.Energy) >= w.cfg.ReplicationCost {
			w.spawn = append(w.spawn, w.replicate(cell))
		}

		if cell.Energy <= 0 {
			w.dead = append(w.dead, query.Entity())
			w.deadPos = append(w.deadPos, *cell)
		}
	}

	// Structural changes are not allowed while a query is open.
	for i, e := range w.dead {
		w.world.RemoveEntity(e)
		p := Particle{Color: w.deadPos[i].Color, Energy: particleEnergy}
		w.particleMap.NewEntity(&p)
	}
	numCells -= len(w.dead)
	for i := range w.spawn {
		if numCells >= w.cfg.MaxCells {
			break
		}
		w.cellMap.NewEntity(&w.spawn[i])
		w.acc.CreatedCells[w.spawn[i].Color]++
		numCells++
	}

	w.dissolveParticles()
	w.timestep++
}

// activate fires the cell's function and records it in the accumulators.
func (w *World) activate(cell *Cell) {
	c := cell.Color
	switch cell.Function {
	case FunctionAttacker:
		w.acc.Attacks[c]++
		gain := attackGain
		if w.externalEnergy < gain {
			gain = w.externalEnergy
		}
		w.externalEnergy -= gain
		cell.Energy += float32(gain)
	case FunctionMuscle:
		w.acc.MuscleActivities[c]++
	case FunctionDefender:
		w.acc.DefenderActivities[c]++
	case FunctionTransmitter:
		w.acc.TransmitterActivities[c]++
	case FunctionInjector:
		w.acc.InjectionActivities[c]++
		if w.rng.Intn(4) == 0 {
			w.acc.CompletedInjections[c]++
		}
	case FunctionNerve:
		w.acc.NervePulses[c]++
	case FunctionNeuron:
		w.acc.NeuronActivities[c]++
	case FunctionSensor:
		w.acc.SensorActivities[c]++
		if w.rng.Intn(3) == 0 {
			w.acc.SensorMatches[c]++
		}
	case FunctionReconnector:
		if cell.Connections > 0 && w.rng.Intn(2) == 0 {
			cell.Connections--
			w.acc.ReconnectorRemoved[c]++
		} else {
			cell.Connections++
			w.acc.ReconnectorCreated[c]++
		}
	case FunctionDetonator:
		w.acc.Detonations[c]++
		w.externalEnergy += float64(cell.Energy)
		cell.Energy = 0
	case FunctionConstructor:
		// Constructors feed on the external pool to build offspring.
		gain := attackGain / 2
		if w.externalEnergy < gain {
			gain = w.externalEnergy
		}
		w.externalEnergy -= gain
		cell.Energy += float32(gain)
	}
}

// replicate splits the parent's energy with a mutated offspring.
func (w *World) replicate(parent *Cell) Cell {
	parent.Energy /= 2
	child := *parent
	child.Age = 0
	child.Connections = 1
	child.Virus = w.rng.Float64() < virusChance

	switch w.rng.Intn(3) {
	case 0:
		if child.GenomeCells > 1 {
			child.GenomeCells--
		}
	case 1:
		child.GenomeCells++
	}
	return child
}

func (w *World) dissolveParticles() {
	w.dead = w.dead[:0]
	query := w.particleFilter.Query()
	for query.Next() {
		p := query.Get()
		if w.rng.Float64() < particleDissolveRate {
			w.externalEnergy += float64(p.Energy)
			w.dead = append(w.dead, query.Entity())
		}
	}
	for _, e := range w.dead {
		w.world.RemoveEntity(e)
	}
}

// Counters samples the raw statistics of the current timestep.
func (w *World) Counters() stats.RawCounters {
	var raw stats.RawCounters
	ts := &raw.Timeline.Timestep
	ts.ExternalEnergy = w.externalEnergy
	raw.Timeline.Accumulated = w.acc

	var genomes [stats.MaxColors][]float64
	var maxAge uint32

	query := w.cellFilter.Query()
	for query.Next() {
		cell := query.Get()
		c := cell.Color
		ts.NumCells[c]++
		ts.NumConnections[c] += cell.Connections
		ts.TotalEnergy[c] += cell.Energy
		if cell.SelfReplicator() {
			ts.NumSelfReplicators[c]++
			ts.NumGenomeCells[c] += uint64(cell.GenomeCells)
			genomes[c] = append(genomes[c], float64(cell.GenomeCells))
		}
		if cell.Virus {
			ts.NumViruses[c]++
		}
		if cell.Age > maxAge {
			maxAge = cell.Age
		}
	}

	pq := w.particleFilter.Query()
	for pq.Next() {
		p := pq.Get()
		ts.NumParticles[p.Color]++
		ts.TotalEnergy[p.Color] += p.Energy
	}

	for c, g := range genomes {
		if len(g) > 1 {
			ts.GenomeComplexityVariance[c] = stat.Variance(g, nil)
		}
	}

	raw.Histogram = w.ageHistogram(maxAge)
	return raw
}

// ageHistogram bins cell ages per color into MaxHistogramSlots slots.
func (w *World) ageHistogram(maxAge uint32) stats.HistogramData {
	h := stats.HistogramData{MaxValue: int32(maxAge)}
	slotWidth := maxAge/stats.MaxHistogramSlots + 1

	query := w.cellFilter.Query()
	for query.Next() {
		cell := query.Get()
		slot := cell.Age / slotWidth
		if slot >= stats.MaxHistogramSlots {
			slot = stats.MaxHistogramSlots - 1
		}
		h.NumCellsByColorBySlot[cell.Color][slot]++
	}
	return h
}

// State returns a deep copy of the world.
func (w *World) State() State {
	s := State{
		Timestep:       w.timestep,
		ExternalEnergy: w.externalEnergy,
		Accumulated:    w.acc,
	}
	query := w.cellFilter.Query()
	for query.Next() {
		s.Cells = append(s.Cells, *query.Get())
	}
	pq := w.particleFilter.Query()
	for pq.Next() {
		s.Particles = append(s.Particles, *pq.Get())
	}
	return s
}

// Restore replaces the world with s. The random source is reseeded from seed.
func (w *World) Restore(s State, seed int64) {
	w.rng = rand.New(rand.NewSource(seed))
	w.init()
	w.timestep = s.Timestep
	w.externalEnergy = s.ExternalEnergy
	w.acc = s.Accumulated
	for i := range s.Cells {
		cell := s.Cells[i]
		w.cellMap.NewEntity(&cell)
	}
	for i := range s.Particles {
		p := s.Particles[i]
		w.particleMap.NewEntity(&p)
	}
}
