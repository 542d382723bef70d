package stats

// TimestepCounters are instantaneous counts sampled at a single timestep.
type TimestepCounters struct {
	ExternalEnergy float64 `json:"external_energy"`

	NumCells           ColorVector[int32]   `json:"num_cells"`
	NumSelfReplicators ColorVector[int32]   `json:"num_self_replicators"`
	NumViruses         ColorVector[int32]   `json:"num_viruses"`
	NumConnections     ColorVector[int32]   `json:"num_connections"`
	NumParticles       ColorVector[int32]   `json:"num_particles"`
	NumGenomeCells     ColorVector[uint64]  `json:"num_genome_cells"`
	TotalEnergy        ColorVector[float32] `json:"total_energy"`

	// Variance of genome complexity among self-replicators, per color.
	GenomeComplexityVariance ColorVector[float64] `json:"genome_complexity_variance"`
}

// AccumulatedCounters are lifetime totals. They never decrease while a
// simulation runs; a decrease means the simulation was reset.
type AccumulatedCounters struct {
	CreatedCells          ColorVector[uint64] `json:"created_cells"`
	Attacks               ColorVector[uint64] `json:"attacks"`
	MuscleActivities      ColorVector[uint64] `json:"muscle_activities"`
	DefenderActivities    ColorVector[uint64] `json:"defender_activities"`
	TransmitterActivities ColorVector[uint64] `json:"transmitter_activities"`
	InjectionActivities   ColorVector[uint64] `json:"injection_activities"`
	CompletedInjections   ColorVector[uint64] `json:"completed_injections"`
	NervePulses           ColorVector[uint64] `json:"nerve_pulses"`
	NeuronActivities      ColorVector[uint64] `json:"neuron_activities"`
	SensorActivities      ColorVector[uint64] `json:"sensor_activities"`
	SensorMatches         ColorVector[uint64] `json:"sensor_matches"`
	ReconnectorCreated    ColorVector[uint64] `json:"reconnector_created"`
	ReconnectorRemoved    ColorVector[uint64] `json:"reconnector_removed"`
	Detonations           ColorVector[uint64] `json:"detonations"`
}

// Fields returns pointers to every accumulator in declaration order,
// which matches the order of the rate metrics.
func (a *AccumulatedCounters) Fields() [numRateMetrics]*ColorVector[uint64] {
	return [numRateMetrics]*ColorVector[uint64]{
		&a.CreatedCells,
		&a.Attacks,
		&a.MuscleActivities,
		&a.DefenderActivities,
		&a.TransmitterActivities,
		&a.InjectionActivities,
		&a.CompletedInjections,
		&a.NervePulses,
		&a.NeuronActivities,
		&a.SensorActivities,
		&a.SensorMatches,
		&a.ReconnectorCreated,
		&a.ReconnectorRemoved,
		&a.Detonations,
	}
}

// TimelineCounters is the part of the raw statistics that feeds the timeline.
type TimelineCounters struct {
	Timestep    TimestepCounters    `json:"timestep"`
	Accumulated AccumulatedCounters `json:"accumulated"`
}

// HistogramData is a per-color distribution snapshot, independent of the timeline.
type HistogramData struct {
	MaxValue              int32                                `json:"max_value"`
	NumCellsByColorBySlot [MaxColors][MaxHistogramSlots]int32 `json:"num_cells_by_color_by_slot"`
}

// RawCounters is everything the simulation reports for one timestep.
type RawCounters struct {
	Timeline  TimelineCounters `json:"timeline"`
	Histogram HistogramData    `json:"histogram"`
}
