package stats

import (
	"fmt"
	"log/slog"
)

// DataPoint is one derived metric: a value per color plus the cross-color value.
// Summed is not always the plain sum of Values; ratio metrics combine the
// underlying totals instead.
type DataPoint struct {
	Values [MaxColors]float64 `json:"values"`
	Summed float64            `json:"summed"`
}

// DataPointCollection holds every derived metric for one sampled instant.
// Time is in seconds since the run (or live view) started.
type DataPointCollection struct {
	Time float64 `json:"time"`

	NumCells                 DataPoint `json:"num_cells"`
	NumSelfReplicators       DataPoint `json:"num_self_replicators"`
	NumViruses               DataPoint `json:"num_viruses"`
	NumConnections           DataPoint `json:"num_connections"`
	NumParticles             DataPoint `json:"num_particles"`
	AverageGenomeCells       DataPoint `json:"average_genome_cells"`
	TotalEnergy              DataPoint `json:"total_energy"`
	ExternalEnergy           DataPoint `json:"external_energy"`
	GenomeComplexityVariance DataPoint `json:"genome_complexity_variance"`

	// Rates per timestep and cell.
	CreatedCells          DataPoint `json:"created_cells"`
	Attacks               DataPoint `json:"attacks"`
	MuscleActivities      DataPoint `json:"muscle_activities"`
	DefenderActivities    DataPoint `json:"defender_activities"`
	TransmitterActivities DataPoint `json:"transmitter_activities"`
	InjectionActivities   DataPoint `json:"injection_activities"`
	CompletedInjections   DataPoint `json:"completed_injections"`
	NervePulses           DataPoint `json:"nerve_pulses"`
	NeuronActivities      DataPoint `json:"neuron_activities"`
	SensorActivities      DataPoint `json:"sensor_activities"`
	SensorMatches         DataPoint `json:"sensor_matches"`
	ReconnectorCreated    DataPoint `json:"reconnector_created"`
	ReconnectorRemoved    DataPoint `json:"reconnector_removed"`
	Detonations           DataPoint `json:"detonations"`
}

// StatisticsHistoryData is an ordered run of collections, oldest first.
type StatisticsHistoryData []DataPointCollection

// Metric identifies one DataPoint within a DataPointCollection.
type Metric uint8

const (
	MetricNumCells Metric = iota
	MetricNumSelfReplicators
	MetricNumViruses
	MetricNumConnections
	MetricNumParticles
	MetricAverageGenomeCells
	MetricTotalEnergy
	MetricExternalEnergy
	MetricGenomeComplexityVariance

	MetricCreatedCells
	MetricAttacks
	MetricMuscleActivities
	MetricDefenderActivities
	MetricTransmitterActivities
	MetricInjectionActivities
	MetricCompletedInjections
	MetricNervePulses
	MetricNeuronActivities
	MetricSensorActivities
	MetricSensorMatches
	MetricReconnectorCreated
	MetricReconnectorRemoved
	MetricDetonations

	NumMetrics int = iota
)

const numRateMetrics = NumMetrics - int(MetricCreatedCells)

var metricNames = [NumMetrics]string{
	"num_cells",
	"num_self_replicators",
	"num_viruses",
	"num_connections",
	"num_particles",
	"average_genome_cells",
	"total_energy",
	"external_energy",
	"genome_complexity_variance",
	"created_cells",
	"attacks",
	"muscle_activities",
	"defender_activities",
	"transmitter_activities",
	"injection_activities",
	"completed_injections",
	"nerve_pulses",
	"neuron_activities",
	"sensor_activities",
	"sensor_matches",
	"reconnector_created",
	"reconnector_removed",
	"detonations",
}

// String returns the metric's snake_case name.
func (m Metric) String() string {
	if int(m) >= NumMetrics {
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
	return metricNames[m]
}

// IsRate reports whether the metric is derived from an accumulator.
func (m Metric) IsRate() bool {
	return m >= MetricCreatedCells && int(m) < NumMetrics
}

// ParseMetric looks up a metric by its snake_case name.
func ParseMetric(name string) (Metric, error) {
	for i, n := range metricNames {
		if n == name {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

// Metrics returns all metrics in collection order.
func Metrics() []Metric {
	out := make([]Metric, NumMetrics)
	for i := range out {
		out[i] = Metric(i)
	}
	return out
}

func (c *DataPointCollection) points() [NumMetrics]*DataPoint {
	return [NumMetrics]*DataPoint{
		&c.NumCells,
		&c.NumSelfReplicators,
		&c.NumViruses,
		&c.NumConnections,
		&c.NumParticles,
		&c.AverageGenomeCells,
		&c.TotalEnergy,
		&c.ExternalEnergy,
		&c.GenomeComplexityVariance,
		&c.CreatedCells,
		&c.Attacks,
		&c.MuscleActivities,
		&c.DefenderActivities,
		&c.TransmitterActivities,
		&c.InjectionActivities,
		&c.CompletedInjections,
		&c.NervePulses,
		&c.NeuronActivities,
		&c.SensorActivities,
		&c.SensorMatches,
		&c.ReconnectorCreated,
		&c.ReconnectorRemoved,
		&c.Detonations,
	}
}

// Get returns the DataPoint for m. Unknown metrics yield a zero DataPoint.
func (c *DataPointCollection) Get(m Metric) DataPoint {
	if int(m) >= NumMetrics {
		return DataPoint{}
	}
	return *c.points()[m]
}

// Set stores p as the DataPoint for m. Unknown metrics are ignored.
func (c *DataPointCollection) Set(m Metric, p DataPoint) {
	if int(m) >= NumMetrics {
		return
	}
	*c.points()[m] = p
}

// LogValue implements slog.LogValuer, logging the summed value of every metric.
func (c DataPointCollection) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, NumMetrics+1)
	attrs = append(attrs, slog.Float64("time", c.Time))
	for i, p := range c.points() {
		attrs = append(attrs, slog.Float64(metricNames[i], p.Summed))
	}
	return slog.GroupValue(attrs...)
}
