package stats

// NearZero is the smallest timestep delta used as a rate denominator.
// Smaller deltas (including zero and negative ones) are treated as 1.
const NearZero = 1e-4

// Convert derives a DataPointCollection from the current counters and, when
// available, the counters sampled previously.
//
// Rates are computed from the accumulator deltas between the two samples,
// normalized by the timestep delta and the current cell count of each color.
// Without previous counters every rate is zero. Convert is pure and total:
// resets, empty colors and duplicate timesteps are absorbed, never reported.
func Convert(
	current TimelineCounters,
	timestep uint64,
	time float64,
	previous *TimelineCounters,
	previousTimestep *uint64,
) DataPointCollection {
	ts := &current.Timestep

	result := DataPointCollection{Time: time}
	result.NumCells = timestepDataPoint(ts.NumCells)
	result.NumSelfReplicators = timestepDataPoint(ts.NumSelfReplicators)
	result.NumViruses = timestepDataPoint(ts.NumViruses)
	result.NumConnections = timestepDataPoint(ts.NumConnections)
	result.NumParticles = timestepDataPoint(ts.NumParticles)
	result.AverageGenomeCells = averageGenomeCellsDataPoint(ts.NumGenomeCells, ts.NumSelfReplicators)
	result.TotalEnergy = timestepDataPoint(ts.TotalEnergy)
	result.ExternalEnergy = broadcastDataPoint(ts.ExternalEnergy)
	result.GenomeComplexityVariance = timestepDataPoint(ts.GenomeComplexityVariance)

	deltaTimesteps := 1.0
	if previousTimestep != nil {
		deltaTimesteps = float64(timestep) - float64(*previousTimestep)
	}
	if deltaTimesteps < NearZero {
		deltaTimesteps = 1.0
	}

	last := current
	if previous != nil {
		last = *previous
	}

	curFields := current.Accumulated.Fields()
	lastFields := last.Accumulated.Fields()
	for i := 0; i < numRateMetrics; i++ {
		p := rateDataPoint(*curFields[i], *lastFields[i], ts.NumCells, deltaTimesteps)
		result.Set(MetricCreatedCells+Metric(i), p)
	}

	return result
}

// Discontinuities counts the (accumulator, color) pairs that decreased
// between previous and current. Convert clamps such rates to zero; this
// count only exists for diagnostics.
func Discontinuities(current, previous TimelineCounters) int {
	var n int
	curFields := current.Accumulated.Fields()
	lastFields := previous.Accumulated.Fields()
	for i := 0; i < numRateMetrics; i++ {
		for c := 0; c < MaxColors; c++ {
			if lastFields[i][c] > curFields[i][c] {
				n++
			}
		}
	}
	return n
}

func timestepDataPoint[T Number](values ColorVector[T]) DataPoint {
	var p DataPoint
	for i, v := range values {
		p.Values[i] = float64(v)
		p.Summed += p.Values[i]
	}
	return p
}

// broadcastDataPoint copies a scalar that is not split by color into every slot.
func broadcastDataPoint(value float64) DataPoint {
	p := DataPoint{Summed: value}
	for i := range p.Values {
		p.Values[i] = value
	}
	return p
}

func averageGenomeCellsDataPoint(numGenomeCells ColorVector[uint64], numSelfReplicators ColorVector[int32]) DataPoint {
	var p DataPoint
	var sumGenomeCells, sumSelfReplicators float64
	for i := 0; i < MaxColors; i++ {
		p.Values[i] = float64(numGenomeCells[i])
		sumGenomeCells += p.Values[i]
		sumSelfReplicators += float64(numSelfReplicators[i])
		if numSelfReplicators[i] > 0 {
			p.Values[i] /= float64(numSelfReplicators[i])
		}
	}
	if sumSelfReplicators > 0 {
		p.Summed = sumGenomeCells / sumSelfReplicators
	} else {
		p.Summed = sumGenomeCells
	}
	return p
}

// rateDataPoint computes per-cell rates of an accumulator. A color only
// contributes to Summed (numerator and cell-count denominator alike) when
// its own rate is defined.
func rateDataPoint(values, lastValues ColorVector[uint64], numCells ColorVector[int32], deltaTimesteps float64) DataPoint {
	var p DataPoint
	var sumNumCells int64
	for i := 0; i < MaxColors; i++ {
		if lastValues[i] > values[i] || numCells[i] <= 0 {
			continue
		}
		delta := float64(values[i]-lastValues[i]) / deltaTimesteps
		p.Values[i] = delta / float64(numCells[i])
		p.Summed += delta
		sumNumCells += int64(numCells[i])
	}
	if sumNumCells == 0 {
		p.Summed = 0
		return p
	}
	p.Summed /= float64(sumNumCells)
	return p
}
