// Package stats converts raw per-timestep simulation counters into derived
// time series and keeps the live and full-run histories of them.
package stats

// MaxColors is the number of color classes cells can be tagged with.
const MaxColors = 7

// MaxHistogramSlots is the number of slots per color in HistogramData.
const MaxHistogramSlots = 16

// Number is the set of element types a ColorVector may hold.
type Number interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// ColorVector holds one value per color class.
type ColorVector[T Number] [MaxColors]T

// Sum returns the sum over all colors as float64.
func (v ColorVector[T]) Sum() float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	return sum
}
