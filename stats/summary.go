package stats

import (
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the summed values of one metric over a window.
type Summary struct {
	Metric Metric
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Last   float64
}

// Summarize computes a Summary over data. An empty window yields a zero Summary.
func Summarize(data StatisticsHistoryData, m Metric) Summary {
	s := Summary{Metric: m, Count: len(data)}
	if len(data) == 0 {
		return s
	}

	values := make([]float64, len(data))
	for i := range data {
		values[i] = data[i].Get(m).Summed
	}

	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Last = values[len(values)-1]
	if len(values) == 1 {
		s.Mean = values[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("metric", s.Metric.String()),
		slog.Int("count", s.Count),
		slog.Float64("min", s.Min),
		slog.Float64("max", s.Max),
		slog.Float64("mean", s.Mean),
		slog.Float64("std", s.StdDev),
		slog.Float64("last", s.Last),
	)
}
