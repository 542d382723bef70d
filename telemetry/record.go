// Package telemetry exports statistics histories (CSV, SQLite), snapshots and pipeline timings.
package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/soupstats/stats"
)

// MetricRecord is one metric of one sampled instant, flattened for CSV and SQL.
type MetricRecord struct {
	Time   float64 `csv:"time"`
	Metric string  `csv:"metric"`
	Color0 float64 `csv:"color_0"`
	Color1 float64 `csv:"color_1"`
	Color2 float64 `csv:"color_2"`
	Color3 float64 `csv:"color_3"`
	Color4 float64 `csv:"color_4"`
	Color5 float64 `csv:"color_5"`
	Color6 float64 `csv:"color_6"`
	Summed float64 `csv:"summed"`
}

func newMetricRecord(t float64, m stats.Metric, p stats.DataPoint) MetricRecord {
	return MetricRecord{
		Time:   t,
		Metric: m.String(),
		Color0: p.Values[0],
		Color1: p.Values[1],
		Color2: p.Values[2],
		Color3: p.Values[3],
		Color4: p.Values[4],
		Color5: p.Values[5],
		Color6: p.Values[6],
		Summed: p.Summed,
	}
}

// DataPoint converts the record back.
func (r MetricRecord) DataPoint() stats.DataPoint {
	return stats.DataPoint{
		Values: [stats.MaxColors]float64{r.Color0, r.Color1, r.Color2, r.Color3, r.Color4, r.Color5, r.Color6},
		Summed: r.Summed,
	}
}

// Flatten turns collections into records, one per metric, preserving order.
func Flatten(data stats.StatisticsHistoryData) []MetricRecord {
	records := make([]MetricRecord, 0, len(data)*stats.NumMetrics)
	for i := range data {
		records = append(records, FlattenCollection(data[i])...)
	}
	return records
}

// FlattenCollection turns a single collection into records.
func FlattenCollection(c stats.DataPointCollection) []MetricRecord {
	records := make([]MetricRecord, 0, stats.NumMetrics)
	for _, m := range stats.Metrics() {
		records = append(records, newMetricRecord(c.Time, m, c.Get(m)))
	}
	return records
}

// Unflatten regroups records into collections. Consecutive records with the
// same time form one collection until a metric repeats; metrics missing from
// the input stay zero.
func Unflatten(records []MetricRecord) (stats.StatisticsHistoryData, error) {
	var data stats.StatisticsHistoryData
	var seen [stats.NumMetrics]bool
	for i, r := range records {
		m, err := stats.ParseMetric(r.Metric)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if n := len(data); n == 0 || data[n-1].Time != r.Time || seen[m] {
			if n > 0 && r.Time < data[n-1].Time {
				return nil, fmt.Errorf("record %d: time %v before %v", i, r.Time, data[n-1].Time)
			}
			data = append(data, stats.DataPointCollection{Time: r.Time})
			seen = [stats.NumMetrics]bool{}
		}
		data[len(data)-1].Set(m, r.DataPoint())
		seen[m] = true
	}
	return data, nil
}

// WriteHistoryCSV writes data as CSV with a header row.
func WriteHistoryCSV(w io.Writer, data stats.StatisticsHistoryData) error {
	records := Flatten(data)
	if err := gocsv.Marshal(&records, w); err != nil {
		return fmt.Errorf("writing statistics: %w", err)
	}
	return nil
}

// ReadHistoryCSV parses CSV written by WriteHistoryCSV.
func ReadHistoryCSV(r io.Reader) (stats.StatisticsHistoryData, error) {
	var records []MetricRecord
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, fmt.Errorf("reading statistics: %w", err)
	}
	return Unflatten(records)
}

// SaveHistoryCSV writes data to path.
func SaveHistoryCSV(path string, data stats.StatisticsHistoryData) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteHistoryCSV(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadHistoryCSV reads data from path.
func LoadHistoryCSV(path string) (stats.StatisticsHistoryData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadHistoryCSV(f)
}
