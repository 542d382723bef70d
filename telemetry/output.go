package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/pthm-cable/soupstats/config"
	"github.com/pthm-cable/soupstats/stats"
)

// OutputManager streams statistics and perf rows to CSV files in a run directory.
type OutputManager struct {
	dir            string
	statisticsFile *os.File
	perfFile       *os.File

	statisticsHeaderWritten bool
	perfHeaderWritten       bool
}

// NewOutputManager creates the output directory and its files.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "statistics.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating statistics.csv: %w", err)
	}
	om.statisticsFile = f

	f, err = os.Create(filepath.Join(dir, "perf.csv"))
	if err != nil {
		om.statisticsFile.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	om.perfFile = f

	return om, nil
}

// WriteConfig saves the configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteStatistics appends one sampled collection to statistics.csv.
func (om *OutputManager) WriteStatistics(c stats.DataPointCollection) error {
	if om == nil {
		return nil
	}
	records := FlattenCollection(c)
	if err := writeRows(om.statisticsFile, records, &om.statisticsHeaderWritten); err != nil {
		return fmt.Errorf("writing statistics: %w", err)
	}
	return nil
}

// WritePerf appends a perf row to perf.csv.
func (om *OutputManager) WritePerf(s PerfStats, timestep uint64) error {
	if om == nil {
		return nil
	}
	records := []PerfStatsCSV{s.ToCSV(timestep)}
	if err := writeRows(om.perfFile, records, &om.perfHeaderWritten); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// writeRows writes the header only on the first call for a file.
func writeRows[T any](f *os.File, records []T, headerWritten *bool) error {
	if !*headerWritten {
		if err := gocsv.Marshal(records, f); err != nil {
			return err
		}
		*headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(records, f)
}

// WriteHistory exports a complete history to path inside the output dir.
func (om *OutputManager) WriteHistory(name string, data stats.StatisticsHistoryData) error {
	if om == nil {
		return nil
	}
	return SaveHistoryCSV(filepath.Join(om.dir, name), data)
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, f := range []*os.File{om.statisticsFile, om.perfFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
