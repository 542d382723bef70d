// Package autosave writes periodic savepoints of a running simulation and
// keeps the table of savepoints on disk.
package autosave

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TableFilename is the name of the savepoint table inside the autosave directory.
const TableFilename = "savepoints.json"

// SavepointState is the persistence phase of a savepoint.
type SavepointState uint8

const (
	StateInQueue SavepointState = iota
	StateInProgress
	StatePersisted
	StateError
)

var stateNames = [...]string{"in_queue", "in_progress", "persisted", "error"}

func (s SavepointState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s SavepointState) MarshalText() ([]byte, error) {
	if int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid savepoint state %d", uint8(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SavepointState) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = SavepointState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown savepoint state %q", b)
}

// Entry is one row of the savepoint table. Filename is relative to the
// table's directory once the savepoint is persisted.
type Entry struct {
	Filename   string         `json:"filename"`
	State      SavepointState `json:"state"`
	Timestep   uint64         `json:"timestep"`
	Timestamp  time.Time      `json:"timestamp"`
	Peak       float64        `json:"peak,omitempty"`
	PeakMetric string         `json:"peak_metric,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
}

// InFlight reports whether the entry's save has not completed yet.
func (e Entry) InFlight() bool {
	return e.State == StateInQueue || e.State == StateInProgress
}

// SavepointTable lists savepoints newest first.
type SavepointTable struct {
	dir     string
	entries []Entry
}

type tableFile struct {
	Entries []Entry `json:"entries"`
}

// NewSavepointTable creates an empty table stored in dir.
func NewSavepointTable(dir string) *SavepointTable {
	return &SavepointTable{dir: dir}
}

// LoadSavepointTable reads the table stored in dir. A missing file yields
// an empty table.
func LoadSavepointTable(dir string) (*SavepointTable, error) {
	t := NewSavepointTable(dir)
	data, err := os.ReadFile(t.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading savepoint table: %w", err)
	}

	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing savepoint table: %w", err)
	}
	t.entries = f.Entries
	return t, nil
}

// Save writes the table to its directory.
func (t *SavepointTable) Save() error {
	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("creating autosave directory: %w", err)
	}
	data, err := json.MarshalIndent(tableFile{Entries: t.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling savepoint table: %w", err)
	}

	tmp := t.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing savepoint table: %w", err)
	}
	if err := os.Rename(tmp, t.Path()); err != nil {
		return fmt.Errorf("replacing savepoint table: %w", err)
	}
	return nil
}

// Dir returns the directory holding the table and its savepoints.
func (t *SavepointTable) Dir() string {
	return t.dir
}

// Path returns the path of the table file.
func (t *SavepointTable) Path() string {
	return filepath.Join(t.dir, TableFilename)
}

// AbsPath resolves an entry's filename against the table directory.
func (t *SavepointTable) AbsPath(e Entry) string {
	if e.Filename == "" || filepath.IsAbs(e.Filename) {
		return e.Filename
	}
	return filepath.Join(t.dir, e.Filename)
}

// EntryPath converts a saved file's path to the form stored in entries.
func (t *SavepointTable) EntryPath(path string) string {
	rel, err := filepath.Rel(t.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

// Len returns the number of entries.
func (t *SavepointTable) Len() int {
	return len(t.entries)
}

// At returns the entry at index i, or false when i is out of range.
func (t *SavepointTable) At(i int) (Entry, bool) {
	if i < 0 || i >= len(t.entries) {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of all entries, newest first.
func (t *SavepointTable) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// InsertFront adds e as the newest entry.
func (t *SavepointTable) InsertFront(e Entry) {
	t.entries = append(t.entries, Entry{})
	copy(t.entries[1:], t.entries)
	t.entries[0] = e
}

// Update replaces the entry at index i. It reports false when i is out of range.
func (t *SavepointTable) Update(i int, e Entry) bool {
	if i < 0 || i >= len(t.entries) {
		return false
	}
	t.entries[i] = e
	return true
}

// Delete removes the entry at index i and returns it. An index out of range
// removes nothing.
func (t *SavepointTable) Delete(i int) (Entry, bool) {
	if i < 0 || i >= len(t.entries) {
		return Entry{}, false
	}
	e := t.entries[i]
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return e, true
}

// Truncate keeps the n newest entries and returns the removed ones.
func (t *SavepointTable) Truncate(n int) []Entry {
	if n < 0 {
		n = 0
	}
	if n >= len(t.entries) {
		return nil
	}
	removed := append([]Entry(nil), t.entries[n:]...)
	t.entries = t.entries[:n]
	return removed
}

// Find returns the index of the entry with the given request id.
func (t *SavepointTable) Find(requestID string) (int, bool) {
	for i, e := range t.entries {
		if e.RequestID != "" && e.RequestID == requestID {
			return i, true
		}
	}
	return 0, false
}
