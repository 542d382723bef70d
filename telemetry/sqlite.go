package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pthm-cable/soupstats/stats"

	_ "modernc.org/sqlite"
)

// ErrStoreClosed is returned by a SQLiteStore used after Close.
var ErrStoreClosed = errors.New("sqlite store is closed")

// SQLiteStore keeps statistics histories keyed by run id.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// One connection serializes transactions from concurrent savers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging %s: %w", path, err)
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS statistics (
			run TEXT NOT NULL,
			seq INTEGER NOT NULL,
			time REAL NOT NULL,
			metric TEXT NOT NULL,
			color_0 REAL NOT NULL,
			color_1 REAL NOT NULL,
			color_2 REAL NOT NULL,
			color_3 REAL NOT NULL,
			color_4 REAL NOT NULL,
			color_5 REAL NOT NULL,
			color_6 REAL NOT NULL,
			summed REAL NOT NULL,
			PRIMARY KEY (run, seq)
		)
	`)
	if err != nil {
		return fmt.Errorf("creating statistics table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrStoreClosed
	}
	return s.db, nil
}

// SaveHistory replaces the stored history of run with data.
func (s *SQLiteStore) SaveHistory(ctx context.Context, run string, data stats.StatisticsHistoryData) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM statistics WHERE run = ?`, run); err != nil {
		return fmt.Errorf("clearing run %s: %w", run, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO statistics (run, seq, time, metric,
			color_0, color_1, color_2, color_3, color_4, color_5, color_6, summed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for seq, r := range Flatten(data) {
		_, err := stmt.ExecContext(ctx, run, seq, r.Time, r.Metric,
			r.Color0, r.Color1, r.Color2, r.Color3, r.Color4, r.Color5, r.Color6, r.Summed)
		if err != nil {
			return fmt.Errorf("inserting record %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run %s: %w", run, err)
	}
	return nil
}

// LoadHistory returns the stored history of run. An unknown run yields an
// empty history.
func (s *SQLiteStore) LoadHistory(ctx context.Context, run string) (stats.StatisticsHistoryData, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT time, metric, color_0, color_1, color_2, color_3, color_4, color_5, color_6, summed
		FROM statistics WHERE run = ? ORDER BY seq
	`, run)
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", run, err)
	}
	defer rows.Close()

	var records []MetricRecord
	for rows.Next() {
		var r MetricRecord
		if err := rows.Scan(&r.Time, &r.Metric,
			&r.Color0, &r.Color1, &r.Color2, &r.Color3, &r.Color4, &r.Color5, &r.Color6, &r.Summed); err != nil {
			return nil, fmt.Errorf("scanning run %s: %w", run, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading run %s: %w", run, err)
	}
	return Unflatten(records)
}

// Runs lists the stored run ids.
func (s *SQLiteStore) Runs(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT run FROM statistics ORDER BY run`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
