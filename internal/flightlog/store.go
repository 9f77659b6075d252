package flightlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/vanishcap/internal/event"
)

// Store persists one run's event and command history to sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the flight log database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			producer TEXT NOT NULL,
			name TEXT NOT NULL,
			frame_seq BIGINT,
			at TIMESTAMP NOT NULL,
			detail TEXT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS commands (
			run_id TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			frame_seq BIGINT,
			x DOUBLE NOT NULL,
			y DOUBLE NOT NULL,
			z DOUBLE NOT NULL,
			yaw DOUBLE NOT NULL,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create flight log schema: %w", err)
	}
	return &Store{db: db}, nil
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(runID string, startedAt time.Time) error {
	_, err := s.db.Exec("INSERT INTO runs (run_id, started_at) VALUES (?, ?)", runID, startedAt)
	return err
}

// RecordEvent appends one event row.
func (s *Store) RecordEvent(runID string, ev event.Event, detail string) error {
	_, err := s.db.Exec(
		"INSERT INTO events (run_id, producer, name, frame_seq, at, detail) VALUES (?, ?, ?, ?, ?, ?)",
		runID, ev.Producer, ev.Name, ev.FrameSeq, ev.Timestamp, detail)
	return err
}

// RecordCommand appends one movement command row.
func (s *Store) RecordCommand(runID string, at time.Time, frameSeq int64, cmd event.Command) error {
	_, err := s.db.Exec(
		"INSERT INTO commands (run_id, at, frame_seq, x, y, z, yaw) VALUES (?, ?, ?, ?, ?, ?, ?)",
		runID, at, frameSeq, cmd.X, cmd.Y, cmd.Z, cmd.Yaw)
	return err
}

// CountEvents returns how many events a run recorded. Used by tests and the
// end-of-run summary.
func (s *Store) CountEvents(runID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM events WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

// CountCommands returns how many commands a run recorded.
func (s *Store) CountCommands(runID string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM commands WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

// EventDetails returns the detail column of a run's events with the given
// name, in insertion order.
func (s *Store) EventDetails(runID, name string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT detail FROM events WHERE run_id = ? AND name = ? ORDER BY rowid",
		runID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var details []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
