// Package catalog keeps a SQLite record of capture sessions and of the
// statistics extracted from capture files.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"EnigmaNetz/Enigma-Tshark/internal/capture/common"
)

// ErrDuplicateSession is returned when the same run is recorded twice.
var ErrDuplicateSession = errors.New("session run already recorded")

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SessionRecord is one finished capture run. A session that is restarted has
// one record per run.
type SessionRecord struct {
	SessionID            string
	InterfaceIndex       int
	InterfaceName        string
	InterfaceDescription string
	OutputPath           string
	Filter               string
	StartTime            time.Time
	EndTime              time.Time
	Stopped              bool
	Error                string
}

// Duration is the run time of the session.
func (r SessionRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// StatisticsRecord is the tshark io,stat summary of one capture file.
type StatisticsRecord struct {
	Path       string
	Statistics common.Statistics
	RecordedAt time.Time
}

// Store is a SQLite-backed catalog.
type Store struct {
	db *sql.DB
}

// Open opens or creates the catalog at path. ":memory:" gives a private
// in-memory catalog.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one connection, so ":memory:" is a single database and writers never race
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			interface_index INTEGER NOT NULL,
			interface_name TEXT NOT NULL,
			interface_description TEXT,
			output_path TEXT,
			filter TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			stopped BOOLEAN NOT NULL,
			error TEXT,
			UNIQUE (session_id, start_time)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions (start_time);`,
		`CREATE TABLE IF NOT EXISTS file_statistics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			duration REAL NOT NULL,
			interval REAL NOT NULL,
			frames INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// RecordSession stores a finished run.
func (s *Store) RecordSession(result common.CaptureResult) error {
	var errText sql.NullString
	if result.Error != nil {
		errText = sql.NullString{String: result.Error.Error(), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, interface_index, interface_name, interface_description, output_path, filter, start_time, end_time, stopped, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		result.SessionID,
		result.Interface.Index,
		result.Interface.Name,
		result.Interface.Description,
		result.OutputPath,
		result.Filter,
		result.StartTime.UTC().Format(timeFormat),
		result.EndTime.UTC().Format(timeFormat),
		result.Stopped,
		errText,
	)
	if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, result.SessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", result.SessionID, err)
	}
	return nil
}

// ListSessions returns up to limit sessions, newest first. limit <= 0 returns all.
func (s *Store) ListSessions(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT session_id, interface_index, interface_name, interface_description, output_path, filter, start_time, end_time, stopped, error FROM sessions ORDER BY start_time DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var description, output, filter, errText sql.NullString
		var startStr, endStr string
		if err := rows.Scan(&rec.SessionID, &rec.InterfaceIndex, &rec.InterfaceName, &description, &output, &filter, &startStr, &endStr, &rec.Stopped, &errText); err != nil {
			return nil, err
		}
		rec.InterfaceDescription = description.String
		rec.OutputPath = output.String
		rec.Filter = filter.String
		rec.Error = errText.String
		if rec.StartTime, err = time.Parse(timeFormat, startStr); err != nil {
			return nil, fmt.Errorf("session %s: bad start time %q: %w", rec.SessionID, startStr, err)
		}
		if rec.EndTime, err = time.Parse(timeFormat, endStr); err != nil {
			return nil, fmt.Errorf("session %s: bad end time %q: %w", rec.SessionID, endStr, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordStatistics stores stats for a capture file, replacing any earlier entry
// for the same path.
func (s *Store) RecordStatistics(path string, stats common.Statistics) error {
	_, err := s.db.Exec(
		`INSERT INTO file_statistics (path, duration, interval, frames, bytes, recorded_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET duration = excluded.duration, interval = excluded.interval, frames = excluded.frames, bytes = excluded.bytes, recorded_at = excluded.recorded_at;`,
		path,
		stats.Duration,
		stats.Interval,
		stats.Frames,
		stats.Bytes,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("failed to record statistics for %s: %w", path, err)
	}
	return nil
}

// GetStatistics returns the stored statistics for path. The bool is false when
// nothing was recorded.
func (s *Store) GetStatistics(path string) (StatisticsRecord, bool, error) {
	row := s.db.QueryRow(`SELECT path, duration, interval, frames, bytes, recorded_at FROM file_statistics WHERE path = ?`, path)
	rec, err := scanStatistics(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StatisticsRecord{}, false, nil
	}
	if err != nil {
		return StatisticsRecord{}, false, err
	}
	return rec, true, nil
}

// ListStatistics returns up to limit statistics records, newest first.
func (s *Store) ListStatistics(limit int) ([]StatisticsRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT path, duration, interval, frames, bytes, recorded_at FROM file_statistics ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StatisticsRecord
	for rows.Next() {
		rec, err := scanStatistics(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatistics(row scanner) (StatisticsRecord, error) {
	var rec StatisticsRecord
	var recordedStr string
	err := row.Scan(&rec.Path, &rec.Statistics.Duration, &rec.Statistics.Interval, &rec.Statistics.Frames, &rec.Statistics.Bytes, &recordedStr)
	if err != nil {
		return StatisticsRecord{}, err
	}
	if rec.RecordedAt, err = time.Parse(timeFormat, recordedStr); err != nil {
		return StatisticsRecord{}, fmt.Errorf("statistics for %s: bad timestamp %q: %w", rec.Path, recordedStr, err)
	}
	return rec, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
