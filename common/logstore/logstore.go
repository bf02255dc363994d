package logstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

/**
Per-process embedded store for captured log entries, metrics, resource samples
and run attributes. Each tier and wrapper owns exactly one store and is its
only writer; the hub may later open the file read-only to serve queries.

All writes funnel through a single mutex so that entry uids stay strictly
increasing and contiguous from 1.
*/
type Store struct {
	path         string
	db           *sql.DB
	writeLock    sync.Mutex
	writeTimeout time.Duration
}

type LogEntry struct {
	Uid       int64  `json:"uid"`
	Timestamp int64  `json:"timestamp"`
	Severity  int    `json:"severity"`
	Message   string `json:"message"`
}

type ResourceSample struct {
	Timestamp  int64   `json:"timestamp"`
	CpuPercent float64 `json:"cpu_percent"`
	RssBytes   int64   `json:"rss_bytes"`
}

const schema = `
CREATE TABLE IF NOT EXISTS logentry (
	uid       INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	severity  INTEGER NOT NULL,
	message   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metric (
	name      TEXT PRIMARY KEY,
	value     INTEGER NOT NULL,
	timestamp INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS resource (
	timestamp   INTEGER NOT NULL,
	cpu_percent REAL NOT NULL,
	rss_bytes   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS attribute (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

/**
open (creating if necessary) the store at the given path. parent directories
are created as required.
*/
func Open(path string) (*Store, error) {
	mkdirErr := os.MkdirAll(filepath.Dir(path), 0755)
	if mkdirErr != nil {
		return nil, mkdirErr
	}

	db, openErr := sql.Open("sqlite", path)
	if openErr != nil {
		log.Printf("Could not open log store at '%s': %s", path, openErr)
		return nil, openErr
	}
	// A single writer is assumed, multiple connections would break uid ordering
	db.SetMaxOpenConns(1)

	_, schemaErr := db.Exec(schema)
	if schemaErr != nil {
		db.Close()
		return nil, schemaErr
	}

	return &Store{
		path:         path,
		db:           db,
		writeTimeout: 5 * time.Second,
	}, nil
}

/**
open an existing store without creating tables, used by the hub query path
*/
func OpenReadOnly(path string) (*Store, error) {
	_, statErr := os.Stat(path)
	if statErr != nil {
		return nil, statErr
	}

	db, openErr := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if openErr != nil {
		return nil, openErr
	}
	return &Store{
		path:         path,
		db:           db,
		writeTimeout: 5 * time.Second,
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.writeTimeout)
}

/**
append a log entry and return its allocated uid
*/
func (s *Store) PushLogEntry(timestamp int64, severity int, message string) (int64, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	ctx, cancel := s.writeContext()
	defer cancel()

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO logentry (timestamp, severity, message) VALUES (?, ?, ?)",
		timestamp, severity, message)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

/**
record or replace a named metric, last write wins
*/
func (s *Store) SetMetric(name string, value int64, timestamp int64) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	ctx, cancel := s.writeContext()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metric (name, value, timestamp) VALUES (?, ?, ?) "+
			"ON CONFLICT(name) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp",
		name, value, timestamp)
	return err
}

func (s *Store) PushResource(sample ResourceSample) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	ctx, cancel := s.writeContext()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO resource (timestamp, cpu_percent, rss_bytes) VALUES (?, ?, ?)",
		sample.Timestamp, sample.CpuPercent, sample.RssBytes)
	return err
}

func (s *Store) SetAttribute(name string, value string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	ctx, cancel := s.writeContext()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO attribute (name, value) VALUES (?, ?) "+
			"ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		name, value)
	return err
}

/**
retrieve log entries with uid greater than 'after', oldest first, up to 'limit'
entries. a limit of zero or below returns everything.
*/
func (s *Store) Messages(after int64, limit int) ([]LogEntry, error) {
	query := "SELECT uid, timestamp, severity, message FROM logentry WHERE uid > ? ORDER BY uid ASC"
	args := []interface{}{after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]LogEntry, 0)
	for rows.Next() {
		var entry LogEntry
		scanErr := rows.Scan(&entry.Uid, &entry.Timestamp, &entry.Severity, &entry.Message)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) MessageCount() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(uid) FROM logentry").Scan(&count)
	return count, err
}

func (s *Store) Metrics() (map[string]int64, error) {
	rows, err := s.db.Query("SELECT name, value FROM metric")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metrics := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		scanErr := rows.Scan(&name, &value)
		if scanErr != nil {
			return nil, scanErr
		}
		metrics[name] = value
	}
	return metrics, rows.Err()
}

func (s *Store) Attributes() (map[string]string, error) {
	rows, err := s.db.Query("SELECT name, value FROM attribute")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attributes := make(map[string]string)
	for rows.Next() {
		var name, value string
		scanErr := rows.Scan(&name, &value)
		if scanErr != nil {
			return nil, scanErr
		}
		attributes[name] = value
	}
	return attributes, rows.Err()
}

func (s *Store) Resources() ([]ResourceSample, error) {
	rows, err := s.db.Query("SELECT timestamp, cpu_percent, rss_bytes FROM resource ORDER BY timestamp ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := make([]ResourceSample, 0)
	for rows.Next() {
		var sample ResourceSample
		scanErr := rows.Scan(&sample.Timestamp, &sample.CpuPercent, &sample.RssBytes)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}
