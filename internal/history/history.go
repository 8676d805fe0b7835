// Package history provides persistent storage for pool events.
// Uses pure-Go SQLite (modernc.org/sqlite) — no cgo required.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	gzip "github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite"
)

// Event is one recorded pool occurrence: a server joining or leaving,
// a state transition, a health probe, or a tool call.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Store wraps an SQLite database holding the event log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			ts         TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			server_id  TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_events_server ON events(server_id);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)
	`)
	return err
}

// Record inserts an event. A missing id or timestamp is filled in.
// Safe for concurrent use; pool callbacks write from many goroutines.
func (s *Store) Record(ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	detailJSON, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("encode detail: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, ts, session_id, server_id, type, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Timestamp.Format(time.RFC3339Nano), ev.SessionID, ev.ServerID, ev.Type, string(detailJSON))
	return err
}

// Recent returns the newest events, newest first, optionally filtered
// by server id and event type. A limit <= 0 means no limit.
func (s *Store) Recent(limit int, serverID, eventType string) ([]*Event, error) {
	query := `SELECT id, ts, session_id, server_id, type, detail FROM events WHERE 1=1`
	args := []any{}
	if serverID != "" {
		query += ` AND server_id = ?`
		args = append(args, serverID)
	}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByType returns how many events of each type are stored.
func (s *Store) CountByType() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT type, COUNT(*) FROM events GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// Prune deletes events older than the cutoff and returns how many were
// removed.
func (s *Store) Prune(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM events WHERE ts < ?`, before.Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Export streams every event, oldest first, as gzip-compressed NDJSON.
// Uses klauspost/compress/gzip for faster compression than stdlib.
func (s *Store) Export(w io.Writer) error {
	rows, err := s.db.Query(`SELECT id, ts, session_id, server_id, type, detail FROM events ORDER BY rowid ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return gz.Close()
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var ev Event
	var tsStr, detailJSON string

	if err := rows.Scan(&ev.ID, &tsStr, &ev.SessionID, &ev.ServerID, &ev.Type, &detailJSON); err != nil {
		return nil, err
	}
	ev.Timestamp, _ = time.Parse(time.RFC3339Nano, tsStr)
	json.Unmarshal([]byte(detailJSON), &ev.Detail)
	return &ev, nil
}
