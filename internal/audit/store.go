// Package audit provides an append-only SQLite log of satellite
// connection lifecycle events, for operational visibility only. It is
// not an event durability mechanism: undelivered data events are never
// written here, and a missing or unreachable audit store never blocks
// or slows down routing.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Kind identifies the connection lifecycle event being recorded.
type Kind string

// Recorded connection lifecycle kinds.
const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
)

// Entry is a single connection lifecycle record.
type Entry struct {
	ID          string
	Timestamp   time.Time
	Kind        Kind
	SatelliteID string
	PeerAddr    string
	Reason      string // populated for KindDisconnected: eof, read_error, format_error, send_error
}

// Store is an append-only SQLite store for connection audit entries.
// All public methods are safe for concurrent use; SQLite serializes
// writes internally.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) an audit store at the given database path.
// The schema is created automatically on first use.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS connection_events (
		id           TEXT PRIMARY KEY,
		timestamp    TEXT NOT NULL,
		kind         TEXT NOT NULL,
		satellite_id TEXT NOT NULL,
		peer_addr    TEXT,
		reason       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_satellite ON connection_events(satellite_id);
	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON connection_events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists one connection lifecycle entry. If e.ID is empty, a
// UUID is generated; if e.Timestamp is zero, the current time is used.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_events (id, timestamp, kind, satellite_id, peer_addr, reason)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Kind),
		e.SatelliteID,
		e.PeerAddr,
		e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecentForSatellite returns, in insertion order, the most recent
// entries for a satellite ID, oldest first, up to limit entries.
func (s *Store) RecentForSatellite(ctx context.Context, satelliteID string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, kind, satellite_id, peer_addr, reason FROM (
			SELECT rowid AS seq, id, timestamp, kind, satellite_id, peer_addr, reason
			FROM connection_events
			WHERE satellite_id = ?
			ORDER BY rowid DESC
			LIMIT ?
		 ) ORDER BY seq ASC`,
		satelliteID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var kind string
		if err := rows.Scan(&e.ID, &ts, &kind, &e.SatelliteID, &e.PeerAddr, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = Kind(kind)
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		e.Timestamp = parsed
		out = append(out, e)
	}
	return out, rows.Err()
}
