// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: sqlite.go — telemetry history in a local SQLite file
//
// Purpose:
//   - Appends one row per snapshot so overload episodes (missed samples)
//     can be inspected after the fact
//
// Notes:
//   - WAL journal so readers never block the monitor
//   - Counters are stored as INTEGER; they stay far below 2^63
// ─────────────────────────────────────────────────────────────────────────────

package monitor

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS telemetry (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            INTEGER NOT NULL,
	missed        INTEGER NOT NULL,
	missed_delta  INTEGER NOT NULL,
	entries       INTEGER NOT NULL,
	capacity      INTEGER NOT NULL,
	offered       INTEGER NOT NULL,
	kept          INTEGER NOT NULL,
	coalesced     INTEGER NOT NULL,
	heartbeats    INTEGER NOT NULL,
	samples       INTEGER NOT NULL,
	source_errors INTEGER NOT NULL,
	sessions      INTEGER NOT NULL,
	active        INTEGER NOT NULL,
	frames        INTEGER NOT NULL,
	bytes         INTEGER NOT NULL,
	streamed      INTEGER NOT NULL,
	heap_alloc    INTEGER NOT NULL,
	heap_over     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry(ts);`

const insertTelemetry = `
INSERT INTO telemetry (
	ts, missed, missed_delta, entries, capacity, offered, kept, coalesced, heartbeats,
	samples, source_errors, sessions, active, frames, bytes, streamed, heap_alloc, heap_over
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink stores snapshots in a SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("monitor: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor: journal mode: %w", err)
	}
	if _, err := db.Exec(telemetrySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor: schema: %w", err)
	}
	insert, err := db.Prepare(insertTelemetry)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("monitor: prepare: %w", err)
	}
	return &SQLiteSink{db: db, insert: insert}, nil
}

// Record appends one row.
func (s *SQLiteSink) Record(snap Snapshot) error {
	heapOver := 0
	if snap.HeapOverSoftLimit {
		heapOver = 1
	}
	_, err := s.insert.Exec(
		snap.Time.UnixNano(),
		int64(snap.Missed), int64(snap.MissedDelta), snap.Entries, snap.Capacity,
		int64(snap.Offered), int64(snap.Kept), int64(snap.Coalesced), int64(snap.Heartbeats),
		int64(snap.Samples), int64(snap.SourceErrors),
		int64(snap.Sessions), snap.Active, int64(snap.Frames), int64(snap.Bytes), int64(snap.Streamed),
		int64(snap.HeapAlloc), heapOver,
	)
	if err != nil {
		return fmt.Errorf("monitor: insert: %w", err)
	}
	return nil
}

// History returns up to limit snapshots, newest first.
func (s *SQLiteSink) History(limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT ts, missed, missed_delta, entries, capacity, offered, kept, coalesced, heartbeats,
		       samples, source_errors, sessions, active, frames, bytes, streamed, heap_alloc, heap_over
		FROM telemetry ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("monitor: query: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap     Snapshot
			ts       int64
			heapOver int
		)
		if err := rows.Scan(
			&ts, &snap.Missed, &snap.MissedDelta, &snap.Entries, &snap.Capacity,
			&snap.Offered, &snap.Kept, &snap.Coalesced, &snap.Heartbeats,
			&snap.Samples, &snap.SourceErrors,
			&snap.Sessions, &snap.Active, &snap.Frames, &snap.Bytes, &snap.Streamed,
			&snap.HeapAlloc, &heapOver,
		); err != nil {
			return nil, fmt.Errorf("monitor: scan: %w", err)
		}
		snap.Time = time.Unix(0, ts).UTC()
		snap.HeapOverSoftLimit = heapOver != 0
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *SQLiteSink) Close() error {
	s.insert.Close()
	return s.db.Close()
}
