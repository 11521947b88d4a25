package statestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dualtor/muxmgrd/pkg/composite"
	"github.com/dualtor/muxmgrd/pkg/muxconfig"
	"github.com/dualtor/muxmgrd/pkg/muxstate"
	"github.com/dualtor/muxmgrd/pkg/proberstate"
)

// AuditLog persists a durable history of switchover causes and health
// transitions, one row per event, to a sqlite database. It exists
// because the in-memory Store only ever holds the latest snapshot per
// port; operators diagnosing a flapping port need the sequence that led
// there (spec.md §7 "switchover cause and timing must be inspectable
// after the fact").
type AuditLog struct {
	db *sql.DB
}

// OpenAuditLog opens (and, if needed, creates) the sqlite database at
// path and ensures its schema exists.
func OpenAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("statestore: migrate audit db: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Close releases the underlying database handle.
func (a *AuditLog) Close() error { return a.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS mux_state_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	port      TEXT    NOT NULL,
	label     TEXT    NOT NULL,
	recorded  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS health_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	port      TEXT    NOT NULL,
	health    TEXT    NOT NULL,
	recorded  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS switching_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	port      TEXT    NOT NULL,
	starting  BOOLEAN NOT NULL,
	cause     TEXT    NOT NULL,
	recorded  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS link_prober_metrics (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	port       TEXT    NOT NULL,
	label      TEXT    NOT NULL,
	session_id TEXT    NOT NULL,
	recorded   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mux_state_events_port ON mux_state_events(port, recorded);
CREATE INDEX IF NOT EXISTS idx_switching_events_port ON switching_events(port, recorded);
`

func (a *AuditLog) RecordMuxState(port string, label muxstate.Label, at time.Time) {
	a.exec(`INSERT INTO mux_state_events(port, label, recorded) VALUES (?, ?, ?)`, port, label.String(), at)
}

func (a *AuditLog) RecordHealth(port string, health composite.Health, at time.Time) {
	a.exec(`INSERT INTO health_events(port, health, recorded) VALUES (?, ?, ?)`, port, health.String(), at)
}

func (a *AuditLog) RecordSwitching(port string, starting bool, cause muxconfig.SwitchCause, at time.Time) {
	a.exec(`INSERT INTO switching_events(port, starting, cause, recorded) VALUES (?, ?, ?, ?)`, port, starting, string(cause), at)
}

func (a *AuditLog) RecordLinkProberMetric(port string, label proberstate.Label, sessionID string, at time.Time) {
	a.exec(`INSERT INTO link_prober_metrics(port, label, session_id, recorded) VALUES (?, ?, ?, ?)`, port, label.String(), sessionID, at)
}

func (a *AuditLog) exec(query string, args ...any) {
	// Best-effort: a failed audit write must never block the control
	// plane. Errors are swallowed here deliberately; callers that need
	// to surface audit-log health can inspect a.db.Ping() separately.
	_, _ = a.db.Exec(query, args...)
}

// SwitchHistory returns the most recent switching events for a port,
// newest first, for the statusui diagnostics feed.
func (a *AuditLog) SwitchHistory(port string, limit int) ([]SwitchEvent, error) {
	rows, err := a.db.Query(
		`SELECT starting, cause, recorded FROM switching_events WHERE port = ? ORDER BY id DESC LIMIT ?`,
		port, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SwitchEvent
	for rows.Next() {
		var e SwitchEvent
		if err := rows.Scan(&e.Starting, &e.Cause, &e.Recorded); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SwitchEvent is one row of durable switchover history.
type SwitchEvent struct {
	Starting bool
	Cause    string
	Recorded time.Time
}
