package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// TurnRecord describes how one turn ended. It carries no message content.
type TurnRecord struct {
	SessionID string
	TurnID    string
	Backend   string
	State     string
	Fragments int
	Duration  time.Duration
	Error     string
	StartedAt time.Time
}

// Journal stores turn outcomes in SQLite
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (or creates) the journal database at path. ":memory:"
// gives a journal that lives as long as the process.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	createTurnsTable := `
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_id TEXT NOT NULL,
		backend TEXT,
		state TEXT NOT NULL,
		fragments INTEGER,
		duration_ms INTEGER,
		error TEXT,
		started_at DATETIME
	);`

	if _, err := db.Exec(createTurnsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create turns table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one turn outcome
func (j *Journal) Record(ctx context.Context, rec TurnRecord) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO turns (session_id, turn_id, backend, state, fragments, duration_ms, error, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		rec.SessionID, rec.TurnID, rec.Backend, rec.State, rec.Fragments, rec.Duration.Milliseconds(), rec.Error, rec.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// Turns returns the recorded turns of a session, oldest first
func (j *Journal) Turns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT session_id, turn_id, backend, state, fragments, duration_ms, error, started_at FROM turns WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		var ms int64
		if err := rows.Scan(&rec.SessionID, &rec.TurnID, &rec.Backend, &rec.State, &rec.Fragments, &ms, &rec.Error, &rec.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
