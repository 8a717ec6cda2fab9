package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/menta2k/vit-tracker/pkg/types"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		backend TEXT NOT NULL,
		init_x INTEGER NOT NULL,
		init_y INTEGER NOT NULL,
		init_w INTEGER NOT NULL,
		init_h INTEGER NOT NULL,
		threshold REAL NOT NULL,
		started_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS frames (
		session_id TEXT NOT NULL REFERENCES sessions(id),
		frame_index INTEGER NOT NULL,
		success INTEGER NOT NULL,
		reinit INTEGER NOT NULL DEFAULT 0,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		w INTEGER NOT NULL,
		h INTEGER NOT NULL,
		score REAL NOT NULL,
		latency_ns INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, frame_index)
	);
`

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// SQLite records sessions into a local SQLite database
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// BeginSession inserts the session row
func (s *SQLite) BeginSession(ctx context.Context, info types.SessionInfo) (string, error) {
	id := sessionID(info)
	started := info.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, source, backend, init_x, init_y, init_w, init_h, threshold, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, info.Source, info.Backend, info.InitBox.X, info.InitBox.Y, info.InitBox.Width, info.InitBox.Height,
		float64(info.Threshold), started.UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// RecordFrame inserts one frame result
func (s *SQLite) RecordFrame(ctx context.Context, sessionID string, rec types.FrameRecord) error {
	at := rec.Time
	if at.IsZero() {
		at = time.Now()
	}
	b := rec.Result.Box
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (session_id, frame_index, success, reinit, x, y, w, h, score, latency_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, rec.Index, boolToInt(rec.Result.Success), boolToInt(rec.Reinit), b.X, b.Y, b.Width, b.Height,
		float64(rec.Result.Score), int64(rec.Latency), at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert frame %d: %w", rec.Index, err)
	}
	return nil
}

// Frames returns the records of a session ordered by frame index
func (s *SQLite) Frames(ctx context.Context, sessionID string) ([]types.FrameRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT frame_index, success, reinit, x, y, w, h, score, latency_ns, recorded_at
		FROM frames WHERE session_id = ? ORDER BY frame_index
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var records []types.FrameRecord
	for rows.Next() {
		var (
			rec             types.FrameRecord
			success, reinit int
			score           float64
			latency, at     int64
		)
		b := &rec.Result.Box
		if err := rows.Scan(&rec.Index, &success, &reinit, &b.X, &b.Y, &b.Width, &b.Height, &score, &latency, &at); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		rec.Result.Success = success != 0
		rec.Reinit = reinit != 0
		rec.Result.Score = float32(score)
		rec.Latency = time.Duration(latency)
		rec.Time = time.Unix(0, at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}
