package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/menta2k/vit-tracker/pkg/types"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS tracking_sessions (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		backend TEXT NOT NULL,
		init_x INT NOT NULL,
		init_y INT NOT NULL,
		init_w INT NOT NULL,
		init_h INT NOT NULL,
		threshold REAL NOT NULL,
		started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE TABLE IF NOT EXISTS tracking_frames (
		session_id TEXT NOT NULL REFERENCES tracking_sessions(id) ON DELETE CASCADE,
		frame_index INT NOT NULL,
		success BOOLEAN NOT NULL,
		reinit BOOLEAN NOT NULL DEFAULT FALSE,
		x INT NOT NULL,
		y INT NOT NULL,
		w INT NOT NULL,
		h INT NOT NULL,
		score REAL NOT NULL,
		latency_ns BIGINT NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (session_id, frame_index)
	);
`

// Postgres records sessions into PostgreSQL. A pgx.Conn is not safe for
// concurrent use, so calls are serialized.
type Postgres struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// OpenPostgres connects to url and ensures the schema exists
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := conn.Exec(ctx, postgresSchema); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Postgres{conn: conn}, nil
}

// BeginSession inserts the session row
func (p *Postgres) BeginSession(ctx context.Context, info types.SessionInfo) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := sessionID(info)
	started := info.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := p.conn.Exec(ctx, `
		INSERT INTO tracking_sessions (id, source, backend, init_x, init_y, init_w, init_h, threshold, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, info.Source, info.Backend, info.InitBox.X, info.InitBox.Y, info.InitBox.Width, info.InitBox.Height,
		info.Threshold, started)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	return id, nil
}

// RecordFrame inserts one frame result
func (p *Postgres) RecordFrame(ctx context.Context, sessionID string, rec types.FrameRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	at := rec.Time
	if at.IsZero() {
		at = time.Now()
	}
	b := rec.Result.Box
	_, err := p.conn.Exec(ctx, `
		INSERT INTO tracking_frames (session_id, frame_index, success, reinit, x, y, w, h, score, latency_ns, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sessionID, rec.Index, rec.Result.Success, rec.Reinit, b.X, b.Y, b.Width, b.Height,
		rec.Result.Score, int64(rec.Latency), at)
	if err != nil {
		return fmt.Errorf("failed to insert frame %d: %w", rec.Index, err)
	}
	return nil
}

// Frames returns the records of a session ordered by frame index
func (p *Postgres) Frames(ctx context.Context, sessionID string) ([]types.FrameRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows, err := p.conn.Query(ctx, `
		SELECT frame_index, success, reinit, x, y, w, h, score, latency_ns, recorded_at
		FROM tracking_frames WHERE session_id = $1 ORDER BY frame_index
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frames: %w", err)
	}
	defer rows.Close()

	var records []types.FrameRecord
	for rows.Next() {
		var (
			rec     types.FrameRecord
			latency int64
		)
		b := &rec.Result.Box
		if err := rows.Scan(&rec.Index, &rec.Result.Success, &rec.Reinit, &b.X, &b.Y, &b.Width, &b.Height,
			&rec.Result.Score, &latency, &rec.Time); err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		rec.Latency = time.Duration(latency)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close terminates the connection
func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close(context.Background())
}
