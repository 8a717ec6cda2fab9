// Package store persists tracking sessions and their per-frame results.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/vit-tracker/pkg/types"
)

// Recorder persists sessions and frame results
type Recorder interface {
	// BeginSession registers a session and returns its ID. An empty
	// info.ID gets a fresh UUID.
	BeginSession(ctx context.Context, info types.SessionInfo) (string, error)
	RecordFrame(ctx context.Context, sessionID string, rec types.FrameRecord) error
	// Frames returns a session's records in frame order
	Frames(ctx context.Context, sessionID string) ([]types.FrameRecord, error)
	Close() error
}

// Open opens a recorder for driver "sqlite" or "postgres"
func Open(ctx context.Context, driver, dsn string) (Recorder, error) {
	var (
		r   Recorder
		err error
	)
	switch driver {
	case "sqlite":
		r, err = OpenSQLite(dsn)
	case "postgres":
		r, err = OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ParseTarget splits a --db value: "sqlite:path", a bare *.db path, or a
// postgres:// / postgresql:// URL
func ParseTarget(target string) (driver, dsn string, err error) {
	switch {
	case target == "":
		return "", "", fmt.Errorf("empty store target")
	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		return "postgres", target, nil
	case strings.HasPrefix(target, "sqlite:"):
		dsn = strings.TrimPrefix(target, "sqlite:")
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite target needs a path")
		}
		return "sqlite", dsn, nil
	case strings.HasSuffix(target, ".db"), strings.HasSuffix(target, ".sqlite"):
		return "sqlite", target, nil
	default:
		return "", "", fmt.Errorf("unrecognized store target %q", target)
	}
}

func sessionID(info types.SessionInfo) string {
	if info.ID != "" {
		return info.ID
	}
	return uuid.NewString()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
