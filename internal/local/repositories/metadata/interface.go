// Package metadata stores small node-local settings in the SQLite metadata
// table: the persisted auto-sync preference, the first-run marker and the
// pull watermark.
package metadata

import (
	"context"
	"time"
)

// Well-known keys.
const (
	KeyAutoSyncEnabled     = "auto_sync_enabled"
	KeyFirstRunCompletedAt = "first_run_completed_at"

	// KeyLastPullStartedAt is when the last completed pull began. Pushes
	// never move it.
	KeyLastPullStartedAt = "last_pull_started_at"
)

type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)

	// GetBool returns def when key is absent.
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, v bool) error

	// GetTime reports ok=false when key is absent.
	GetTime(ctx context.Context, key string) (t time.Time, ok bool, err error)
	SetTime(ctx context.Context, key string, t time.Time) error
}
