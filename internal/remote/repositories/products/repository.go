// Package products is the PostgreSQL adapter for the shared product table.
//
// Every write is version guarded and every read used by pull is keyset
// paginated by id. The acknowledgment set (synced_ids) is only ever
// appended to.
package products

import (
	"context"
	"database/sql"
	"time"

	"github.com/quyen-luc/prices-app/internal/models"
)

// Source yields the current connection pool; nil means not connected.
type Source interface {
	DB() *sql.DB
}

// StaticSource adapts a fixed *sql.DB to Source.
func StaticSource(db *sql.DB) Source {
	return staticSource{db: db}
}

type staticSource struct {
	db *sql.DB
}

func (s staticSource) DB() *sql.DB { return s.db }

// PageQuery selects one keyset page of rows this node still has to pull.
type PageQuery struct {
	NodeID  string
	Since   time.Time // low-water mark
	AfterID string    // exclusive; empty starts from the beginning
	Limit   int
	Deleted bool // tombstones instead of live rows
}

// InsertResult extends WriteResult with ids that already existed remotely
// when the insert ran, so the caller can retry them as guarded updates.
type InsertResult struct {
	models.WriteResult
	Conflicts []string
}

type Repository interface {
	FindVersions(ctx context.Context, ids []string) (map[string]int64, error)
	BulkInsert(ctx context.Context, items []*models.Product, nodeID string) (InsertResult, error)
	BulkUpdate(ctx context.Context, items []*models.Product) (models.WriteResult, error)
	BulkSoftDelete(ctx context.Context, groups []models.TombstoneGroup) (models.WriteResult, error)
	Acknowledge(ctx context.Context, nodeID string, ids []string) (int, error)
	ListChanged(ctx context.Context, q PageQuery) ([]*models.Product, error)
	CountChanged(ctx context.Context, nodeID string, since time.Time, deleted bool) (int, error)
}
