package products

import (
	"context"
	"time"

	"github.com/quyen-luc/prices-app/internal/models"
)

// ModifiedQuery selects one keyset page of locally modified rows.
type ModifiedQuery struct {
	Deleted bool   // tombstones instead of live rows
	AfterID string // exclusive lower bound on id
	Limit   int
}

// Repository describes the local product store.
type Repository interface {
	// Create stores a new product at version 1, flagged as modified.
	Create(ctx context.Context, p *models.Product) error

	// Update overwrites business fields, bumps the version and flags the row.
	Update(ctx context.Context, p *models.Product) error

	// SoftDelete tombstones a row, bumps the version and flags it.
	SoftDelete(ctx context.Context, id string) error

	// GetByID returns a row, tombstones included.
	GetByID(ctx context.Context, id string) (*models.Product, error)

	ListModified(ctx context.Context, q ModifiedQuery) ([]*models.Product, error)
	FindStates(ctx context.Context, ids []string) (map[string]models.LocalState, error)

	// BulkInsert stores pulled rows that are absent locally.
	BulkInsert(ctx context.Context, items []*models.Product, syncedAt time.Time) (models.WriteResult, error)

	// BulkUpdate overwrites rows whose local version is below the incoming one
	// and which carry no unsynced local edit.
	BulkUpdate(ctx context.Context, items []*models.Product, syncedAt time.Time) (models.WriteResult, error)

	// BulkSoftDelete applies pulled tombstones under the same guards.
	BulkSoftDelete(ctx context.Context, groups []models.TombstoneGroup, syncedAt time.Time) (models.WriteResult, error)

	// MarkSynced clears the modified flag of rows still at the pushed version.
	MarkSynced(ctx context.Context, rows []models.RowVersion, at time.Time) (int, error)

	MaxLastSyncedAt(ctx context.Context) (time.Time, bool, error)
	CountModified(ctx context.Context) (int, error)
}
