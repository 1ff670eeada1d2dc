package products

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/dbx"
	"github.com/quyen-luc/prices-app/internal/models"
	"github.com/quyen-luc/prices-app/internal/timex"
)

const (
	// SQLite caps bound parameters per statement; IN lists stay well below it.
	lookupChunk    = 500
	tombstoneChunk = 200
)

const columns = `id, part_number, item_name, license_agreement_type, program_name, offering_name,
	level, purchase_unit, purchase_period, product_family, product_type, net_price,
	currency_code, change_date, price_list_id, version, is_modified_locally,
	last_synced_at, deleted_at, created_at, updated_at`

const columnCount = 21

const businessAssignments = `part_number = ?, item_name = ?, license_agreement_type = ?,
	program_name = ?, offering_name = ?, level = ?, purchase_unit = ?, purchase_period = ?,
	product_family = ?, product_type = ?, net_price = ?, currency_code = ?, change_date = ?,
	price_list_id = ?`

var insertQuery = `INSERT INTO products (` + columns + `) VALUES (` + dbx.QuestionMarks(columnCount) + `)`

// SQLiteRepository implements Repository over an SQLite *sql.DB.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository constructs a repository bound to db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Create(ctx context.Context, p *models.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.now().UTC()
	p.Version = 1
	p.IsModifiedLocally = true
	p.LastSyncedAt = nil
	p.DeletedAt = nil
	p.CreatedAt = now
	p.UpdatedAt = now

	if _, err := r.db.ExecContext(ctx, insertQuery, rowArgs(p)...); err != nil {
		return fmt.Errorf("failed to create product %s: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, p *models.Product) error {
	now := r.now().UTC()
	query := `UPDATE products SET ` + businessAssignments + `,
		version = version + 1, is_modified_locally = 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING version`

	args := append(businessArgs(p), timex.FormatStorage(now), p.ID)
	var version int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", p.ID, err)
	}

	p.Version = version
	p.IsModifiedLocally = true
	p.UpdatedAt = now
	return nil
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string) error {
	now := timex.FormatStorage(r.now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET deleted_at = ?, version = version + 1, is_modified_locally = 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Product, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", id, err)
	}
	return p, nil
}

// ListModified returns up to q.Limit flagged rows with id > q.AfterID,
// ordered by id.
func (r *SQLiteRepository) ListModified(ctx context.Context, q ModifiedQuery) ([]*models.Product, error) {
	deleted := "deleted_at IS NULL"
	if q.Deleted {
		deleted = "deleted_at IS NOT NULL"
	}
	query := `SELECT ` + columns + ` FROM products
		WHERE is_modified_locally = 1 AND ` + deleted + ` AND id > ?
		ORDER BY id
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, q.AfterID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list modified products: %w", err)
	}
	defer rows.Close()

	var result []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) FindStates(ctx context.Context, ids []string) (map[string]models.LocalState, error) {
	states := make(map[string]models.LocalState, len(ids))
	for _, chunk := range common.Chunk(ids, lookupChunk) {
		query := `SELECT id, version, is_modified_locally, deleted_at IS NOT NULL
			FROM products WHERE id IN (` + dbx.QuestionMarks(len(chunk)) + `)`

		rows, err := r.db.QueryContext(ctx, query, dbx.Args(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to find product states: %w", err)
		}
		for rows.Next() {
			var (
				id       string
				st       models.LocalState
				modified int
				deleted  int
			)
			if err := rows.Scan(&id, &st.Version, &modified, &deleted); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan product state: %w", err)
			}
			st.IsModifiedLocally = modified != 0
			st.Deleted = deleted != 0
			states[id] = st
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate product states: %w", err)
		}
	}
	return states, nil
}

func (r *SQLiteRepository) BulkInsert(ctx context.Context, items []*models.Product, syncedAt time.Time) (models.WriteResult, error) {
	var result models.WriteResult
	query := insertQuery + ` ON CONFLICT(id) DO NOTHING`

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, item := range items {
			row := *item
			row.IsModifiedLocally = false
			row.LastSyncedAt = &syncedAt

			var applied bool
			err := dbx.WithSavepoint(ctx, tx, "pull_insert", func(ctx context.Context) error {
				res, err := tx.ExecContext(ctx, query, rowArgs(&row)...)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				applied = n == 1
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				result.Failed = append(result.Failed, models.RecordError{ID: item.ID, Err: err})
				continue
			}
			if applied {
				result.Applied = append(result.Applied, item.ID)
			}
		}
		return nil
	})
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("failed to insert pulled products: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) BulkUpdate(ctx context.Context, items []*models.Product, syncedAt time.Time) (models.WriteResult, error) {
	var result models.WriteResult
	query := `UPDATE products SET ` + businessAssignments + `,
		version = ?, deleted_at = ?, is_modified_locally = 0, last_synced_at = ?, updated_at = ?
		WHERE id = ? AND is_modified_locally = 0 AND version < ?`
	synced := timex.FormatStorage(syncedAt)

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, item := range items {
			args := append(businessArgs(item),
				item.Version, formatNullable(item.DeletedAt), synced, timex.FormatStorage(item.UpdatedAt),
				item.ID, item.Version)

			var applied bool
			err := dbx.WithSavepoint(ctx, tx, "pull_update", func(ctx context.Context) error {
				res, err := tx.ExecContext(ctx, query, args...)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				applied = n == 1
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				result.Failed = append(result.Failed, models.RecordError{ID: item.ID, Err: err})
				continue
			}
			if applied {
				result.Applied = append(result.Applied, item.ID)
			}
		}
		return nil
	})
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("failed to update pulled products: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) BulkSoftDelete(ctx context.Context, groups []models.TombstoneGroup, syncedAt time.Time) (models.WriteResult, error) {
	var result models.WriteResult
	synced := timex.FormatStorage(syncedAt)

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, g := range groups {
			deletedAt := timex.FormatStorage(g.DeletedAt)
			for _, chunk := range common.Chunk(g.IDs, tombstoneChunk) {
				query := `UPDATE products
					SET deleted_at = ?, version = ?, is_modified_locally = 0, last_synced_at = ?, updated_at = ?
					WHERE id IN (` + dbx.QuestionMarks(len(chunk)) + `)
					AND is_modified_locally = 0 AND version < ?
					RETURNING id`
				args := append([]any{deletedAt, g.Version, synced, deletedAt}, dbx.Args(chunk)...)
				args = append(args, g.Version)

				var applied []string
				err := dbx.WithSavepoint(ctx, tx, "pull_tombstone", func(ctx context.Context) error {
					var err error
					applied, err = queryIDs(ctx, tx, query, args...)
					return err
				})
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					for _, id := range chunk {
						result.Failed = append(result.Failed, models.RecordError{ID: id, Err: err})
					}
					continue
				}
				result.Applied = append(result.Applied, applied...)
			}
		}
		return nil
	})
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("failed to apply pulled tombstones: %w", err)
	}
	return result, nil
}

// MarkSynced clears the flag only where the row still has the version that
// was pushed, so an edit made while the push was running stays pending.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, rows []models.RowVersion, at time.Time) (int, error) {
	var total int
	synced := timex.FormatStorage(at)

	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, row := range rows {
			res, err := tx.ExecContext(ctx, `
				UPDATE products SET is_modified_locally = 0, last_synced_at = ?
				WHERE id = ? AND version = ?`, synced, row.ID, row.Version)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark products synced: %w", err)
	}
	return total, nil
}

func (r *SQLiteRepository) MaxLastSyncedAt(ctx context.Context) (time.Time, bool, error) {
	var v sql.NullString
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(last_synced_at) FROM products`).Scan(&v); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	t, err := timex.ParseStorage(v.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (r *SQLiteRepository) CountModified(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE is_modified_locally = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count modified products: %w", err)
	}
	return n, nil
}

func queryIDs(ctx context.Context, db dbx.DBTX, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*models.Product, error) {
	var (
		p                    models.Product
		level                sql.NullString
		changeDate           sql.NullString
		lastSyncedAt         sql.NullString
		deletedAt            sql.NullString
		createdAt, updatedAt string
		modified             int
	)
	if err := s.Scan(
		&p.ID, &p.PartNumber, &p.ItemName, &p.LicenseAgreementType, &p.ProgramName, &p.OfferingName,
		&level, &p.PurchaseUnit, &p.PurchasePeriod, &p.ProductFamily, &p.ProductType, &p.NetPrice,
		&p.CurrencyCode, &changeDate, &p.PriceListID, &p.Version, &modified,
		&lastSyncedAt, &deletedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	p.IsModifiedLocally = modified != 0
	if level.Valid {
		v := level.String
		p.Level = &v
	}

	var err error
	if p.ChangeDate, err = parseNullable(changeDate); err != nil {
		return nil, err
	}
	if p.LastSyncedAt, err = parseNullable(lastSyncedAt); err != nil {
		return nil, err
	}
	if p.DeletedAt, err = parseNullable(deletedAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = timex.ParseStorage(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = timex.ParseStorage(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// rowArgs follows the order of columns.
func rowArgs(p *models.Product) []any {
	args := make([]any, 0, columnCount)
	args = append(args, p.ID)
	args = append(args, businessArgs(p)...)
	return append(args,
		p.Version, boolInt(p.IsModifiedLocally), formatNullable(p.LastSyncedAt), formatNullable(p.DeletedAt),
		timex.FormatStorage(p.CreatedAt), timex.FormatStorage(p.UpdatedAt),
	)
}

// businessArgs follows the order of businessAssignments.
func businessArgs(p *models.Product) []any {
	var level any
	if p.Level != nil {
		level = *p.Level
	}
	return []any{
		p.PartNumber, p.ItemName, p.LicenseAgreementType, p.ProgramName, p.OfferingName,
		level, p.PurchaseUnit, p.PurchasePeriod, p.ProductFamily, p.ProductType, p.NetPrice,
		p.CurrencyCode, formatNullable(p.ChangeDate), p.PriceListID,
	}
}

func parseNullable(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := timex.ParseStorage(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullable(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timex.FormatStorage(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
