package products

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/dbx"
	"github.com/quyen-luc/prices-app/internal/models"
)

const (
	lookupChunk = 1000
	ackChunk    = 500
)

// firstID sorts before every real uuid and starts a keyset scan.
const firstID = "00000000-0000-0000-0000-000000000000"

const selectColumns = `id::text, part_number, item_name, license_agreement_type, program_name,
	offering_name, level, purchase_unit, purchase_period, product_family, product_type,
	net_price::float8, currency_code, change_date, price_list_id, version,
	last_synced_at, deleted_at, created_at, updated_at`

// pendingPredicate selects rows node $1 has never acknowledged, or rows
// changed after the low-water mark $2.
const pendingPredicate = `(NOT (synced_ids @> ARRAY[$1::text]) OR updated_at > $2)`

const insertQuery = `
	INSERT INTO products (
		id, part_number, item_name, license_agreement_type, program_name, offering_name,
		level, purchase_unit, purchase_period, product_family, product_type, net_price,
		currency_code, change_date, price_list_id, version, deleted_at, synced_ids,
		last_synced_at, created_at, updated_at)
	VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		ARRAY[$18::text], now(), $19, now())
	ON CONFLICT (id) DO NOTHING`

const updateQuery = `
	UPDATE products SET
		part_number = $2, item_name = $3, license_agreement_type = $4, program_name = $5,
		offering_name = $6, level = $7, purchase_unit = $8, purchase_period = $9,
		product_family = $10, product_type = $11, net_price = $12, currency_code = $13,
		change_date = $14, price_list_id = $15, version = $16, deleted_at = NULL,
		last_synced_at = now(), updated_at = now()
	WHERE id = $1::uuid AND version < $16`

const softDeleteQuery = `
	UPDATE products SET deleted_at = $1, version = $2, last_synced_at = now(), updated_at = now()
	WHERE id = ANY($3::uuid[]) AND version < $2
	RETURNING id::text`

const acknowledgeQuery = `
	UPDATE products SET synced_ids = array_append(synced_ids, $1::text)
	WHERE id = ANY($2::uuid[]) AND NOT (synced_ids @> ARRAY[$1::text])`

// PostgresRepository implements Repository against the shared store.
type PostgresRepository struct {
	src Source
}

// NewPostgresRepository constructs a repository reading the pool from src.
func NewPostgresRepository(src Source) *PostgresRepository {
	return &PostgresRepository{src: src}
}

func (r *PostgresRepository) db() (*sql.DB, error) {
	db := r.src.DB()
	if db == nil {
		return nil, common.ErrRemoteNotConnected
	}
	return db, nil
}

// FindVersions returns the remote version of every id that exists.
func (r *PostgresRepository) FindVersions(ctx context.Context, ids []string) (map[string]int64, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}

	versions := make(map[string]int64, len(ids))
	for _, chunk := range common.Chunk(ids, lookupChunk) {
		rows, err := db.QueryContext(ctx,
			`SELECT id::text, version FROM products WHERE id = ANY($1::uuid[])`, dbx.TextArray(chunk))
		if err != nil {
			return nil, fmt.Errorf("failed to select remote versions: %w", err)
		}
		for rows.Next() {
			var id string
			var v int64
			if err := rows.Scan(&id, &v); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan remote version: %w", err)
			}
			versions[id] = v
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate remote versions: %w", err)
		}
	}
	return versions, nil
}

// BulkInsert inserts rows acknowledged by nodeID alone. Each row runs in its
// own savepoint so one bad row does not abort the batch.
func (r *PostgresRepository) BulkInsert(ctx context.Context, items []*models.Product, nodeID string) (InsertResult, error) {
	db, err := r.db()
	if err != nil {
		return InsertResult{}, err
	}

	var result InsertResult
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, item := range items {
			args := make([]any, 0, 19)
			args = append(args, item.ID)
			args = append(args, businessArgs(item)...)
			args = append(args, item.Version, nullableTime(item.DeletedAt), nodeID, createdAt(item))

			var inserted bool
			err := dbx.WithSavepoint(ctx, tx, "push_insert", func(ctx context.Context) error {
				res, err := tx.ExecContext(ctx, insertQuery, args...)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				inserted = n == 1
				return err
			})
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				result.Failed = append(result.Failed, models.RecordError{ID: item.ID, Err: err})
			case inserted:
				result.Applied = append(result.Applied, item.ID)
			default:
				result.Conflicts = append(result.Conflicts, item.ID)
			}
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, fmt.Errorf("failed to insert products: %w", err)
	}
	return result, nil
}

// BulkUpdate applies rows only where the stored version is still lower than
// the incoming one. Applied lists exactly the rows the guard let through.
func (r *PostgresRepository) BulkUpdate(ctx context.Context, items []*models.Product) (models.WriteResult, error) {
	db, err := r.db()
	if err != nil {
		return models.WriteResult{}, err
	}

	var result models.WriteResult
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, item := range items {
			args := make([]any, 0, 16)
			args = append(args, item.ID)
			args = append(args, businessArgs(item)...)
			args = append(args, item.Version)

			var applied bool
			err := dbx.WithSavepoint(ctx, tx, "push_update", func(ctx context.Context) error {
				res, err := tx.ExecContext(ctx, updateQuery, args...)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				applied = n == 1
				return err
			})
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				result.Failed = append(result.Failed, models.RecordError{ID: item.ID, Err: err})
			case applied:
				result.Applied = append(result.Applied, item.ID)
			}
		}
		return nil
	})
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("failed to update products: %w", err)
	}
	return result, nil
}

// BulkSoftDelete tombstones each group with one guarded statement.
func (r *PostgresRepository) BulkSoftDelete(ctx context.Context, groups []models.TombstoneGroup) (models.WriteResult, error) {
	db, err := r.db()
	if err != nil {
		return models.WriteResult{}, err
	}

	var result models.WriteResult
	err = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, g := range groups {
			var applied []string
			err := dbx.WithSavepoint(ctx, tx, "push_tombstone", func(ctx context.Context) error {
				rows, err := tx.QueryContext(ctx, softDeleteQuery, g.DeletedAt, g.Version, dbx.TextArray(g.IDs))
				if err != nil {
					return err
				}
				defer rows.Close()
				for rows.Next() {
					var id string
					if err := rows.Scan(&id); err != nil {
						return err
					}
					applied = append(applied, id)
				}
				return rows.Err()
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				for _, id := range g.IDs {
					result.Failed = append(result.Failed, models.RecordError{ID: id, Err: err})
				}
				continue
			}
			result.Applied = append(result.Applied, applied...)
		}
		return nil
	})
	if err != nil {
		return models.WriteResult{}, fmt.Errorf("failed to delete products: %w", err)
	}
	return result, nil
}

// Acknowledge appends nodeID to the acknowledgment set of ids that lack it.
// Safe to race with other nodes doing the same.
func (r *PostgresRepository) Acknowledge(ctx context.Context, nodeID string, ids []string) (int, error) {
	db, err := r.db()
	if err != nil {
		return 0, err
	}

	var total int
	for _, chunk := range common.Chunk(ids, ackChunk) {
		res, err := db.ExecContext(ctx, acknowledgeQuery, nodeID, dbx.TextArray(chunk))
		if err != nil {
			return total, fmt.Errorf("failed to acknowledge products: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected error: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// ListChanged returns one page of rows node q.NodeID still has to pull,
// ordered by id.
func (r *PostgresRepository) ListChanged(ctx context.Context, q PageQuery) ([]*models.Product, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}

	after := q.AfterID
	if after == "" {
		after = firstID
	}
	query := `SELECT ` + selectColumns + `, synced_ids @> ARRAY[$1::text] AS acknowledged
		FROM products
		WHERE ` + deletedFilter(q.Deleted) + ` AND ` + pendingPredicate + ` AND id > $3::uuid
		ORDER BY id
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, q.NodeID, q.Since, after, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select changed products: %w", err)
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

// CountChanged counts what ListChanged would return across all pages.
func (r *PostgresRepository) CountChanged(ctx context.Context, nodeID string, since time.Time, deleted bool) (int, error) {
	db, err := r.db()
	if err != nil {
		return 0, err
	}

	query := `SELECT COUNT(*) FROM products WHERE ` + deletedFilter(deleted) + ` AND ` + pendingPredicate
	var n int
	if err := db.QueryRowContext(ctx, query, nodeID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count changed products: %w", err)
	}
	return n, nil
}

func deletedFilter(deleted bool) string {
	if deleted {
		return "deleted_at IS NOT NULL"
	}
	return "deleted_at IS NULL"
}

func scanProduct(rows *sql.Rows) (*models.Product, error) {
	var (
		p            models.Product
		level        sql.NullString
		changeDate   sql.NullTime
		lastSyncedAt sql.NullTime
		deletedAt    sql.NullTime
	)
	if err := rows.Scan(
		&p.ID, &p.PartNumber, &p.ItemName, &p.LicenseAgreementType, &p.ProgramName,
		&p.OfferingName, &level, &p.PurchaseUnit, &p.PurchasePeriod, &p.ProductFamily, &p.ProductType,
		&p.NetPrice, &p.CurrencyCode, &changeDate, &p.PriceListID, &p.Version,
		&lastSyncedAt, &deletedAt, &p.CreatedAt, &p.UpdatedAt, &p.Acknowledged,
	); err != nil {
		return nil, err
	}
	if level.Valid {
		v := level.String
		p.Level = &v
	}
	p.ChangeDate = timePtr(changeDate)
	p.LastSyncedAt = timePtr(lastSyncedAt)
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

// businessArgs fills $2..$15 of insertQuery and updateQuery.
func businessArgs(p *models.Product) []any {
	var level any
	if p.Level != nil {
		level = *p.Level
	}
	return []any{
		p.PartNumber, p.ItemName, p.LicenseAgreementType, p.ProgramName, p.OfferingName,
		level, p.PurchaseUnit, p.PurchasePeriod, p.ProductFamily, p.ProductType, p.NetPrice,
		p.CurrencyCode, nullableTime(p.ChangeDate), p.PriceListID,
	}
}

func createdAt(p *models.Product) time.Time {
	if p.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return p.CreatedAt.UTC()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
