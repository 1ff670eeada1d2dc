package products

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/local/migrations"
	"github.com/quyen-luc/prices-app/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var baseTime = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func setupRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	require.NoError(t, err)
	_, err = p.Up(context.Background())
	require.NoError(t, err)

	r := NewSQLiteRepository(db)
	r.now = func() time.Time { return baseTime }
	return r, db
}

func newProduct(id, part string) *models.Product {
	level := "A"
	return &models.Product{
		ID:                   id,
		PartNumber:           part,
		ItemName:             "Item " + part,
		LicenseAgreementType: "EA",
		ProgramName:          "Enterprise",
		OfferingName:         "Standard",
		Level:                &level,
		PurchaseUnit:         "1 License",
		PurchasePeriod:       "1 Year",
		ProductFamily:        "Server",
		ProductType:          "License",
		NetPrice:             199.99,
		CurrencyCode:         "USD",
		PriceListID:          "pl-2025",
	}
}

// remoteCopy mimics a row coming from the shared store.
func remoteCopy(id, part string, version int64) *models.Product {
	p := newProduct(id, part)
	p.Version = version
	p.CreatedAt = baseTime.Add(-time.Hour)
	p.UpdatedAt = baseTime.Add(-time.Minute)
	return p
}

func TestCreate_SetsSyncFields(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	p := newProduct("", "P-1")
	require.NoError(t, r.Create(ctx, p))
	require.NotEmpty(t, p.ID, "id generated when empty")

	got, err := r.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.IsModifiedLocally)
	assert.Nil(t, got.LastSyncedAt)
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, "P-1", got.PartNumber)
	require.NotNil(t, got.Level)
	assert.Equal(t, "A", *got.Level)
	assert.InDelta(t, 199.99, got.NetPrice, 0.001)
	assert.True(t, baseTime.Equal(got.CreatedAt))
}

func TestUpdate_BumpsVersionAndFlags(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	p := newProduct("p1", "P-1")
	require.NoError(t, r.Create(ctx, p))
	_, err := r.MarkSynced(ctx, []models.RowVersion{{ID: "p1", Version: 1}}, baseTime)
	require.NoError(t, err)

	p.NetPrice = 149.5
	require.NoError(t, r.Update(ctx, p))
	assert.Equal(t, int64(2), p.Version)

	got, err := r.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.IsModifiedLocally)
	assert.InDelta(t, 149.5, got.NetPrice, 0.001)
}

func TestUpdate_MissingOrDeleted(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.ErrorIs(t, r.Update(ctx, newProduct("nope", "X")), common.ErrNotFound)

	require.NoError(t, r.Create(ctx, newProduct("p1", "P-1")))
	require.NoError(t, r.SoftDelete(ctx, "p1"))
	require.ErrorIs(t, r.Update(ctx, newProduct("p1", "P-1")), common.ErrNotFound)
}

func TestSoftDelete_Tombstones(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, newProduct("p1", "P-1")))
	require.NoError(t, r.SoftDelete(ctx, "p1"))

	got, err := r.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.IsModifiedLocally)

	require.ErrorIs(t, r.SoftDelete(ctx, "p1"), common.ErrNotFound, "already deleted")
	require.ErrorIs(t, r.SoftDelete(ctx, "ghost"), common.ErrNotFound)
}

func TestGetByID_NotFound(t *testing.T) {
	r, _ := setupRepo(t)
	_, err := r.GetByID(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestListModified_KeysetPages(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "e", "b", "d"} {
		require.NoError(t, r.Create(ctx, newProduct(id, "P-"+id)))
	}
	require.NoError(t, r.SoftDelete(ctx, "e"))
	_, err := r.MarkSynced(ctx, []models.RowVersion{{ID: "b", Version: 1}}, baseTime)
	require.NoError(t, err)

	page1, err := r.ListModified(ctx, ModifiedQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	assert.Equal(t, "a", page1[0].ID)
	assert.Equal(t, "c", page1[1].ID)

	page2, err := r.ListModified(ctx, ModifiedQuery{AfterID: page1[1].ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "d", page2[0].ID)

	tombs, err := r.ListModified(ctx, ModifiedQuery{Deleted: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, tombs, 1)
	assert.Equal(t, "e", tombs[0].ID)
}

func TestFindStates(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, newProduct("p1", "P-1")))
	require.NoError(t, r.Create(ctx, newProduct("p2", "P-2")))
	require.NoError(t, r.SoftDelete(ctx, "p2"))
	_, err := r.MarkSynced(ctx, []models.RowVersion{{ID: "p1", Version: 1}}, baseTime)
	require.NoError(t, err)

	states, err := r.FindStates(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]models.LocalState{
		"p1": {Version: 1, IsModifiedLocally: false, Deleted: false},
		"p2": {Version: 2, IsModifiedLocally: true, Deleted: true},
	}, states)

	empty, err := r.FindStates(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBulkInsert_PulledRowsAreSynced(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	syncedAt := baseTime.Add(time.Minute)

	require.NoError(t, r.Create(ctx, newProduct("existing", "P-0")))

	bad := remoteCopy("bad", "P-9", 0) // violates CHECK (version > 0)
	res, err := r.BulkInsert(ctx, []*models.Product{
		remoteCopy("r1", "P-1", 3),
		bad,
		remoteCopy("existing", "P-0", 7),
		remoteCopy("r2", "P-2", 1),
	}, syncedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, res.Applied)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "bad", res.Failed[0].ID)

	got, err := r.GetByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.False(t, got.IsModifiedLocally)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, syncedAt.Equal(*got.LastSyncedAt))

	existing, err := r.GetByID(ctx, "existing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), existing.Version, "insert must not overwrite an existing row")
}

func TestBulkUpdate_GuardsLocalEditsAndVersions(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()
	syncedAt := baseTime.Add(time.Minute)

	_, err := r.BulkInsert(ctx, []*models.Product{
		remoteCopy("clean", "P-1", 1),
		remoteCopy("ahead", "P-2", 5),
		remoteCopy("dirty", "P-3", 1),
	}, baseTime)
	require.NoError(t, err)

	dirty, err := r.GetByID(ctx, "dirty")
	require.NoError(t, err)
	dirty.ItemName = "local edit"
	require.NoError(t, r.Update(ctx, dirty)) // version 2, modified

	incomingClean := remoteCopy("clean", "P-1", 2)
	incomingClean.ItemName = "remote edit"
	incomingDirty := remoteCopy("dirty", "P-3", 9)
	incomingDirty.ItemName = "remote edit"

	res, err := r.BulkUpdate(ctx, []*models.Product{
		incomingClean,
		remoteCopy("ahead", "P-2", 4),
		incomingDirty,
	}, syncedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"clean"}, res.Applied)
	assert.Empty(t, res.Failed)

	clean, err := r.GetByID(ctx, "clean")
	require.NoError(t, err)
	assert.Equal(t, int64(2), clean.Version)
	assert.Equal(t, "remote edit", clean.ItemName)
	assert.True(t, syncedAt.Equal(*clean.LastSyncedAt))

	ahead, err := r.GetByID(ctx, "ahead")
	require.NoError(t, err)
	assert.Equal(t, int64(5), ahead.Version, "version never decreases")

	kept, err := r.GetByID(ctx, "dirty")
	require.NoError(t, err)
	assert.Equal(t, "local edit", kept.ItemName, "unsynced local edit wins")
	assert.Equal(t, int64(2), kept.Version)
	assert.True(t, kept.IsModifiedLocally)
}

func TestBulkSoftDelete_AppliesGroups(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	_, err := r.BulkInsert(ctx, []*models.Product{
		remoteCopy("a", "P-1", 1),
		remoteCopy("b", "P-2", 1),
		remoteCopy("c", "P-3", 1),
	}, baseTime)
	require.NoError(t, err)

	c, err := r.GetByID(ctx, "c")
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, c)) // local edit pending

	deletedAt := baseTime.Add(30 * time.Second)
	res, err := r.BulkSoftDelete(ctx, []models.TombstoneGroup{
		{DeletedAt: deletedAt, Version: 2, IDs: []string{"a", "b", "c", "missing"}},
	}, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Applied)

	a, err := r.GetByID(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, a.DeletedAt)
	assert.True(t, deletedAt.Equal(*a.DeletedAt))
	assert.Equal(t, int64(2), a.Version)
	assert.False(t, a.IsModifiedLocally)

	c, err = r.GetByID(ctx, "c")
	require.NoError(t, err)
	assert.Nil(t, c.DeletedAt, "modified row is not tombstoned by pull")
}

func TestMarkSynced_OnlyAtPushedVersion(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, newProduct("p1", "P-1")))
	require.NoError(t, r.Create(ctx, newProduct("p2", "P-2")))

	p2, err := r.GetByID(ctx, "p2")
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, p2)) // edited after the push read version 1

	n, err := r.MarkSynced(ctx, []models.RowVersion{{ID: "p1", Version: 1}, {ID: "p2", Version: 1}}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := r.CountModified(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "p2 still pending")
}

func TestMaxLastSyncedAt(t *testing.T) {
	r, _ := setupRepo(t)
	ctx := context.Background()

	_, ok, err := r.MaxLastSyncedAt(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "never synced")

	_, err = r.BulkInsert(ctx, []*models.Product{remoteCopy("a", "P-1", 1)}, baseTime)
	require.NoError(t, err)
	_, err = r.BulkInsert(ctx, []*models.Product{remoteCopy("b", "P-2", 1)}, baseTime.Add(2*time.Second))
	require.NoError(t, err)

	latest, ok, err := r.MaxLastSyncedAt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, baseTime.Add(2*time.Second).Equal(latest))
}

func TestClosedDB_ReturnsErrors(t *testing.T) {
	r, db := setupRepo(t)
	require.NoError(t, db.Close())
	ctx := context.Background()

	_, err := r.ListModified(ctx, ModifiedQuery{Limit: 1})
	require.Error(t, err)
	_, err = r.FindStates(ctx, []string{"x"})
	require.Error(t, err)
	_, err = r.BulkInsert(ctx, []*models.Product{remoteCopy("x", "P", 1)}, baseTime)
	require.Error(t, err)
	_, err = r.CountModified(ctx)
	require.Error(t, err)
	_, _, err = r.MaxLastSyncedAt(ctx)
	require.Error(t, err)
}
