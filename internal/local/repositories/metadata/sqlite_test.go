package metadata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestSetAndGet_InsertThenGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k1", []byte{0x01, 0x02}))

	v, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02}, v)
}

func TestGet_NotExists_ReturnsNilNil(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	v, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestSet_UpsertOverwritesValue(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", []byte("old")))
	require.NoError(t, r.Set(ctx, "k", []byte("new")))

	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestDeleteAndList(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte("1")))
	require.NoError(t, r.Set(ctx, "b", []byte("2")))
	require.NoError(t, r.Delete(ctx, "a"))

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"b": []byte("2")}, all)
}

func TestBool_DefaultAndRoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	v, err := r.GetBool(ctx, KeyAutoSyncEnabled, true)
	require.NoError(t, err)
	assert.True(t, v, "absent key yields the default")

	require.NoError(t, r.SetBool(ctx, KeyAutoSyncEnabled, false))
	v, err = r.GetBool(ctx, KeyAutoSyncEnabled, true)
	require.NoError(t, err)
	assert.False(t, v)

	require.NoError(t, r.Set(ctx, "garbage", []byte("maybe")))
	_, err = r.GetBool(ctx, "garbage", false)
	require.Error(t, err)
}

func TestTime_RoundTrip(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, ok, err := r.GetTime(ctx, KeyFirstRunCompletedAt)
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 4, 2, 8, 30, 0, 0, time.UTC)
	require.NoError(t, r.SetTime(ctx, KeyFirstRunCompletedAt, at))

	got, ok, err := r.GetTime(ctx, KeyFirstRunCompletedAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestClosedDB_ReturnsErrors(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())
	ctx := context.Background()

	_, err := r.Get(ctx, "k")
	require.Error(t, err)
	require.Error(t, r.Set(ctx, "k", []byte("v")))
	require.Error(t, r.Delete(ctx, "k"))
	_, err = r.List(ctx)
	require.Error(t, err)
}
