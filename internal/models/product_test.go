package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestGroupTombstones(t *testing.T) {
	t1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	got := GroupTombstones([]Tombstone{
		{ID: "a", Version: 2, DeletedAt: t2},
		{ID: "b", Version: 3, DeletedAt: t1},
		{ID: "c", Version: 2, DeletedAt: t2},
		{ID: "d", Version: 2, DeletedAt: t1},
	})

	want := []TombstoneGroup{
		{DeletedAt: t1, Version: 2, IDs: []string{"d"}},
		{DeletedAt: t1, Version: 3, IDs: []string{"b"}},
		{DeletedAt: t2, Version: 2, IDs: []string{"a", "c"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("groups mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupTombstones_Empty(t *testing.T) {
	assert.Empty(t, GroupTombstones(nil))
}

func TestRecordError(t *testing.T) {
	cause := errors.New("constraint failed")
	err := RecordError{ID: "p1", Err: cause}

	assert.Equal(t, "record p1: constraint failed", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWriteResult_Merge(t *testing.T) {
	r := WriteResult{Applied: []string{"a"}}
	r.Merge(WriteResult{Applied: []string{"b"}, Failed: []RecordError{{ID: "c", Err: errors.New("x")}}})

	assert.Equal(t, []string{"a", "b"}, r.Applied)
	assert.Len(t, r.Failed, 1)
}

func TestProduct_IsDeleted(t *testing.T) {
	p := &Product{}
	assert.False(t, p.IsDeleted())
	now := time.Now()
	p.DeletedAt = &now
	assert.True(t, p.IsDeleted())
}
