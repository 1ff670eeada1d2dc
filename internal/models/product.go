// Package models defines the product record shared by the local and remote
// stores together with the small value types the sync engine passes between
// them.
package models

import (
	"sort"
	"time"
)

// Product is one price-list line. Business fields are synced verbatim.
// Version, IsModifiedLocally, LastSyncedAt and DeletedAt drive sync.
type Product struct {
	ID string

	PartNumber           string
	ItemName             string
	LicenseAgreementType string
	ProgramName          string
	OfferingName         string
	Level                *string
	PurchaseUnit         string
	PurchasePeriod       string
	ProductFamily        string
	ProductType          string
	NetPrice             float64
	CurrencyCode         string
	ChangeDate           *time.Time
	PriceListID          string

	Version           int64
	IsModifiedLocally bool
	LastSyncedAt      *time.Time
	DeletedAt         *time.Time

	// Acknowledged is filled on remote reads: true when the reading node is
	// already in the row's acknowledgment set.
	Acknowledged bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDeleted reports whether p is a tombstone.
func (p *Product) IsDeleted() bool {
	return p.DeletedAt != nil
}

// LocalState is the slice of a local row the sync engine needs to classify
// an incoming remote row.
type LocalState struct {
	Version           int64
	IsModifiedLocally bool
	Deleted           bool
}

// RowVersion pins an id to the version that was read, so a later write can
// refuse to touch a row that changed in between.
type RowVersion struct {
	ID      string
	Version int64
}

// Tombstone is a soft delete to propagate: which row, at which version, when.
type Tombstone struct {
	ID        string
	Version   int64
	DeletedAt time.Time
}

// TombstoneGroup collects ids sharing the same (DeletedAt, Version) pair so a
// single statement can apply all of them.
type TombstoneGroup struct {
	DeletedAt time.Time
	Version   int64
	IDs       []string
}

// GroupTombstones groups by identical (DeletedAt, Version). Output order is
// deterministic: by DeletedAt, then Version.
func GroupTombstones(items []Tombstone) []TombstoneGroup {
	type key struct {
		at      int64
		version int64
	}
	idx := make(map[key]int)
	var groups []TombstoneGroup
	for _, t := range items {
		k := key{at: t.DeletedAt.UnixNano(), version: t.Version}
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, TombstoneGroup{DeletedAt: t.DeletedAt, Version: t.Version})
		}
		groups[i].IDs = append(groups[i].IDs, t.ID)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if !groups[a].DeletedAt.Equal(groups[b].DeletedAt) {
			return groups[a].DeletedAt.Before(groups[b].DeletedAt)
		}
		return groups[a].Version < groups[b].Version
	})
	return groups
}

// RecordError is a failure confined to one record of a bulk write.
type RecordError struct {
	ID  string
	Err error
}

func (e RecordError) Error() string {
	return "record " + e.ID + ": " + e.Err.Error()
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// WriteResult reports the outcome of a bulk write. Applied holds ids the
// store actually changed; Failed holds per-record errors.
type WriteResult struct {
	Applied []string
	Failed  []RecordError
}

// Merge appends other into r.
func (r *WriteResult) Merge(other WriteResult) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Failed = append(r.Failed, other.Failed...)
}
