package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/quyen-luc/prices-app/internal/local"
	"github.com/quyen-luc/prices-app/internal/models"
	remoteproducts "github.com/quyen-luc/prices-app/internal/remote/repositories/products"
	"github.com/stretchr/testify/require"
)

// memRemote is an in-memory stand-in for the PostgreSQL adapter with the
// same guards and acknowledgment semantics.
type memRemote struct {
	mu   sync.Mutex
	rows map[string]*remoteRow

	failIDs       map[string]error // per-record write failures
	err           error            // store-level failure for every call
	afterFindHook func()           // runs after FindVersions, outside the lock
	ackCalls      int
}

type remoteRow struct {
	p      models.Product
	synced []string
}

func newMemRemote() *memRemote {
	return &memRemote{rows: make(map[string]*remoteRow), failIDs: make(map[string]error)}
}

var _ remoteproducts.Repository = (*memRemote)(nil)

// seed stores p as written by the given nodes.
func (m *memRemote) seed(p models.Product, nodes ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	m.rows[p.ID] = &remoteRow{p: p, synced: slices.Clone(nodes)}
}

// backdate moves the remote write time of id, as if the write happened at.
func (m *memRemote) backdate(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rows[id]; ok {
		r.p.UpdatedAt = at.UTC()
	}
}

func (m *memRemote) get(id string) (models.Product, []string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return models.Product{}, nil, false
	}
	return r.p, slices.Clone(r.synced), true
}

func (m *memRemote) FindVersions(_ context.Context, ids []string) (map[string]int64, error) {
	m.mu.Lock()
	if m.err != nil {
		m.mu.Unlock()
		return nil, m.err
	}
	out := make(map[string]int64)
	for _, id := range ids {
		if r, ok := m.rows[id]; ok {
			out[id] = r.p.Version
		}
	}
	hook := m.afterFindHook
	m.afterFindHook = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *memRemote) BulkInsert(_ context.Context, items []*models.Product, nodeID string) (remoteproducts.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return remoteproducts.InsertResult{}, m.err
	}

	var res remoteproducts.InsertResult
	now := time.Now().UTC()
	for _, it := range items {
		if err, ok := m.failIDs[it.ID]; ok {
			res.Failed = append(res.Failed, models.RecordError{ID: it.ID, Err: err})
			continue
		}
		if _, ok := m.rows[it.ID]; ok {
			res.Conflicts = append(res.Conflicts, it.ID)
			continue
		}
		p := *it
		p.IsModifiedLocally = false
		p.LastSyncedAt = &now
		p.UpdatedAt = now
		m.rows[p.ID] = &remoteRow{p: p, synced: []string{nodeID}}
		res.Applied = append(res.Applied, p.ID)
	}
	return res, nil
}

func (m *memRemote) BulkUpdate(_ context.Context, items []*models.Product) (models.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.WriteResult{}, m.err
	}

	var res models.WriteResult
	now := time.Now().UTC()
	for _, it := range items {
		if err, ok := m.failIDs[it.ID]; ok {
			res.Failed = append(res.Failed, models.RecordError{ID: it.ID, Err: err})
			continue
		}
		r, ok := m.rows[it.ID]
		if !ok || r.p.Version >= it.Version {
			continue
		}
		p := *it
		p.IsModifiedLocally = false
		p.DeletedAt = nil
		p.CreatedAt = r.p.CreatedAt
		p.LastSyncedAt = &now
		p.UpdatedAt = now
		r.p = p
		res.Applied = append(res.Applied, p.ID)
	}
	return res, nil
}

func (m *memRemote) BulkSoftDelete(_ context.Context, groups []models.TombstoneGroup) (models.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.WriteResult{}, m.err
	}

	var res models.WriteResult
	now := time.Now().UTC()
	for _, g := range groups {
		for _, id := range g.IDs {
			if err, ok := m.failIDs[id]; ok {
				res.Failed = append(res.Failed, models.RecordError{ID: id, Err: err})
				continue
			}
			r, ok := m.rows[id]
			if !ok || r.p.Version >= g.Version {
				continue
			}
			at := g.DeletedAt
			r.p.DeletedAt = &at
			r.p.Version = g.Version
			r.p.LastSyncedAt = &now
			r.p.UpdatedAt = now
			res.Applied = append(res.Applied, id)
		}
	}
	return res, nil
}

func (m *memRemote) Acknowledge(_ context.Context, nodeID string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}

	m.ackCalls++
	n := 0
	for _, id := range ids {
		r, ok := m.rows[id]
		if !ok || slices.Contains(r.synced, nodeID) {
			continue
		}
		r.synced = append(r.synced, nodeID)
		n++
	}
	return n, nil
}

func (m *memRemote) matching(nodeID string, since time.Time, deleted bool) []*remoteRow {
	var out []*remoteRow
	for _, r := range m.rows {
		if r.p.IsDeleted() != deleted {
			continue
		}
		if slices.Contains(r.synced, nodeID) && !r.p.UpdatedAt.After(since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].p.ID < out[j].p.ID })
	return out
}

func (m *memRemote) ListChanged(_ context.Context, q remoteproducts.PageQuery) ([]*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	var page []*models.Product
	for _, r := range m.matching(q.NodeID, q.Since, q.Deleted) {
		if r.p.ID <= q.AfterID {
			continue
		}
		p := r.p
		p.Acknowledged = slices.Contains(r.synced, q.NodeID)
		page = append(page, &p)
		if len(page) == q.Limit {
			break
		}
	}
	return page, nil
}

func (m *memRemote) CountChanged(_ context.Context, nodeID string, since time.Time, deleted bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.matching(nodeID, since, deleted)), nil
}

// fakeHealth answers Ping with err.
type fakeHealth struct {
	mu  sync.Mutex
	err error
}

func (h *fakeHealth) Ping(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *fakeHealth) set(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

var errConnRefused = errors.New("dial tcp: connection refused")

type node struct {
	svc    *SyncService
	repos  *local.Repositories
	health *fakeHealth
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) phases(dir Direction) []Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Phase
	for _, e := range l.events {
		if e.Direction == dir {
			out = append(out, e.Phase)
		}
	}
	return out
}

func newNode(t *testing.T, nodeID string, remote *memRemote, cfg Config) *node {
	t.Helper()
	repos, err := local.InitDatabase(context.Background(), local.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	n := &node{repos: repos, health: &fakeHealth{}, events: &eventLog{}}
	n.svc = NewSyncService(Params{
		Local:    repos.Products,
		Metadata: repos.Metadata,
		Remote:   remote,
		Health:   n.health,
		NodeID:   nodeID,
		Notifier: n.events,
		Config:   cfg,
	})
	return n
}

func newProduct(id string) *models.Product {
	level := "Level A"
	return &models.Product{
		ID:                   id,
		PartNumber:           "PN-" + id,
		ItemName:             "Item " + id,
		LicenseAgreementType: "Enterprise",
		ProgramName:          "Open Value",
		OfferingName:         "Standard",
		Level:                &level,
		PurchaseUnit:         "1 License",
		PurchasePeriod:       "1 Year",
		ProductFamily:        "Server",
		ProductType:          "License",
		NetPrice:             100,
		CurrencyCode:         "USD",
		PriceListID:          "pl-1",
	}
}

// remoteProduct is a row as another node would have pushed it.
func remoteProduct(id string, version int64) models.Product {
	p := *newProduct(id)
	p.Version = version
	p.CreatedAt = time.Now().UTC().Add(-time.Hour)
	return p
}
