package services

import (
	"context"
	"time"

	"github.com/quyen-luc/prices-app/internal/local/repositories/metadata"
	"github.com/quyen-luc/prices-app/internal/models"
	remoteproducts "github.com/quyen-luc/prices-app/internal/remote/repositories/products"
)

type pullAction int

const (
	pullSkip    pullAction = iota // unsynced local edit wins
	pullInsert                    // missing locally
	pullUpdate                    // remote version is newer
	pullDelete                    // remote tombstone is newer
	pullCurrent                   // nothing to write; acknowledge only
)

// classify decides what a pull does with remote row p given its local state.
// A tombstone for a row this node never held counts as current.
func classify(p *models.Product, st models.LocalState, ok bool) pullAction {
	switch {
	case ok && st.IsModifiedLocally:
		return pullSkip
	case p.IsDeleted():
		if !ok || p.Version <= st.Version {
			return pullCurrent
		}
		return pullDelete
	case !ok:
		return pullInsert
	case p.Version > st.Version:
		return pullUpdate
	default:
		return pullCurrent
	}
}

func (s *SyncService) pull(ctx context.Context) (PullResult, error) {
	var res PullResult
	s.notify(Event{Phase: PhaseStarted, Direction: DirectionDownload})

	if err := s.checkHealth(ctx); err != nil {
		return res, s.fail(ctx, DirectionDownload, 0, err)
	}

	started := s.now()
	since, err := s.pullSince(ctx)
	if err != nil {
		return res, s.fail(ctx, DirectionDownload, 0, err)
	}

	for _, deleted := range []bool{false, true} {
		if err := s.pullPages(ctx, since, deleted, &res); err != nil {
			return res, s.fail(ctx, DirectionDownload, res.Downloaded, err)
		}
	}

	if err := s.meta.SetTime(ctx, metadata.KeyLastPullStartedAt, started); err != nil {
		s.log.Warn(ctx, "failed to store pull watermark", "error", err)
	}

	s.notify(Event{Phase: PhaseCompleted, Direction: DirectionDownload, Count: res.Downloaded})
	s.log.Info(ctx, "pull completed", "downloaded", res.Downloaded, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// pullPages walks the remote change set by id. Acknowledging a page drops
// its rows from the predicate, which an id cursor tolerates.
func (s *SyncService) pullPages(ctx context.Context, since time.Time, deleted bool, res *PullResult) error {
	after := ""
	for {
		page, err := s.remote.ListChanged(ctx, remoteproducts.PageQuery{
			NodeID:  s.nodeID,
			Since:   since,
			AfterID: after,
			Limit:   s.cfg.BatchSize,
			Deleted: deleted,
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		after = page[len(page)-1].ID

		if deleted {
			err = s.pullTombstones(ctx, page, res)
		} else {
			err = s.pullLive(ctx, page, res)
		}
		if err != nil {
			return err
		}
		s.notify(Event{Phase: PhaseInProgress, Direction: DirectionDownload, Count: res.Downloaded})

		if len(page) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *SyncService) pullLive(ctx context.Context, page []*models.Product, res *PullResult) error {
	states, err := s.local.FindStates(ctx, productIDs(page))
	if err != nil {
		return err
	}

	var inserts, updates []*models.Product
	var current []string
	for _, p := range page {
		st, ok := states[p.ID]
		switch classify(p, st, ok) {
		case pullSkip:
			res.Skipped++
			s.log.Debug(ctx, "keeping unsynced local edit", "id", p.ID, "local_version", st.Version, "remote_version", p.Version)
		case pullInsert:
			inserts = append(inserts, p)
		case pullUpdate:
			updates = append(updates, p)
		case pullCurrent:
			current = append(current, p.ID)
		}
	}

	syncedAt := s.now()
	var written models.WriteResult
	if len(inserts) > 0 {
		ins, err := s.local.BulkInsert(ctx, inserts, syncedAt)
		if err != nil {
			return err
		}
		written.Merge(ins)
	}
	if len(updates) > 0 {
		upd, err := s.local.BulkUpdate(ctx, updates, syncedAt)
		if err != nil {
			return err
		}
		written.Merge(upd)
	}

	return s.acknowledgePulled(ctx, page, written, current, res)
}

func (s *SyncService) pullTombstones(ctx context.Context, page []*models.Product, res *PullResult) error {
	states, err := s.local.FindStates(ctx, productIDs(page))
	if err != nil {
		return err
	}

	var tombstones []models.Tombstone
	var current []string
	for _, p := range page {
		st, ok := states[p.ID]
		switch classify(p, st, ok) {
		case pullSkip:
			res.Skipped++
			s.log.Debug(ctx, "keeping unsynced local edit over remote delete", "id", p.ID)
		case pullDelete:
			tombstones = append(tombstones, models.Tombstone{ID: p.ID, Version: p.Version, DeletedAt: *p.DeletedAt})
		case pullCurrent:
			current = append(current, p.ID)
		}
	}

	var written models.WriteResult
	if len(tombstones) > 0 {
		written, err = s.local.BulkSoftDelete(ctx, models.GroupTombstones(tombstones), s.now())
		if err != nil {
			return err
		}
	}

	return s.acknowledgePulled(ctx, page, written, current, res)
}

// acknowledgePulled adds this node to rows it now holds: rows just written
// plus rows already current locally. Skipped, failed and guard-rejected rows
// stay unacknowledged so a later pull sees them again.
func (s *SyncService) acknowledgePulled(ctx context.Context, page []*models.Product, written models.WriteResult, current []string, res *PullResult) error {
	for _, f := range written.Failed {
		s.log.Warn(ctx, "record not pulled", "id", f.ID, "error", f.Err)
	}
	res.Downloaded += len(written.Applied)
	res.Failed += len(written.Failed)

	held := make(map[string]struct{}, len(written.Applied)+len(current))
	for _, id := range written.Applied {
		held[id] = struct{}{}
	}
	for _, id := range current {
		held[id] = struct{}{}
	}

	var ack []string
	for _, p := range page {
		if _, ok := held[p.ID]; ok && !p.Acknowledged {
			ack = append(ack, p.ID)
		}
	}
	if len(ack) == 0 {
		return nil
	}
	_, err := s.remote.Acknowledge(ctx, s.nodeID, ack)
	return err
}
