package services

import (
	"context"

	"github.com/quyen-luc/prices-app/internal/common"
	localproducts "github.com/quyen-luc/prices-app/internal/local/repositories/products"
	"github.com/quyen-luc/prices-app/internal/models"
)

func (s *SyncService) push(ctx context.Context) (PushResult, error) {
	var res PushResult
	s.notify(Event{Phase: PhaseStarted, Direction: DirectionUpload})

	if err := s.checkHealth(ctx); err != nil {
		return res, s.fail(ctx, DirectionUpload, 0, err)
	}

	for _, deleted := range []bool{false, true} {
		if err := s.pushPages(ctx, deleted, &res); err != nil {
			return res, s.fail(ctx, DirectionUpload, res.Uploaded, err)
		}
	}

	s.notify(Event{Phase: PhaseCompleted, Direction: DirectionUpload, Count: res.Uploaded})
	s.log.Info(ctx, "push completed", "uploaded", res.Uploaded, "dropped", res.Dropped, "failed", res.Failed)
	return res, nil
}

// pushPages walks modified rows by id so rows left pending by a failure
// are not read again in the same run.
func (s *SyncService) pushPages(ctx context.Context, deleted bool, res *PushResult) error {
	after := ""
	for {
		page, err := s.local.ListModified(ctx, localproducts.ModifiedQuery{
			Deleted: deleted,
			AfterID: after,
			Limit:   s.cfg.BatchSize,
		})
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		after = page[len(page)-1].ID

		if deleted {
			err = s.pushTombstones(ctx, page, res)
		} else {
			err = s.pushLive(ctx, page, res)
		}
		if err != nil {
			return err
		}
		s.notify(Event{Phase: PhaseInProgress, Direction: DirectionUpload, Count: res.Uploaded})

		if len(page) < s.cfg.BatchSize {
			return nil
		}
	}
}

func (s *SyncService) pushLive(ctx context.Context, page []*models.Product, res *PushResult) error {
	versions, err := s.remote.FindVersions(ctx, productIDs(page))
	if err != nil {
		return err
	}

	var inserts, updates []*models.Product
	for _, p := range page {
		rv, ok := versions[p.ID]
		switch {
		case !ok:
			inserts = append(inserts, p)
		case p.Version > rv:
			updates = append(updates, p)
		default:
			s.log.Debug(ctx, "dropping superseded local edit", "id", p.ID, "local_version", p.Version, "remote_version", rv)
		}
	}

	var written models.WriteResult
	if len(inserts) > 0 {
		ins, err := s.remote.BulkInsert(ctx, inserts, s.nodeID)
		if err != nil {
			return err
		}
		written.Merge(ins.WriteResult)
		// another node inserted these first; let the version guard decide
		updates = append(updates, pick(page, ins.Conflicts)...)
	}

	if len(updates) > 0 {
		upd, err := s.remote.BulkUpdate(ctx, updates)
		if err != nil {
			return err
		}
		written.Merge(upd)

		// inserted rows already carry this node; updated rows need it added
		if len(upd.Applied) > 0 {
			if _, err := s.remote.Acknowledge(ctx, s.nodeID, upd.Applied); err != nil {
				return err
			}
		}
	}

	return s.settle(ctx, page, written, res)
}

func (s *SyncService) pushTombstones(ctx context.Context, page []*models.Product, res *PushResult) error {
	versions, err := s.remote.FindVersions(ctx, productIDs(page))
	if err != nil {
		return err
	}

	var tombstones []models.Tombstone
	for _, p := range page {
		rv, ok := versions[p.ID]
		if !ok || p.Version <= rv || p.DeletedAt == nil {
			continue
		}
		tombstones = append(tombstones, models.Tombstone{ID: p.ID, Version: p.Version, DeletedAt: *p.DeletedAt})
	}

	var written models.WriteResult
	if len(tombstones) > 0 {
		groups := chunkGroups(models.GroupTombstones(tombstones), s.cfg.TombstoneChunk)
		written, err = s.remote.BulkSoftDelete(ctx, groups)
		if err != nil {
			return err
		}
		if len(written.Applied) > 0 {
			if _, err := s.remote.Acknowledge(ctx, s.nodeID, written.Applied); err != nil {
				return err
			}
		}
	}

	return s.settle(ctx, page, written, res)
}

// settle clears the modified flag of every row in page except those that
// failed individually. Rows the remote dropped or the guard rejected count
// as resolved.
func (s *SyncService) settle(ctx context.Context, page []*models.Product, written models.WriteResult, res *PushResult) error {
	failed := make(map[string]struct{}, len(written.Failed))
	for _, f := range written.Failed {
		failed[f.ID] = struct{}{}
		s.log.Warn(ctx, "record not pushed", "id", f.ID, "error", f.Err)
	}

	rows := make([]models.RowVersion, 0, len(page))
	for _, p := range page {
		if _, ok := failed[p.ID]; ok {
			continue
		}
		rows = append(rows, models.RowVersion{ID: p.ID, Version: p.Version})
	}

	if len(rows) > 0 {
		if _, err := s.local.MarkSynced(ctx, rows, s.now()); err != nil {
			return err
		}
	}

	res.Uploaded += len(written.Applied)
	res.Failed += len(failed)
	res.Dropped += len(rows) - len(written.Applied)
	return nil
}

func productIDs(items []*models.Product) []string {
	ids := make([]string, len(items))
	for i, p := range items {
		ids[i] = p.ID
	}
	return ids
}

func pick(items []*models.Product, ids []string) []*models.Product {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []*models.Product
	for _, p := range items {
		if _, ok := want[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}

// chunkGroups splits groups so no statement carries more than size ids.
func chunkGroups(groups []models.TombstoneGroup, size int) []models.TombstoneGroup {
	var out []models.TombstoneGroup
	for _, g := range groups {
		for _, ids := range common.Chunk(g.IDs, size) {
			out = append(out, models.TombstoneGroup{DeletedAt: g.DeletedAt, Version: g.Version, IDs: ids})
		}
	}
	return out
}
