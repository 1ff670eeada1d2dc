// Package services holds the sync engine: the orchestrator that pushes local
// edits to the shared store and pulls remote changes back, the scheduler
// that pushes on an interval, and the progress events both emit.
//
// Only one sync direction runs at a time. A call made while another is in
// flight fails with common.ErrSyncInProgress instead of waiting.
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/quyen-luc/prices-app/internal/common"
	localproducts "github.com/quyen-luc/prices-app/internal/local/repositories/products"
	"github.com/quyen-luc/prices-app/internal/local/repositories/metadata"
	"github.com/quyen-luc/prices-app/internal/logging"
	remoteproducts "github.com/quyen-luc/prices-app/internal/remote/repositories/products"
)

// HealthChecker reports whether the remote store answers.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	BatchSize      int           // rows per push/pull page
	TombstoneChunk int           // ids per remote soft-delete statement
	SafetyWindow   time.Duration // subtracted from the last pull start
}

// DefaultConfig returns the production batch sizes.
func DefaultConfig() Config {
	return Config{
		BatchSize:      1000,
		TombstoneChunk: 100,
		SafetyWindow:   60 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.TombstoneChunk <= 0 {
		c.TombstoneChunk = d.TombstoneChunk
	}
	if c.SafetyWindow <= 0 {
		c.SafetyWindow = d.SafetyWindow
	}
	return c
}

// Params wires a SyncService.
type Params struct {
	Local    localproducts.Repository
	Metadata metadata.Repository
	Remote   remoteproducts.Repository
	Health   HealthChecker
	NodeID   string
	Notifier Notifier
	Logger   logging.Logger
	Config   Config
}

type PushResult struct {
	Uploaded int // rows the remote store accepted
	Dropped  int // rows the remote already had at an equal or higher version
	Failed   int // rows rejected individually; they stay pending
}

type PullResult struct {
	Downloaded int // rows written locally
	Skipped    int // rows held back by an unsynced local edit
	Failed     int
}

type FullSyncResult struct {
	Push PushResult
	Pull PullResult
}

// Status is a point-in-time summary for the CLI.
type Status struct {
	PendingUploads   int
	PendingDownloads int // -1 when the remote store is unreachable
	LastSyncedAt     *time.Time
	IsSyncing        bool
	AutoSyncEnabled  bool
	RemoteConnected  bool
}

// SyncError is a push or pull that aborted.
type SyncError struct {
	Direction Direction
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Direction, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

type SyncService struct {
	local    localproducts.Repository
	meta     metadata.Repository
	remote   remoteproducts.Repository
	health   HealthChecker
	nodeID   string
	notifier Notifier
	log      logging.Logger
	cfg      Config
	now      func() time.Time

	mu      sync.Mutex
	syncing bool

	hookMu      sync.Mutex
	autoSyncFns []func(bool)
}

func NewSyncService(p Params) *SyncService {
	log := p.Logger
	if log == nil {
		log = logging.Nop()
	}
	notifier := p.Notifier
	if notifier == nil {
		notifier = Notifiers(nil)
	}
	return &SyncService{
		local:    p.Local,
		meta:     p.Metadata,
		remote:   p.Remote,
		health:   p.Health,
		nodeID:   p.NodeID,
		notifier: notifier,
		log:      log.With("node_id", p.NodeID),
		cfg:      p.Config.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NodeID returns the id recorded in acknowledgment sets.
func (s *SyncService) NodeID() string {
	return s.nodeID
}

func (s *SyncService) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncing {
		return common.ErrSyncInProgress
	}
	s.syncing = true
	return nil
}

func (s *SyncService) end() {
	s.mu.Lock()
	s.syncing = false
	s.mu.Unlock()
}

// IsSyncing reports whether a push or pull is running.
func (s *SyncService) IsSyncing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncing
}

// Push uploads locally modified rows. Once started it runs to completion
// even if ctx is canceled.
func (s *SyncService) Push(ctx context.Context) (PushResult, error) {
	if err := s.begin(); err != nil {
		return PushResult{}, err
	}
	defer s.end()

	return s.push(context.WithoutCancel(ctx))
}

// Pull downloads remote rows this node has not seen or that changed since
// its last sync. Once started it runs to completion even if ctx is canceled.
func (s *SyncService) Pull(ctx context.Context) (PullResult, error) {
	if err := s.begin(); err != nil {
		return PullResult{}, err
	}
	defer s.end()

	return s.pull(context.WithoutCancel(ctx))
}

// FullSync pushes then pulls while holding the guard for both.
func (s *SyncService) FullSync(ctx context.Context) (FullSyncResult, error) {
	if err := s.begin(); err != nil {
		return FullSyncResult{}, err
	}
	defer s.end()

	ctx = context.WithoutCancel(ctx)
	push, pushErr := s.push(ctx)
	pull, pullErr := s.pull(ctx)
	return FullSyncResult{Push: push, Pull: pull}, errors.Join(pushErr, pullErr)
}

// InitialSync pulls everything once on a node that has never completed a
// first run, then records the completion time. ran is false when the
// marker was already present.
func (s *SyncService) InitialSync(ctx context.Context) (res PullResult, ran bool, err error) {
	_, done, err := s.meta.GetTime(ctx, metadata.KeyFirstRunCompletedAt)
	if err != nil {
		return PullResult{}, false, fmt.Errorf("failed to read first-run marker: %w", err)
	}
	if done {
		return PullResult{}, false, nil
	}

	res, err = s.Pull(ctx)
	if err != nil {
		return res, true, err
	}
	if err := s.meta.SetTime(ctx, metadata.KeyFirstRunCompletedAt, s.now()); err != nil {
		return res, true, fmt.Errorf("failed to store first-run marker: %w", err)
	}
	s.log.Info(ctx, "initial sync completed", "downloaded", res.Downloaded)
	return res, true, nil
}

// ResetFirstRun makes the next InitialSync pull again.
func (s *SyncService) ResetFirstRun(ctx context.Context) error {
	return s.meta.Delete(ctx, metadata.KeyFirstRunCompletedAt)
}

// AutoSyncEnabled returns the persisted preference, false by default.
func (s *SyncService) AutoSyncEnabled(ctx context.Context) (bool, error) {
	return s.meta.GetBool(ctx, metadata.KeyAutoSyncEnabled, false)
}

// SetAutoSync persists the preference and tells registered listeners.
func (s *SyncService) SetAutoSync(ctx context.Context, enabled bool) error {
	if err := s.meta.SetBool(ctx, metadata.KeyAutoSyncEnabled, enabled); err != nil {
		return fmt.Errorf("failed to store auto-sync preference: %w", err)
	}

	s.hookMu.Lock()
	fns := slices.Clone(s.autoSyncFns)
	s.hookMu.Unlock()

	for _, fn := range fns {
		fn(enabled)
	}
	return nil
}

// OnAutoSyncChange registers fn to run after every SetAutoSync.
func (s *SyncService) OnAutoSyncChange(fn func(enabled bool)) {
	s.hookMu.Lock()
	s.autoSyncFns = append(s.autoSyncFns, fn)
	s.hookMu.Unlock()
}

// Status gathers pending counts. Remote counts are only queried when the
// remote store answers a health check.
func (s *SyncService) Status(ctx context.Context) (Status, error) {
	st := Status{IsSyncing: s.IsSyncing(), PendingDownloads: -1}

	n, err := s.local.CountModified(ctx)
	if err != nil {
		return Status{}, err
	}
	st.PendingUploads = n

	last, ok, err := s.local.MaxLastSyncedAt(ctx)
	if err != nil {
		return Status{}, err
	}
	if ok {
		st.LastSyncedAt = &last
	}

	if st.AutoSyncEnabled, err = s.AutoSyncEnabled(ctx); err != nil {
		return Status{}, err
	}

	if err := s.checkHealth(ctx); err != nil {
		return st, nil
	}
	st.RemoteConnected = true

	if st.PendingDownloads, err = s.pendingDownloads(ctx); err != nil {
		return Status{}, err
	}
	return st, nil
}

// pendingDownloads counts the remote rows the next pull would write locally.
// Rows in the change set that are already current, or held back by a local
// edit, are not counted.
func (s *SyncService) pendingDownloads(ctx context.Context) (int, error) {
	since, err := s.pullSince(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, deleted := range []bool{false, true} {
		n, err := s.remote.CountChanged(ctx, s.nodeID, since, deleted)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			continue
		}

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
				return 0, err
			}
			if len(page) == 0 {
				break
			}
			after = page[len(page)-1].ID

			states, err := s.local.FindStates(ctx, productIDs(page))
			if err != nil {
				return 0, err
			}
			for _, p := range page {
				st, ok := states[p.ID]
				switch classify(p, st, ok) {
				case pullInsert, pullUpdate, pullDelete:
					total++
				}
			}
			if len(page) < s.cfg.BatchSize {
				break
			}
		}
	}
	return total, nil
}

func (s *SyncService) checkHealth(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	if err := s.health.Ping(ctx); err != nil {
		if errors.Is(err, common.ErrRemoteNotConnected) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrRemoteNotConnected, err)
	}
	return nil
}

func (s *SyncService) notify(e Event) {
	s.notifier.Notify(e)
}

func (s *SyncService) fail(ctx context.Context, dir Direction, count int, err error) error {
	s.notify(Event{Phase: PhaseFailed, Direction: dir, Count: count, Err: err})
	s.log.Error(ctx, "sync aborted", "direction", string(dir), "error", err)
	return &SyncError{Direction: dir, Err: err}
}

// pullSince is the pull boundary: the start of the last completed pull minus
// the safety window, or the epoch before the first one. Pushes stamp
// last_synced_at, so that column cannot serve as the boundary.
func (s *SyncService) pullSince(ctx context.Context) (time.Time, error) {
	last, ok, err := s.meta.GetTime(ctx, metadata.KeyLastPullStartedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read pull watermark: %w", err)
	}
	if !ok {
		return time.Unix(0, 0).UTC(), nil
	}
	return last.Add(-s.cfg.SafetyWindow), nil
}
