package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/logging"
	"github.com/quyen-luc/prices-app/internal/monitor"
)

// Pusher is the part of SyncService the scheduler drives.
type Pusher interface {
	Push(ctx context.Context) (PushResult, error)
}

// ConnectionState reports the remote connection state.
type ConnectionState interface {
	Status() monitor.Status
}

// Scheduler pushes on a fixed interval while auto-sync is enabled and the
// remote store is connected. It never pulls.
type Scheduler struct {
	pusher   Pusher
	conn     ConnectionState
	interval time.Duration
	log      logging.Logger

	enabled atomic.Bool
	toggle  chan struct{}
	resume  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(pusher Pusher, conn ConnectionState, interval time.Duration, log logging.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Scheduler{
		pusher:   pusher,
		conn:     conn,
		interval: interval,
		log:      log,
		toggle:   make(chan struct{}, 1),
		resume:   make(chan struct{}, 1),
	}
}

// Enabled reports whether the timer is armed.
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// SetEnabled arms or disarms the timer. Repeating the current value is a no-op.
func (s *Scheduler) SetEnabled(enabled bool) {
	if s.enabled.Swap(enabled) == enabled {
		return
	}
	signal(s.toggle)
}

// Resume requests an immediate push, used when the connection comes back.
// Ignored while disabled.
func (s *Scheduler) Resume() {
	if s.Enabled() {
		signal(s.resume)
	}
}

// HandleConnectivity is a monitor subscriber: reaching Connected resumes.
func (s *Scheduler) HandleConnectivity(st monitor.Status) {
	if st.State == monitor.Connected {
		s.Resume()
	}
}

// Start runs the scheduler loop until ctx is done or Stop is called.
// Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for an in-flight push. Safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	arm := func() {
		switch {
		case s.Enabled() && ticker == nil:
			ticker = time.NewTicker(s.interval)
			tick = ticker.C
			s.log.Info(ctx, "auto-sync enabled", "interval", s.interval.String())
		case !s.Enabled() && ticker != nil:
			ticker.Stop()
			ticker, tick = nil, nil
			s.log.Info(ctx, "auto-sync disabled")
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	arm()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.toggle:
			arm()
		case <-s.resume:
			s.tick(ctx)
		case <-tick:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if st := s.conn.Status(); st.State != monitor.Connected {
		s.log.Debug(ctx, "auto-sync skipped", "state", st.State.String())
		return
	}

	res, err := s.pusher.Push(ctx)
	switch {
	case errors.Is(err, common.ErrSyncInProgress):
		s.log.Debug(ctx, "auto-sync skipped: sync already running")
	case err != nil:
		s.log.Warn(ctx, "auto-sync push failed", "error", err)
	default:
		s.log.Debug(ctx, "auto-sync push done", "uploaded", res.Uploaded)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
