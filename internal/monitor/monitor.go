// Package monitor tracks whether the shared PostgreSQL store is reachable.
//
// A Monitor probes internet reachability on an interval, health-checks the
// remote pool and, when the pool is unhealthy while the network is up, runs
// a bounded reconnect loop with exponential backoff. Observers learn about
// every transition through Subscribe.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quyen-luc/prices-app/internal/common"
	"github.com/quyen-luc/prices-app/internal/logging"
)

// ErrReconnectInProgress is returned by a manual Reconnect while a loop runs.
var ErrReconnectInProgress = errors.New("reconnect already in progress")

// State of the remote connection.
type State int

const (
	Disconnected State = iota
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Status is a snapshot published to subscribers.
type Status struct {
	State       State
	InternetUp  bool
	Attempt     int // current reconnect attempt, 0 when idle
	MaxAttempts int
	Err         error // last failure, if any
}

// Remote is the pool the monitor keeps alive.
type Remote interface {
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}

type Config struct {
	ProbeInterval time.Duration
	PingTimeout   time.Duration
	MaxAttempts   int
	BaseDelay     time.Duration
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		ProbeInterval: 10 * time.Second,
		PingTimeout:   3 * time.Second,
		MaxAttempts:   5,
		BaseDelay:     5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	return c
}

type Monitor struct {
	remote Remote
	prober Prober
	cfg    Config
	log    logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	state        State
	internetUp   bool
	attempt      int
	lastErr      error
	reconnecting bool
	runCtx       context.Context
	cancel       context.CancelFunc

	subMu   sync.Mutex
	subs    map[uint64]func(Status)
	nextSub uint64

	wg sync.WaitGroup
}

// New returns a Monitor in the Disconnected state. Internet is assumed up
// until the first probe says otherwise.
func New(remote Remote, prober Prober, cfg Config, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop()
	}
	return &Monitor{
		remote:     remote,
		prober:     prober,
		cfg:        cfg.withDefaults(),
		log:        log,
		sleep:      sleepCtx,
		state:      Disconnected,
		internetUp: true,
		subs:       make(map[uint64]func(Status)),
	}
}

// Start runs the first checks and the periodic internet probe until ctx is
// done or Stop is called. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		m.CheckInternet(runCtx)
		m.CheckRemoteHealth(runCtx)

		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.CheckInternet(runCtx)
			}
		}
	}()
}

// Stop cancels the probe and any reconnect loop and waits for them.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// Status returns the current snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Status {
	return Status{
		State:       m.state,
		InternetUp:  m.internetUp,
		Attempt:     m.attempt,
		MaxAttempts: m.cfg.MaxAttempts,
		Err:         m.lastErr,
	}
}

// Subscribe registers fn for every published Status. fn runs on the
// publishing goroutine and must not block. The returned func unsubscribes.
func (m *Monitor) Subscribe(fn func(Status)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Monitor) publish(s Status) {
	m.subMu.Lock()
	fns := make([]func(Status), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (m *Monitor) setState(ctx context.Context, state State, err error) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.lastErr = err
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if changed {
		m.log.Info(ctx, "remote connection state changed", "state", state.String())
	}
	if changed || state == Reconnecting || err != nil {
		m.publish(snap)
	}
}

// CheckInternet probes the network. Regaining it while not connected
// triggers an immediate remote health check.
func (m *Monitor) CheckInternet(ctx context.Context) bool {
	err := m.prober.Probe(ctx)
	up := err == nil

	m.mu.Lock()
	changed := m.internetUp != up
	m.internetUp = up
	state := m.state
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if !changed {
		return up
	}

	if up {
		m.log.Info(ctx, "internet connection restored")
	} else {
		m.log.Warn(ctx, "internet connection lost", "error", err)
	}
	m.publish(snap)

	if up && state != Connected {
		m.CheckRemoteHealth(ctx)
	}
	return up
}

// CheckRemoteHealth pings the remote store. On failure with the network up
// it starts the reconnect loop in the background unless one is running.
func (m *Monitor) CheckRemoteHealth(ctx context.Context) bool {
	err := m.ping(ctx)
	if err == nil {
		m.mu.Lock()
		m.attempt = 0
		m.mu.Unlock()
		m.setState(ctx, Connected, nil)
		return true
	}

	m.mu.Lock()
	internet := m.internetUp
	reconnecting := m.reconnecting
	m.mu.Unlock()

	if reconnecting {
		return false
	}
	m.log.Warn(ctx, "remote health check failed", "error", err)
	if !internet {
		m.setState(ctx, Disconnected, err)
		return false
	}
	m.startReconnect()
	return false
}

func (m *Monitor) startReconnect() {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	ctx := m.runCtx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_ = m.reconnectLoop(ctx)
	}()
}

// Reconnect runs the reconnect loop on the caller's goroutine. It fails
// with ErrReconnectInProgress while a background loop is active.
func (m *Monitor) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return ErrReconnectInProgress
	}
	m.reconnecting = true
	m.mu.Unlock()

	return m.reconnectLoop(ctx)
}

// reconnectLoop expects m.reconnecting to be set by the caller.
func (m *Monitor) reconnectLoop(ctx context.Context) error {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.attempt = 0
		m.mu.Unlock()
	}()

	var lastErr error
	for n := 1; n <= m.cfg.MaxAttempts; n++ {
		m.mu.Lock()
		m.attempt = n
		m.mu.Unlock()
		m.setState(ctx, Reconnecting, lastErr)

		if err := m.sleep(ctx, m.backoff(n)); err != nil {
			m.setState(ctx, Disconnected, err)
			return err
		}

		lastErr = m.attemptOnce(ctx)
		if lastErr == nil {
			m.mu.Lock()
			m.attempt = 0
			m.mu.Unlock()
			m.setState(ctx, Connected, nil)
			m.log.Info(ctx, "reconnected to remote database", "attempt", n)
			return nil
		}
		m.log.Warn(ctx, "reconnect attempt failed", "attempt", n, "max", m.cfg.MaxAttempts, "error", lastErr)
	}

	err := fmt.Errorf("failed to reconnect after %d attempts: %w", m.cfg.MaxAttempts, common.ErrReconnectExhausted)
	if lastErr != nil {
		err = fmt.Errorf("%w: %v", err, lastErr)
	}
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	m.setState(ctx, Disconnected, err)
	m.log.Error(ctx, "giving up on remote database", "error", err)
	return err
}

func (m *Monitor) attemptOnce(ctx context.Context) error {
	if err := m.ping(ctx); err == nil {
		return nil
	}
	if !m.CheckInternet(ctx) {
		return common.ErrNoInternet
	}
	if err := m.remote.Reconnect(ctx); err != nil {
		return err
	}
	return m.ping(ctx)
}

func (m *Monitor) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
	defer cancel()
	return m.remote.Ping(ctx)
}

// backoff is BaseDelay * 2^(attempt-1).
func (m *Monitor) backoff(attempt int) time.Duration {
	return m.cfg.BaseDelay << (attempt - 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
