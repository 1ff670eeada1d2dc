package services

import (
	"context"
	"sync"

	"github.com/quyen-luc/prices-app/internal/logging"
)

type Phase string

const (
	PhaseStarted    Phase = "started"
	PhaseInProgress Phase = "inprogress"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Event reports sync progress. Count is the running total of records
// applied in Direction so far.
type Event struct {
	Phase     Phase
	Direction Direction
	Count     int
	Err       error
}

// Notifier receives progress events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Notifiers fans one event out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(e Event) {
	for _, n := range ns {
		if n != nil {
			n.Notify(e)
		}
	}
}

// Broadcaster hands events to channel subscribers. A subscriber whose
// buffer is full misses the event rather than stalling the sync.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	buffer int
	closed bool
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe returns a channel of events and a func that closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *Broadcaster) Notify(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close closes every subscriber channel. Later events are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// LogNotifier writes every event to a logger.
type LogNotifier struct {
	Log logging.Logger
}

func (n LogNotifier) Notify(e Event) {
	ctx := context.Background()
	args := []any{"direction", string(e.Direction), "phase", string(e.Phase), "count", e.Count}
	switch e.Phase {
	case PhaseFailed:
		n.Log.Error(ctx, "sync failed", append(args, "error", e.Err)...)
	case PhaseInProgress:
		n.Log.Debug(ctx, "sync progress", args...)
	default:
		n.Log.Info(ctx, "sync "+string(e.Phase), args...)
	}
}
