package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types published on the bus.
const (
	TypeNotificationIngested  = "notification.ingested"
	TypeNotificationProcessed = "notification.processed"
	TypeNotificationPushed    = "notification.pushed"
	TypeSessionCreated        = "session.created"
	TypeSessionStopped        = "session.stopped"
	TypeDeviceConnected       = "device.connected"
	TypeDeviceDisconnected    = "device.disconnected"
)

// Event is an in-memory signal connecting the ingest path, the processor
// and the websocket event feed without direct coupling. Publish never
// blocks; a subscriber that falls behind its channel buffer loses events
// rather than stalling the publisher. Data should stay small and
// JSON-serializable since /ws/events forwards events to clients verbatim.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns the in-memory fanout bus. It owns no background goroutines;
// delivery happens on the publisher's goroutine.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so no lock is held while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		trySend(ch, e)
	}
}

// trySend delivers without blocking, dropping when the buffer is full. It
// recovers the send panic that occurs when a subscriber closes its channel
// concurrently in unsubscribe.
func trySend(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because trySend recovers the send panic.
			close(ch)
		})
	}
	return ch, unsub
}
