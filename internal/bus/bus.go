// Package bus fans coordinator and scan-loop events out to presentation
// subscribers: the terminal status renderer and the operator console
// WebSocket clients.
package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType names a status event.
type EventType string

const (
	// EventStateChanged fires on every coordinator state transition.
	EventStateChanged EventType = "state.changed"
	// EventScanDecoded fires when the loop decodes a fresh (non-duplicate)
	// payload, before normalization.
	EventScanDecoded EventType = "scan.decoded"
	// EventCheckinResult fires when a redemption attempt resolves.
	EventCheckinResult EventType = "checkin.result"
)

// Event is one status update. Fields are populated per type; unknown fields
// are zero.
type Event struct {
	Type EventType
	Seq  int64
	At   time.Time

	// state.changed
	State    string
	Message  string
	Attendee string
	Camera   bool

	// scan.decoded
	Payload string

	// checkin.result
	OK     bool
	Code   string
	Reason string
	Source string
}

// Handler receives events. Handlers must be non-blocking; slow consumers
// should buffer on their side.
type Handler func(Event)

// StatusBus broadcasts events to all subscribers with a monotonically
// increasing sequence number.
type StatusBus struct {
	seq atomic.Int64

	mu          sync.RWMutex
	subscribers map[string]Handler
}

// New creates an empty status bus.
func New() *StatusBus {
	return &StatusBus{
		subscribers: make(map[string]Handler),
	}
}

// Subscribe registers a handler under id. Re-subscribing an id replaces it.
func (b *StatusBus) Subscribe(id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes a subscriber.
func (b *StatusBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Publish stamps the event with a sequence number and timestamp, then
// broadcasts it to all subscribers.
func (b *StatusBus) Publish(ev Event) {
	ev.Seq = b.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, handler := range b.subscribers {
		handler(ev)
	}
}
