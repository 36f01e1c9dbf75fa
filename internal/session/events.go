package session

import "sync"

// EventKind distinguishes the lifecycle transitions a session can
// broadcast to interested components (control-dir watcher, activity
// monitor, HQ-forwarding logic) without those components polling each
// other directly.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventExited  EventKind = "exited"
	EventUpdated EventKind = "updated"
	EventBell    EventKind = "bell"
)

// Event is one lifecycle notification for a single session. The Bell*
// fields are only populated on an EventBell notification.
type Event struct {
	Kind          EventKind
	SessionID     string
	BellCount     int
	SuspectedPID  int
	SuspectedName string
}

// Bus is a simple fan-out broadcaster: every subscriber gets every
// event in publish order. Subscribers must drain their channel
// promptly — Publish does not block on a full channel, it drops for
// that one slow subscriber instead of stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsub
}

// Publish delivers an event to every current subscriber, in order,
// never registering as a new writer after this call started.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber — drop rather than block the publisher.
		}
	}
}
