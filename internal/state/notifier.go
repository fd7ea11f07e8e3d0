package state

import (
	"sync"

	"github.com/termscope/termscope/internal/pattern"
)

// StatusEvent is the sole externally observable state change. Type is empty
// for "none" events.
type StatusEvent struct {
	TerminalID   string
	Status       Status
	Type         pattern.AgentType
	TerminalName string
}

// Notifier is an ordered callback list. Delivery is at-least-once and
// in-order per terminal; subscribers run synchronously on the publishing
// goroutine. A panicking subscriber is contained so one bad listener cannot
// take down the event loop.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	order  []int
	subs   map[int]func(StatusEvent)
	closed bool
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]func(StatusEvent))}
}

// Subscribe adds a listener and returns its unsubscribe func.
func (n *Notifier) Subscribe(fn func(StatusEvent)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || fn == nil {
		return func() {}
	}
	id := n.nextID
	n.nextID++
	n.order = append(n.order, id)
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers events to every subscriber in subscription order.
// No-op after Close.
func (n *Notifier) Publish(events ...StatusEvent) {
	if len(events) == 0 {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	fns := make([]func(StatusEvent), 0, len(n.order))
	for _, id := range n.order {
		if fn, ok := n.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			deliver(fn, ev)
		}
	}
}

func deliver(fn func(StatusEvent), ev StatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("subscriber_panic")
		}
	}()
	fn(ev)
}

// Close drops all subscribers and rejects further publishes. Idempotent.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.subs = make(map[int]func(StatusEvent))
	n.order = nil
}
