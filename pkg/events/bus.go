// Package events implements the subscription side of the dispatcher:
// a per-event list of callbacks, delivered in registration order, with
// one-shot (Once) and persistent (On) subscriptions, over a closed set
// of event names rather than string-keyed maps.
package events

import "sync"

// Name is one of the four events the dispatcher can publish.
type Name string

const (
	Pong         Name = "pong"
	Announcement Name = "announcement"
	System       Name = "system-response"
	Trace        Name = "trace"
)

// Callback receives the raw payload carried by the frame that
// triggered the event.
type Callback func(payload []byte)

type subscription struct {
	id   uint64
	cb   Callback
	once bool
}

// Bus is a per-event list of callbacks. Zero value is not usable; use
// NewBus.
type Bus struct {
	mu     sync.Mutex
	subs   map[Name][]*subscription
	nextID uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]*subscription)}
}

// On registers a persistent subscriber, returning a token usable with Off.
func (b *Bus) On(event Name, cb Callback) uint64 {
	return b.subscribe(event, cb, false)
}

// Once registers a subscriber removed after its first delivery,
// whether the callback panics or returns normally.
func (b *Bus) Once(event Name, cb Callback) uint64 {
	return b.subscribe(event, cb, true)
}

func (b *Bus) subscribe(event Name, cb Callback, once bool) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], &subscription{id: id, cb: cb, once: once})
	return id
}

// Off removes a subscription previously returned by On or Once. A
// no-op if id is unknown (already removed, or never existed).
func (b *Bus) Off(event Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.id == id {
			b.subs[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every subscriber of event, in
// registration order. Once-subscriptions are unregistered before
// their callback runs, so removal happens exactly once regardless of
// whether the callback panics; a panicking callback never prevents
// later subscribers of the same event from firing.
func (b *Bus) Publish(event Name, payload []byte) {
	b.mu.Lock()
	snapshot := append([]*subscription(nil), b.subs[event]...)
	var kept []*subscription
	for _, s := range b.subs[event] {
		if !s.once {
			kept = append(kept, s)
		}
	}
	b.subs[event] = kept
	b.mu.Unlock()

	for _, s := range snapshot {
		invoke(s.cb, payload)
	}
}

func invoke(cb Callback, payload []byte) {
	defer func() { recover() }()
	cb(payload)
}
