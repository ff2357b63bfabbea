package notify

import (
	"sync"
	"time"

	"github.com/verifyd/verifyd/internal/session"
)

// Event types pushed over the realtime channel. Both are terminal: a
// subscriber receives at most one event before its subscription closes.
const (
	EventVerificationSuccess = "verification_success"
	EventVerificationExpired = "verification_expired"
)

// Event is one frame pushed to subscribers of a session nonce.
type Event struct {
	Type   string          `json:"type"`
	Nonce  string          `json:"nonce"`
	Result *session.Result `json:"result,omitempty"`
}

type subscriber struct {
	ch    chan Event
	timer *time.Timer
}

// Hub fans session-state events out to realtime subscribers. It is purely a
// latency optimization over polling: events are published only after the
// store has committed the matching transition, so a subscriber and a poller
// can never observe contradictory terminal states.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers interest in a nonce. The returned channel yields at
// most one terminal event and is closed afterwards, or when ttl elapses, or
// when cancel is called, whichever happens first.
func (h *Hub) Subscribe(nonce string, ttl time.Duration) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 1)}
	cancel := func() { h.remove(nonce, sub) }

	h.mu.Lock()
	set, ok := h.subs[nonce]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[nonce] = set
	}
	set[sub] = struct{}{}
	// Assigned under the lock so Publish and remove observe the timer.
	sub.timer = time.AfterFunc(ttl, cancel)
	h.mu.Unlock()

	return sub.ch, cancel
}

// Publish delivers a terminal event to every subscriber of the nonce and
// closes their subscriptions.
func (h *Hub) Publish(nonce string, evt Event) {
	h.mu.Lock()
	set := h.subs[nonce]
	delete(h.subs, nonce)
	h.mu.Unlock()

	for sub := range set {
		if sub.timer != nil {
			sub.timer.Stop()
		}
		// Buffered by one; a subscriber that already got its terminal event
		// has been removed from the set, so this never blocks.
		sub.ch <- evt
		close(sub.ch)
	}
}

// remove drops a single subscriber, closing its channel.
func (h *Hub) remove(nonce string, sub *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[nonce]
	if ok {
		if _, present := set[sub]; !present {
			ok = false
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, nonce)
		}
	}
	h.mu.Unlock()

	if ok {
		if sub.timer != nil {
			sub.timer.Stop()
		}
		close(sub.ch)
	}
}

// Subscribers returns the number of open subscriptions for a nonce.
func (h *Hub) Subscribers(nonce string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[nonce])
}
