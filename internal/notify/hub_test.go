package notify

import (
	"testing"
	"time"

	"github.com/verifyd/verifyd/internal/session"
)

func TestPublishDeliversTerminalEventAndCloses(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("nonce-1", time.Minute)
	defer cancel()

	h.Publish("nonce-1", Event{
		Type:   EventVerificationSuccess,
		Nonce:  "nonce-1",
		Result: &session.Result{Verdict: session.VerdictTrusted},
	})

	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before delivering the event")
		}
		if evt.Type != EventVerificationSuccess || evt.Result == nil {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}

	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after terminal event")
	}
	if n := h.Subscribers("nonce-1"); n != 0 {
		t.Fatalf("%d subscribers left after publish", n)
	}
}

func TestPublishDoesNotCrossNonces(t *testing.T) {
	h := NewHub()
	chA, cancelA := h.Subscribe("nonce-a", time.Minute)
	defer cancelA()
	_, cancelB := h.Subscribe("nonce-b", time.Minute)
	defer cancelB()

	h.Publish("nonce-b", Event{Type: EventVerificationExpired, Nonce: "nonce-b"})

	select {
	case evt := <-chA:
		t.Fatalf("subscriber of nonce-a received %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionClosesAfterTTL(t *testing.T) {
	h := NewHub()
	ch, _ := h.Subscribe("nonce-ttl", 20*time.Millisecond)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("received an event instead of a TTL close")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not closed after TTL")
	}
	if n := h.Subscribers("nonce-ttl"); n != 0 {
		t.Fatalf("%d subscribers left after TTL close", n)
	}
}

func TestCancelIsIdempotentWithPublish(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("nonce-c", time.Minute)

	h.Publish("nonce-c", Event{Type: EventVerificationExpired, Nonce: "nonce-c"})
	// Publish already closed the subscription; cancel must be a no-op.
	cancel()
	cancel()
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	h := NewHub()
	var chans []<-chan Event
	for i := 0; i < 3; i++ {
		ch, _ := h.Subscribe("nonce-fan", time.Minute)
		chans = append(chans, ch)
	}

	h.Publish("nonce-fan", Event{Type: EventVerificationSuccess, Nonce: "nonce-fan"})
	for i, ch := range chans {
		select {
		case evt := <-ch:
			if evt.Type != EventVerificationSuccess {
				t.Fatalf("subscriber %d got %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}
