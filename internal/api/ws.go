package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"

	"github.com/verifyd/verifyd/internal/notify"
	"github.com/verifyd/verifyd/internal/session"
)

// wsWriteTimeout bounds a single frame write so one stalled client cannot
// pin the handler past the session's lifetime.
const wsWriteTimeout = 5 * time.Second

// VerificationSocket streams the session's terminal event to a subscriber.
// The client connects with the session nonce from the QR payload, receives
// exactly one verification_success or verification_expired frame, and the
// connection closes. "ping" text frames get a "pong" back.
func (h *Handlers) VerificationSocket(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	if _, err := h.ctrl.Poll(token); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn("websocket accept for %s: %v", token, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, cancelSub := h.hub.Subscribe(token, h.ctrl.TTL()+wsWriteTimeout)
	defer cancelSub()

	// The store is re-read only after the subscription is registered. A
	// transition committed earlier published to an empty subscriber set, so
	// its event must be synthesized here; one committed later lands on the
	// channel. Either way the socket observes the same terminal state a
	// poller does.
	poll, err := h.ctrl.Poll(token)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "state unavailable")
		return
	}
	if poll.Status != session.StatusPending {
		evt := notify.Event{Type: notify.EventVerificationExpired, Nonce: token}
		if poll.Status == session.StatusConsumed {
			evt = notify.Event{Type: notify.EventVerificationSuccess, Nonce: token, Result: poll.Result}
		}
		h.writeEvent(ctx, conn, evt)
		conn.Close(websocket.StatusNormalClosure, "terminal")
		return
	}

	// Reader goroutine: answers ping frames and surfaces disconnects.
	readErr := make(chan error, 1)
	go func() {
		for {
			kind, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			if kind == websocket.MessageText && string(data) == "ping" {
				writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
				err := conn.Write(writeCtx, websocket.MessageText, []byte("pong"))
				cancelWrite()
				if err != nil {
					readErr <- err
					return
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		conn.Close(websocket.StatusNormalClosure, "closed")
	case <-readErr:
		conn.Close(websocket.StatusNormalClosure, "closed")
	case evt, ok := <-events:
		if !ok {
			// Subscription lapsed with the TTL and no event arrived.
			conn.Close(websocket.StatusNormalClosure, "expired")
			return
		}
		h.writeEvent(ctx, conn, evt)
		conn.Close(websocket.StatusNormalClosure, "terminal")
	}
}

func (h *Handlers) writeEvent(ctx context.Context, conn *websocket.Conn, evt notify.Event) {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, evt); err != nil {
		h.log.Warn("websocket write for %s: %v", evt.Nonce, err)
	}
}
