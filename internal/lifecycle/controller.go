package lifecycle

import (
	"errors"
	"time"

	"github.com/verifyd/verifyd/internal/notify"
	"github.com/verifyd/verifyd/internal/session"
	"github.com/verifyd/verifyd/internal/trust"
	"github.com/verifyd/verifyd/internal/utils"
)

// ErrMissingURL is returned when Init is called without a checked URL.
var ErrMissingURL = errors.New("missing checked url")

// Controller orchestrates the session state machine: init -> await-scan ->
// consume or expire. All terminal transitions go through the store's
// compare-and-set operations, so at-most-once consumption holds no matter
// how many verifiers race.
type Controller struct {
	store  session.Store
	engine *trust.Engine
	hub    *notify.Hub
	log    *utils.Logger
	ttl    time.Duration
	scheme string
}

// NewController wires the lifecycle controller.
func NewController(store session.Store, engine *trust.Engine, hub *notify.Hub, log *utils.Logger, ttl time.Duration, scheme string) *Controller {
	return &Controller{
		store:  store,
		engine: engine,
		hub:    hub,
		log:    log,
		ttl:    ttl,
		scheme: scheme,
	}
}

// InitResult is what the relying party gets back from Init.
type InitResult struct {
	Nonce         string `json:"nonce"`
	ProximityUUID string `json:"-"`
	QRPayload     string `json:"qr_payload"`
	ExpiresIn     int    `json:"expires_in"`
}

// PollResult is the read-only view of a session's state.
type PollResult struct {
	Status session.Status  `json:"status"`
	Result *session.Result `json:"result,omitempty"`
}

// TTL returns the session time-to-live the controller issues sessions with.
func (c *Controller) TTL() time.Duration { return c.ttl }

// Init creates a session for checkedURL and returns the QR payload the
// relying party renders for the mobile device to scan.
func (c *Controller) Init(checkedURL string, meta session.ClientMeta) (*InitResult, error) {
	if checkedURL == "" {
		return nil, ErrMissingURL
	}
	sess, err := c.store.Create(checkedURL, c.ttl, meta)
	if err != nil {
		return nil, err
	}
	c.log.Info("session %s created for %s (ttl %s)", sess.Nonce, checkedURL, c.ttl)
	return &InitResult{
		Nonce:         sess.Nonce,
		ProximityUUID: sess.ProximityUUID,
		QRPayload:     BuildPayload(c.scheme, sess.Nonce, sess.ProximityUUID),
		ExpiresIn:     sess.ExpiresIn(time.Now()),
	}, nil
}

// Poll returns the session's current status and, for consumed sessions, the
// stored result. A session past its TTL reads as EXPIRED even before the
// sweeper commits the transition. Polls of terminal sessions are idempotent.
func (c *Controller) Poll(nonce string) (*PollResult, error) {
	sess, err := c.store.Get(nonce)
	if err != nil {
		return nil, err
	}
	return &PollResult{
		Status: sess.EffectiveStatus(time.Now()),
		Result: sess.Result,
	}, nil
}

// Verify scores the session and consumes it. Exactly one Verify call per
// session can succeed; losers of the consumption race get ErrAlreadyConsumed
// (or ErrExpired when a sweep won instead) without re-scoring.
func (c *Controller) Verify(nonce string, meta trust.Metadata) (*session.Result, error) {
	sess, err := c.store.Get(nonce)
	if err != nil {
		return nil, err
	}

	switch sess.Status {
	case session.StatusConsumed:
		return nil, session.ErrAlreadyConsumed
	case session.StatusExpired:
		return nil, session.ErrExpired
	}

	now := time.Now()
	if sess.TTLElapsed(now) {
		// Opportunistically commit the expiry the sweeper hasn't reached yet.
		if c.store.CompareAndSetExpired(nonce) {
			c.hub.Publish(nonce, notify.Event{Type: notify.EventVerificationExpired, Nonce: nonce})
		}
		return nil, session.ErrExpired
	}

	res := c.engine.Score(sess, meta, now)
	if !c.store.CompareAndSetConsumed(nonce, res) {
		// Lost the race. Report which transition beat us.
		if cur, err := c.store.Get(nonce); err == nil && cur.Status == session.StatusExpired {
			return nil, session.ErrExpired
		}
		return nil, session.ErrAlreadyConsumed
	}

	c.log.Info("session %s consumed: verdict=%s score=%d", nonce, res.Verdict, res.TrustScore)
	c.hub.Publish(nonce, notify.Event{
		Type:   notify.EventVerificationSuccess,
		Nonce:  nonce,
		Result: res,
	})
	return res, nil
}
