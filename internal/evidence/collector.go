package evidence

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verifyd/verifyd/internal/session"
	"github.com/verifyd/verifyd/internal/utils"
)

// CloseThresholdDBM is the received-power reading above which a detection
// counts as "close" (roughly within 2 meters of the scanning agent).
const CloseThresholdDBM = -60

// Collector records proximity corroboration signals against pending
// sessions. Submission is best-effort: a malformed or unknown UUID is
// dropped silently so the endpoint never reveals whether a session exists.
type Collector struct {
	store session.Store
	log   *utils.Logger
}

// NewCollector creates a collector backed by the given session store.
func NewCollector(store session.Store, log *utils.Logger) *Collector {
	return &Collector{store: store, log: log}
}

// RecordMatch appends timestamped evidence to the PENDING session holding
// proximityUUID. Expired, consumed, or unknown UUIDs are a no-op; a match
// can never create or resurrect a session.
func (c *Collector) RecordMatch(proximityUUID string, signalStrength *int, supported bool) {
	id, err := uuid.Parse(strings.TrimSpace(proximityUUID))
	if err != nil {
		// Malformed evidence is dropped, not surfaced.
		return
	}

	sess, err := c.store.FindByProximityUUID(strings.ToLower(id.String()))
	if err != nil {
		return
	}

	ev := session.Evidence{
		Matched:        true,
		SignalStrength: signalStrength,
		Supported:      supported,
		RecordedAt:     time.Now().UTC(),
	}
	if err := c.store.AppendEvidence(sess.Nonce, ev); err != nil {
		// The session went terminal between lookup and append. Fine.
		return
	}
	c.log.Info("proximity match recorded for session %s (close=%v)", sess.Nonce, Close(ev))
}

// Close reports whether the evidence indicates the advertising device was
// within the close-proximity threshold. Evidence without a signal reading
// only proves presence, not distance.
func Close(ev session.Evidence) bool {
	return ev.Matched && ev.SignalStrength != nil && *ev.SignalStrength >= CloseThresholdDBM
}
