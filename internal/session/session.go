package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for a nonce.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyConsumed is returned when a session was already consumed.
	ErrAlreadyConsumed = errors.New("session already consumed")
	// ErrExpired is returned when a session's TTL has elapsed.
	ErrExpired = errors.New("session expired")
	// ErrUUIDCollision is returned when a freshly generated proximity UUID is
	// already held by a pending session. With v4 UUIDs this indicates a broken
	// randomness source, not a condition to retry.
	ErrUUIDCollision = errors.New("proximity uuid collision")
)

// Status is the lifecycle state of a session. Transitions are monotonic:
// PENDING moves to exactly one of CONSUMED or EXPIRED and stays there.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusConsumed Status = "CONSUMED"
	StatusExpired  Status = "EXPIRED"
)

// Verdicts produced by the trust scoring engine.
const (
	VerdictTrusted = "TRUSTED"
	VerdictUnsafe  = "UNSAFE"
	VerdictUnknown = "UNKNOWN"
)

// Evidence is a single proximity corroboration signal recorded against a
// session. SignalStrength is a received-power reading in dBm when the
// detecting agent measured one.
type Evidence struct {
	Matched        bool      `json:"matched"`
	SignalStrength *int      `json:"signal_strength,omitempty"`
	Supported      bool      `json:"supported"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// CheckLog is one entry of the scoring engine's ordered check log.
type CheckLog struct {
	Check  string `json:"check"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Result is the outcome of scoring a session. It is written exactly once,
// when the session is consumed, and returned verbatim to every poller after
// that.
type Result struct {
	Verdict       string     `json:"verdict"`
	TrustScore    int        `json:"trust_score"`
	Logs          []CheckLog `json:"logs"`
	CheckedURL    string     `json:"checked_url"`
	Timestamp     time.Time  `json:"timestamp"`
	ClientIP      string     `json:"client_ip,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	DeviceOS      string     `json:"device_os,omitempty"`
	DeviceBrand   string     `json:"device_brand,omitempty"`
	DeviceBrowser string     `json:"device_browser,omitempty"`
	IsMobile      bool       `json:"is_mobile"`
}

// ClientMeta captures request metadata from the relying party at init time.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// Session is one short-lived verification session keyed by its nonce.
type Session struct {
	Nonce         string     `json:"nonce"`
	ProximityUUID string     `json:"proximity_uuid"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CheckedURL    string     `json:"checked_url"`
	ClientIP      string     `json:"client_ip,omitempty"`
	UserAgent     string     `json:"user_agent,omitempty"`
	Evidence      []Evidence `json:"evidence,omitempty"`
	Result        *Result    `json:"result,omitempty"`
	TerminalAt    time.Time  `json:"terminal_at"`
}

// TTLElapsed reports whether the session's absolute expiry has passed.
func (s *Session) TTLElapsed(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EffectiveStatus is the status a reader must observe at the given instant.
// A PENDING session past its expiry reads as EXPIRED even before a sweep
// commits the transition.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusPending && s.TTLElapsed(now) {
		return StatusExpired
	}
	return s.Status
}

// ExpiresIn returns the whole seconds remaining before expiry, floored at 0.
func (s *Session) ExpiresIn(now time.Time) int {
	remaining := int(s.ExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Store is the single shared mutable resource of the service. All terminal
// status transitions go through the CompareAndSet methods, which must be
// atomic: two concurrent callers racing on the same nonce observe exactly
// one success.
type Store interface {
	// Create generates a nonce and proximity UUID and stores a new PENDING
	// session for checkedURL expiring ttl from now.
	Create(checkedURL string, ttl time.Duration, meta ClientMeta) (*Session, error)
	// Get returns a snapshot of the session for nonce, or ErrNotFound.
	Get(nonce string) (*Session, error)
	// FindByProximityUUID returns a snapshot of the PENDING, unexpired
	// session holding the given proximity UUID, or ErrNotFound.
	FindByProximityUUID(proximityUUID string) (*Session, error)
	// AppendEvidence records a corroboration signal against a PENDING
	// session. It never changes status.
	AppendEvidence(nonce string, ev Evidence) error
	// CompareAndSetConsumed transitions PENDING -> CONSUMED and attaches the
	// result. Returns false if the session is missing or no longer PENDING.
	CompareAndSetConsumed(nonce string, res *Result) bool
	// CompareAndSetExpired transitions PENDING -> EXPIRED. Returns false if
	// the session is missing or no longer PENDING.
	CompareAndSetExpired(nonce string) bool
	// SweepExpired marks every PENDING session past its expiry as EXPIRED
	// and returns snapshots of the sessions it transitioned.
	SweepExpired(now time.Time) []*Session
	// DeleteTerminalBefore garbage-collects terminal sessions whose terminal
	// transition happened before cutoff, returning how many were removed.
	DeleteTerminalBefore(cutoff time.Time) int
}
