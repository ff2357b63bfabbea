package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory behind a single mutex. At the
// scale this service runs at one lock is simpler and fast enough; every
// status transition happens inside the same critical section, which is what
// gives the CompareAndSet methods their exactly-once guarantee.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	byProximity map[string]string // proximity UUID -> nonce, PENDING sessions only
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		byProximity: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// Create generates the nonce and proximity UUID and stores a PENDING session.
func (s *MemoryStore) Create(checkedURL string, ttl time.Duration, meta ClientMeta) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		Nonce:         uuid.NewString(),
		ProximityUUID: uuid.NewString(),
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		CheckedURL:    checkedURL,
		ClientIP:      meta.IP,
		UserAgent:     meta.UserAgent,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byProximity[sess.ProximityUUID]; taken {
		return nil, ErrUUIDCollision
	}
	s.sessions[sess.Nonce] = sess
	s.byProximity[sess.ProximityUUID] = sess.Nonce
	return clone(sess), nil
}

// Get returns a snapshot of the session for nonce.
func (s *MemoryStore) Get(nonce string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[nonce]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

// FindByProximityUUID returns the PENDING, unexpired session holding the UUID.
func (s *MemoryStore) FindByProximityUUID(proximityUUID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, ok := s.byProximity[proximityUUID]
	if !ok {
		return nil, ErrNotFound
	}
	sess := s.sessions[nonce]
	if sess == nil || sess.Status != StatusPending || sess.TTLElapsed(time.Now()) {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

// AppendEvidence records evidence against a still-PENDING session.
func (s *MemoryStore) AppendEvidence(nonce string, ev Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[nonce]
	if !ok {
		return ErrNotFound
	}
	if sess.Status != StatusPending {
		return ErrAlreadyConsumed
	}
	if sess.TTLElapsed(time.Now()) {
		return ErrExpired
	}
	sess.Evidence = append(sess.Evidence, ev)
	return nil
}

// CompareAndSetConsumed commits the PENDING -> CONSUMED transition.
func (s *MemoryStore) CompareAndSetConsumed(nonce string, res *Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[nonce]
	if !ok || sess.Status != StatusPending {
		return false
	}
	sess.Status = StatusConsumed
	sess.Result = res
	sess.TerminalAt = time.Now().UTC()
	delete(s.byProximity, sess.ProximityUUID)
	return true
}

// CompareAndSetExpired commits the PENDING -> EXPIRED transition.
func (s *MemoryStore) CompareAndSetExpired(nonce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expireLocked(nonce)
}

func (s *MemoryStore) expireLocked(nonce string) bool {
	sess, ok := s.sessions[nonce]
	if !ok || sess.Status != StatusPending {
		return false
	}
	sess.Status = StatusExpired
	sess.TerminalAt = time.Now().UTC()
	delete(s.byProximity, sess.ProximityUUID)
	return true
}

// SweepExpired transitions every PENDING session past its expiry and returns
// snapshots of the sessions it swept.
func (s *MemoryStore) SweepExpired(now time.Time) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []*Session
	for nonce, sess := range s.sessions {
		if sess.Status == StatusPending && sess.TTLElapsed(now) {
			if s.expireLocked(nonce) {
				swept = append(swept, clone(sess))
			}
		}
	}
	return swept
}

// DeleteTerminalBefore removes terminal sessions past the retention window.
func (s *MemoryStore) DeleteTerminalBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for nonce, sess := range s.sessions {
		if sess.Status != StatusPending && sess.TerminalAt.Before(cutoff) {
			delete(s.sessions, nonce)
			removed++
		}
	}
	return removed
}

// clone returns a snapshot safe to hand outside the lock.
func clone(sess *Session) *Session {
	cp := *sess
	if sess.Evidence != nil {
		cp.Evidence = make([]Evidence, len(sess.Evidence))
		copy(cp.Evidence, sess.Evidence)
	}
	if sess.Result != nil {
		r := *sess.Result
		if sess.Result.Logs != nil {
			r.Logs = make([]CheckLog, len(sess.Result.Logs))
			copy(r.Logs, sess.Result.Logs)
		}
		cp.Result = &r
	}
	return &cp
}
