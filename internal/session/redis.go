package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix   = "verifyd:session:"
	proximityKeyPrefix = "verifyd:proximity:"

	// casRetries bounds optimistic WATCH transaction retries before the
	// caller is told the CAS was lost.
	casRetries = 3
)

// RedisStore keeps sessions in Redis so multiple service instances can share
// one session space. Status transitions use optimistic WATCH transactions;
// key TTLs handle retention, so sweeping only has to surface sessions whose
// expiry it committed itself.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore wraps an existing Redis client. Terminal sessions stay
// readable for the retention window before their keys lapse.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

var _ Store = (*RedisStore)(nil)

func sessionKey(nonce string) string       { return sessionKeyPrefix + nonce }
func proximityKey(proximity string) string { return proximityKeyPrefix + proximity }

// Create stores a new PENDING session and its proximity index entry.
func (s *RedisStore) Create(checkedURL string, ttl time.Duration, meta ClientMeta) (*Session, error) {
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

	ctx := context.Background()
	taken, err := s.rdb.SetNX(ctx, proximityKey(sess.ProximityUUID), sess.Nonce, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis create: %w", err)
	}
	if !taken {
		return nil, ErrUUIDCollision
	}
	if err := s.writeSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session for nonce.
func (s *RedisStore) Get(nonce string) (*Session, error) {
	return s.readSession(context.Background(), nonce)
}

// FindByProximityUUID resolves the proximity index and returns the session
// if it is still PENDING and unexpired.
func (s *RedisStore) FindByProximityUUID(proximityUUID string) (*Session, error) {
	ctx := context.Background()
	nonce, err := s.rdb.Get(ctx, proximityKey(proximityUUID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis find: %w", err)
	}
	sess, err := s.readSession(ctx, nonce)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusPending || sess.TTLElapsed(time.Now()) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// AppendEvidence appends evidence inside a WATCH transaction so concurrent
// appends are not lost.
func (s *RedisStore) AppendEvidence(nonce string, ev Evidence) error {
	ctx := context.Background()
	key := sessionKey(nonce)
	txn := func(tx *redis.Tx) error {
		sess, err := s.readSessionTx(ctx, tx, nonce)
		if err != nil {
			return err
		}
		if sess.Status != StatusPending {
			return ErrAlreadyConsumed
		}
		if sess.TTLElapsed(time.Now()) {
			return ErrExpired
		}
		sess.Evidence = append(sess.Evidence, ev)
		payload, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}
	for i := 0; i < casRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis append evidence: transaction contention on %s", nonce)
}

// CompareAndSetConsumed commits PENDING -> CONSUMED with the result attached.
func (s *RedisStore) CompareAndSetConsumed(nonce string, res *Result) bool {
	return s.transition(nonce, func(sess *Session) {
		sess.Status = StatusConsumed
		sess.Result = res
	})
}

// CompareAndSetExpired commits PENDING -> EXPIRED.
func (s *RedisStore) CompareAndSetExpired(nonce string) bool {
	return s.transition(nonce, func(sess *Session) {
		sess.Status = StatusExpired
	})
}

// transition runs one terminal transition as an optimistic transaction.
// Returns false when the session is missing, already terminal, or the CAS
// was lost to a concurrent writer too many times.
func (s *RedisStore) transition(nonce string, mutate func(*Session)) bool {
	ctx := context.Background()
	key := sessionKey(nonce)
	txn := func(tx *redis.Tx) error {
		sess, err := s.readSessionTx(ctx, tx, nonce)
		if err != nil {
			return err
		}
		if sess.Status != StatusPending {
			return ErrAlreadyConsumed
		}
		mutate(sess)
		sess.TerminalAt = time.Now().UTC()
		payload, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.retention)
			pipe.Del(ctx, proximityKey(sess.ProximityUUID))
			return nil
		})
		return err
	}
	for i := 0; i < casRetries; i++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return true
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return false
		}
	}
	return false
}

// SweepExpired scans for PENDING sessions past expiry and commits their
// EXPIRED transition. Fully lapsed keys are already gone courtesy of Redis
// TTLs; this pass exists so pollers and subscribers see EXPIRED during the
// retention window.
func (s *RedisStore) SweepExpired(now time.Time) []*Session {
	ctx := context.Background()
	var swept []*Session
	iter := s.rdb.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		nonce := iter.Val()[len(sessionKeyPrefix):]
		sess, err := s.readSession(ctx, nonce)
		if err != nil {
			continue
		}
		if sess.Status == StatusPending && sess.TTLElapsed(now) {
			if s.CompareAndSetExpired(nonce) {
				sess.Status = StatusExpired
				swept = append(swept, sess)
			}
		}
	}
	return swept
}

// DeleteTerminalBefore is a no-op for Redis: terminal keys are written with
// the retention window as their TTL and lapse on their own.
func (s *RedisStore) DeleteTerminalBefore(time.Time) int { return 0 }

func (s *RedisStore) writeSession(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt) + s.retention
	if err := s.rdb.Set(ctx, sessionKey(sess.Nonce), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis write session: %w", err)
	}
	return nil
}

func (s *RedisStore) readSession(ctx context.Context, nonce string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis read session: %w", err)
	}
	return decodeSession(raw)
}

func (s *RedisStore) readSessionTx(ctx context.Context, tx *redis.Tx, nonce string) (*Session, error) {
	raw, err := tx.Get(ctx, sessionKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis read session: %w", err)
	}
	return decodeSession(raw)
}

func decodeSession(raw []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("redis decode session: %w", err)
	}
	return &sess, nil
}
