package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestCreateGeneratesDistinctIdentifiers(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.Create("https://gov.pl", 30*time.Second, ClientMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if sess.Nonce == "" || sess.ProximityUUID == "" {
		t.Fatalf("expected nonce and proximity uuid, got %q / %q", sess.Nonce, sess.ProximityUUID)
	}
	if sess.Nonce == sess.ProximityUUID {
		t.Fatalf("nonce and proximity uuid must be independent")
	}
	if sess.Status != StatusPending {
		t.Fatalf("new session status = %s, want PENDING", sess.Status)
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Fatalf("expiry %v not after creation %v", sess.ExpiresAt, sess.CreatedAt)
	}
}

func TestCompareAndSetConsumedExactlyOnce(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.Create("https://gov.pl", 30*time.Second, ClientMeta{})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	wins := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- store.CompareAndSetConsumed(sess.Nonce, &Result{Verdict: VerdictTrusted})
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("%d CAS winners, want exactly 1", won)
	}

	got, err := store.Get(sess.Nonce)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusConsumed || got.Result == nil {
		t.Fatalf("session not consumed with result: status=%s result=%v", got.Status, got.Result)
	}
}

func TestConsumeVersusExpireRace(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.Create("https://gov.pl", 30*time.Second, ClientMeta{})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	consumed := store.CompareAndSetConsumed(sess.Nonce, &Result{Verdict: VerdictUnknown})
	expired := store.CompareAndSetExpired(sess.Nonce)
	if consumed == expired {
		t.Fatalf("exactly one terminal transition must win: consumed=%v expired=%v", consumed, expired)
	}
}

func TestFindByProximityUUID(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.Create("https://gov.pl", 30*time.Second, ClientMeta{})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	found, err := store.FindByProximityUUID(sess.ProximityUUID)
	if err != nil {
		t.Fatalf("FindByProximityUUID() failed: %v", err)
	}
	if found.Nonce != sess.Nonce {
		t.Fatalf("found nonce %q, want %q", found.Nonce, sess.Nonce)
	}

	if _, err := store.FindByProximityUUID("28b001b5-0000-4000-8000-000000000000"); err != ErrNotFound {
		t.Fatalf("unknown uuid: err = %v, want ErrNotFound", err)
	}

	// Terminal sessions drop out of the proximity index.
	store.CompareAndSetConsumed(sess.Nonce, &Result{Verdict: VerdictTrusted})
	if _, err := store.FindByProximityUUID(sess.ProximityUUID); err != ErrNotFound {
		t.Fatalf("consumed session still findable by uuid: err = %v", err)
	}
}

func TestAppendEvidenceOnlyWhilePending(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.Create("https://gov.pl", 30*time.Second, ClientMeta{})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	rssi := -55
	ev := Evidence{Matched: true, SignalStrength: &rssi, Supported: true, RecordedAt: time.Now().UTC()}
	if err := store.AppendEvidence(sess.Nonce, ev); err != nil {
		t.Fatalf("AppendEvidence() failed: %v", err)
	}

	got, _ := store.Get(sess.Nonce)
	if len(got.Evidence) != 1 || !got.Evidence[0].Matched {
		t.Fatalf("evidence not recorded: %+v", got.Evidence)
	}

	store.CompareAndSetConsumed(sess.Nonce, &Result{Verdict: VerdictTrusted})
	if err := store.AppendEvidence(sess.Nonce, ev); err != ErrAlreadyConsumed {
		t.Fatalf("append after consume: err = %v, want ErrAlreadyConsumed", err)
	}
}

func TestEffectiveStatusReadsExpiredBeforeSweep(t *testing.T) {
	store := NewMemoryStore()
	sess, err := store.Create("https://gov.pl", 10*time.Millisecond, ClientMeta{})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	got, err := store.Get(sess.Nonce)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("stored status mutated without a sweep: %s", got.Status)
	}
	if st := got.EffectiveStatus(time.Now()); st != StatusExpired {
		t.Fatalf("effective status = %s, want EXPIRED", st)
	}
}

func TestSweepExpired(t *testing.T) {
	store := NewMemoryStore()
	old, _ := store.Create("https://gov.pl", 10*time.Millisecond, ClientMeta{})
	fresh, _ := store.Create("https://podatki.gov.pl", time.Minute, ClientMeta{})
	time.Sleep(30 * time.Millisecond)

	swept := store.SweepExpired(time.Now())
	if len(swept) != 1 || swept[0].Nonce != old.Nonce {
		t.Fatalf("swept %+v, want only %s", swept, old.Nonce)
	}

	got, _ := store.Get(old.Nonce)
	if got.Status != StatusExpired {
		t.Fatalf("swept session status = %s, want EXPIRED", got.Status)
	}
	got, _ = store.Get(fresh.Nonce)
	if got.Status != StatusPending {
		t.Fatalf("fresh session status = %s, want PENDING", got.Status)
	}

	// A second sweep finds nothing: terminal states are absorbing.
	if again := store.SweepExpired(time.Now()); len(again) != 0 {
		t.Fatalf("second sweep transitioned %d sessions", len(again))
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	store := NewMemoryStore()
	sess, _ := store.Create("https://gov.pl", time.Minute, ClientMeta{})
	store.CompareAndSetConsumed(sess.Nonce, &Result{Verdict: VerdictTrusted})

	if n := store.DeleteTerminalBefore(time.Now().Add(-time.Hour)); n != 0 {
		t.Fatalf("deleted %d sessions inside retention window", n)
	}
	if n := store.DeleteTerminalBefore(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("deleted %d sessions, want 1", n)
	}
	if _, err := store.Get(sess.Nonce); err != ErrNotFound {
		t.Fatalf("deleted session still readable: err = %v", err)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewMemoryStore()
	sess, _ := store.Create("https://gov.pl", time.Minute, ClientMeta{})

	snap, _ := store.Get(sess.Nonce)
	snap.Status = StatusExpired
	snap.Evidence = append(snap.Evidence, Evidence{Matched: true})

	got, _ := store.Get(sess.Nonce)
	if got.Status != StatusPending || len(got.Evidence) != 0 {
		t.Fatalf("mutating a snapshot leaked into the store: %+v", got)
	}
}

func TestTerminalTimestampSurvivesEncoding(t *testing.T) {
	store := NewMemoryStore()
	sess, _ := store.Create("https://gov.pl", time.Minute, ClientMeta{})
	store.CompareAndSetConsumed(sess.Nonce, &Result{Verdict: VerdictTrusted})

	got, _ := store.Get(sess.Nonce)
	if got.TerminalAt.IsZero() {
		t.Fatalf("consumed session has no terminal timestamp")
	}

	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	var decoded Session
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal session: %v", err)
	}
	if !decoded.TerminalAt.Equal(got.TerminalAt) {
		t.Fatalf("terminal timestamp lost: %v != %v", decoded.TerminalAt, got.TerminalAt)
	}
}
