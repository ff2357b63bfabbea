package lifecycle

import (
	"context"
	"time"

	"github.com/verifyd/verifyd/internal/notify"
	"github.com/verifyd/verifyd/internal/session"
	"github.com/verifyd/verifyd/internal/utils"
)

// Sweeper periodically commits overdue expiries and garbage-collects
// terminal sessions past the retention window. It uses the store's
// compare-and-set primitive, so a sweep racing a verify resolves to exactly
// one terminal transition.
type Sweeper struct {
	store     session.Store
	hub       *notify.Hub
	log       *utils.Logger
	interval  time.Duration
	retention time.Duration
}

// NewSweeper wires a sweeper over the given store.
func NewSweeper(store session.Store, hub *notify.Hub, log *utils.Logger, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		hub:       hub,
		log:       log,
		interval:  interval,
		retention: retention,
	}
}

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep runs one pass: expire, notify, then garbage-collect.
func (s *Sweeper) Sweep(now time.Time) {
	swept := s.store.SweepExpired(now)
	for _, sess := range swept {
		s.hub.Publish(sess.Nonce, notify.Event{
			Type:  notify.EventVerificationExpired,
			Nonce: sess.Nonce,
		})
	}
	removed := s.store.DeleteTerminalBefore(now.Add(-s.retention))
	if len(swept) > 0 || removed > 0 {
		s.log.Info("sweep: expired %d sessions, removed %d past retention", len(swept), removed)
	}
}
