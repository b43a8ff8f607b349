package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/clock"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	defaultSweepBatch    = 500
)

// Sweeper reclaims pending reservations whose payment window has elapsed.
// It is the authoritative reconciler between the reservation row and its
// hold: the hold's TTL may lag or precede the row's expiry, so release here
// is explicit rather than left to Redis.
type Sweeper struct {
	log      *slog.Logger
	svc      *Service
	repo     Repository
	holds    HoldStore
	clock    clock.Clock
	interval time.Duration
	batch    int
}

func NewSweeper(log *slog.Logger, svc *Service, repo Repository, holds HoldStore, clk clock.Clock, opts ...SweeperOption) *Sweeper {
	w := &Sweeper{
		log:      log,
		svc:      svc,
		repo:     repo,
		holds:    holds,
		clock:    clk,
		interval: DefaultSweepInterval,
		batch:    defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(w *Sweeper) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithSweepBatch(n int) SweeperOption {
	return func(w *Sweeper) {
		if n > 0 {
			w.batch = n
		}
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweeper stopping")
			return nil
		case <-t.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.log.Error("sweep failed", "err", err)
			}
		}
	}
}

// Sweep expires every overdue pending reservation and releases its hold.
// Item failures are isolated: one bad row never blocks the batch. Returns
// the number of reservations expired.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	overdue, err := w.repo.ListExpiredPending(ctx, w.clock.Now(), w.batch)
	if err != nil {
		return 0, err
	}
	if len(overdue) == 0 {
		return 0, nil
	}

	expired := 0
	for _, r := range overdue {
		if err := w.svc.Expire(ctx, r); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				// Another sweeper instance or the payment coordinator got
				// there first; that writer owns the hold cleanup.
				w.log.Debug("reservation already transitioned", "reservation_uid", r.UID)
				continue
			}
			w.log.Error("expire failed", "reservation_uid", r.UID, "err", err)
			continue
		}
		expired++

		if err := w.holds.Release(ctx, r.AccommodationID, r.CheckIn, r.CheckOut); err != nil {
			w.log.Warn("hold release failed", "reservation_uid", r.UID, "err", err)
		}
	}

	w.log.Info("sweep complete", "overdue", len(overdue), "expired", expired)
	return expired, nil
}
