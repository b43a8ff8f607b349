package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/clock"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

const DefaultPaymentWindow = 15 * time.Minute

// Service is the reservation state machine: it owns creation, cancellation
// and expiry of reservations, and the hold acquisition that fences
// concurrent requests before they reach the database.
type Service struct {
	log    *slog.Logger
	repo   Repository
	holds  HoldStore
	clock  clock.Clock
	window time.Duration
}

func NewService(log *slog.Logger, repo Repository, holds HoldStore, clk clock.Clock, opts ...Option) *Service {
	s := &Service{
		log:    log,
		repo:   repo,
		holds:  holds,
		clock:  clk,
		window: DefaultPaymentWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Service)

// WithPaymentWindow overrides how long a pending reservation may wait for
// payment. The hold TTL must use the same duration.
func WithPaymentWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// PaymentWindow reports the configured payment window.
func (s *Service) PaymentWindow() time.Duration { return s.window }

type CreateInput struct {
	AccommodationID  int64
	AccommodationUID uuid.UUID
	GuestID          int64
	CheckIn          time.Time
	CheckOut         time.Time
	GuestCount       int
	NightlyRateCents int64
}

type CreateResult struct {
	ReservationUID uuid.UUID
	ExpiresAt      time.Time
	TotalCents     int64
}

// CreatePending runs the booking flow: validate dates, grab the advisory
// hold, then persist under the authoritative overlap check. The hold is
// released on any failure so a rejected request leaves no residue.
func (s *Service) CreatePending(ctx context.Context, in CreateInput) (CreateResult, error) {
	now := s.clock.Now()

	r, err := domain.NewPending(in.AccommodationID, in.AccommodationUID, in.GuestID,
		in.CheckIn, in.CheckOut, in.GuestCount, in.NightlyRateCents, now, s.window)
	if err != nil {
		return CreateResult{}, err
	}

	acquired, err := s.holds.Acquire(ctx, r.AccommodationID, r.CheckIn, r.CheckOut)
	if err != nil {
		return CreateResult{}, fmt.Errorf("acquire hold: %w", err)
	}
	if !acquired {
		return CreateResult{}, domain.ErrSlotUnavailable
	}

	pending, err := json.Marshal(domain.PendingEvent{
		ReservationID: r.UID.String(),
		TotalPrice:    r.TotalCents,
	})
	if err != nil {
		s.releaseHold(ctx, r)
		return CreateResult{}, err
	}

	err = s.repo.CreatePending(ctx, &r, domain.ActorUser(in.GuestID), "reservation requested",
		[]outbox.Message{{Type: outbox.EventReservationPending, AggregateID: r.UID.String(), Payload: pending}})
	if err != nil {
		s.releaseHold(ctx, r)
		return CreateResult{}, err
	}

	s.log.Info("reservation pending",
		"reservation_uid", r.UID, "accommodation_id", r.AccommodationID, "expires_at", r.ExpiresAt)
	return CreateResult{ReservationUID: r.UID, ExpiresAt: *r.ExpiresAt, TotalCents: r.TotalCents}, nil
}

// Get returns a reservation visible to its owning guest.
func (s *Service) Get(ctx context.Context, uid uuid.UUID, guestID int64) (domain.Reservation, error) {
	r, err := s.repo.FindByUID(ctx, uid)
	if err != nil {
		return domain.Reservation{}, err
	}
	if r.GuestID != guestID {
		return domain.Reservation{}, domain.ErrAccessDenied
	}
	return r, nil
}

// Cancel transitions a reservation owned by guestID to CANCELLED and frees
// its hold. Allowed from PAYMENT_PENDING and CONFIRMED only.
func (s *Service) Cancel(ctx context.Context, uid uuid.UUID, guestID int64, reason string) error {
	r, err := s.repo.FindByUID(ctx, uid)
	if err != nil {
		return err
	}
	if r.GuestID != guestID {
		return domain.ErrAccessDenied
	}

	prev := r.Status
	if err := r.Cancel(); err != nil {
		return err
	}

	cancelled, err := json.Marshal(domain.CancelledEvent{
		ReservationUID: r.UID.String(),
		Reason:         reason,
	})
	if err != nil {
		return err
	}
	events := []outbox.Message{
		{Type: outbox.EventReservationCancelled, AggregateID: r.UID.String(), Payload: cancelled},
	}
	if prev == domain.StatusConfirmed {
		// A confirmed stay freed its dates: tell the indexer.
		changed, err := json.Marshal(domain.ChangedEvent{AccommodationUID: r.AccommodationUID.String()})
		if err != nil {
			return err
		}
		events = append(events, outbox.Message{
			Type: outbox.EventReservationChanged, AggregateID: r.AccommodationUID.String(), Payload: changed,
		})
	}

	if err := s.repo.Transition(ctx, r, prev, domain.ActorUser(guestID), reason, events); err != nil {
		return err
	}

	s.releaseHold(ctx, r)
	s.log.Info("reservation cancelled", "reservation_uid", r.UID, "previous_status", prev)
	return nil
}

// Expire transitions a pending reservation to EXPIRED. Only the sweeper
// calls this; hold cleanup stays with the sweeper so the two can be tested
// independently.
func (s *Service) Expire(ctx context.Context, r domain.Reservation) error {
	prev := r.Status
	if err := r.Expire(); err != nil {
		return err
	}

	expired, err := json.Marshal(domain.ExpiredEvent{
		ReservationUID:  r.UID.String(),
		AccommodationID: r.AccommodationID,
		CheckInDate:     r.CheckIn.Format(domain.DateLayout),
		CheckOutDate:    r.CheckOut.Format(domain.DateLayout),
	})
	if err != nil {
		return err
	}

	return s.repo.Transition(ctx, r, prev, domain.ActorSweeper, "payment window elapsed",
		[]outbox.Message{{Type: outbox.EventReservationExpired, AggregateID: r.UID.String(), Payload: expired}})
}

// Hold release failures never fail the surrounding operation: the key TTL
// and the sweeper reconcile stragglers.
func (s *Service) releaseHold(ctx context.Context, r domain.Reservation) {
	if err := s.holds.Release(ctx, r.AccommodationID, r.CheckIn, r.CheckOut); err != nil {
		s.log.Warn("hold release failed", "reservation_uid", r.UID, "err", err)
	}
}
