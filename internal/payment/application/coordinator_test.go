package application

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eeoos/airbob-sub001/internal/payment/domain"
	reservation "github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/clock"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

type fakePayments struct {
	payments  map[string]domain.Payment
	attempts  []domain.Attempt
	settled   []outbox.Message
	appended  []outbox.Message
	settleErr error
}

func (f *fakePayments) FindByPaymentKey(_ context.Context, key string) (domain.Payment, error) {
	p, ok := f.payments[key]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePayments) RecordAttempt(_ context.Context, a *domain.Attempt) error {
	a.ID = int64(len(f.attempts) + 1)
	f.attempts = append(f.attempts, *a)
	return nil
}

func (f *fakePayments) FinalizeAttempt(_ context.Context, key string, status domain.AttemptStatus, reason string) error {
	for i := len(f.attempts) - 1; i >= 0; i-- {
		if f.attempts[i].PaymentKey == key && f.attempts[i].Status == domain.AttemptRequested {
			f.attempts[i].Status = status
			f.attempts[i].FailureReason = &reason
			return nil
		}
	}
	return nil
}

func (f *fakePayments) Settle(_ context.Context, p *domain.Payment, next reservation.Status, reason string, events []outbox.Message) error {
	if f.settleErr != nil {
		return f.settleErr
	}
	p.ID = int64(len(f.payments) + 1)
	f.payments[p.PaymentKey] = *p
	status := domain.AttemptFailed
	if p.Status == domain.StatusSucceeded {
		status = domain.AttemptSucceeded
	}
	_ = f.FinalizeAttempt(context.Background(), p.PaymentKey, status, reason)
	f.settled = append(f.settled, events...)
	return nil
}

func (f *fakePayments) AppendEvents(_ context.Context, events ...outbox.Message) error {
	f.appended = append(f.appended, events...)
	return nil
}

func (f *fakePayments) settledTypes() []outbox.EventType {
	var out []outbox.EventType
	for _, m := range f.settled {
		out = append(out, m.Type)
	}
	return out
}

type fakeReservations struct {
	byUID map[uuid.UUID]reservation.Reservation
}

func (f *fakeReservations) FindByUID(_ context.Context, uid uuid.UUID) (reservation.Reservation, error) {
	r, ok := f.byUID[uid]
	if !ok {
		return reservation.Reservation{}, reservation.ErrNotFound
	}
	return r, nil
}

type fakeHolds struct {
	released   int
	releaseErr error
}

func (f *fakeHolds) Release(context.Context, int64, time.Time, time.Time) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released++
	return nil
}

func pendingReservation(t *testing.T) reservation.Reservation {
	t.Helper()
	expires := testNow.Add(15 * time.Minute)
	return reservation.Reservation{
		ID:               1,
		UID:              uuid.New(),
		AccommodationID:  42,
		AccommodationUID: uuid.New(),
		GuestID:          7,
		CheckIn:          time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		CheckOut:         time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC),
		GuestCount:       2,
		TotalCents:       48000,
		Status:           reservation.StatusPaymentPending,
		ExpiresAt:        &expires,
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakePayments, *fakeReservations, *fakeHolds) {
	t.Helper()
	payments := &fakePayments{payments: map[string]domain.Payment{}}
	reservations := &fakeReservations{byUID: map[uuid.UUID]reservation.Reservation{}}
	holds := &fakeHolds{}
	log := slog.New(slog.DiscardHandler)
	return NewCoordinator(log, payments, reservations, holds, clock.NewFixed(testNow)), payments, reservations, holds
}

func confirmInput(r reservation.Reservation) ConfirmInput {
	return ConfirmInput{
		PaymentKey:  "pk-" + r.UID.String()[:8],
		OrderID:     r.UID.String(),
		Succeeded:   true,
		AmountCents: r.TotalCents,
	}
}

func TestCoordinatorConfirm(t *testing.T) {
	ctx := context.Background()

	t.Run("first success settles the payment and confirms the reservation", func(t *testing.T) {
		c, payments, reservations, holds := newTestCoordinator(t)
		r := pendingReservation(t)
		reservations.byUID[r.UID] = r

		res, err := c.Confirm(ctx, confirmInput(r))
		require.NoError(t, err)
		assert.False(t, res.Replayed)
		assert.Equal(t, domain.StatusSucceeded, res.Status)
		assert.Equal(t, r.UID, res.ReservationUID)

		assert.Equal(t, []outbox.EventType{
			outbox.EventPaymentSucceeded,
			outbox.EventReservationConfirmed,
			outbox.EventReservationChanged,
		}, payments.settledTypes())
		assert.Equal(t, 1, holds.released)

		require.Len(t, payments.attempts, 1)
		assert.Equal(t, domain.AttemptSucceeded, payments.attempts[0].Status)
	})

	t.Run("duplicate payment key replays the stored result", func(t *testing.T) {
		c, payments, reservations, holds := newTestCoordinator(t)
		r := pendingReservation(t)
		reservations.byUID[r.UID] = r
		in := confirmInput(r)

		first, err := c.Confirm(ctx, in)
		require.NoError(t, err)

		second, err := c.Confirm(ctx, in)
		require.NoError(t, err)
		assert.True(t, second.Replayed)
		assert.Equal(t, first.PaymentUID, second.PaymentUID)
		assert.Equal(t, first.Status, second.Status)

		assert.Len(t, payments.attempts, 1, "replay records no new attempt")
		assert.Len(t, payments.settled, 3, "replay emits nothing")
		assert.Equal(t, 1, holds.released)
	})

	t.Run("gateway failure marks the reservation FAILED", func(t *testing.T) {
		c, payments, reservations, holds := newTestCoordinator(t)
		r := pendingReservation(t)
		reservations.byUID[r.UID] = r

		in := confirmInput(r)
		in.Succeeded = false
		in.Reason = "card declined"

		res, err := c.Confirm(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Equal(t, []outbox.EventType{outbox.EventPaymentFailed}, payments.settledTypes())
		assert.Equal(t, 1, holds.released)

		stored := payments.payments[in.PaymentKey]
		require.NotNil(t, stored.FailureReason)
		assert.Equal(t, "card declined", *stored.FailureReason)
	})

	t.Run("amount mismatch rejects without touching the reservation", func(t *testing.T) {
		c, payments, reservations, holds := newTestCoordinator(t)
		r := pendingReservation(t)
		reservations.byUID[r.UID] = r

		in := confirmInput(r)
		in.AmountCents = r.TotalCents - 1

		_, err := c.Confirm(ctx, in)
		require.ErrorIs(t, err, domain.ErrAmountMismatch)
		assert.Empty(t, payments.settled)
		assert.Zero(t, holds.released)

		require.Len(t, payments.attempts, 1)
		assert.Equal(t, domain.AttemptFailed, payments.attempts[0].Status)
	})

	t.Run("expired reservation is not payable", func(t *testing.T) {
		c, payments, reservations, _ := newTestCoordinator(t)
		r := pendingReservation(t)
		r.Status = reservation.StatusExpired
		r.ExpiresAt = nil
		reservations.byUID[r.UID] = r

		_, err := c.Confirm(ctx, confirmInput(r))
		require.ErrorIs(t, err, reservation.ErrInvalidState)
		assert.Empty(t, payments.settled)
		require.Len(t, payments.attempts, 1)
		assert.Equal(t, domain.AttemptFailed, payments.attempts[0].Status)
	})

	t.Run("losing the settle race finalizes the attempt as failed", func(t *testing.T) {
		c, payments, reservations, holds := newTestCoordinator(t)
		r := pendingReservation(t)
		reservations.byUID[r.UID] = r
		payments.settleErr = reservation.ErrInvalidState

		_, err := c.Confirm(ctx, confirmInput(r))
		require.ErrorIs(t, err, reservation.ErrInvalidState)
		assert.Zero(t, holds.released)
		require.Len(t, payments.attempts, 1)
		assert.Equal(t, domain.AttemptFailed, payments.attempts[0].Status)
	})

	t.Run("unknown order id", func(t *testing.T) {
		c, _, _, _ := newTestCoordinator(t)
		in := ConfirmInput{PaymentKey: "pk-x", OrderID: "not-a-uuid", Succeeded: true}
		_, err := c.Confirm(ctx, in)
		require.ErrorIs(t, err, reservation.ErrNotFound)
	})

	t.Run("hold release failure keeps the settlement and emits a diagnostic", func(t *testing.T) {
		c, payments, reservations, holds := newTestCoordinator(t)
		r := pendingReservation(t)
		reservations.byUID[r.UID] = r
		holds.releaseErr = errors.New("connection refused")

		res, err := c.Confirm(ctx, confirmInput(r))
		require.NoError(t, err, "settled payment outranks cache cleanliness")
		assert.Equal(t, domain.StatusSucceeded, res.Status)

		require.Len(t, payments.appended, 1)
		assert.Equal(t, outbox.EventPaymentCancellationFailed, payments.appended[0].Type)
		assert.Equal(t, r.UID.String(), payments.appended[0].AggregateID)
	})
}
