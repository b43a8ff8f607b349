package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eeoos/airbob-sub001/internal/payment/domain"
	reservation "github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/clock"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

// Coordinator correlates gateway confirmation callbacks with reservations.
// Confirm is idempotent under duplicate delivery: the payment key is the
// idempotency key, and a key that already settled replays the stored result
// without touching the reservation again.
type Coordinator struct {
	log          *slog.Logger
	payments     Repository
	reservations ReservationFinder
	holds        HoldReleaser
	clock        clock.Clock
}

func NewCoordinator(log *slog.Logger, payments Repository, reservations ReservationFinder, holds HoldReleaser, clk clock.Clock) *Coordinator {
	return &Coordinator{
		log:          log,
		payments:     payments,
		reservations: reservations,
		holds:        holds,
		clock:        clk,
	}
}

// ConfirmInput is the normalized gateway callback. OrderID carries the
// reservation UID issued at checkout; Succeeded reflects the gateway's own
// verdict, Reason its failure message.
type ConfirmInput struct {
	PaymentKey  string
	OrderID     string
	Succeeded   bool
	AmountCents int64
	Reason      string
}

type Result struct {
	PaymentUID     uuid.UUID
	ReservationUID uuid.UUID
	Status         domain.Status
	Replayed       bool
}

// Confirm settles one gateway callback. On first success the reservation
// moves to CONFIRMED with the payment in the same transaction; on gateway
// failure it moves to FAILED. Either way the date hold is released after
// commit. A hold-release failure never unwinds a settled payment.
func (c *Coordinator) Confirm(ctx context.Context, in ConfirmInput) (Result, error) {
	prior, err := c.payments.FindByPaymentKey(ctx, in.PaymentKey)
	if err == nil {
		c.log.Info("payment callback replayed",
			"payment_key", in.PaymentKey, "reservation_uid", prior.ReservationUID)
		return Result{
			PaymentUID:     prior.UID,
			ReservationUID: prior.ReservationUID,
			Status:         prior.Status,
			Replayed:       true,
		}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Result{}, err
	}

	resUID, err := uuid.Parse(in.OrderID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: order id %q", reservation.ErrNotFound, in.OrderID)
	}
	r, err := c.reservations.FindByUID(ctx, resUID)
	if err != nil {
		return Result{}, err
	}

	attempt := &domain.Attempt{
		PaymentKey:     in.PaymentKey,
		OrderID:        in.OrderID,
		ReservationUID: r.UID,
		AmountCents:    in.AmountCents,
		Status:         domain.AttemptRequested,
	}
	if err := c.payments.RecordAttempt(ctx, attempt); err != nil {
		return Result{}, err
	}

	if in.Succeeded && in.AmountCents != r.TotalCents {
		c.finalizeAttempt(ctx, in.PaymentKey, "amount mismatch")
		return Result{}, domain.ErrAmountMismatch
	}

	now := c.clock.Now()
	p := domain.Payment{
		UID:            uuid.New(),
		ReservationUID: r.UID,
		PaymentKey:     in.PaymentKey,
		OrderID:        in.OrderID,
		AmountCents:    in.AmountCents,
		CreatedAt:      now,
	}

	var (
		events []outbox.Message
		reason string
	)
	if in.Succeeded {
		if err := r.Confirm(); err != nil {
			c.finalizeAttempt(ctx, in.PaymentKey, "reservation not payable")
			return Result{}, err
		}
		p.Status = domain.StatusSucceeded
		p.ApprovedAt = &now
		reason = "payment confirmed"
		events, err = confirmedEvents(r)
	} else {
		if err := r.Fail(); err != nil {
			c.finalizeAttempt(ctx, in.PaymentKey, "reservation not payable")
			return Result{}, err
		}
		p.Status = domain.StatusFailed
		reason = in.Reason
		if reason == "" {
			reason = "gateway declined"
		}
		p.FailureReason = &reason
		events, err = failedEvents(r, reason)
	}
	if err != nil {
		return Result{}, err
	}

	if err := c.payments.Settle(ctx, &p, r.Status, reason, events); err != nil {
		if errors.Is(err, reservation.ErrInvalidState) {
			c.finalizeAttempt(ctx, in.PaymentKey, "reservation not payable")
		}
		return Result{}, err
	}

	c.releaseHold(ctx, r)
	c.log.Info("payment settled",
		"payment_key", in.PaymentKey, "reservation_uid", r.UID, "status", p.Status)
	return Result{PaymentUID: p.UID, ReservationUID: r.UID, Status: p.Status}, nil
}

func confirmedEvents(r reservation.Reservation) ([]outbox.Message, error) {
	succeeded, err := json.Marshal(domain.SucceededEvent{ReservationUID: r.UID.String()})
	if err != nil {
		return nil, err
	}
	confirmed, err := json.Marshal(reservation.ConfirmedEvent{
		ReservationUID:  r.UID.String(),
		AccommodationID: r.AccommodationID,
		CheckInDate:     r.CheckIn.Format(reservation.DateLayout),
		CheckOutDate:    r.CheckOut.Format(reservation.DateLayout),
	})
	if err != nil {
		return nil, err
	}
	changed, err := json.Marshal(reservation.ChangedEvent{AccommodationUID: r.AccommodationUID.String()})
	if err != nil {
		return nil, err
	}
	return []outbox.Message{
		{Type: outbox.EventPaymentSucceeded, AggregateID: r.UID.String(), Payload: succeeded},
		{Type: outbox.EventReservationConfirmed, AggregateID: r.UID.String(), Payload: confirmed},
		{Type: outbox.EventReservationChanged, AggregateID: r.AccommodationUID.String(), Payload: changed},
	}, nil
}

func failedEvents(r reservation.Reservation, reason string) ([]outbox.Message, error) {
	failed, err := json.Marshal(domain.FailedEvent{ReservationUID: r.UID.String(), Reason: reason})
	if err != nil {
		return nil, err
	}
	return []outbox.Message{
		{Type: outbox.EventPaymentFailed, AggregateID: r.UID.String(), Payload: failed},
	}, nil
}

// Attempt finalization is bookkeeping: its failure is logged, not returned,
// so the caller still sees the error that stopped the settlement.
func (c *Coordinator) finalizeAttempt(ctx context.Context, paymentKey, reason string) {
	if err := c.payments.FinalizeAttempt(ctx, paymentKey, domain.AttemptFailed, reason); err != nil {
		c.log.Warn("attempt finalize failed", "payment_key", paymentKey, "err", err)
	}
}

// releaseHold frees the reservation's date keys after settlement. A release
// failure leaves the settled payment in place and emits the diagnostic event
// operators reconcile from.
func (c *Coordinator) releaseHold(ctx context.Context, r reservation.Reservation) {
	err := c.holds.Release(ctx, r.AccommodationID, r.CheckIn, r.CheckOut)
	if err == nil {
		return
	}
	c.log.Error("hold release failed after settlement", "reservation_uid", r.UID, "err", err)

	payload, merr := json.Marshal(domain.CancellationFailedEvent{
		ReservationUID: r.UID.String(),
		Reason:         err.Error(),
	})
	if merr != nil {
		return
	}
	if aerr := c.payments.AppendEvents(ctx, outbox.Message{
		Type:        outbox.EventPaymentCancellationFailed,
		AggregateID: r.UID.String(),
		Payload:     payload,
	}); aerr != nil {
		c.log.Error("cancellation diagnostic append failed", "reservation_uid", r.UID, "err", aerr)
	}
}
