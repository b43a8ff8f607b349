package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eeoos/airbob-sub001/internal/payment/domain"
	reservation "github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

// Repository owns the payment transactions.
type Repository interface {
	// FindByPaymentKey returns the terminal payment recorded under a gateway
	// key, or domain.ErrNotFound.
	FindByPaymentKey(ctx context.Context, paymentKey string) (domain.Payment, error)

	// RecordAttempt inserts a REQUESTED attempt row before any side effect.
	RecordAttempt(ctx context.Context, a *domain.Attempt) error

	// FinalizeAttempt marks the open attempt for paymentKey terminal without
	// settling a payment.
	FinalizeAttempt(ctx context.Context, paymentKey string, status domain.AttemptStatus, reason string) error

	// Settle persists the payment, finalizes its attempt, applies the
	// reservation transition guarded by PAYMENT_PENDING and appends the
	// outbox events, all in one transaction. Returns
	// reservation.ErrInvalidState when the guard no longer holds.
	Settle(ctx context.Context, p *domain.Payment, next reservation.Status, reason string, events []outbox.Message) error

	// AppendEvents writes outbox events in their own transaction. Used for
	// diagnostics that happen after settlement committed.
	AppendEvents(ctx context.Context, events ...outbox.Message) error
}

// ReservationFinder is the slice of the reservation repository the
// coordinator needs.
type ReservationFinder interface {
	FindByUID(ctx context.Context, uid uuid.UUID) (reservation.Reservation, error)
}

// HoldReleaser frees the date hold once a payment settles either way.
type HoldReleaser interface {
	Release(ctx context.Context, accommodationID int64, checkIn, checkOut time.Time) error
}
