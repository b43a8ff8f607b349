package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eeoos/airbob-sub001/internal/reservation/domain"
	"github.com/eeoos/airbob-sub001/pkg/outbox"
)

// Repository owns the reservation transactions. Every mutating call appends
// its status-history row and outbox events inside the same transaction as
// the reservation write.
type Repository interface {
	// CreatePending persists a new pending reservation after re-checking
	// date overlap against CONFIRMED and PAYMENT_PENDING rows. Returns
	// domain.ErrSlotUnavailable on conflict; nothing is committed then.
	CreatePending(ctx context.Context, r *domain.Reservation, changedBy, reason string, events []outbox.Message) error

	FindByUID(ctx context.Context, uid uuid.UUID) (domain.Reservation, error)

	// Transition applies an already-validated state change, guarded by the
	// previous status so concurrent writers cannot double-apply it. Returns
	// domain.ErrInvalidState when the row no longer holds prev.
	Transition(ctx context.Context, r domain.Reservation, prev domain.Status, changedBy, reason string, events []outbox.Message) error

	// ListExpiredPending returns PAYMENT_PENDING reservations whose expiry
	// lies before cutoff, oldest first.
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)
}

// HoldStore is the expiring advisory lock over an accommodation's dates.
// Acquire succeeds only when every occupied date is free; Release is
// idempotent. It is best-effort: the repository's overlap check stays the
// correctness authority.
type HoldStore interface {
	Acquire(ctx context.Context, accommodationID int64, checkIn, checkOut time.Time) (bool, error)
	Release(ctx context.Context, accommodationID int64, checkIn, checkOut time.Time) error
}
