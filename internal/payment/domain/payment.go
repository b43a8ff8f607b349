// Package domain models gateway payments for reservations. A reservation
// carries at most one successful payment; every confirmation attempt is
// recorded for idempotency and audit.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("payment not found")
	ErrAmountMismatch = errors.New("payment amount mismatch")
)

type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Payment is one terminal gateway transaction. PaymentKey is the gateway's
// idempotency key: a duplicate callback with the same key replays the stored
// row instead of touching the reservation again.
type Payment struct {
	ID             int64
	UID            uuid.UUID
	ReservationUID uuid.UUID
	PaymentKey     string
	OrderID        string
	AmountCents    int64
	Status         Status
	FailureReason  *string
	ApprovedAt     *time.Time
	CreatedAt      time.Time
}

// Attempt statuses. REQUESTED rows are created before any side effect and
// finalized in the same transaction as the payment itself.
type AttemptStatus string

const (
	AttemptRequested AttemptStatus = "REQUESTED"
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
)

// Attempt is one confirmation-callback delivery, recorded whether or not it
// went on to mutate anything.
type Attempt struct {
	ID             int64
	PaymentKey     string
	OrderID        string
	ReservationUID uuid.UUID
	AmountCents    int64
	Status         AttemptStatus
	FailureReason  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
