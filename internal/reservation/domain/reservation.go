package domain

import (
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidDateRange = errors.New("invalid reservation date range")
	ErrSlotUnavailable  = errors.New("slot unavailable")
	ErrInvalidState     = errors.New("invalid reservation state transition")
	ErrNotFound         = errors.New("reservation not found")
	ErrAccessDenied     = errors.New("reservation access denied")
)

type Status string

const (
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusFailed         Status = "FAILED"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
)

// Reservation is the booking aggregate. ID is the surrogate key; UID is the
// opaque identifier exposed outside the service. ExpiresAt is set only while
// the reservation waits for payment.
type Reservation struct {
	ID               int64
	UID              uuid.UUID
	AccommodationID  int64
	AccommodationUID uuid.UUID
	GuestID          int64
	CheckIn          time.Time
	CheckOut         time.Time
	GuestCount       int
	TotalCents       int64
	Status           Status
	ExpiresAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewPending validates the requested stay and builds a PAYMENT_PENDING
// reservation whose expiry matches the payment window. Dates are treated as
// whole days: the range is [checkIn, checkOut) and must start in the future.
func NewPending(accommodationID int64, accommodationUID uuid.UUID, guestID int64,
	checkIn, checkOut time.Time, guestCount int, nightlyCents int64,
	now time.Time, paymentWindow time.Duration) (Reservation, error) {

	checkIn = day(checkIn)
	checkOut = day(checkOut)
	if !checkIn.Before(checkOut) {
		return Reservation{}, ErrInvalidDateRange
	}
	if !checkIn.After(day(now)) {
		return Reservation{}, ErrInvalidDateRange
	}

	expires := now.Add(paymentWindow)
	return Reservation{
		UID:              uuid.New(),
		AccommodationID:  accommodationID,
		AccommodationUID: accommodationUID,
		GuestID:          guestID,
		CheckIn:          checkIn,
		CheckOut:         checkOut,
		GuestCount:       guestCount,
		TotalCents:       int64(Nights(checkIn, checkOut)) * nightlyCents,
		Status:           StatusPaymentPending,
		ExpiresAt:        &expires,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Nights counts the occupied nights in [checkIn, checkOut).
func Nights(checkIn, checkOut time.Time) int {
	return int(day(checkOut).Sub(day(checkIn)) / (24 * time.Hour))
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Confirm moves a pending reservation to CONFIRMED and clears the payment
// expiry. Only reachable from PAYMENT_PENDING.
func (r *Reservation) Confirm() error {
	if r.Status != StatusPaymentPending {
		return ErrInvalidState
	}
	r.Status = StatusConfirmed
	r.ExpiresAt = nil
	return nil
}

// Fail marks the reservation's payment as failed.
func (r *Reservation) Fail() error {
	if r.Status != StatusPaymentPending {
		return ErrInvalidState
	}
	r.Status = StatusFailed
	r.ExpiresAt = nil
	return nil
}

// Cancel is allowed while waiting for payment or after confirmation; every
// other state is terminal for cancellation purposes.
func (r *Reservation) Cancel() error {
	if r.Status != StatusPaymentPending && r.Status != StatusConfirmed {
		return ErrInvalidState
	}
	r.Status = StatusCancelled
	r.ExpiresAt = nil
	return nil
}

// Expire is invoked only by the sweeper and only on pending reservations.
func (r *Reservation) Expire() error {
	if r.Status != StatusPaymentPending {
		return ErrInvalidState
	}
	r.Status = StatusExpired
	r.ExpiresAt = nil
	return nil
}

// Overlaps reports whether two half-open day ranges intersect.
func Overlaps(aIn, aOut, bIn, bOut time.Time) bool {
	return day(aIn).Before(day(bOut)) && day(bIn).Before(day(aOut))
}

// StatusHistory is one append-only audit row per status transition.
type StatusHistory struct {
	ID             int64
	ReservationID  int64
	PreviousStatus *Status
	NewStatus      Status
	ChangedBy      string
	Reason         string
	CreatedAt      time.Time
}

// Actors recorded in the status history.
const (
	ActorSweeper = "SYSTEM:SWEEPER"
	ActorPayment = "SYSTEM:PAYMENT"
)

// ActorUser renders a guest-initiated transition's actor.
func ActorUser(guestID int64) string {
	return "USER:" + strconv.FormatInt(guestID, 10)
}
