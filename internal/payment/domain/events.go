package domain

// Event payloads published through the outbox on payment settlement.

type SucceededEvent struct {
	ReservationUID string `json:"reservationUid"`
}

type FailedEvent struct {
	ReservationUID string `json:"reservationUid"`
	Reason         string `json:"reason"`
}

// CancellationFailedEvent is the diagnostic emitted when the hold release
// fails after a settled payment. The settlement stands; operators reconcile
// the leftover hold keys from this event.
type CancellationFailedEvent struct {
	ReservationUID string `json:"reservationUid"`
	Reason         string `json:"reason"`
}
