package domain

// Event payloads published through the outbox. Field names follow the wire
// contract consumed downstream; reservations are referenced by UID, indexing
// events by accommodation UID.

type PendingEvent struct {
	ReservationID string `json:"reservationId"`
	TotalPrice    int64  `json:"totalPrice"`
}

type ConfirmedEvent struct {
	ReservationUID  string `json:"reservationUid"`
	AccommodationID int64  `json:"accommodationId"`
	CheckInDate     string `json:"checkInDate"`
	CheckOutDate    string `json:"checkOutDate"`
}

type CancelledEvent struct {
	ReservationUID string `json:"reservationUid"`
	Reason         string `json:"reason"`
}

type ExpiredEvent struct {
	ReservationUID  string `json:"reservationUid"`
	AccommodationID int64  `json:"accommodationId"`
	CheckInDate     string `json:"checkInDate"`
	CheckOutDate    string `json:"checkOutDate"`
}

// ChangedEvent asks the search indexer to re-read an accommodation's
// availability. Keyed by accommodation UID per the indexing contract.
type ChangedEvent struct {
	AccommodationUID string `json:"accommodationUid"`
}

// DateLayout renders check-in/check-out dates on the wire.
const DateLayout = "2006-01-02"
