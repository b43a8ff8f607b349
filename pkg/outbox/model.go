package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is one outbox row: a domain event persisted in the same transaction
// as the business mutation it describes. Status, RelayID and RetryCount are
// capture-process bookkeeping; the event itself is never rewritten.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          EventType
	Payload       []byte
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RetryCount    int
	LastError     *string
}

// EventType is the closed set of domain events carried through the outbox.
// Each type maps to an aggregate type and a destination topic; anything
// outside this set has no destination and is dropped by the router.
type EventType string

const (
	EventReservationPending   EventType = "RESERVATION_PENDING"
	EventReservationConfirmed EventType = "RESERVATION_CONFIRMED"
	EventReservationCancelled EventType = "RESERVATION_CANCELLED"
	EventReservationExpired   EventType = "RESERVATION_EXPIRED"

	EventPaymentSucceeded          EventType = "PAYMENT_SUCCEEDED"
	EventPaymentFailed             EventType = "PAYMENT_FAILED"
	EventPaymentCancellationFailed EventType = "PAYMENT_CANCELLATION_FAILED"

	EventAccommodationCreated EventType = "ACCOMMODATION_CREATED"
	EventAccommodationUpdated EventType = "ACCOMMODATION_UPDATED"
	EventAccommodationDeleted EventType = "ACCOMMODATION_DELETED"
	EventReviewSummaryChanged EventType = "REVIEW_SUMMARY_CHANGED"
	EventReservationChanged   EventType = "RESERVATION_CHANGED"
)

const (
	TopicReservationEvents   = "reservation-events"
	TopicPaymentEvents       = "payment-events"
	TopicAccommodationEvents = "accommodation-events"
)

type destination struct {
	aggregateType string
	topic         string
}

var destinations = map[EventType]destination{
	EventReservationPending:   {"RESERVATION", TopicReservationEvents},
	EventReservationConfirmed: {"RESERVATION", TopicReservationEvents},
	EventReservationCancelled: {"RESERVATION", TopicReservationEvents},
	EventReservationExpired:   {"RESERVATION", TopicReservationEvents},

	EventPaymentSucceeded:          {"PAYMENT", TopicPaymentEvents},
	EventPaymentFailed:             {"PAYMENT", TopicPaymentEvents},
	EventPaymentCancellationFailed: {"PAYMENT", TopicPaymentEvents},

	EventAccommodationCreated: {"ACCOMMODATION", TopicAccommodationEvents},
	EventAccommodationUpdated: {"ACCOMMODATION", TopicAccommodationEvents},
	EventAccommodationDeleted: {"ACCOMMODATION", TopicAccommodationEvents},
	EventReviewSummaryChanged: {"ACCOMMODATION", TopicAccommodationEvents},
	EventReservationChanged:   {"ACCOMMODATION", TopicAccommodationEvents},
}

// ParseEventType maps a raw event-type string onto the closed set. The
// second result is false for unknown types.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	_, ok := destinations[t]
	return t, ok
}

// AggregateType names the aggregate an event type belongs to.
func (t EventType) AggregateType() string {
	return destinations[t].aggregateType
}

// Topic returns the destination topic for an event type; ok is false when
// the type has no destination.
func (t EventType) Topic() (string, bool) {
	d, ok := destinations[t]
	return d.topic, ok
}

// Envelope is the wire shape of one captured outbox row as published on the
// capture topic. The router parses it to classify and republish the payload.
type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       string    `json:"payload"`
	Traceparent   string    `json:"traceparent,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
