package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eeoos/airbob-sub001/pkg/tracing"
)

// ErrWriteFailed marks a failed outbox insert. It is fatal to the enclosing
// transaction: the business mutation must not commit without its event.
var ErrWriteFailed = errors.New("outbox write failed")

// Message is one event to append. AggregateID keys downstream partitioning,
// so per-aggregate ordering survives the relay and the router.
type Message struct {
	Type        EventType
	AggregateID string
	Payload     []byte
}

// Execer is the slice of pgx.Tx the writer needs. Append always runs inside
// the caller's transaction; the writer never commits on its own.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// Append inserts the given events into the outbox table using the caller's
// transaction. No network calls, no separate commit: if the surrounding
// transaction rolls back the events vanish with it.
func (w *Writer) Append(ctx context.Context, tx Execer, msgs ...Message) error {
	traceparent := tracing.Traceparent(ctx)

	for _, m := range msgs {
		if _, ok := m.Type.Topic(); !ok {
			return fmt.Errorf("%w: unknown event type %q", ErrWriteFailed, m.Type)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, traceparent, status)
			VALUES ($1, $2, $3, $4, $5, 'pending')`,
			m.Type.AggregateType(), m.AggregateID, string(m.Type), m.Payload, traceparent)
		if err != nil {
			return fmt.Errorf("%w: insert %s: %v", ErrWriteFailed, m.Type, err)
		}
	}
	return nil
}
