package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

type fakeStore struct {
	batch  []Event
	sent   []int64
	failed map[int64]string
}

func (f *fakeStore) LockBatch(context.Context, string, int, time.Duration) ([]Event, error) {
	b := f.batch
	f.batch = nil
	return b, nil
}

func (f *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	f.sent = append(f.sent, ids...)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64, msg string) error {
	if f.failed == nil {
		f.failed = map[int64]string{}
	}
	f.failed[id] = msg
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatcherEnvelope(t *testing.T) {
	t.Parallel()

	p := &fakeProducer{}
	d := NewDispatcher(testLogger(), p, "outbox.events")

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	err := d.Dispatch(context.Background(), Event{
		ID:            7,
		AggregateType: "RESERVATION",
		AggregateID:   "res-uid-1",
		Type:          EventReservationPending,
		Payload:       []byte(`{"reservationId":"res-uid-1","totalPrice":120000}`),
		Traceparent:   "00-abc-def-01",
		CreatedAt:     created,
	})
	require.NoError(t, err)
	require.Len(t, p.msgs, 1)

	msg := p.msgs[0]
	assert.Equal(t, "outbox.events", msg.Topic)
	assert.Equal(t, []byte("res-uid-1"), msg.Key)

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, "7", env.EventID)
	assert.Equal(t, "RESERVATION_PENDING", env.EventType)
	assert.Equal(t, "res-uid-1", env.AggregateID)
	assert.JSONEq(t, `{"reservationId":"res-uid-1","totalPrice":120000}`, env.Payload)
	assert.Equal(t, "00-abc-def-01", env.Traceparent)
	assert.Equal(t, created, env.OccurredAt)
}

func TestRelayDrain(t *testing.T) {
	t.Parallel()

	t.Run("marks dispatched events sent", func(t *testing.T) {
		store := &fakeStore{batch: []Event{
			{ID: 1, AggregateID: "a", Type: EventReservationPending},
			{ID: 2, AggregateID: "b", Type: EventPaymentSucceeded},
		}}
		p := &fakeProducer{}
		r := NewRelay(testLogger(), store, NewDispatcher(testLogger(), p, "outbox.events"), "relay-1")

		r.drain(context.Background())

		assert.Equal(t, []int64{1, 2}, store.sent)
		assert.Len(t, p.msgs, 2)
		assert.Empty(t, store.failed)
	})

	t.Run("broker failure marks events failed, not sent", func(t *testing.T) {
		store := &fakeStore{batch: []Event{{ID: 3, AggregateID: "c", Type: EventPaymentFailed}}}
		p := &fakeProducer{err: errors.New("broker down")}
		r := NewRelay(testLogger(), store, NewDispatcher(testLogger(), p, "outbox.events"), "relay-1")

		r.drain(context.Background())

		assert.Empty(t, store.sent)
		assert.Contains(t, store.failed[3], "broker down")
	})
}
