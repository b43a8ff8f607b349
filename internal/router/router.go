// Package router implements the change-event router: it consumes the
// capture topic the relay publishes to, classifies each envelope by event
// type and republishes the payload to the type's destination topic.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eeoos/airbob-sub001/pkg/outbox"
	"github.com/eeoos/airbob-sub001/pkg/tracing"
)

// Producer is the broker writer used for republishing.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Router is a long-lived consumer loop. Delivery is at-least-once: messages
// are committed only after the republish (or dead-letter write) succeeded,
// and the router never deduplicates. Destination keys carry the aggregate
// id so per-aggregate ordering survives the hop.
type Router struct {
	log          *slog.Logger
	reader       *kafka.Reader
	writer       Producer
	dlq          string
	tracer       trace.Tracer
	maxAttempts  int
	retryBackoff time.Duration
}

func New(log *slog.Logger, brokers []string, captureTopic, group string, writer Producer) *Router {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   captureTopic,
		GroupID: group,
	})
	return &Router{
		log:          log,
		reader:       r,
		writer:       writer,
		dlq:          captureTopic + ".dlq",
		tracer:       otel.Tracer("change-event-router"),
		maxAttempts:  5,
		retryBackoff: 500 * time.Millisecond,
	}
}

func (r *Router) Run(ctx context.Context) error {
	defer r.reader.Close()
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if err := r.routeWithRetry(ctx, msg); err != nil {
			// Group commits are cumulative per partition: skipping ahead
			// would acknowledge this offset forever. Stop instead; the
			// group resumes from the last commit on restart.
			r.log.Error("route failed, stopping", "offset", msg.Offset, "err", err)
			return err
		}
		_ = r.reader.CommitMessages(ctx, msg)
	}
}

// routeWithRetry retries transient publish failures in place. The message
// must not be abandoned: its offset would be committed by any later message
// on the same partition, losing the event.
func (r *Router) routeWithRetry(ctx context.Context, msg kafka.Message) error {
	backoff := r.retryBackoff
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err = r.route(ctx, msg); err == nil {
			return nil
		}
		r.log.Warn("route attempt failed", "offset", msg.Offset, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (r *Router) route(ctx context.Context, msg kafka.Message) error {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := r.tracer.Start(msgCtx, "RouteChangeEvent")
	defer span.End()

	var env outbox.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		r.log.Error("envelope parse failed", "offset", msg.Offset, "err", err)
		return r.deadLetter(msgCtx, msg, err)
	}

	t, ok := outbox.ParseEventType(env.EventType)
	if !ok {
		// No destination exists for the type; requeueing cannot fix that.
		r.log.Warn("unknown event type dropped", "event_type", env.EventType, "event_id", env.EventID)
		return nil
	}
	topic, _ := t.Topic()

	out := kafka.Message{
		Topic: topic,
		Key:   []byte(env.AggregateID),
		Value: []byte(env.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(env.EventID)},
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	}
	if env.Traceparent != "" {
		out.Headers = append(out.Headers, kafka.Header{Key: "traceparent", Value: []byte(env.Traceparent)})
	}
	return r.writer.WriteMessages(msgCtx, out)
}

// deadLetter diverts an unparsable message, raw bytes preserved, so one bad
// row cannot wedge the partition.
func (r *Router) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	out := kafka.Message{
		Topic: r.dlq,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(cause.Error())},
			{Key: "source_topic", Value: []byte(msg.Topic)},
		},
	}
	return r.writer.WriteMessages(ctx, out)
}
