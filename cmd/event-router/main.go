package main

import (
	"context"
	"errors"
	"os"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/eeoos/airbob-sub001/internal/router"
	"github.com/eeoos/airbob-sub001/pkg/logging"
	"github.com/eeoos/airbob-sub001/pkg/shutdown"
	"github.com/eeoos/airbob-sub001/pkg/tracing"
)

func main() {
	_ = godotenv.Load()
	log := logging.New("event-router")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	kafkaBrokers := []string{env("KAFKA_ADDR", "localhost:9092")}
	otlpEndpoint := env("OTLP_ENDPOINT", "localhost:4318")
	captureTopic := env("CAPTURE_TOPIC", "outbox.capture")
	group := env("CONSUMER_GROUP", "event-router")

	tp, err := tracing.Init(ctx, "event-router", otlpEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	producer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaBrokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	defer func() { _ = producer.Close() }()

	r := router.New(log, kafkaBrokers, captureTopic, group, producer)

	log.Info("event-router consuming", "topic", captureTopic, "group", group)
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("router stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("event-router shutdown complete")
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
