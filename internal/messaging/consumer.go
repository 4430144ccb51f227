package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

type HandlerFunc func(ctx context.Context, payload []byte) error

type Consumer struct {
	reader      *kafka.Reader
	topic       string
	groupID     string
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	reader      kafka.ReaderConfig
	maxAttempts int
	backoff     time.Duration
}

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithRetry sets how often a failing message is handled before it is
// skipped, and the base delay between attempts.
func WithRetry(maxAttempts int, backoff time.Duration) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.maxAttempts = maxAttempts
		cfg.backoff = backoff
	}
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
		maxAttempts: 5,
		backoff:     time.Second,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		reader:      kafka.NewReader(cfg.reader),
		topic:       topic,
		groupID:     groupID,
		maxAttempts: max(cfg.maxAttempts, 1),
		backoff:     cfg.backoff,
		logger:      logger,
	}
}

// Consume handles messages until ctx is cancelled or the reader fails. A
// message whose handler keeps failing is logged and committed so one bad
// event cannot stall the partition.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		err = retry(ctx, c.maxAttempts, c.backoff, func(attempt int) error {
			err := c.processMessage(ctx, msg, handler)
			if err != nil && attempt < c.maxAttempts {
				c.logger.Warn("message handling failed, retrying", "error", err, "attempt", attempt, "key", string(msg.Key))
			}
			return err
		})
		if ctx.Err() != nil {
			// leave the message uncommitted for the next consumer
			return ctx.Err()
		}
		if err != nil {
			c.logger.Error("giving up on message", "error", err, "key", string(msg.Key),
				"partition", msg.Partition, "offset", msg.Offset)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	carrier := headerCarrier{msg: &msg}
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, carrier)

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			attribute.String("payment.event", carrier.Get(eventHeader)),
		),
	)
	defer span.End()

	if err := handler(spanCtx, msg.Value); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

// retry calls fn up to attempts times with a linearly growing delay and
// returns the last error. It stops early when ctx is done.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
