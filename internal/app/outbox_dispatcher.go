package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thetaf313/ges-comptes/internal/store"
	"github.com/thetaf313/ges-comptes/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxStore is the slice of the outbox repository the dispatcher needs.
type OutboxStore interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// PublisherFactory opens a publisher. It is called lazily and again after any
// publish failure.
type PublisherFactory func() (rabbitmq.Publisher, error)

// RabbitPublisherFactory dials RabbitMQ at url.
func RabbitPublisherFactory(url string, logger *slog.Logger) PublisherFactory {
	return func() (rabbitmq.Publisher, error) {
		return rabbitmq.NewEventProducer(url, logger)
	}
}

type OutboxDispatcher struct {
	repo                OutboxStore
	newPublisher        PublisherFactory
	logger              *slog.Logger
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
}

func NewOutboxDispatcher(repo OutboxStore, newPublisher PublisherFactory, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		newPublisher:        newPublisher,
		logger:              logger.With("component", "outbox_dispatcher"),
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				d.logger.Error("outbox flush error", "error", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			d.logger.Warn("outbox publish failed",
				"message_id", message.ID, "aggregate_id", message.AggregateID,
				"attempts", message.Attempts, "retry_after_seconds", retryAfter, "error", err)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to reschedule outbox message", "message_id", message.ID, "error", markErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message as published", "message_id", message.ID, "error", err)
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.newPublisher()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	messageID := fmt.Sprintf("outbox-%d", message.ID)
	if err := d.producer.PublishJSON(ctx, message.Exchange, message.RoutingKey, messageID, message.Payload); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
