/**
 * @description
 * This package publishes account events to RabbitMQ. The outbox dispatcher is
 * its only caller: payloads arrive already encoded as JSON.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey, messageID string, body []byte) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Drop stray characters in front of the scheme.
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// MaskURL hides the credentials of an AMQP URL for logging.
func MaskURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.UserPassword("****", "****")
	}
	return u.String()
}

// NewEventProducer dials RabbitMQ and opens a channel.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &EventProducer{conn: conn, channel: ch, logger: logger}, nil
}

// PublishJSON sends an encoded message to a durable topic exchange. A failed
// declare or publish reopens the channel and retries once.
func (p *EventProducer) PublishJSON(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	err := p.declareAndPublish(ctx, exchange, routingKey, msg)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed, reopening channel",
		"component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "error", err)
	if p.conn == nil || p.conn.IsClosed() {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	return p.declareAndPublish(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) declareAndPublish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
