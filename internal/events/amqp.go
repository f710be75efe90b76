package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the outbound message contract. AMQPProducer implements it; a
// NoopPublisher stands in when the broker is unavailable at startup.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	Close()
}

// AMQPProducer publishes engine signals to a topic exchange.
type AMQPProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *slog.Logger
}

// NewAMQPProducer dials the broker with a bounded timeout and declares the
// signal exchange.
func NewAMQPProducer(amqpURL, exchange string, logger *slog.Logger) (*AMQPProducer, error) {
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
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPProducer{conn: conn, channel: ch, exchange: exchange, logger: logger}, nil
}

func (p *AMQPProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

func (p *AMQPProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// NoopPublisher logs and drops every publish. Used when the broker is down so
// engine startup is not blocked on messaging.
type NoopPublisher struct {
	Logger *slog.Logger
}

func (p *NoopPublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	p.Logger.Warn("signal publish skipped, broker unavailable", "routing_key", routingKey)
	return nil
}

func (p *NoopPublisher) Close() {}

// ForwardSignals subscribes a publisher to every bus signal. Publish failures
// are logged and swallowed; signal delivery never blocks engine operations.
func ForwardSignals(bus *Bus, pub Publisher, logger *slog.Logger) {
	bus.SubscribeAll(func(sig Signal) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, sig.Kind, sig); err != nil {
			logger.Warn("failed to forward signal", "kind", sig.Kind, "error", err)
		}
	})
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
