package events

import (
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPConsumer reads inbound messages from a topic exchange: processor
// callback events and admin commands arrive here. A handler returning false
// re-queues the delivery.
type AMQPConsumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

// NewAMQPConsumer dials the broker with a bounded timeout.
func NewAMQPConsumer(amqpURL string, logger *slog.Logger) (*AMQPConsumer, error) {
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
	return &AMQPConsumer{conn: conn, channel: ch, logger: logger}, nil
}

// ConsumeWithBindings declares queueName on exchange, binds each routing key,
// and dispatches deliveries to the matching handler on a background goroutine.
// Deliveries with no handler are acknowledged and dropped.
func (c *AMQPConsumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	if err := c.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for routingKey := range bindings {
		if err := c.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			handler, ok := bindings[d.RoutingKey]
			if !ok {
				c.logger.Warn("no handler for routing key, dropping", "routing_key", d.RoutingKey)
				d.Ack(false)
				continue
			}
			if handler(d.Body) {
				d.Ack(false)
			} else {
				c.logger.Warn("handler failed, re-queuing delivery", "routing_key", d.RoutingKey)
				d.Nack(false, true)
			}
		}
	}()
	return nil
}

func (c *AMQPConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
