package bus

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the subset of *amqp091.Channel the bus uses. It exists so tests
// can substitute a fake transport; *amqp091.Channel satisfies it directly.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Close() error
}

// connection is the subset of *amqp091.Connection the bus uses.
type connection interface {
	Channel() (channel, error)
	Close() error
	IsClosed() bool
}

// dialFunc opens a broker connection. Swapped for a fake in tests.
type dialFunc func(url string) (connection, error)

// amqpConnection adapts *amqp091.Connection to the connection interface.
type amqpConnection struct {
	*amqp.Connection
}

func (c *amqpConnection) Channel() (channel, error) {
	return c.Connection.Channel()
}

// dialAMQP is the production dial function.
func dialAMQP(url string) (connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn}, nil
}

// declareExchange idempotently declares the durable topic exchange every
// service publishes to and consumes from.
func declareExchange(ch channel, name string) error {
	return ch.ExchangeDeclare(name, "topic", true, false, false, false, nil)
}
