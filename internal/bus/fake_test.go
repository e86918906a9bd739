package bus

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeChannel is an in-memory stand-in for an AMQP channel.
type fakeChannel struct {
	mu sync.Mutex

	publishErrs   []error // consumed one per publish attempt; nil = success
	published     []amqp.Publishing
	publishedKeys []string

	declaredExchanges []string
	declaredQueues    []string
	bindings          map[string]string // queue -> pattern

	deliveries chan amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		bindings:   make(map[string]string),
		deliveries: make(chan amqp.Delivery, 16),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declaredExchanges = append(f.declaredExchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declaredQueues = append(f.declaredQueues, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[name] = key
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		if err != nil {
			return err
		}
	}
	f.published = append(f.published, msg)
	f.publishedKeys = append(f.publishedKeys, key)
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error { return nil }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeConn hands out fakeChannels.
type fakeConn struct {
	mu       sync.Mutex
	channels []*fakeChannel
	closed   bool
	// nextChannel, when set, is returned by the next Channel() call.
	nextChannel *fakeChannel
}

func (f *fakeConn) Channel() (channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := f.nextChannel
	if ch == nil {
		ch = newFakeChannel()
	}
	f.nextChannel = nil
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// failNDialer fails the first n dials, then returns the given connection.
type failNDialer struct {
	mu    sync.Mutex
	n     int
	conn  *fakeConn
	calls int
}

func (d *failNDialer) dial(url string) (connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.n {
		return nil, errors.New("dial tcp: connection refused")
	}
	if d.conn == nil {
		d.conn = &fakeConn{}
	}
	return d.conn, nil
}

// recordingAcker records acknowledgment decisions.
type recordingAcker struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeued []bool
}

func (a *recordingAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *recordingAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *recordingAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}
