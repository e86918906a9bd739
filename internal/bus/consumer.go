package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/logging"
)

// Handler processes one decoded envelope. Returning nil acknowledges the
// message. Returning an error negatively acknowledges it with requeue;
// redelivery is unbounded, so handlers must be idempotent. Wrap an error
// with Drop to acknowledge-and-discard instead (configuration errors,
// permanently unprocessable payloads).
type Handler func(ctx context.Context, env *event.Envelope) error

// dropError marks a handler failure that must be acknowledged rather than
// requeued, preventing infinite redelivery loops.
type dropError struct {
	err error
}

func (d dropError) Error() string { return d.err.Error() }
func (d dropError) Unwrap() error { return d.err }

// Drop wraps a handler error so the consumer acknowledges the message instead
// of requeueing it.
func Drop(err error) error {
	if err == nil {
		return nil
	}
	return dropError{err: err}
}

// IsDrop reports whether err carries the Drop marker.
func IsDrop(err error) bool {
	var d dropError
	return errors.As(err, &d)
}

// subscription binds a routing-key pattern to a handler for the process
// lifetime.
type subscription struct {
	pattern string
	handler Handler
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	URL      string
	Exchange string
	// Service names the consuming service; queue names derive from it so
	// each service gets its own durable queue per pattern.
	Service     string
	MaxAttempts int
	Backoff     Backoff
	// Prefetch bounds unacknowledged deliveries per subscription (default 1).
	Prefetch int
}

// Consumer subscribes routing-key patterns to handlers and runs one blocking
// dispatch loop per subscription. Loss of the connection stops Start with an
// error; the owning process restarts it explicitly (see async.Runner), there
// is no silent auto-resume.
type Consumer struct {
	cfg    ConsumerConfig
	logger *slog.Logger
	dial   dialFunc

	mu   sync.Mutex
	subs []subscription
	conn connection
}

// NewConsumer creates a Consumer.
func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, dial: dialAMQP}
}

// Subscribe registers a handler for a routing-key pattern. Must be called
// before Start; subscriptions live for the process lifetime.
func (c *Consumer) Subscribe(pattern string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, subscription{pattern: pattern, handler: h})
}

// Start connects (with the shared bounded backoff), declares the exchange,
// queues and bindings idempotently, then blocks dispatching messages until
// the context is cancelled or the connection is lost.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	if len(subs) == 0 {
		return pipeerr.New(pipeerr.ErrCodeConfigInvalid, "consumer started with no subscriptions", nil)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer c.closeConn()

	// One dispatch loop per subscription, each on its own channel so a slow
	// handler on one pattern cannot stall another.
	var wg sync.WaitGroup
	loopErr := make(chan error, len(subs))
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, sub := range subs {
		ch, deliveries, err := c.openSubscription(conn, sub)
		if err != nil {
			cancel()
			wg.Wait()
			return pipeerr.Wrap(pipeerr.ErrCodeBrokerUnavailable, err)
		}

		wg.Add(1)
		go func(sub subscription, ch channel, deliveries <-chan amqp.Delivery) {
			defer wg.Done()
			defer ch.Close()
			loopErr <- c.consumeLoop(loopCtx, sub, deliveries)
		}(sub, ch, deliveries)
	}

	// First loop to exit decides the outcome; cancel the rest.
	err = <-loopErr
	cancel()
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// connect dials with bounded retry using the shared backoff policy.
func (c *Consumer) connect(ctx context.Context) (connection, error) {
	var conn connection
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.cfg.Backoff.Delay(attempt - 1)
			c.logger.Warn("retrying broker connection",
				slog.String("service", c.cfg.Service),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait))
			if !sleepCtx(ctx, wait) {
				return nil, ctx.Err()
			}
		}

		var err error
		conn, err = c.dial(c.cfg.URL)
		if err != nil {
			lastErr = err
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return conn, nil
	}

	return nil, pipeerr.New(pipeerr.ErrCodeBrokerUnavailable,
		fmt.Sprintf("broker unreachable after %d attempts", c.cfg.MaxAttempts), lastErr)
}

// openSubscription declares the durable queue for a pattern, binds it, and
// begins consuming with manual acknowledgment.
func (c *Consumer) openSubscription(conn connection, sub subscription) (channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}

	if err := declareExchange(ch, c.cfg.Exchange); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	queueName := c.queueName(sub.pattern)
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.QueueBind(queueName, sub.pattern, c.cfg.Exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}

	c.logger.Info("subscription active",
		slog.String("service", c.cfg.Service),
		slog.String("queue", queueName),
		slog.String("pattern", sub.pattern))
	return ch, deliveries, nil
}

// consumeLoop dispatches deliveries until cancellation or channel close.
// A single message's failure never escapes the loop.
func (c *Consumer) consumeLoop(ctx context.Context, sub subscription, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return pipeerr.New(pipeerr.ErrCodeBrokerUnavailable,
					fmt.Sprintf("connection lost on pattern %s", sub.pattern), nil)
			}
			c.dispatch(ctx, sub, d.Body, d.Acknowledger, d.DeliveryTag)
		}
	}
}

// dispatch applies the acknowledgment discipline to one delivery:
//   - undecodable body: acknowledge and drop (requeueing a malformed
//     message would loop forever)
//   - missing correlation ID: synthesize one and warn, never fail for this
//   - handler Drop error: log and acknowledge
//   - other handler error: negatively acknowledge with requeue
func (c *Consumer) dispatch(ctx context.Context, sub subscription, body []byte, ack amqp.Acknowledger, tag uint64) {
	env, err := event.Decode(body)
	if err != nil {
		c.logger.Error("malformed message dropped",
			slog.String("pattern", sub.pattern),
			slog.String("error", err.Error()))
		_ = ack.Ack(tag, false)
		return
	}

	if env.CorrelationID == "" {
		env.CorrelationID = event.NewCorrelationID()
		c.logger.Warn("message missing correlation id, synthesized",
			slog.String("event_type", env.EventType),
			slog.String(logging.CorrelationKey, env.CorrelationID))
	}

	if err := sub.handler(ctx, env); err != nil {
		if IsDrop(err) {
			c.logger.Error("message dropped by handler",
				slog.String("event_type", env.EventType),
				slog.String(logging.CorrelationKey, env.CorrelationID),
				slog.String("error", err.Error()))
			_ = ack.Ack(tag, false)
			return
		}
		c.logger.Error("handler failed, message requeued",
			slog.String("event_type", env.EventType),
			slog.String(logging.CorrelationKey, env.CorrelationID),
			slog.String("error", err.Error()))
		_ = ack.Nack(tag, false, true)
		return
	}

	_ = ack.Ack(tag, false)
}

// queueName derives a stable, durable queue name from service and pattern.
func (c *Consumer) queueName(pattern string) string {
	sanitized := strings.NewReplacer("*", "any", "#", "all").Replace(pattern)
	return c.cfg.Service + "." + sanitized
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
