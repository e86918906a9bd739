package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docpipe/docpipe/internal/event"
	"github.com/docpipe/docpipe/internal/logging"
)

// DefaultMaxAttempts bounds publish retries (initial attempt included).
const DefaultMaxAttempts = 5

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	URL         string
	Exchange    string
	MaxAttempts int
	Backoff     Backoff
}

// Publisher sends envelopes to the durable topic exchange with bounded retry.
// Publish never returns an error: it reports success or failure as a bool and
// the caller decides criticality. A Publisher is safe for concurrent use;
// channel access is serialized because AMQP channels are not.
type Publisher struct {
	cfg    PublisherConfig
	logger *slog.Logger
	dial   dialFunc

	mu   sync.Mutex
	conn connection
	ch   channel
}

// NewPublisher creates a Publisher. No connection is made until first use;
// an unreachable broker at construction time must not fail the service.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) *Publisher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger, dial: dialAMQP}
}

// Publish sends the envelope under the given routing key. It retries
// transient transport failures up to MaxAttempts with backoff and jitter,
// re-validating connection liveness before each attempt. Exhausting retries
// yields false, logged with the correlation ID.
func (p *Publisher) Publish(ctx context.Context, routingKey string, env *event.Envelope) bool {
	body, err := env.Encode()
	if err != nil {
		p.logger.Error("failed to encode envelope",
			slog.String("event_type", env.EventType),
			slog.String(logging.CorrelationKey, env.CorrelationID),
			slog.String("error", err.Error()))
		return false
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: env.CorrelationID,
		MessageId:     env.EventID,
		Type:          env.EventType,
		Timestamp:     env.Timestamp,
		// Correlation ID duplicated into headers for redundancy.
		Headers: amqp.Table{"correlation_id": env.CorrelationID},
		Body:    body,
	}

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.cfg.Backoff.Delay(attempt - 1)
			p.logger.Warn("retrying publish",
				slog.String("event_type", env.EventType),
				slog.String(logging.CorrelationKey, env.CorrelationID),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", p.cfg.MaxAttempts),
				slog.Duration("wait", wait))
			if !sleepCtx(ctx, wait) {
				return false
			}
		}

		ch, err := p.liveChannel()
		if err != nil {
			p.logger.Warn("broker connection unavailable",
				slog.String(logging.CorrelationKey, env.CorrelationID),
				slog.String("error", err.Error()))
			continue
		}

		if err := ch.PublishWithContext(ctx, p.cfg.Exchange, routingKey, false, false, msg); err != nil {
			p.invalidate()
			p.logger.Warn("publish attempt failed",
				slog.String("event_type", env.EventType),
				slog.String(logging.CorrelationKey, env.CorrelationID),
				slog.String("error", err.Error()))
			continue
		}

		p.logger.Info("event published",
			slog.String("event_type", env.EventType),
			slog.String("routing_key", routingKey),
			slog.String(logging.CorrelationKey, env.CorrelationID))
		return true
	}

	p.logger.Error("publish failed after all attempts",
		slog.String("event_type", env.EventType),
		slog.String("routing_key", routingKey),
		slog.String(logging.CorrelationKey, env.CorrelationID),
		slog.Int("attempts", p.cfg.MaxAttempts))
	return false
}

// Close shuts down the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// liveChannel returns a usable channel, reconnecting if the connection died.
// The durable exchange is re-declared on every reconnect (idempotent).
func (p *Publisher) liveChannel() (channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil {
		return p.ch, nil
	}

	p.closeLocked()

	conn, err := p.dial(p.cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declareExchange(ch, p.cfg.Exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

// invalidate drops the cached channel so the next attempt reconnects.
func (p *Publisher) invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// sleepCtx waits for d or until ctx is done; returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
