// Package bus implements the reliable publish/consume protocol shared by
// every docpipe service: a correlation-tracked envelope over a durable
// topic-routed RabbitMQ exchange, with bounded reconnect/retry, backoff with
// jitter, and the acknowledgment discipline described in the service contract.
package bus

import (
	"math/rand"
	"time"
)

// Backoff is the retry delay policy shared by the Publisher and Consumer.
// Delays grow exponentially from InitialDelay, capped at MaxDelay, with a
// ±Jitter fraction of randomness to avoid synchronized retry storms.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultBackoff returns the pipeline-wide default policy: base 1s, cap 30s,
// doubling, ±10% jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= b.Multiplier
		if delay >= float64(b.MaxDelay) {
			delay = float64(b.MaxDelay)
			break
		}
	}

	if b.Jitter > 0 {
		spread := delay * b.Jitter
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// TotalDelay returns the sum of nominal delays (without jitter) for n
// retries. Useful for bounding worst-case publish latency.
func (b Backoff) TotalDelay(n int) time.Duration {
	noJitter := b
	noJitter.Jitter = 0
	var total time.Duration
	for i := 0; i < n; i++ {
		total += noJitter.Delay(i)
	}
	return total
}
