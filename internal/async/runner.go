// Package async supervises the long-lived pieces of a service process:
// consumers and sweep loops that should survive transient crashes but give
// up after repeated failure rather than flap forever.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

// Task is one supervised unit of work. Run blocks until it finishes or
// fails; returning nil means orderly completion and ends supervision.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner restarts failed tasks with exponential backoff, up to a bound.
type Runner struct {
	maxRestarts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	logger       *slog.Logger
}

// NewRunner creates a Runner. Non-positive arguments fall back to defaults
// (5 restarts, 1s initial delay, 30s cap).
func NewRunner(maxRestarts int, initialDelay time.Duration, logger *slog.Logger) *Runner {
	if maxRestarts <= 0 {
		maxRestarts = 5
	}
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		maxRestarts:  maxRestarts,
		initialDelay: initialDelay,
		maxDelay:     30 * time.Second,
		logger:       logger,
	}
}

// Run supervises all tasks until every one completes, one exhausts its
// restarts, or the context is cancelled. The first failure cancels the
// remaining tasks: the services here are interdependent enough that running
// on without a sibling only hides the outage.
func (r *Runner) Run(ctx context.Context, tasks ...Task) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		eg.Go(func() error {
			return r.supervise(ctx, task)
		})
	}
	return eg.Wait()
}

func (r *Runner) supervise(ctx context.Context, task Task) error {
	delay := r.initialDelay
	var lastErr error

	for restart := 0; restart <= r.maxRestarts; restart++ {
		if restart > 0 {
			r.logger.Warn("restarting task",
				slog.String("task", task.Name),
				slog.Int("restart", restart),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > r.maxDelay {
				delay = r.maxDelay
			}
		}

		err := task.Run(ctx)
		if err == nil {
			r.logger.Info("task completed", slog.String("task", task.Name))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	return pipeerr.New(pipeerr.ErrCodeInternal,
		fmt.Sprintf("task %s failed after %d restarts", task.Name, r.maxRestarts), lastErr)
}
