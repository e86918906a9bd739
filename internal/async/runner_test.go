package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerr "github.com/docpipe/docpipe/internal/errors"
)

func fastRunner(maxRestarts int) *Runner {
	return NewRunner(maxRestarts, time.Millisecond, nil)
}

func TestRun_TaskRecoversAfterTransientFailures(t *testing.T) {
	var attempts atomic.Int64
	task := Task{Name: "flaky", Run: func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}}

	err := fastRunner(5).Run(context.Background(), task)
	require.NoError(t, err)
	assert.EqualValues(t, 3, attempts.Load())
}

func TestRun_RestartsAreBounded(t *testing.T) {
	var attempts atomic.Int64
	task := Task{Name: "doomed", Run: func(context.Context) error {
		attempts.Add(1)
		return errors.New("always fails")
	}}

	err := fastRunner(2).Run(context.Background(), task)
	require.Error(t, err)
	assert.EqualValues(t, 3, attempts.Load(), "initial attempt plus two restarts")
	assert.Equal(t, pipeerr.ErrCodeInternal, pipeerr.CodeOf(err))
}

func TestRun_CancellationStopsSupervision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := Task{Name: "blocking", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	done := make(chan error, 1)
	go func() { done <- fastRunner(5).Run(ctx, task) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

func TestRun_FailingTaskCancelsSiblings(t *testing.T) {
	siblingStopped := make(chan struct{})
	tasks := []Task{
		{Name: "fails", Run: func(context.Context) error {
			return errors.New("fatal")
		}},
		{Name: "sibling", Run: func(ctx context.Context) error {
			<-ctx.Done()
			close(siblingStopped)
			return ctx.Err()
		}},
	}

	err := fastRunner(1).Run(context.Background(), tasks...)
	require.Error(t, err)

	select {
	case <-siblingStopped:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling task was not cancelled")
	}
}

func TestRun_MultipleTasksAllComplete(t *testing.T) {
	var completed atomic.Int64
	mk := func(name string) Task {
		return Task{Name: name, Run: func(context.Context) error {
			completed.Add(1)
			return nil
		}}
	}

	err := fastRunner(1).Run(context.Background(), mk("a"), mk("b"), mk("c"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, completed.Load())
}
