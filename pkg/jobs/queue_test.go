package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerProcessesTasks(t *testing.T) {
	var mu sync.Mutex
	seen := make([]string, 0)
	done := make(chan struct{})

	runner := NewRunner("test", func(_ context.Context, task Task) error {
		mu.Lock()
		seen = append(seen, task.ID)
		mu.Unlock()
		if len(seen) == 2 {
			close(done)
		}
		return nil
	}, Options{Workers: 2})

	runner.Start(context.Background())
	defer runner.Stop()

	require.NoError(t, runner.Submit(Task{ID: "t1", Kind: "noop"}))
	require.NoError(t, runner.Submit(Task{ID: "t2", Kind: "noop"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks were not processed")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 2)
}

func TestRunnerRetriesUntilMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	runner := NewRunner("test", func(_ context.Context, task Task) error {
		mu.Lock()
		attempts++
		current := attempts
		mu.Unlock()
		if current == 3 {
			close(done)
		}
		return errors.New("always fails")
	}, Options{MaxAttempts: 3, RetryDelay: 5 * time.Millisecond})

	runner.Start(context.Background())
	defer runner.Stop()

	require.NoError(t, runner.Submit(Task{ID: "t1", Kind: "flaky"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not retried to exhaustion")
	}
}

func TestRunnerRejectsBeforeStart(t *testing.T) {
	runner := NewRunner("test", func(context.Context, Task) error { return nil }, Options{})
	err := runner.Submit(Task{ID: "t1"})
	require.Error(t, err)
}
