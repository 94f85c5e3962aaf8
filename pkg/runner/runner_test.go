package runner_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ledgerworks/factura/pkg/runner"
)

func newLocal(retryable runner.RetryClassifier) *runner.Local {
	l := runner.NewLocal(slog.New(slog.DiscardHandler), retryable)
	l.Backoff = time.Millisecond
	return l
}

func TestLocalRetriesRetryableFailures(t *testing.T) {
	attempts := 0
	l := newLocal(func(error) bool { return true })

	err := l.Do(context.Background(), "flaky", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts: got %d, want 3", attempts)
	}
}

func TestLocalStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	l := newLocal(func(error) bool { return false })

	err := l.Do(context.Background(), "broken", func(context.Context) error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts: got %d, want 1", attempts)
	}
}

func TestLocalExhaustsAttempts(t *testing.T) {
	attempts := 0
	l := newLocal(func(error) bool { return true })

	err := l.Do(context.Background(), "down", func(context.Context) error {
		attempts++
		return errors.New("still transient")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != l.MaxAttempts {
		t.Errorf("attempts: got %d, want %d", attempts, l.MaxAttempts)
	}
}

func TestPoolCapsConcurrency(t *testing.T) {
	const limit = 2

	var mu sync.Mutex
	running, peak := 0, 0

	pool := runner.NewPool(context.Background(), limit)
	for range 8 {
		pool.Go(func(context.Context) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			return nil
		})
	}

	if err := pool.Wait(); err != nil {
		t.Fatalf("pool wait: %v", err)
	}
	if peak > limit {
		t.Errorf("peak concurrency %d exceeds limit %d", peak, limit)
	}
}
