// Package runner defines the durable step-execution contract the pipeline
// runs under, plus a local implementation for environments without an
// external durable host. The pipeline classifies failures as terminal or
// retryable; deciding when and whether to re-invoke a step is the runner's
// responsibility, never the pipeline's.
package runner

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// StepRunner executes a named durable step. Implementations guarantee
// at-least-once execution; a step function must therefore be safe to
// re-invoke after a partial failure.
type StepRunner interface {
	Do(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

// Inline runs each step directly with no retry or persistence. It is the
// degenerate runner used inside an external durable host, which already
// wraps every invocation with its own retry machinery.
type Inline struct{}

func (Inline) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// RetryClassifier reports whether a step error should be retried.
// The pipeline supplies one backed by its failure taxonomy.
type RetryClassifier func(err error) bool

// Local is a process-local stand-in for the durable host: it retries
// retryable step failures with fixed backoff and runs whole instances with
// bounded concurrency.
type Local struct {
	Logger      *slog.Logger
	Retryable   RetryClassifier
	MaxAttempts int
	Backoff     time.Duration
}

// NewLocal creates a Local runner with the given classifier and defaults
// of three attempts spaced five seconds apart.
func NewLocal(logger *slog.Logger, retryable RetryClassifier) *Local {
	return &Local{
		Logger:      logger.With("system", "runner"),
		Retryable:   retryable,
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
	}
}

// Do runs fn, retrying retryable failures up to MaxAttempts.
func (l *Local) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if l.Retryable == nil || !l.Retryable(err) {
			return err
		}
		if attempt == l.MaxAttempts {
			break
		}

		l.Logger.Warn(
			"step failed, retrying",
			"step", name,
			"attempt", attempt,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.Backoff):
		}
	}
	return err
}

// Pool executes instance functions with bounded concurrency. Instances are
// isolated by business id and share no in-process mutable state, so the
// only coordination needed is the concurrency cap.
type Pool struct {
	group *errgroup.Group
	ctx   context.Context
}

// NewPool creates a Pool capped at limit concurrent instances.
func NewPool(ctx context.Context, limit int) *Pool {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	return &Pool{group: g, ctx: gctx}
}

// Go schedules an instance function on the pool.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.group.Go(func() error {
		return fn(p.ctx)
	})
}

// Wait blocks until scheduled instances complete and returns the first error.
func (p *Pool) Wait() error {
	return p.group.Wait()
}
