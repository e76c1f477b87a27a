package engine

import (
	"context"
	"fmt"
	"time"

	"pdf-workbench/internal/domain"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent engine calls and gives each one a deadline.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  domain.Logger
}

// NewPool creates a pool running at most concurrency calls at once.
func NewPool(concurrency int, timeout time.Duration, logger domain.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		logger:  logger,
	}
}

// Do runs fn on a worker slot. Cancellation of ctx is ignored; only the pool
// deadline stops a call. When the deadline passes Do returns a timeout error
// at once, and onLate runs after fn eventually returns so it can remove
// whatever the abandoned call wrote.
func (p *Pool) Do(ctx context.Context, engine string, fn func(context.Context) error, onLate func()) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)

	if err := p.sem.Acquire(runCtx, 1); err != nil {
		cancel()
		return domain.NewEngineError(engine, domain.EngineTimeout, fmt.Errorf("no capacity within %s", p.timeout))
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- domain.NewEngineError(engine, domain.EngineFailed, fmt.Errorf("panic: %v", r))
			}
		}()
		done <- fn(runCtx)
	}()

	select {
	case err := <-done:
		cancel()
		return err
	case <-runCtx.Done():
		p.logger.Warn("Engine call timed out", "engine", engine, "timeout", p.timeout.String())
		go func() {
			<-done
			cancel()
			if onLate != nil {
				onLate()
			}
		}()
		return domain.NewEngineError(engine, domain.EngineTimeout, runCtx.Err())
	}
}
