package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"pdf-workbench/internal/domain"
)

var (
	ErrLedgerQueueFull = errors.New("event ledger queue is full")
	ErrLedgerClosed    = errors.New("event ledger is closed")
)

// AsyncEventLedger queues events and writes them to the wrapped ledger from a
// single goroutine, so callers never wait on the remote insert.
type AsyncEventLedger struct {
	next    domain.EventLedger
	events  chan domain.ArtifactEvent
	timeout time.Duration
	logger  domain.Logger
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncEventLedger starts the writer. Each write gets its own timeout.
func NewAsyncEventLedger(next domain.EventLedger, buffer int, timeout time.Duration, logger domain.Logger) *AsyncEventLedger {
	if buffer < 1 {
		buffer = 1
	}
	l := &AsyncEventLedger{
		next:    next,
		events:  make(chan domain.ArtifactEvent, buffer),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues the event. A full queue drops it.
func (l *AsyncEventLedger) Record(ctx context.Context, event domain.ArtifactEvent) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrLedgerClosed
	}

	select {
	case l.events <- event:
		return nil
	default:
		return ErrLedgerQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (l *AsyncEventLedger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *AsyncEventLedger) run() {
	defer close(l.done)
	for event := range l.events {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		err := l.next.Record(ctx, event)
		cancel()
		if err != nil {
			l.logger.Warn("Failed to record artifact event", "artifact_id", event.ArtifactID, "event", event.Type, "error", err.Error())
		}
	}
}
