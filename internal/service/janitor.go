package service

import (
	"context"
	"time"

	"pdf-workbench/internal/domain"
)

// Reconciler removes stored files that no artifact record accounts for.
type Reconciler interface {
	Reconcile(grace time.Duration) (int, error)
}

// Janitor reclaims idle sessions and orphaned files in the background.
type Janitor struct {
	sessions domain.SessionRegistry
	store    Reconciler
	interval time.Duration
	grace    time.Duration
	logger   domain.Logger
	now      func() time.Time
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(sessions domain.SessionRegistry, store Reconciler, interval, grace time.Duration, logger domain.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		sessions: sessions,
		store:    store,
		interval: interval,
		grace:    grace,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile deletes unknown files older than the grace period. Run it once at startup.
func (j *Janitor) Reconcile() int {
	removed, err := j.store.Reconcile(j.grace)
	if err != nil {
		j.logger.Error("Storage reconciliation failed", err, "removed", removed)
		return removed
	}
	if removed > 0 {
		j.logger.Info("Removed orphaned files", "count", removed, "grace", j.grace.String())
	}
	return removed
}

// Sweep runs one reap pass followed by reconciliation.
func (j *Janitor) Sweep() int {
	reaped := j.sessions.Reap(j.now())
	if reaped > 0 {
		j.logger.Info("Reaped idle session artifacts", "count", reaped, "live_sessions", j.sessions.Len())
	} else {
		j.logger.Debug("Janitor sweep", "live_sessions", j.sessions.Len())
	}
	return reaped + j.Reconcile()
}

// Run sweeps on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("Janitor started", "interval", j.interval.String())
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}
