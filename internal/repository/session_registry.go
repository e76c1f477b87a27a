package repository

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pdf-workbench/internal/domain"
)

// Reasons passed to the delete observer.
const (
	ReasonCleanup = "cleanup"
	ReasonIdle    = "idle"
	ReasonOrphan  = "orphan"
)

// RegistryOption configures a SessionRegistry.
type RegistryOption func(*SessionRegistry)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) { r.now = now }
}

// WithDeleteObserver is called after every artifact the registry deletes.
func WithDeleteObserver(fn func(a *domain.Artifact, reason string)) RegistryOption {
	return func(r *SessionRegistry) { r.onDelete = fn }
}

// SessionRegistry maps sessions to their artifacts and reclaims them.
// The map lock is only held for lookups; each session has its own lock that
// serializes registration against cleanup.
type SessionRegistry struct {
	store       domain.ArtifactStore
	logger      domain.Logger
	idleTimeout time.Duration
	now         func() time.Time
	onDelete    func(a *domain.Artifact, reason string)

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu           sync.Mutex
	id           string
	artifacts    map[string]struct{}
	lastActivity time.Time
	// closed entries have been torn down; callers must fetch a fresh one.
	closed bool
}

// NewSessionRegistry creates a registry that deletes through store.
func NewSessionRegistry(store domain.ArtifactStore, idleTimeout time.Duration, logger domain.Logger, opts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		store:       store,
		logger:      logger,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*sessionEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch marks the session active, creating it if needed.
func (r *SessionRegistry) Touch(sessionID string) {
	if strings.TrimSpace(sessionID) == "" {
		return
	}
	e := r.acquire(sessionID, true)
	e.lastActivity = r.now()
	e.mu.Unlock()
}

// Register attaches an existing artifact to the session that owns it.
func (r *SessionRegistry) Register(sessionID, artifactID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ErrSessionRequired
	}

	a, _, err := r.store.Resolve(artifactID)
	if err != nil {
		return err
	}
	if a.SessionID != sessionID {
		return fmt.Errorf("%w: %s", domain.ErrForbidden, artifactID)
	}

	e := r.acquire(sessionID, true)
	defer e.mu.Unlock()
	e.artifacts[artifactID] = struct{}{}
	e.lastActivity = r.now()
	return nil
}

// RegisterNew runs create and registers its artifact while holding the session
// lock. A concurrent cleanup either runs first, in which case the artifact
// lands in a fresh session record, or runs after and deletes it.
func (r *SessionRegistry) RegisterNew(sessionID string, create func() (*domain.Artifact, error)) (*domain.Artifact, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrSessionRequired
	}

	e := r.acquire(sessionID, true)
	defer e.mu.Unlock()

	a, err := create()
	if err != nil {
		return nil, err
	}
	if a.SessionID != sessionID {
		r.store.Delete(a.ID)
		return nil, fmt.Errorf("%w: created artifact %s is owned by %q", domain.ErrForbidden, a.ID, a.SessionID)
	}

	e.artifacts[a.ID] = struct{}{}
	e.lastActivity = r.now()
	return a, nil
}

// Unregister detaches an artifact from its session without deleting it.
func (r *SessionRegistry) Unregister(sessionID, artifactID string) {
	e := r.acquire(sessionID, false)
	if e == nil {
		return
	}
	delete(e.artifacts, artifactID)
	e.mu.Unlock()
}

// CleanupNow tears the session down. Every registered artifact is deleted,
// as is every named artifact (by id or stored name) the session owns.
// Unknown names and repeated calls are no-ops.
func (r *SessionRegistry) CleanupNow(sessionID string, artifactNames []string) domain.CleanupResult {
	result := domain.CleanupResult{SessionID: sessionID}
	if strings.TrimSpace(sessionID) == "" {
		result.Skipped = len(artifactNames)
		return result
	}

	// Keyed by id and stored name so names removed with the session are not
	// reported as skipped.
	handled := make(map[string]bool)

	if e := r.acquire(sessionID, false); e != nil {
		for _, id := range r.close(e) {
			if a, _, err := r.store.Resolve(id); err == nil {
				handled[a.StoredName] = true
			}
			handled[id] = true
			if r.deleteArtifact(id, ReasonCleanup) {
				result.Deleted++
			}
		}
		e.mu.Unlock()
	}

	for _, name := range artifactNames {
		name = strings.TrimSpace(name)
		if name == "" || handled[name] {
			continue
		}

		a := r.lookup(name)
		switch {
		case a == nil:
			result.Skipped++
		case handled[a.ID]:
		case a.SessionID != sessionID:
			result.Skipped++
			r.logger.Warn("Cleanup skipped artifact owned by another session",
				"session_id", sessionID, "artifact_id", a.ID)
		default:
			if r.deleteArtifact(a.ID, ReasonCleanup) {
				result.Deleted++
			}
			handled[a.ID] = true
			handled[a.StoredName] = true
		}
	}

	r.logger.Info("Session cleaned up", "session_id", sessionID, "deleted", result.Deleted, "skipped", result.Skipped)
	return result
}

// Reap tears down sessions idle for longer than the idle timeout and deletes
// artifacts older than the timeout that no live session holds. It returns the
// number of artifacts deleted.
func (r *SessionRegistry) Reap(now time.Time) int {
	r.mu.Lock()
	entries := make([]*sessionEntry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	deleted, sessions := 0, 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.closed && now.Sub(e.lastActivity) > r.idleTimeout {
			sessions++
			for _, id := range r.close(e) {
				if r.deleteArtifact(id, ReasonIdle) {
					deleted++
				}
			}
		}
		e.mu.Unlock()
	}

	orphans := 0
	for _, a := range r.store.List() {
		if now.Sub(a.CreatedAt) <= r.idleTimeout || r.holds(a.SessionID, a.ID) {
			continue
		}
		if r.deleteArtifact(a.ID, ReasonOrphan) {
			orphans++
		}
	}

	if sessions > 0 || orphans > 0 {
		r.logger.Info("Reaped idle sessions", "sessions", sessions, "artifacts", deleted, "orphans", orphans)
	}
	return deleted + orphans
}

// Snapshot returns a copy of the session state.
func (r *SessionRegistry) Snapshot(sessionID string) (*domain.Session, bool) {
	e := r.acquire(sessionID, false)
	if e == nil {
		return nil, false
	}
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.artifacts))
	for id := range e.artifacts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &domain.Session{ID: e.id, ArtifactIDs: ids, LastActivityAt: e.lastActivity}, true
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// acquire returns the session entry locked. Closed entries are skipped so a
// caller never mutates a session that has already been torn down.
func (r *SessionRegistry) acquire(sessionID string, create bool) *sessionEntry {
	for {
		r.mu.Lock()
		e, ok := r.sessions[sessionID]
		if !ok {
			if !create {
				r.mu.Unlock()
				return nil
			}
			e = &sessionEntry{
				id:           sessionID,
				artifacts:    make(map[string]struct{}),
				lastActivity: r.now(),
			}
			r.sessions[sessionID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if !e.closed {
			return e
		}
		e.mu.Unlock()
	}
}

// close marks a locked entry closed, drops it from the map, and returns the
// ids it held.
func (r *SessionRegistry) close(e *sessionEntry) []string {
	e.closed = true

	r.mu.Lock()
	if r.sessions[e.id] == e {
		delete(r.sessions, e.id)
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(e.artifacts))
	for id := range e.artifacts {
		ids = append(ids, id)
	}
	e.artifacts = make(map[string]struct{})
	return ids
}

func (r *SessionRegistry) holds(sessionID, artifactID string) bool {
	e := r.acquire(sessionID, false)
	if e == nil {
		return false
	}
	defer e.mu.Unlock()
	_, ok := e.artifacts[artifactID]
	return ok
}

func (r *SessionRegistry) lookup(name string) *domain.Artifact {
	if a, _, err := r.store.Resolve(name); err == nil {
		return a
	}
	if a, ok := r.store.FindByStoredName(name); ok {
		return a
	}
	return nil
}

// deleteArtifact reports whether an artifact was actually removed. Missing
// artifacts are not errors.
func (r *SessionRegistry) deleteArtifact(id, reason string) bool {
	a, _, err := r.store.Resolve(id)
	if err != nil {
		return false
	}
	if err := r.store.Delete(id); err != nil {
		if !errors.Is(err, domain.ErrArtifactNotFound) {
			r.logger.Error("Failed to delete artifact", err, "artifact_id", id, "reason", reason)
		}
		return false
	}
	if r.onDelete != nil {
		r.onDelete(a, reason)
	}
	return true
}
