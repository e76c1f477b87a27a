package domain

import "time"

// Session is a read-only snapshot of a client's working set.
type Session struct {
	ID             string    `json:"id"`
	ArtifactIDs    []string  `json:"artifact_ids"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// CleanupResult reports what an explicit cleanup removed.
type CleanupResult struct {
	SessionID string `json:"session_id"`
	Deleted   int    `json:"deleted"`
	Skipped   int    `json:"skipped"`
}

// SessionRegistry tracks which artifacts belong to which session and reclaims them.
type SessionRegistry interface {
	Touch(sessionID string)
	Register(sessionID, artifactID string) error
	// RegisterNew creates an artifact and registers it under one session lock,
	// so a concurrent cleanup observes either both steps or neither.
	RegisterNew(sessionID string, create func() (*Artifact, error)) (*Artifact, error)
	Unregister(sessionID, artifactID string)
	CleanupNow(sessionID string, artifactNames []string) CleanupResult
	Reap(now time.Time) int
	Snapshot(sessionID string) (*Session, bool)
	// Len returns the number of live sessions.
	Len() int
}
