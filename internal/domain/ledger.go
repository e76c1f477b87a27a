package domain

import (
	"context"
	"time"
)

// ArtifactEventType names an artifact lifecycle change.
type ArtifactEventType string

const (
	EventArtifactCreated ArtifactEventType = "created"
	EventArtifactDeleted ArtifactEventType = "deleted"
)

// ArtifactEvent is one row in the artifact ledger.
type ArtifactEvent struct {
	Type             ArtifactEventType `json:"event"`
	ArtifactID       string            `json:"artifact_id"`
	SessionID        string            `json:"session_id"`
	Kind             OperationKind     `json:"kind"`
	StoredName       string            `json:"stored_name"`
	SourceArtifactID string            `json:"source_artifact_id,omitempty"`
	Size             int64             `json:"size"`
	PageCount        *int              `json:"page_count,omitempty"`
	Checksum         string            `json:"checksum,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	OccurredAt       time.Time         `json:"occurred_at"`
}

// NewArtifactEvent builds an event from an artifact snapshot.
func NewArtifactEvent(t ArtifactEventType, a *Artifact, reason string, at time.Time) ArtifactEvent {
	return ArtifactEvent{
		Type:             t,
		ArtifactID:       a.ID,
		SessionID:        a.SessionID,
		Kind:             a.Kind,
		StoredName:       a.StoredName,
		SourceArtifactID: a.SourceArtifactID,
		Size:             a.Size,
		PageCount:        a.PageCount,
		Checksum:         a.Checksum,
		Reason:           reason,
		OccurredAt:       at.UTC(),
	}
}

// EventLedger records artifact lifecycle events outside the process. Failures
// never affect the operation that produced the event.
type EventLedger interface {
	Record(ctx context.Context, event ArtifactEvent) error
}

// OperationResult is what a completed transform hands back to the caller.
type OperationResult struct {
	Artifact  *Artifact              `json:"artifact"`
	Operation OperationKind          `json:"operation"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
