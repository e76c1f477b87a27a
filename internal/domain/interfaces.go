package domain

import (
	"context"
	"io"
	"os"
	"time"
)

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
}

// Config defines the interface for configuration management
type Config interface {
	GetServerPort() string
	GetStorageRoot() string
	GetMaxFileSize() int64
	GetLogLevel() string
	GetCORSOrigins() []string

	GetSessionIdleTimeout() time.Duration
	GetReapInterval() time.Duration
	GetOrphanGracePeriod() time.Duration

	GetEngineTimeout() time.Duration
	GetEngineConcurrency() int
	GetRenderDPI() float64
	GetSofficePath() string
	GetOCRPath() string

	GetRateLimitRPS() float64
	GetRateLimitBurst() int

	GetSupabaseURL() string
	GetSupabaseKey() string
	GetSupabaseEventsTable() string
}

// WorkbenchService is what the HTTP layer needs from the transform pipeline.
// Every returned error is an *errors.AppError from pkg/errors.
type WorkbenchService interface {
	Upload(ctx context.Context, sessionID, filename string, src io.Reader) (*Artifact, error)
	Execute(ctx context.Context, req *OperationRequest) (*OperationResult, error)
	Describe(sessionID, artifactID string) (*Artifact, error)
	Open(sessionID, artifactID string) (*Artifact, *os.File, error)
	RenderPreview(ctx context.Context, sessionID, artifactID string, page int, scale float64) ([]byte, error)
	SessionArtifacts(sessionID string) ([]*Artifact, error)
	Remove(ctx context.Context, sessionID, artifactID string) error
	Cleanup(sessionID string, names []string) (CleanupResult, error)
	Degraded() bool
}
