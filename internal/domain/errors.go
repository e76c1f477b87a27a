package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrForbidden         = errors.New("artifact belongs to another session")
	ErrNameCollision     = errors.New("stored name already in use")
	ErrSessionRequired   = errors.New("session id is required")
	ErrStorage           = errors.New("storage failure")
	ErrEngineFailure     = errors.New("engine failure")
	ErrEngineUnavailable = errors.New("engine unavailable")
)

// ValidationError represents a validation error with field and message information.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// EngineErrorKind classifies why an external engine call failed.
type EngineErrorKind string

const (
	EngineCorrupt          EngineErrorKind = "corrupt"
	EngineUnsupported      EngineErrorKind = "unsupported"
	EnginePasswordRequired EngineErrorKind = "password_required"
	EngineTimeout          EngineErrorKind = "timeout"
	EngineMissing          EngineErrorKind = "unavailable"
	EngineFailed           EngineErrorKind = "failed"
)

// EngineError is returned by every engine adapter. It unwraps to
// ErrEngineUnavailable for missing engines and ErrEngineFailure otherwise.
type EngineError struct {
	Engine string
	Kind   EngineErrorKind
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s engine: %s: %v", e.Engine, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s engine: %s", e.Engine, e.Kind)
}

func (e *EngineError) Unwrap() []error {
	sentinel := ErrEngineFailure
	if e.Kind == EngineMissing {
		sentinel = ErrEngineUnavailable
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// NewEngineError builds an EngineError.
func NewEngineError(engine string, kind EngineErrorKind, err error) *EngineError {
	return &EngineError{Engine: engine, Kind: kind, Err: err}
}
