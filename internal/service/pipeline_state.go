package service

import (
	"fmt"
	"time"

	"pdf-workbench/internal/domain"
)

// Stage is a step in a single transform request.
type Stage string

const (
	StageValidated          Stage = "validated"
	StageInputsResolved     Stage = "inputs_resolved"
	StageEngineInvoked      Stage = "engine_invoked"
	StageArtifactRegistered Stage = "artifact_registered"
	StageCompleted          Stage = "completed"
	StageFailed             Stage = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

func isAllowedTransition(from, to Stage) bool {
	if to == StageFailed {
		return !from.IsTerminal()
	}
	switch from {
	case StageValidated:
		return to == StageInputsResolved
	case StageInputsResolved:
		return to == StageEngineInvoked
	case StageEngineInvoked:
		return to == StageArtifactRegistered
	case StageArtifactRegistered:
		return to == StageCompleted
	default:
		return false
	}
}

// execution tracks one request through the pipeline stages.
type execution struct {
	stage     Stage
	operation domain.OperationKind
	sessionID string
	started   time.Time
	logger    domain.Logger
	history   []Stage
}

func newExecution(req *domain.OperationRequest, logger domain.Logger) *execution {
	e := &execution{
		stage:     StageValidated,
		operation: req.Kind(),
		sessionID: req.SessionID,
		started:   time.Now(),
		logger:    logger,
	}
	e.history = append(e.history, StageValidated)
	logger.Debug("Pipeline stage", "operation", e.operation, "session_id", e.sessionID, "stage", e.stage)
	return e
}

// advance moves to the next stage; a disallowed transition is a programming error.
func (e *execution) advance(to Stage) error {
	if !isAllowedTransition(e.stage, to) {
		return fmt.Errorf("disallowed pipeline transition for %s: %s -> %s", e.operation, e.stage, to)
	}
	e.stage = to
	e.history = append(e.history, to)
	e.logger.Debug("Pipeline stage", "operation", e.operation, "session_id", e.sessionID, "stage", to)
	return nil
}

// fail records the failure and returns err unchanged.
func (e *execution) fail(err error) error {
	from := e.stage
	if !from.IsTerminal() {
		e.stage = StageFailed
		e.history = append(e.history, StageFailed)
	}
	e.logger.Warn("Operation failed", "operation", e.operation, "session_id", e.sessionID,
		"stage", from, "duration_ms", time.Since(e.started).Milliseconds(), "error", err.Error())
	return err
}

func (e *execution) elapsed() time.Duration {
	return time.Since(e.started)
}
