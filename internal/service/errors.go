package service

import (
	"errors"
	"fmt"
	"strings"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"
)

// toAppError converts a domain error into a typed application error. The
// details carry the operation and artifact so logs need no re-parsing.
func toAppError(err error, op domain.OperationKind, artifactID string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var appErr *apperrors.AppError

	var vErr *domain.ValidationError
	var engErr *domain.EngineError
	switch {
	case errors.As(err, &vErr):
		appErr = apperrors.NewValidationError(vErr.Field, vErr.Message, err)
	case errors.Is(err, domain.ErrSessionRequired):
		appErr = apperrors.NewValidationError("session_id", "session id is required", err)
	case errors.Is(err, domain.ErrArtifactNotFound):
		appErr = apperrors.NewNotFoundError("artifact not found", err)
	case errors.Is(err, domain.ErrForbidden):
		appErr = apperrors.NewForbiddenError("artifact belongs to another session", err)
	case errors.Is(err, domain.ErrEngineUnavailable):
		engine := "required engine"
		if errors.As(err, &engErr) {
			engine = engErr.Engine
		}
		appErr = apperrors.NewEngineUnavailableError(
			fmt.Sprintf("%s is not available in this deployment", engine), err)
	case errors.As(err, &engErr):
		appErr = apperrors.NewEngineFailureError(engineMessage(engErr.Kind), err)
	case errors.Is(err, domain.ErrStorage), errors.Is(err, domain.ErrNameCollision):
		appErr = apperrors.NewStorageError("failed to store artifact", err)
	default:
		appErr = apperrors.NewInternalError("operation failed", err)
	}

	appErr.Details = detailString(op, artifactID)
	return appErr
}

func engineMessage(kind domain.EngineErrorKind) string {
	switch kind {
	case domain.EnginePasswordRequired:
		return "document is password protected"
	case domain.EngineCorrupt:
		return "document is damaged or not a valid file"
	case domain.EngineUnsupported:
		return "document uses features that cannot be processed"
	case domain.EngineTimeout:
		return "processing took too long"
	default:
		return "document could not be processed"
	}
}

func detailString(op domain.OperationKind, artifactID string) string {
	var parts []string
	if op != "" {
		parts = append(parts, "operation "+string(op))
	}
	if artifactID != "" {
		parts = append(parts, "artifact "+artifactID)
	}
	return strings.Join(parts, ", ")
}
