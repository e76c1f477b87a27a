package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"

	"github.com/gorilla/mux"
)

const maxOperationBody = 1 << 20

// operationEnvelope holds the fields shared by every operation body. The
// kind-specific parameters are decoded from the same object.
type operationEnvelope struct {
	SessionID   string   `json:"session_id"`
	Files       []string `json:"files"`
	DisplayName string   `json:"display_name"`
}

// OperationResponse is returned for a completed transform.
type OperationResponse struct {
	Operation domain.OperationKind   `json:"operation"`
	Artifact  ArtifactResponse       `json:"artifact"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// OperationHandler runs transforms
type OperationHandler struct {
	service domain.WorkbenchService
	logger  domain.Logger
}

// NewOperationHandler creates a new operation handler
func NewOperationHandler(service domain.WorkbenchService, logger domain.Logger) *OperationHandler {
	return &OperationHandler{
		service: service,
		logger:  logger,
	}
}

// Kinds lists the supported operations
func (h *OperationHandler) Kinds(w http.ResponseWriter, r *http.Request) {
	kinds := domain.OperationKinds()
	resp := make([]map[string]interface{}, 0, len(kinds))
	for _, k := range kinds {
		minInputs, maxInputs := domain.InputArity(k)
		resp = append(resp, map[string]interface{}{
			"kind":       k,
			"min_inputs": minInputs,
			"max_inputs": maxInputs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": resp})
}

// Execute handles POST /operations/{kind}
func (h *OperationHandler) Execute(w http.ResponseWriter, r *http.Request) {
	kind := domain.OperationKind(strings.ToLower(mux.Vars(r)["kind"]))
	if !kind.Valid() || kind == domain.OpUpload {
		writeAppError(w, h.logger, apperrors.NewNotFoundError("unknown operation "+string(kind), nil))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOperationBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeAppError(w, h.logger, apperrors.NewValidationError("body", "could not read body", err))
		return
	}

	var env operationEnvelope
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			writeAppError(w, h.logger, apperrors.NewValidationError("body", "malformed JSON body", err))
			return
		}
	}

	params, err := domain.DecodeParams(kind, raw)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			writeAppError(w, h.logger, apperrors.NewValidationError(vErr.Field, vErr.Message, err))
			return
		}
		writeAppError(w, h.logger, err)
		return
	}

	req := &domain.OperationRequest{
		SessionID:   sessionFrom(r, env.SessionID),
		Inputs:      env.Files,
		DisplayName: env.DisplayName,
		Params:      params,
	}

	h.logger.Debug("Executing operation", "request", req.String())
	result, err := h.service.Execute(r.Context(), req)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, OperationResponse{
		Operation: result.Operation,
		Artifact:  newArtifactResponse(result.Artifact),
		Metadata:  result.Metadata,
	})
}
