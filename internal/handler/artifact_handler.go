package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"

	"github.com/gorilla/mux"
)

const (
	multipartOverhead = 1 << 20
	maxCleanupBody    = 64 << 10
)

// ArtifactResponse is the public view of an artifact.
type ArtifactResponse struct {
	ID               string               `json:"id"`
	StoredName       string               `json:"stored_name"`
	DisplayName      string               `json:"display_name"`
	Kind             domain.OperationKind `json:"kind"`
	PageCount        *int                 `json:"page_count"`
	Size             int64                `json:"size"`
	Checksum         string               `json:"checksum"`
	ContentType      string               `json:"content_type"`
	SourceArtifactID string               `json:"source_artifact_id,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	URL              string               `json:"url"`
}

func newArtifactResponse(a *domain.Artifact) ArtifactResponse {
	return ArtifactResponse{
		ID:               a.ID,
		StoredName:       a.StoredName,
		DisplayName:      a.DisplayName,
		Kind:             a.Kind,
		PageCount:        a.PageCount,
		Size:             a.Size,
		Checksum:         a.Checksum,
		ContentType:      a.ContentType,
		SourceArtifactID: a.SourceArtifactID,
		CreatedAt:        a.CreatedAt,
		URL:              "/api/v1/download/" + url.PathEscape(a.ID),
	}
}

// ArtifactHandler handles uploads, downloads and artifact lifecycle requests
type ArtifactHandler struct {
	service     domain.WorkbenchService
	maxFileSize int64
	logger      domain.Logger
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(service domain.WorkbenchService, maxFileSize int64, logger domain.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		service:     service,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Health reports service status; degraded storage answers 503.
func (h *ArtifactHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.service.Degraded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "service": "pdf-workbench"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pdf-workbench"})
}

// Upload handles multipart uploads with a single "file" part
func (h *ArtifactHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeAppError(w, h.logger, apperrors.NewValidationError("file", "file is required", err))
		return
	}
	defer file.Close()

	session := sessionFrom(r, r.FormValue("session_id"))
	artifact, err := h.service.Upload(r.Context(), session, header.Filename, file)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, newArtifactResponse(artifact))
}

// List returns the artifacts registered to the caller's session
func (h *ArtifactHandler) List(w http.ResponseWriter, r *http.Request) {
	session, _ := GetSessionFromContext(r)
	artifacts, err := h.service.SessionArtifacts(session)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	resp := make([]ArtifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		resp = append(resp, newArtifactResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": session, "artifacts": resp})
}

// Get returns artifact metadata
func (h *ArtifactHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, _ := GetSessionFromContext(r)
	artifact, err := h.service.Describe(session, mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newArtifactResponse(artifact))
}

// Download streams artifact bytes. The checksum doubles as the ETag.
func (h *ArtifactHandler) Download(w http.ResponseWriter, r *http.Request) {
	session, _ := GetSessionFromContext(r)
	artifact, f, err := h.service.Open(session, mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	defer f.Close()

	disposition := "attachment"
	if r.URL.Query().Get("inline") == "1" {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": artifact.DisplayName}))
	if artifact.Checksum != "" {
		w.Header().Set("ETag", `"`+artifact.Checksum+`"`)
	}
	http.ServeContent(w, r, artifact.DisplayName, artifact.CreatedAt, f)
}

// Preview renders one page as PNG
func (h *ArtifactHandler) Preview(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	page, err := strconv.Atoi(vars["page"])
	if err != nil {
		writeAppError(w, h.logger, apperrors.NewValidationError("page", "page must be a number", err))
		return
	}

	scale := 0.0
	if raw := r.URL.Query().Get("scale"); raw != "" {
		scale, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			writeAppError(w, h.logger, apperrors.NewValidationError("scale", "scale must be a number", err))
			return
		}
	}

	session, _ := GetSessionFromContext(r)
	png, err := h.service.RenderPreview(r.Context(), session, vars["id"], page, scale)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// Delete removes one artifact; deleting twice is not an error
func (h *ArtifactHandler) Delete(w http.ResponseWriter, r *http.Request) {
	session, _ := GetSessionFromContext(r)
	if err := h.service.Remove(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cleanupRequest struct {
	SessionID string   `json:"session_id"`
	Files     []string `json:"files"`
}

// Cleanup tears down a session. Browsers send it with navigator.sendBeacon,
// so any content type is accepted and a well-formed body always gets 200.
func (h *ArtifactHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest

	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxCleanupBody)
		if err := r.ParseMultipartForm(maxCleanupBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			writeAppError(w, h.logger, apperrors.NewValidationError("body", "malformed form body", err))
			return
		}
		req.SessionID = r.FormValue("session_id")
		req.Files = r.Form["files"]
	default:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCleanupBody))
		if err != nil {
			writeAppError(w, h.logger, apperrors.NewValidationError("body", "could not read body", err))
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeAppError(w, h.logger, apperrors.NewValidationError("body", "malformed JSON body", err))
				return
			}
		}
	}

	result, err := h.service.Cleanup(sessionFrom(r, req.SessionID), req.Files)
	if err != nil {
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
