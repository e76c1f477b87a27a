package handler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"
)

// MockWorkbenchService records calls and returns canned results.
type MockWorkbenchService struct {
	artifacts map[string]*domain.Artifact
	paths     map[string]string
	degraded  bool
	err       error

	lastSession  string
	lastUpload   string
	uploadBody   string
	lastRequest  *domain.OperationRequest
	lastCleanup  []string
	lastPage     int
	lastScale    float64
	removedIDs   []string
	cleanupCalls int
}

func NewMockWorkbenchService() *MockWorkbenchService {
	return &MockWorkbenchService{
		artifacts: make(map[string]*domain.Artifact),
		paths:     make(map[string]string),
	}
}

// addArtifact stores content in a temp file owned by session.
func (m *MockWorkbenchService) addArtifact(t *testing.T, id, session, content string) *domain.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), id)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	pages := 1
	a := &domain.Artifact{
		ID:          id,
		StoredName:  "upload_" + id + ".pdf",
		DisplayName: "report.pdf",
		Kind:        domain.OpUpload,
		Bucket:      domain.BucketIncoming,
		PageCount:   &pages,
		Size:        int64(len(content)),
		Checksum:    "abc123",
		ContentType: "application/pdf",
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		SessionID:   session,
	}
	m.artifacts[id] = a
	m.paths[id] = path
	return a
}

func (m *MockWorkbenchService) owned(sessionID, id string) (*domain.Artifact, error) {
	m.lastSession = sessionID
	if m.err != nil {
		return nil, m.err
	}
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session_id", "session id is required", nil)
	}
	a, ok := m.artifacts[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("artifact not found", nil)
	}
	if a.SessionID != sessionID {
		return nil, apperrors.NewForbiddenError("artifact belongs to another session", nil)
	}
	return a, nil
}

func (m *MockWorkbenchService) Upload(ctx context.Context, sessionID, filename string, src io.Reader) (*domain.Artifact, error) {
	m.lastSession = sessionID
	m.lastUpload = filename
	data, _ := io.ReadAll(src)
	m.uploadBody = string(data)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Artifact{ID: "new", StoredName: "upload_new.pdf", DisplayName: filename, Kind: domain.OpUpload, SessionID: sessionID}, nil
}

func (m *MockWorkbenchService) Execute(ctx context.Context, req *domain.OperationRequest) (*domain.OperationResult, error) {
	m.lastRequest = req
	if m.err != nil {
		return nil, m.err
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.NewValidationError("", err.Error(), err)
	}
	return &domain.OperationResult{
		Artifact:  &domain.Artifact{ID: "out", StoredName: req.Kind().Prefix() + "_out.pdf", Kind: req.Kind(), SourceArtifactID: req.Inputs[0]},
		Operation: req.Kind(),
		Metadata:  map[string]interface{}{"original_pages": 3},
	}, nil
}

func (m *MockWorkbenchService) Describe(sessionID, artifactID string) (*domain.Artifact, error) {
	return m.owned(sessionID, artifactID)
}

func (m *MockWorkbenchService) Open(sessionID, artifactID string) (*domain.Artifact, *os.File, error) {
	a, err := m.owned(sessionID, artifactID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(m.paths[artifactID])
	if err != nil {
		return nil, nil, err
	}
	return a, f, nil
}

func (m *MockWorkbenchService) RenderPreview(ctx context.Context, sessionID, artifactID string, page int, scale float64) ([]byte, error) {
	if _, err := m.owned(sessionID, artifactID); err != nil {
		return nil, err
	}
	m.lastPage = page
	m.lastScale = scale
	return []byte("\x89PNG"), nil
}

func (m *MockWorkbenchService) SessionArtifacts(sessionID string) ([]*domain.Artifact, error) {
	m.lastSession = sessionID
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session_id", "session id is required", nil)
	}
	var out []*domain.Artifact
	for _, a := range m.artifacts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockWorkbenchService) Remove(ctx context.Context, sessionID, artifactID string) error {
	m.lastSession = sessionID
	if m.err != nil {
		return m.err
	}
	m.removedIDs = append(m.removedIDs, artifactID)
	return nil
}

func (m *MockWorkbenchService) Cleanup(sessionID string, names []string) (domain.CleanupResult, error) {
	m.lastSession = sessionID
	m.lastCleanup = names
	m.cleanupCalls++
	if sessionID == "" {
		return domain.CleanupResult{}, apperrors.NewValidationError("session_id", "session id is required", nil)
	}
	return domain.CleanupResult{SessionID: sessionID, Deleted: len(names)}, nil
}

func (m *MockWorkbenchService) Degraded() bool {
	return m.degraded
}
