package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"pdf-workbench/internal/domain"
	apperrors "pdf-workbench/pkg/errors"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func assertAppError(t *testing.T, err error, want apperrors.ErrorType) *apperrors.AppError {
	t.Helper()
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, want, appErr.Type, appErr.Error())
	return appErr
}

func TestTransformService_Upload(t *testing.T) {
	h := newHarness(t, testTimeout)

	a := h.upload(t, "s1", "report.pdf", "p1", "p2", "p3")
	assert.Equal(t, domain.OpUpload, a.Kind)
	assert.Equal(t, domain.BucketIncoming, a.Bucket)
	assert.Equal(t, "report.pdf", a.DisplayName)
	assert.True(t, strings.HasPrefix(a.StoredName, "upload_"))
	require.NotNil(t, a.PageCount)
	assert.Equal(t, 3, *a.PageCount)
	assert.Equal(t, 1, h.ledger.count(domain.EventArtifactCreated))

	snap, ok := h.sessions.Snapshot("s1")
	require.True(t, ok)
	assert.Equal(t, []string{a.ID}, snap.ArtifactIDs)
}

func TestTransformService_UploadRejections(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()

	tests := []struct {
		name    string
		session string
		file    string
		body    io.Reader
		field   string
	}{
		{
			// Missing session id
			name: "no session", session: "", file: "a.pdf",
			body: strings.NewReader(fakeDoc("p1")), field: "session_id",
		},
		{
			// Executables and other unknown types are refused
			name: "unsupported type", session: "s1", file: "tool.exe",
			body: strings.NewReader("MZ"), field: "file",
		},
		{
			// One byte over the configured limit
			name: "too large", session: "s1", file: "big.pdf",
			body: strings.NewReader(strings.Repeat("x", 1<<20+1)), field: "file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Upload(ctx, tt.session, tt.file, tt.body)
			appErr := assertAppError(t, err, apperrors.ErrorTypeValidation)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}

	assert.Empty(t, h.store.List())
	assert.Empty(t, h.storedFiles(t))
}

func TestTransformService_UploadCorruptPDFKeepsArtifact(t *testing.T) {
	h := newHarness(t, testTimeout)

	a, err := h.svc.Upload(context.Background(), "s1", "broken.pdf", strings.NewReader("garbage"))
	require.NoError(t, err)
	assert.Nil(t, a.PageCount)

	// The engine error surfaces once an operation needs the page count.
	_, err = h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{a.ID},
		Params:    &domain.ExtractPagesParams{Pages: "1"},
	})
	assertAppError(t, err, apperrors.ErrorTypeEngineFailure)
}

func TestTransformService_DerivationChain(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()

	upload := h.upload(t, "s1", "report.pdf", "p1", "p2", "p3", "p4")

	extracted, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{upload.ID},
		Params:    &domain.ExtractPagesParams{Pages: "2-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, upload.ID, extracted.Artifact.SourceArtifactID)
	assert.Equal(t, domain.BucketGenerated, extracted.Artifact.Bucket)
	assert.Equal(t, "extracted_report.pdf", extracted.Artifact.DisplayName)
	assert.Equal(t, 4, extracted.Metadata["original_pages"])
	assert.Equal(t, 2, extracted.Metadata["selected_pages"])
	assert.Equal(t, []string{"p2", "p3"}, h.pages(t, extracted.Artifact))

	rotated, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID:   "s1",
		Inputs:      []string{extracted.Artifact.ID},
		DisplayName: "final",
		Params:      &domain.RotateParams{Angle: -90},
	})
	require.NoError(t, err)
	assert.Equal(t, extracted.Artifact.ID, rotated.Artifact.SourceArtifactID)
	assert.Equal(t, "final.pdf", rotated.Artifact.DisplayName)
	assert.Equal(t, 270, rotated.Metadata["rotation"])
	assert.Equal(t, []string{"p2@r270", "p3@r270"}, h.pages(t, rotated.Artifact))
	require.NotNil(t, rotated.Artifact.PageCount)
	assert.Equal(t, 2, *rotated.Artifact.PageCount)

	// Inputs are never modified.
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, h.pages(t, upload))

	snap, ok := h.sessions.Snapshot("s1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{upload.ID, extracted.Artifact.ID, rotated.Artifact.ID}, snap.ArtifactIDs)
	assert.Equal(t, 3, h.ledger.count(domain.EventArtifactCreated))
}

func TestTransformService_MergeKeepsRequestOrder(t *testing.T) {
	h := newHarness(t, testTimeout)

	a := h.upload(t, "s1", "a.pdf", "a1")
	b := h.upload(t, "s1", "b.pdf", "b1", "b2")
	c := h.upload(t, "s1", "c.pdf", "c1")

	res, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{c.ID, a.StoredName, b.ID},
		Params:    &domain.MergeParams{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "a1", "b1", "b2"}, h.pages(t, res.Artifact))
	assert.Equal(t, c.ID, res.Artifact.SourceArtifactID)
	assert.Equal(t, 4, res.Metadata["total_pages"])
	assert.Equal(t, 3, res.Metadata["input_count"])
}

func TestTransformService_PageOperations(t *testing.T) {
	tests := []struct {
		name   string
		params domain.OperationParams
		want   []string
		meta   map[string]interface{}
	}{
		{
			// Explicit order with a repeated page
			name:   "organize",
			params: &domain.OrganizeParams{PageIndices: []int{2, 0, 0}},
			want:   []string{"p3", "p1", "p1"},
			meta:   map[string]interface{}{"remaining_pages": 3},
		},
		{
			// Empty order keeps every page
			name:   "organize all",
			params: &domain.OrganizeParams{},
			want:   []string{"p1", "p2", "p3", "p4"},
		},
		{
			name:   "remove pages",
			params: &domain.RemovePagesParams{Pages: "1, 3"},
			want:   []string{"p2", "p4"},
			meta:   map[string]interface{}{"removed_pages": 2, "remaining_pages": 2},
		},
		{
			name:   "split range",
			params: &domain.SplitParams{Pages: "3-4"},
			want:   []string{"p3", "p4"},
		},
		{
			name:   "crop selected",
			params: &domain.CropParams{Top: 10, Pages: "2"},
			want:   []string{"p1", "p2@crop", "p3", "p4"},
		},
		{
			name:   "watermark defaults",
			params: &domain.WatermarkParams{},
			want:   []string{"p1@wm:CONFIDENTIAL", "p2@wm:CONFIDENTIAL", "p3@wm:CONFIDENTIAL", "p4@wm:CONFIDENTIAL"},
			meta:   map[string]interface{}{"rotation": 45},
		},
		{
			name:   "page numbers",
			params: &domain.PageNumberParams{Pages: "4"},
			want:   []string{"p1", "p2", "p3", "p4@num"},
		},
		{
			name:   "protect",
			params: &domain.ProtectParams{Password: "secret"},
			want:   []string{"p1@locked", "p2@locked", "p3@locked", "p4@locked"},
		},
		{
			name:   "ocr",
			params: &domain.ConvertParams{Target: domain.ConvertToSearchablePDF},
			want:   []string{"p1@ocr", "p2@ocr", "p3@ocr", "p4@ocr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testTimeout)
			src := h.upload(t, "s1", "doc.pdf", "p1", "p2", "p3", "p4")

			res, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
				SessionID: "s1",
				Inputs:    []string{src.ID},
				Params:    tt.params,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.pages(t, res.Artifact))
			assert.Equal(t, tt.params.Kind(), res.Artifact.Kind)
			assert.True(t, strings.HasPrefix(res.Artifact.StoredName, tt.params.Kind().Prefix()+"_"))
			for k, v := range tt.meta {
				assert.Equal(t, v, res.Metadata[k], k)
			}
		})
	}
}

func TestTransformService_ValidationAgainstPageCount(t *testing.T) {
	tests := []struct {
		name   string
		params domain.OperationParams
		field  string
	}{
		{name: "page past end", params: &domain.ExtractPagesParams{Pages: "4"}, field: "pages"},
		{name: "reversed range", params: &domain.SplitParams{Pages: "3-1"}, field: "pages"},
		{name: "remove every page", params: &domain.RemovePagesParams{Pages: "1-3"}, field: "pages"},
		{name: "organize index past end", params: &domain.OrganizeParams{PageIndices: []int{0, 3}}, field: "page_indices"},
		{name: "rotate bad selector", params: &domain.RotateParams{Angle: 90, Pages: "x"}, field: "pages"},
		{name: "zero rotation", params: &domain.RotateParams{Angle: 360}, field: "angle"},
		{name: "no crop margins", params: &domain.CropParams{}, field: "margins"},
		{name: "convert pdf to pdf", params: &domain.ConvertParams{Target: domain.ConvertToPDF}, field: "files"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testTimeout)
			src := h.upload(t, "s1", "doc.pdf", "p1", "p2", "p3")

			_, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
				SessionID: "s1",
				Inputs:    []string{src.ID},
				Params:    tt.params,
			})
			appErr := assertAppError(t, err, apperrors.ErrorTypeValidation)
			assert.Equal(t, tt.field, appErr.Field)
			assert.Len(t, h.store.List(), 1)
		})
	}
}

func TestTransformService_EngineFailureLeavesNothingBehind(t *testing.T) {
	h := newHarness(t, testTimeout)
	src := h.upload(t, "s1", "doc.pdf", "p1", "p2")
	h.codec.failWith("Rotate", domain.NewEngineError(engineCodec, domain.EngineCorrupt, errors.New("bad xref")), true)

	_, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{src.ID},
		Params:    &domain.RotateParams{Angle: 90},
	})
	appErr := assertAppError(t, err, apperrors.ErrorTypeEngineFailure)
	assert.Equal(t, 422, appErr.StatusCode)
	assert.Contains(t, appErr.Details, "operation rotate")
	assert.Contains(t, appErr.Details, src.ID)

	assert.Len(t, h.store.List(), 1)
	assert.Equal(t, []string{"incoming/" + src.StoredName}, h.storedFiles(t))

	snap, _ := h.sessions.Snapshot("s1")
	assert.Equal(t, []string{src.ID}, snap.ArtifactIDs)
	assert.True(t, h.logger.Has("WARN: Operation failed"))
}

func TestTransformService_TimeoutRemovesLateOutput(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	src := h.upload(t, "s1", "doc.pdf", "p1")
	h.codec.delay = 300 * time.Millisecond

	start := time.Now()
	_, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{src.ID},
		Params:    &domain.WatermarkParams{Text: "DRAFT"},
	})
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	appErr := assertAppError(t, err, apperrors.ErrorTypeEngineFailure)
	assert.Equal(t, "processing took too long", appErr.Message)

	// The abandoned call finishes and its output is removed.
	assert.Eventually(t, func() bool {
		return h.logger.Has("INFO: Removed output of timed out engine call")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, h.codec.called("Watermark"))
	assert.Equal(t, []string{"incoming/" + src.StoredName}, h.storedFiles(t))
	assert.Len(t, h.store.List(), 1)
}

func TestTransformService_CallerCancellationDoesNotAbort(t *testing.T) {
	h := newHarness(t, testTimeout)
	src := h.upload(t, "s1", "doc.pdf", "p1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{src.ID},
		Params:    &domain.CompressParams{},
	})
	require.NoError(t, err)
	assert.Equal(t, src.Size, res.Metadata["original_size"])
	assert.Equal(t, res.Artifact.Size, res.Metadata["compressed_size"])
	assert.Contains(t, res.Metadata, "reduction_percent")
}

func TestTransformService_CrossSessionAccessIsForbidden(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()
	theirs := h.upload(t, "alice", "private.pdf", "p1")
	mine := h.upload(t, "bob", "mine.pdf", "p1")

	_, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "bob",
		Inputs:    []string{mine.ID, theirs.ID},
		Params:    &domain.MergeParams{},
	})
	assertAppError(t, err, apperrors.ErrorTypeForbidden)

	_, _, err = h.svc.Open("bob", theirs.ID)
	assertAppError(t, err, apperrors.ErrorTypeForbidden)

	_, err = h.svc.RenderPreview(ctx, "bob", theirs.StoredName, 1, 1)
	assertAppError(t, err, apperrors.ErrorTypeForbidden)

	err = h.svc.Remove(ctx, "bob", theirs.ID)
	assertAppError(t, err, apperrors.ErrorTypeForbidden)
	_, _, err = h.store.Resolve(theirs.ID)
	assert.NoError(t, err)
}

func TestTransformService_UnknownInputIsNotFound(t *testing.T) {
	h := newHarness(t, testTimeout)

	_, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{"missing"},
		Params:    &domain.CompressParams{},
	})
	appErr := assertAppError(t, err, apperrors.ErrorTypeNotFound)
	assert.Equal(t, 404, appErr.StatusCode)
}

func TestTransformService_ConvertOfficeMissingEngine(t *testing.T) {
	h := newHarness(t, testTimeout)
	h.converter.officeErr = domain.NewEngineError(engineOffice, domain.EngineMissing, errors.New("not installed"))

	a, err := h.svc.Upload(context.Background(), "s1", "letter.docx", strings.NewReader("docx bytes"))
	require.NoError(t, err)
	assert.Nil(t, a.PageCount)

	_, err = h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{a.ID},
		Params:    &domain.ConvertParams{Target: domain.ConvertToPDF},
	})
	appErr := assertAppError(t, err, apperrors.ErrorTypeEngineUnavailable)
	assert.Equal(t, 501, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "soffice")
}

func TestTransformService_ConvertOfficeCountsOutput(t *testing.T) {
	h := newHarness(t, testTimeout)
	a, err := h.svc.Upload(context.Background(), "s1", "letter.docx", strings.NewReader("docx bytes"))
	require.NoError(t, err)

	res, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{a.ID},
		Params:    &domain.ConvertParams{Target: domain.ConvertToPDF},
	})
	require.NoError(t, err)
	assert.Equal(t, "converted_letter.pdf", res.Artifact.DisplayName)
	require.NotNil(t, res.Artifact.PageCount)
	assert.Equal(t, 2, *res.Artifact.PageCount)
}

func TestTransformService_ConvertImagesToPDF(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()
	one, err := h.svc.Upload(ctx, "s1", "one.png", strings.NewReader("png"))
	require.NoError(t, err)
	two, err := h.svc.Upload(ctx, "s1", "two.jpg", strings.NewReader("jpg"))
	require.NoError(t, err)

	res, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{one.ID, two.ID},
		Params:    &domain.ConvertParams{Target: domain.ConvertToPDF},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"image1", "image2"}, h.pages(t, res.Artifact))
	assert.Equal(t, 2, res.Metadata["images"])

	doc := h.upload(t, "s1", "doc.pdf", "p1")
	_, err = h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{one.ID, doc.ID},
		Params:    &domain.ConvertParams{Target: domain.ConvertToPDF},
	})
	assertAppError(t, err, apperrors.ErrorTypeValidation)
}

func readZipNames(t *testing.T, h *harness, a *domain.Artifact) []string {
	t.Helper()
	_, path, err := h.store.Resolve(a.ID)
	require.NoError(t, err)
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestTransformService_ArchiveOutputs(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()
	src := h.upload(t, "s1", "book.pdf", "p1", "p2", "p3")

	split, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{src.ID},
		Params:    &domain.SplitParams{ChunkSize: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/zip", split.Artifact.ContentType)
	assert.Equal(t, "split_book.zip", split.Artifact.DisplayName)
	assert.Nil(t, split.Artifact.PageCount)
	assert.Equal(t, 2, split.Metadata["parts"])
	assert.Equal(t, []string{"book_part_001.pdf", "book_part_002.pdf"}, readZipNames(t, h, split.Artifact))

	images, err := h.svc.Execute(ctx, &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{src.ID},
		Params:    &domain.ConvertParams{Target: domain.ConvertToImages},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"book_page_001.png", "book_page_002.png", "book_page_003.png"}, readZipNames(t, h, images.Artifact))

	// Scratch directories are gone; only the three artifacts remain.
	assert.Len(t, h.storedFiles(t), 3)
}

func TestTransformService_RenderPreview(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()
	src := h.upload(t, "s1", "doc.pdf", "p1", "p2")

	png, err := h.svc.RenderPreview(ctx, "s1", src.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "png:p2@1.0", string(png))

	_, err = h.svc.RenderPreview(ctx, "s1", src.ID, 3, 1)
	assertAppError(t, err, apperrors.ErrorTypeValidation)

	_, err = h.svc.RenderPreview(ctx, "s1", src.ID, 1, 10)
	appErr := assertAppError(t, err, apperrors.ErrorTypeValidation)
	assert.Equal(t, "scale", appErr.Field)
}

func TestTransformService_OpenAndDescribe(t *testing.T) {
	h := newHarness(t, testTimeout)
	src := h.upload(t, "s1", "doc.pdf", "p1")

	a, f, err := h.svc.Open("s1", src.StoredName)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, fakeDoc("p1"), string(data))
	assert.Equal(t, src.Checksum, a.Checksum)

	described, err := h.svc.Describe("s1", src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.StoredName, described.StoredName)

	_, err = h.svc.Describe("", src.ID)
	assertAppError(t, err, apperrors.ErrorTypeValidation)
}

func TestTransformService_SessionArtifactsOldestFirst(t *testing.T) {
	h := newHarness(t, testTimeout)
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		h.upload(t, "s1", name, "p1")
	}
	h.upload(t, "s2", "other.pdf", "p1")

	listed, err := h.svc.SessionArtifacts("s1")
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i := 1; i < len(listed); i++ {
		assert.False(t, listed[i].CreatedAt.Before(listed[i-1].CreatedAt))
	}

	empty, err := h.svc.SessionArtifacts("unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = h.svc.SessionArtifacts("")
	assertAppError(t, err, apperrors.ErrorTypeValidation)
}

func TestTransformService_RemoveAndCleanup(t *testing.T) {
	h := newHarness(t, testTimeout)
	ctx := context.Background()
	first := h.upload(t, "s1", "a.pdf", "p1")
	second := h.upload(t, "s1", "b.pdf", "p1")

	require.NoError(t, h.svc.Remove(ctx, "s1", first.ID))
	require.NoError(t, h.svc.Remove(ctx, "s1", first.ID))
	assert.Equal(t, 1, h.ledger.count(domain.EventArtifactDeleted))

	listed, err := h.svc.SessionArtifacts("s1")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, second.ID, listed[0].ID)

	res, err := h.svc.Cleanup("s1", []string{second.StoredName, "unknown.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	res, err = h.svc.Cleanup("s1", []string{second.StoredName})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)

	assert.Empty(t, h.store.List())
	assert.Empty(t, h.storedFiles(t))

	_, err = h.svc.Cleanup(" ", nil)
	assertAppError(t, err, apperrors.ErrorTypeValidation)
}

func TestTransformService_LedgerFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t, testTimeout)
	h.ledger.err = errors.New("ledger offline")

	a := h.upload(t, "s1", "doc.pdf", "p1")
	assert.NotEmpty(t, a.ID)
	assert.True(t, h.logger.Has("WARN: Failed to record artifact event"))
}

func TestTransformService_RejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, testTimeout)

	_, err := h.svc.Execute(context.Background(), &domain.OperationRequest{
		SessionID: "s1",
		Inputs:    []string{"only-one"},
		Params:    &domain.MergeParams{},
	})
	appErr := assertAppError(t, err, apperrors.ErrorTypeValidation)
	assert.Equal(t, "files", appErr.Field)
	assert.Zero(t, h.codec.called("Merge"))
}

func TestTransformService_Degraded(t *testing.T) {
	h := newHarness(t, testTimeout)
	assert.False(t, h.svc.Degraded())
}
