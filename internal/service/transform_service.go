package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"pdf-workbench/internal/domain"
)

// EngineRunner runs one engine call under the deployment's capacity and deadline limits.
type EngineRunner interface {
	Do(ctx context.Context, engine string, fn func(context.Context) error, onLate func()) error
}

const (
	engineCodec  = "pdfcpu"
	engineRaster = "mupdf"
	engineOffice = "soffice"
	engineOCR    = "ocrmypdf"

	ledgerTimeout   = 5 * time.Second
	maxPreviewScale = 4.0
)

type fileClass int

const (
	classOther fileClass = iota
	classPDF
	classImage
	classOffice
)

func classOfExt(ext string) fileClass {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "pdf":
		return classPDF
	case "png", "jpg", "jpeg", "tif", "tiff", "webp":
		return classImage
	case "doc", "docx", "odt", "rtf", "txt", "xls", "xlsx", "ods", "ppt", "pptx", "odp":
		return classOffice
	default:
		return classOther
	}
}

func classOf(a *domain.Artifact) fileClass {
	return classOfExt(filepath.Ext(a.StoredName))
}

// TransformDeps are the collaborators of a TransformService.
type TransformDeps struct {
	Store       domain.ArtifactStore
	Sessions    domain.SessionRegistry
	Codec       domain.PDFCodec
	Rasterizer  domain.Rasterizer
	Converter   domain.DocumentConverter
	Archiver    domain.Archiver
	Runner      EngineRunner
	Ledger      domain.EventLedger
	Logger      domain.Logger
	MaxFileSize int64
}

// TransformService accepts uploads and runs transforms that derive new artifacts from them.
type TransformService struct {
	store       domain.ArtifactStore
	sessions    domain.SessionRegistry
	codec       domain.PDFCodec
	raster      domain.Rasterizer
	converter   domain.DocumentConverter
	archiver    domain.Archiver
	runner      EngineRunner
	ledger      domain.EventLedger
	logger      domain.Logger
	maxFileSize int64
	now         func() time.Time
}

// NewTransformService creates a new transform service.
func NewTransformService(deps TransformDeps) *TransformService {
	return &TransformService{
		store:       deps.Store,
		sessions:    deps.Sessions,
		codec:       deps.Codec,
		raster:      deps.Rasterizer,
		converter:   deps.Converter,
		archiver:    deps.Archiver,
		runner:      deps.Runner,
		ledger:      deps.Ledger,
		logger:      deps.Logger,
		maxFileSize: deps.MaxFileSize,
		now:         time.Now,
	}
}

// input is a resolved operation input.
type input struct {
	artifact *domain.Artifact
	path     string
}

// job is one planned engine invocation. run writes the complete output to out.
type job struct {
	engine     string
	ext        string
	run        func(ctx context.Context, out string) error
	outPages   *int
	countAfter bool
	metadata   map[string]interface{}
}

// Upload stores a client file in the incoming bucket and registers it to the session.
func (s *TransformService) Upload(ctx context.Context, sessionID, filename string, src io.Reader) (*domain.Artifact, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, toAppError(domain.ErrSessionRequired, domain.OpUpload, "")
	}

	name := filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	class := classOfExt(ext)
	if class == classOther {
		return nil, toAppError(&domain.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported file type %q", ext),
		}, domain.OpUpload, "")
	}

	limited := &io.LimitedReader{R: src, N: s.maxFileSize + 1}
	draft := domain.NewArtifact{
		SessionID:   sessionID,
		DisplayName: name,
		Kind:        domain.OpUpload,
		Ext:         ext,
	}
	artifact, err := s.sessions.RegisterNew(sessionID, func() (*domain.Artifact, error) {
		a, err := s.store.Create(draft, limited)
		if err != nil {
			return nil, err
		}
		if a.Size > s.maxFileSize {
			if delErr := s.store.Delete(a.ID); delErr != nil {
				s.logger.Error("Failed to remove oversized upload", delErr, "artifact_id", a.ID)
			}
			return nil, &domain.ValidationError{
				Field:   "file",
				Message: fmt.Sprintf("file exceeds the %d byte limit", s.maxFileSize),
			}
		}
		return a, nil
	})
	if err != nil {
		s.logger.Warn("Upload rejected", "session_id", sessionID, "filename", name, "error", err.Error())
		return nil, toAppError(err, domain.OpUpload, "")
	}

	if class == classPDF {
		_, path, err := s.store.Resolve(artifact.ID)
		if err == nil {
			in := &input{artifact: artifact, path: path}
			if _, err := s.pageCount(ctx, in); err != nil {
				// Kept without a page count; operations report the engine error.
				s.logger.Warn("Could not read page count of upload", "artifact_id", artifact.ID, "error", err.Error())
			}
			artifact = in.artifact
		}
	}

	s.logger.Info("File uploaded", "session_id", sessionID, "artifact_id", artifact.ID,
		"stored_name", artifact.StoredName, "size", artifact.Size)
	s.record(ctx, domain.EventArtifactCreated, artifact, string(domain.OpUpload))
	return artifact, nil
}

// Execute runs one transform. On any failure no artifact is registered and no
// partial output remains on disk.
func (s *TransformService) Execute(ctx context.Context, req *domain.OperationRequest) (*domain.OperationResult, error) {
	op := req.Kind()
	if err := req.Validate(); err != nil {
		s.logger.Warn("Operation request rejected", "operation", op, "session_id", req.SessionID, "error", err.Error())
		return nil, toAppError(err, op, "")
	}

	primary := req.Inputs[0]
	run := newExecution(req, s.logger)
	s.sessions.Touch(req.SessionID)

	inputs, err := s.resolveInputs(req.SessionID, req.Inputs)
	if err != nil {
		return nil, toAppError(run.fail(err), op, primary)
	}
	if err := run.advance(StageInputsResolved); err != nil {
		return nil, toAppError(run.fail(err), op, primary)
	}

	j, err := s.plan(ctx, req, inputs)
	if err != nil {
		return nil, toAppError(run.fail(err), op, primary)
	}
	if err := run.advance(StageEngineInvoked); err != nil {
		return nil, toAppError(run.fail(err), op, primary)
	}

	staged, err := s.invoke(ctx, j)
	if err != nil {
		return nil, toAppError(run.fail(err), op, primary)
	}
	if err := run.advance(StageArtifactRegistered); err != nil {
		removeStaged(staged)
		return nil, toAppError(run.fail(err), op, primary)
	}

	artifact, err := s.register(req, inputs, j, staged)
	if err != nil {
		removeStaged(staged)
		return nil, toAppError(run.fail(err), op, primary)
	}
	if err := run.advance(StageCompleted); err != nil {
		return nil, toAppError(run.fail(err), op, primary)
	}

	if op == domain.OpCompress {
		addCompressionStats(j.metadata, inputs[0].artifact.Size, artifact.Size)
	}

	s.logger.Info("Operation completed", "operation", op, "session_id", req.SessionID,
		"artifact_id", artifact.ID, "source_artifact_id", artifact.SourceArtifactID,
		"duration_ms", run.elapsed().Milliseconds())
	s.record(ctx, domain.EventArtifactCreated, artifact, string(op))

	return &domain.OperationResult{Artifact: artifact, Operation: op, Metadata: j.metadata}, nil
}

// Describe returns the metadata of an artifact owned by the session.
func (s *TransformService) Describe(sessionID, artifactID string) (*domain.Artifact, error) {
	in, err := s.owned(sessionID, artifactID)
	if err != nil {
		return nil, toAppError(err, "", artifactID)
	}
	return in.artifact, nil
}

// Open returns an artifact owned by the session with its bytes opened for reading.
func (s *TransformService) Open(sessionID, artifactID string) (*domain.Artifact, *os.File, error) {
	in, err := s.owned(sessionID, artifactID)
	if err != nil {
		return nil, nil, toAppError(err, "", artifactID)
	}
	f, err := os.Open(in.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, toAppError(domain.ErrArtifactNotFound, "", artifactID)
		}
		return nil, nil, toAppError(fmt.Errorf("%w: %v", domain.ErrStorage, err), "", artifactID)
	}
	return in.artifact, f, nil
}

// RenderPreview renders one 1-based page of a PDF artifact to PNG.
func (s *TransformService) RenderPreview(ctx context.Context, sessionID, artifactID string, page int, scale float64) ([]byte, error) {
	if scale == 0 {
		scale = 1
	}
	if scale < 0 || scale > maxPreviewScale {
		return nil, toAppError(&domain.ValidationError{
			Field:   "scale",
			Message: fmt.Sprintf("scale must be between 0 and %.0f", maxPreviewScale),
		}, "", artifactID)
	}
	if page < 1 {
		return nil, toAppError(&domain.ValidationError{Field: "page", Message: "page numbers start at 1"}, "", artifactID)
	}

	in, err := s.owned(sessionID, artifactID)
	if err != nil {
		return nil, toAppError(err, "", artifactID)
	}
	if classOf(in.artifact) != classPDF {
		return nil, toAppError(&domain.ValidationError{Field: "id", Message: "only PDF artifacts can be previewed"}, "", artifactID)
	}

	var png []byte
	err = s.runner.Do(ctx, engineRaster, func(ctx context.Context) error {
		var err error
		png, err = s.raster.RenderPage(ctx, in.path, page-1, scale)
		return err
	}, nil)
	if err != nil {
		s.logger.Warn("Preview failed", "artifact_id", artifactID, "page", page, "error", err.Error())
		return nil, toAppError(err, "", artifactID)
	}
	return png, nil
}

// SessionArtifacts lists the artifacts currently registered to the session.
func (s *TransformService) SessionArtifacts(sessionID string) ([]*domain.Artifact, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, toAppError(domain.ErrSessionRequired, "", "")
	}
	snap, ok := s.sessions.Snapshot(sessionID)
	if !ok {
		return []*domain.Artifact{}, nil
	}
	s.sessions.Touch(sessionID)

	artifacts := make([]*domain.Artifact, 0, len(snap.ArtifactIDs))
	for _, id := range snap.ArtifactIDs {
		a, _, err := s.store.Resolve(id)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, a)
	}
	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.Before(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Remove deletes one artifact owned by the session. Removing an unknown artifact succeeds.
func (s *TransformService) Remove(ctx context.Context, sessionID, artifactID string) error {
	in, err := s.owned(sessionID, artifactID)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil
	}
	if err != nil {
		return toAppError(err, "", artifactID)
	}

	s.sessions.Unregister(sessionID, in.artifact.ID)
	if err := s.store.Delete(in.artifact.ID); err != nil {
		return toAppError(err, "", artifactID)
	}

	s.logger.Info("Artifact removed", "session_id", sessionID, "artifact_id", in.artifact.ID)
	s.record(ctx, domain.EventArtifactDeleted, in.artifact, "removed")
	return nil
}

// Cleanup tears the session down and deletes any named artifacts it owns.
func (s *TransformService) Cleanup(sessionID string, names []string) (domain.CleanupResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.CleanupResult{}, toAppError(domain.ErrSessionRequired, "", "")
	}
	return s.sessions.CleanupNow(sessionID, names), nil
}

// Degraded reports whether storage has been failing persistently.
func (s *TransformService) Degraded() bool {
	if h, ok := s.store.(interface{ Degraded() bool }); ok {
		return h.Degraded()
	}
	return false
}

// owned resolves an artifact by id or stored name and checks it belongs to the session.
func (s *TransformService) owned(sessionID, ref string) (*input, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrSessionRequired
	}

	a, path, err := s.store.Resolve(ref)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		if byName, ok := s.store.FindByStoredName(ref); ok {
			a, path, err = s.store.Resolve(byName.ID)
		}
	}
	if err != nil {
		return nil, err
	}
	if a.SessionID != sessionID {
		s.logger.Warn("Cross-session access denied", "session_id", sessionID, "artifact_id", a.ID)
		return nil, fmt.Errorf("%w: %s", domain.ErrForbidden, ref)
	}
	s.sessions.Touch(sessionID)
	return &input{artifact: a, path: path}, nil
}

func (s *TransformService) resolveInputs(sessionID string, refs []string) ([]*input, error) {
	inputs := make([]*input, 0, len(refs))
	for _, ref := range refs {
		in, err := s.owned(sessionID, ref)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// pageCount returns the cached page count, resolving and caching it on first use.
func (s *TransformService) pageCount(ctx context.Context, in *input) (int, error) {
	if in.artifact.PageCount != nil {
		return *in.artifact.PageCount, nil
	}

	var n int
	err := s.runner.Do(ctx, engineCodec, func(ctx context.Context) error {
		var err error
		n, err = s.codec.PageCount(ctx, in.path)
		return err
	}, nil)
	if err != nil {
		return 0, err
	}

	if err := s.store.SetPageCount(in.artifact.ID, n); err != nil {
		s.logger.Debug("Page count not cached", "artifact_id", in.artifact.ID, "error", err.Error())
	}
	in.artifact.PageCount = &n
	return n, nil
}

func requirePDF(inputs []*input) error {
	for _, in := range inputs {
		if classOf(in.artifact) != classPDF {
			return &domain.ValidationError{
				Field:   "files",
				Message: fmt.Sprintf("%s is not a PDF", in.artifact.DisplayName),
			}
		}
	}
	return nil
}

func optionalSelection(expr string, pageCount int) (*domain.PageSelection, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	return domain.ParsePageSelector(expr, pageCount, domain.SelectorOptions{})
}

func pagesPtr(n int) *int {
	return &n
}

// plan validates the request against the resolved inputs and builds the engine call.
func (s *TransformService) plan(ctx context.Context, req *domain.OperationRequest, inputs []*input) (*job, error) {
	if p, ok := req.Params.(*domain.ConvertParams); ok {
		return s.planConvert(ctx, p, inputs)
	}
	if err := requirePDF(inputs); err != nil {
		return nil, err
	}

	if _, ok := req.Params.(*domain.MergeParams); ok {
		return s.planMerge(ctx, inputs)
	}

	src := inputs[0]
	n, err := s.pageCount(ctx, src)
	if err != nil {
		return nil, err
	}
	meta := map[string]interface{}{"original_pages": n}
	j := &job{engine: engineCodec, ext: "pdf", metadata: meta}

	switch p := req.Params.(type) {
	case *domain.SplitParams:
		if p.ChunkSize > 0 {
			return s.planSplitChunks(src, n, p.ChunkSize, meta), nil
		}
		sel, err := domain.ParsePageSelector(p.Pages, n, domain.SelectorOptions{})
		if err != nil {
			return nil, err
		}
		meta["selected_pages"] = sel.Len()
		j.outPages = pagesPtr(sel.Len())
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Collect(ctx, src.path, out, sel)
		}

	case *domain.ExtractPagesParams:
		sel, err := domain.ParsePageSelector(p.Pages, n, domain.SelectorOptions{})
		if err != nil {
			return nil, err
		}
		meta["selected_pages"] = sel.Len()
		j.outPages = pagesPtr(sel.Len())
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Collect(ctx, src.path, out, sel)
		}

	case *domain.OrganizeParams:
		sel, err := domain.SelectionFromIndices(p.PageIndices, n, true)
		if err != nil {
			return nil, err
		}
		meta["remaining_pages"] = sel.Len()
		j.outPages = pagesPtr(sel.Len())
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Collect(ctx, src.path, out, sel)
		}

	case *domain.RemovePagesParams:
		sel, err := domain.ParsePageSelector(p.Pages, n, domain.SelectorOptions{})
		if err != nil {
			return nil, err
		}
		if sel.Len() >= n {
			return nil, &domain.ValidationError{Field: "pages", Message: "cannot remove every page of the document"}
		}
		meta["removed_pages"] = sel.Len()
		meta["remaining_pages"] = n - sel.Len()
		j.outPages = pagesPtr(n - sel.Len())
		j.run = func(ctx context.Context, out string) error {
			return s.codec.RemovePages(ctx, src.path, out, sel)
		}

	case *domain.RotateParams:
		sel, err := optionalSelection(p.Pages, n)
		if err != nil {
			return nil, err
		}
		degrees := p.Normalized()
		meta["rotation"] = degrees
		j.outPages = pagesPtr(n)
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Rotate(ctx, src.path, out, degrees, sel)
		}

	case *domain.CropParams:
		sel, err := optionalSelection(p.Pages, n)
		if err != nil {
			return nil, err
		}
		margins := domain.CropMargins{Top: p.Top, Right: p.Right, Bottom: p.Bottom, Left: p.Left}
		j.outPages = pagesPtr(n)
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Crop(ctx, src.path, out, margins, sel)
		}

	case *domain.WatermarkParams:
		meta["rotation"] = p.NormalizedRotation()
		j.outPages = pagesPtr(n)
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Watermark(ctx, src.path, out, p)
		}

	case *domain.PageNumberParams:
		sel, err := optionalSelection(p.Pages, n)
		if err != nil {
			return nil, err
		}
		j.outPages = pagesPtr(n)
		j.run = func(ctx context.Context, out string) error {
			return s.codec.StampPageNumbers(ctx, src.path, out, p, sel)
		}

	case *domain.CompressParams:
		meta["original_size"] = src.artifact.Size
		j.outPages = pagesPtr(n)
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Compress(ctx, src.path, out)
		}

	case *domain.ProtectParams:
		password := p.Password
		j.outPages = pagesPtr(n)
		j.run = func(ctx context.Context, out string) error {
			return s.codec.Protect(ctx, src.path, out, password)
		}

	default:
		return nil, fmt.Errorf("no plan for parameters %T", req.Params)
	}
	return j, nil
}

func (s *TransformService) planMerge(ctx context.Context, inputs []*input) (*job, error) {
	total := 0
	paths := make([]string, len(inputs))
	for i, in := range inputs {
		n, err := s.pageCount(ctx, in)
		if err != nil {
			return nil, err
		}
		total += n
		paths[i] = in.path
	}

	return &job{
		engine:   engineCodec,
		ext:      "pdf",
		outPages: pagesPtr(total),
		metadata: map[string]interface{}{"input_count": len(inputs), "total_pages": total},
		run: func(ctx context.Context, out string) error {
			return s.codec.Merge(ctx, paths, out)
		},
	}, nil
}

func (s *TransformService) planSplitChunks(src *input, pageCount, chunkSize int, meta map[string]interface{}) *job {
	meta["parts"] = (pageCount + chunkSize - 1) / chunkSize
	return &job{
		engine:   engineCodec,
		ext:      "zip",
		metadata: meta,
		run: func(ctx context.Context, out string) error {
			dir, err := s.store.StagingDir()
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)

			parts, err := s.codec.SplitChunks(ctx, src.path, dir, chunkSize)
			if err != nil {
				return err
			}
			return s.archiver.WriteZip(ctx, out, archiveEntries(src.artifact.DisplayName, parts))
		},
	}
}

func (s *TransformService) planConvert(ctx context.Context, p *domain.ConvertParams, inputs []*input) (*job, error) {
	if p.Target != domain.ConvertToPDF && len(inputs) > 1 {
		return nil, &domain.ValidationError{Field: "files", Message: "at most 1 file(s) allowed"}
	}
	meta := map[string]interface{}{"target": string(p.Target)}

	switch p.Target {
	case domain.ConvertToPDF:
		if classOf(inputs[0].artifact) == classImage {
			images := make([]string, len(inputs))
			for i, in := range inputs {
				if classOf(in.artifact) != classImage {
					return nil, &domain.ValidationError{Field: "files", Message: "images cannot be mixed with other file types"}
				}
				images[i] = in.path
			}
			meta["images"] = len(images)
			return &job{
				engine:   engineCodec,
				ext:      "pdf",
				outPages: pagesPtr(len(images)),
				metadata: meta,
				run: func(ctx context.Context, out string) error {
					return s.codec.ImagesToPDF(ctx, images, out)
				},
			}, nil
		}

		src := inputs[0]
		switch {
		case classOf(src.artifact) == classPDF:
			return nil, &domain.ValidationError{Field: "files", Message: fmt.Sprintf("%s is already a PDF", src.artifact.DisplayName)}
		case classOf(src.artifact) != classOffice || len(inputs) > 1:
			return nil, &domain.ValidationError{Field: "files", Message: "convert to pdf accepts images or a single office document"}
		}
		return &job{
			engine:     engineOffice,
			ext:        "pdf",
			countAfter: true,
			metadata:   meta,
			run: func(ctx context.Context, out string) error {
				return s.converter.OfficeToPDF(ctx, src.path, out)
			},
		}, nil

	case domain.ConvertToImages:
		if err := requirePDF(inputs); err != nil {
			return nil, err
		}
		src := inputs[0]
		n, err := s.pageCount(ctx, src)
		if err != nil {
			return nil, err
		}
		meta["original_pages"] = n
		meta["images"] = n
		return &job{
			engine:   engineRaster,
			ext:      "zip",
			metadata: meta,
			run: func(ctx context.Context, out string) error {
				dir, err := s.store.StagingDir()
				if err != nil {
					return err
				}
				defer os.RemoveAll(dir)

				images, err := s.raster.RenderAll(ctx, src.path, dir)
				if err != nil {
					return err
				}
				return s.archiver.WriteZip(ctx, out, archiveEntries(src.artifact.DisplayName, images))
			},
		}, nil

	case domain.ConvertToSearchablePDF:
		if err := requirePDF(inputs); err != nil {
			return nil, err
		}
		src := inputs[0]
		n, err := s.pageCount(ctx, src)
		if err != nil {
			return nil, err
		}
		meta["original_pages"] = n
		return &job{
			engine:   engineOCR,
			ext:      "pdf",
			outPages: pagesPtr(n),
			metadata: meta,
			run: func(ctx context.Context, out string) error {
				return s.converter.OCR(ctx, src.path, out)
			},
		}, nil
	}
	return nil, &domain.ValidationError{Field: "target", Message: fmt.Sprintf("unknown conversion target %q", p.Target)}
}

// invoke runs the planned engine call against a fresh staging path. The
// staging file is removed on failure, including output written after a timeout.
func (s *TransformService) invoke(ctx context.Context, j *job) (string, error) {
	out, err := s.store.StagingPath(j.ext)
	if err != nil {
		return "", err
	}

	s.logger.Debug("Invoking engine", "engine", j.engine, "output", filepath.Base(out))
	start := s.now()
	err = s.runner.Do(ctx, j.engine, func(ctx context.Context) error {
		if err := j.run(ctx, out); err != nil {
			return err
		}
		if j.countAfter {
			n, err := s.codec.PageCount(ctx, out)
			if err != nil {
				return err
			}
			j.outPages = &n
		}
		return nil
	}, func() {
		removeStaged(out)
		s.logger.Info("Removed output of timed out engine call", "engine", j.engine, "output", filepath.Base(out))
	})
	if err != nil {
		removeStaged(out)
		return "", err
	}

	s.logger.Debug("Engine finished", "engine", j.engine, "duration_ms", s.now().Sub(start).Milliseconds())
	return out, nil
}

// register adopts the staged output under the session lock.
func (s *TransformService) register(req *domain.OperationRequest, inputs []*input, j *job, staged string) (*domain.Artifact, error) {
	draft := domain.NewArtifact{
		SessionID:        req.SessionID,
		DisplayName:      displayName(req, inputs[0].artifact, j.ext),
		SourceArtifactID: inputs[0].artifact.ID,
		Kind:             req.Kind(),
		Ext:              j.ext,
		PageCount:        j.outPages,
	}
	return s.sessions.RegisterNew(req.SessionID, func() (*domain.Artifact, error) {
		return s.store.CreateFromFile(draft, staged)
	})
}

func (s *TransformService) record(ctx context.Context, t domain.ArtifactEventType, a *domain.Artifact, reason string) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	if err := s.ledger.Record(ctx, domain.NewArtifactEvent(t, a, reason, s.now())); err != nil {
		s.logger.Warn("Failed to record artifact event", "artifact_id", a.ID, "event", t, "error", err.Error())
	}
}

// displayName is the requested name, or the source name prefixed by the operation.
func displayName(req *domain.OperationRequest, source *domain.Artifact, ext string) string {
	if name := filepath.Base(strings.TrimSpace(req.DisplayName)); name != "" && name != "." && name != "/" {
		if filepath.Ext(name) == "" {
			name += "." + ext
		}
		return name
	}
	base := strings.TrimSuffix(source.DisplayName, filepath.Ext(source.DisplayName))
	if base == "" {
		base = source.ID
	}
	return req.Kind().Prefix() + "_" + base + "." + ext
}

// archiveEntries names the files of a multi-file output after the source document.
func archiveEntries(sourceName string, paths []string) []domain.ArchiveEntry {
	base := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	if base == "" {
		base = "document"
	}
	entries := make([]domain.ArchiveEntry, len(paths))
	for i, p := range paths {
		entries[i] = domain.ArchiveEntry{Name: base + "_" + filepath.Base(p), Path: p}
	}
	return entries
}

func addCompressionStats(meta map[string]interface{}, original, compressed int64) {
	meta["original_size"] = original
	meta["compressed_size"] = compressed
	if original > 0 {
		reduction := (1 - float64(compressed)/float64(original)) * 100
		meta["reduction_percent"] = math.Round(reduction*10) / 10
	}
}

func removeStaged(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
