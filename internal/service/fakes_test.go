package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"pdf-workbench/internal/domain"
	"pdf-workbench/internal/engine"
	"pdf-workbench/internal/repository"

	"github.com/stretchr/testify/require"
)

// MockLogger collects messages; engine workers log from other goroutines.
type MockLogger struct {
	mu       sync.Mutex
	messages []string
}

func NewMockLogger() *MockLogger {
	return &MockLogger{messages: []string{}}
}

func (m *MockLogger) add(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, line)
}

func (m *MockLogger) Info(msg string, args ...interface{})  { m.add("INFO: " + msg) }
func (m *MockLogger) Debug(msg string, args ...interface{}) { m.add("DEBUG: " + msg) }
func (m *MockLogger) Warn(msg string, args ...interface{})  { m.add("WARN: " + msg) }

func (m *MockLogger) Error(msg string, err error, args ...interface{}) {
	m.add("ERROR: " + msg + " - " + err.Error())
}

func (m *MockLogger) Has(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range m.messages {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

const fakeHeader = "%FAKEPDF\n"

// fakeDoc returns the body of a document whose pages are the given labels.
func fakeDoc(labels ...string) string {
	return fakeHeader + strings.Join(labels, "\n") + "\n"
}

func readFakePages(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewEngineError(engineCodec, domain.EngineFailed, err)
	}
	if !strings.HasPrefix(string(data), fakeHeader) {
		return nil, domain.NewEngineError(engineCodec, domain.EngineCorrupt, errors.New("not a pdf"))
	}
	body := strings.TrimSpace(strings.TrimPrefix(string(data), fakeHeader))
	if body == "" {
		return []string{}, nil
	}
	return strings.Split(body, "\n"), nil
}

func writeFakePages(path string, pages []string) error {
	return os.WriteFile(path, []byte(fakeDoc(pages...)), 0o644)
}

// fakeCodec treats each line of a text file as one page.
type fakeCodec struct {
	mu      sync.Mutex
	fail    map[string]error
	partial bool
	delay   time.Duration
	calls   []string
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{fail: map[string]error{}}
}

func (f *fakeCodec) failWith(method string, err error, partial bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = err
	f.partial = partial
}

func (f *fakeCodec) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

// step records the call, waits out any delay, and applies injected failures.
func (f *fakeCodec) step(method, out string) error {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	err := f.fail[method]
	partial := f.partial
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 && method != "PageCount" {
		time.Sleep(delay)
	}
	if err != nil {
		if partial && out != "" {
			_ = os.WriteFile(out, []byte(fakeHeader+"partial"), 0o644)
		}
		return err
	}
	return nil
}

func (f *fakeCodec) transform(method, in, out string, fn func(pages []string) []string) error {
	if err := f.step(method, out); err != nil {
		return err
	}
	pages, err := readFakePages(in)
	if err != nil {
		return err
	}
	return writeFakePages(out, fn(pages))
}

func tagSelected(pages []string, sel *domain.PageSelection, tag string) []string {
	out := make([]string, len(pages))
	for i, p := range pages {
		if sel == nil || sel.Contains(i) {
			p += tag
		}
		out[i] = p
	}
	return out
}

func (f *fakeCodec) PageCount(ctx context.Context, path string) (int, error) {
	if err := f.step("PageCount", ""); err != nil {
		return 0, err
	}
	pages, err := readFakePages(path)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (f *fakeCodec) Merge(ctx context.Context, inputs []string, out string) error {
	if err := f.step("Merge", out); err != nil {
		return err
	}
	var all []string
	for _, in := range inputs {
		pages, err := readFakePages(in)
		if err != nil {
			return err
		}
		all = append(all, pages...)
	}
	return writeFakePages(out, all)
}

func (f *fakeCodec) Collect(ctx context.Context, in, out string, sel *domain.PageSelection) error {
	return f.transform("Collect", in, out, func(pages []string) []string {
		picked := make([]string, 0, sel.Len())
		for _, idx := range sel.Indices {
			picked = append(picked, pages[idx])
		}
		return picked
	})
}

func (f *fakeCodec) RemovePages(ctx context.Context, in, out string, sel *domain.PageSelection) error {
	return f.transform("RemovePages", in, out, func(pages []string) []string {
		var kept []string
		for i, p := range pages {
			if !sel.Contains(i) {
				kept = append(kept, p)
			}
		}
		return kept
	})
}

func (f *fakeCodec) Rotate(ctx context.Context, in, out string, degrees int, sel *domain.PageSelection) error {
	return f.transform("Rotate", in, out, func(pages []string) []string {
		return tagSelected(pages, sel, fmt.Sprintf("@r%d", degrees))
	})
}

func (f *fakeCodec) Crop(ctx context.Context, in, out string, m domain.CropMargins, sel *domain.PageSelection) error {
	return f.transform("Crop", in, out, func(pages []string) []string {
		return tagSelected(pages, sel, "@crop")
	})
}

func (f *fakeCodec) Watermark(ctx context.Context, in, out string, p *domain.WatermarkParams) error {
	return f.transform("Watermark", in, out, func(pages []string) []string {
		return tagSelected(pages, nil, "@wm:"+p.Text)
	})
}

func (f *fakeCodec) StampPageNumbers(ctx context.Context, in, out string, p *domain.PageNumberParams, sel *domain.PageSelection) error {
	return f.transform("StampPageNumbers", in, out, func(pages []string) []string {
		return tagSelected(pages, sel, "@num")
	})
}

func (f *fakeCodec) Compress(ctx context.Context, in, out string) error {
	return f.transform("Compress", in, out, func(pages []string) []string { return pages })
}

func (f *fakeCodec) Protect(ctx context.Context, in, out, password string) error {
	return f.transform("Protect", in, out, func(pages []string) []string {
		return tagSelected(pages, nil, "@locked")
	})
}

func (f *fakeCodec) SplitChunks(ctx context.Context, in, outDir string, chunkSize int) ([]string, error) {
	if err := f.step("SplitChunks", ""); err != nil {
		return nil, err
	}
	pages, err := readFakePages(in)
	if err != nil {
		return nil, err
	}
	var parts []string
	for start := 0; start < len(pages); start += chunkSize {
		end := start + chunkSize
		if end > len(pages) {
			end = len(pages)
		}
		p := filepath.Join(outDir, fmt.Sprintf("part_%03d.pdf", len(parts)+1))
		if err := writeFakePages(p, pages[start:end]); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func (f *fakeCodec) ImagesToPDF(ctx context.Context, images []string, out string) error {
	if err := f.step("ImagesToPDF", out); err != nil {
		return err
	}
	labels := make([]string, len(images))
	for i := range images {
		labels[i] = fmt.Sprintf("image%d", i+1)
	}
	return writeFakePages(out, labels)
}

type fakeRasterizer struct{}

func (fakeRasterizer) RenderPage(ctx context.Context, path string, pageIndex int, scale float64) ([]byte, error) {
	pages, err := readFakePages(path)
	if err != nil {
		return nil, err
	}
	if pageIndex >= len(pages) {
		return nil, &domain.ValidationError{Field: "page", Message: "page is out of range"}
	}
	return []byte(fmt.Sprintf("png:%s@%.1f", pages[pageIndex], scale)), nil
}

func (fakeRasterizer) RenderAll(ctx context.Context, path, outDir string) ([]string, error) {
	pages, err := readFakePages(path)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(pages))
	for i, p := range pages {
		paths[i] = filepath.Join(outDir, fmt.Sprintf("page_%03d.png", i+1))
		if err := os.WriteFile(paths[i], []byte("png:"+p), 0o644); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

type fakeConverter struct {
	officeErr error
	ocrErr    error
}

func (f *fakeConverter) OfficeToPDF(ctx context.Context, in, out string) error {
	if f.officeErr != nil {
		return f.officeErr
	}
	return writeFakePages(out, []string{"office1", "office2"})
}

func (f *fakeConverter) OCR(ctx context.Context, in, out string) error {
	if f.ocrErr != nil {
		return f.ocrErr
	}
	pages, err := readFakePages(in)
	if err != nil {
		return err
	}
	return writeFakePages(out, tagSelected(pages, nil, "@ocr"))
}

type fakeLedger struct {
	mu     sync.Mutex
	events []domain.ArtifactEvent
	err    error
}

func (l *fakeLedger) Record(ctx context.Context, ev domain.ArtifactEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return l.err
}

func (l *fakeLedger) count(t domain.ArtifactEventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// harness wires a TransformService over a real store and registry in a temp dir.
type harness struct {
	root      string
	store     *repository.FileArtifactStore
	sessions  *repository.SessionRegistry
	codec     *fakeCodec
	converter *fakeConverter
	ledger    *fakeLedger
	logger    *MockLogger
	svc       *TransformService
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	root := t.TempDir()
	logger := NewMockLogger()

	store, err := repository.NewFileArtifactStore(root, logger)
	require.NoError(t, err)

	h := &harness{
		root:      root,
		store:     store,
		sessions:  repository.NewSessionRegistry(store, 30*time.Minute, logger),
		codec:     newFakeCodec(),
		converter: &fakeConverter{},
		ledger:    &fakeLedger{},
		logger:    logger,
	}
	h.svc = NewTransformService(TransformDeps{
		Store:       store,
		Sessions:    h.sessions,
		Codec:       h.codec,
		Rasterizer:  fakeRasterizer{},
		Converter:   h.converter,
		Archiver:    engine.ZipArchiver{},
		Runner:      engine.NewPool(2, timeout, logger),
		Ledger:      h.ledger,
		Logger:      logger,
		MaxFileSize: 1 << 20,
	})
	return h
}

func (h *harness) upload(t *testing.T, session, name string, labels ...string) *domain.Artifact {
	t.Helper()
	a, err := h.svc.Upload(context.Background(), session, name, strings.NewReader(fakeDoc(labels...)))
	require.NoError(t, err)
	return a
}

func (h *harness) pages(t *testing.T, a *domain.Artifact) []string {
	t.Helper()
	_, path, err := h.store.Resolve(a.ID)
	require.NoError(t, err)
	pages, err := readFakePages(path)
	require.NoError(t, err)
	return pages
}

// storedFiles lists every regular file under the storage root.
func (h *harness) storedFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(h.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(h.root, path)
			files = append(files, rel)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}
