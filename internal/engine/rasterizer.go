package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pdf-workbench/internal/domain"

	"github.com/gen2brain/go-fitz"
)

const (
	rasterEngine  = "mupdf"
	pointsPerInch = 72.0
)

// FitzRasterizer renders pages with MuPDF through go-fitz.
type FitzRasterizer struct {
	dpi    float64
	logger domain.Logger
}

// NewFitzRasterizer creates a rasterizer; dpi applies to full-document renders.
func NewFitzRasterizer(dpi float64, logger domain.Logger) *FitzRasterizer {
	if dpi <= 0 {
		dpi = 150
	}
	return &FitzRasterizer{dpi: dpi, logger: logger}
}

// RenderPage returns one page as PNG. scale 1.0 renders at 72 DPI.
func (r *FitzRasterizer) RenderPage(ctx context.Context, path string, pageIndex int, scale float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewEngineError(rasterEngine, domain.EngineTimeout, err)
	}

	doc, err := openDocument(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if pageIndex < 0 || pageIndex >= doc.NumPage() {
		return nil, &domain.ValidationError{
			Field:   "page",
			Message: fmt.Sprintf("page %d is out of range 1-%d", pageIndex+1, doc.NumPage()),
		}
	}

	img, err := doc.ImagePNG(pageIndex, scale*pointsPerInch)
	if err != nil {
		return nil, domain.NewEngineError(rasterEngine, domain.EngineFailed, fmt.Errorf("render page %d: %w", pageIndex+1, err))
	}
	return img, nil
}

// RenderAll writes every page as page_NNN.png into outDir.
func (r *FitzRasterizer) RenderAll(ctx context.Context, path, outDir string) ([]string, error) {
	doc, err := openDocument(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	numPages := doc.NumPage()
	paths := make([]string, 0, numPages)
	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewEngineError(rasterEngine, domain.EngineTimeout, err)
		}

		r.logger.Debug("Rasterizing page", "page", i+1, "total", numPages)
		img, err := doc.ImagePNG(i, r.dpi)
		if err != nil {
			return nil, domain.NewEngineError(rasterEngine, domain.EngineFailed, fmt.Errorf("render page %d: %w", i+1, err))
		}

		p := filepath.Join(outDir, fmt.Sprintf("page_%03d.png", i+1))
		if err := os.WriteFile(p, img, 0o644); err != nil {
			return nil, domain.NewEngineError(rasterEngine, domain.EngineFailed, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func openDocument(path string) (*fitz.Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		if errors.Is(err, fitz.ErrNeedsPassword) {
			return nil, domain.NewEngineError(rasterEngine, domain.EnginePasswordRequired, err)
		}
		return nil, domain.NewEngineError(rasterEngine, domain.EngineCorrupt, fmt.Errorf("failed to open PDF: %w", err))
	}
	return doc, nil
}
