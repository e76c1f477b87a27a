package domain

import "context"

// CropMargins are trimmed from each page edge, in points.
type CropMargins struct {
	Top, Right, Bottom, Left float64
}

// PDFCodec performs byte-level PDF transforms. Every method writes a complete
// document to out or fails; callers own out and remove it on error.
// A nil selection means every page.
type PDFCodec interface {
	PageCount(ctx context.Context, path string) (int, error)
	Merge(ctx context.Context, inputs []string, out string) error
	// Collect writes the selected pages in selection order, duplicates included.
	Collect(ctx context.Context, in, out string, sel *PageSelection) error
	RemovePages(ctx context.Context, in, out string, sel *PageSelection) error
	Rotate(ctx context.Context, in, out string, degrees int, sel *PageSelection) error
	Crop(ctx context.Context, in, out string, margins CropMargins, sel *PageSelection) error
	Watermark(ctx context.Context, in, out string, params *WatermarkParams) error
	StampPageNumbers(ctx context.Context, in, out string, params *PageNumberParams, sel *PageSelection) error
	Compress(ctx context.Context, in, out string) error
	Protect(ctx context.Context, in, out, password string) error
	// SplitChunks writes one document per chunkSize pages into outDir and
	// returns the part paths in page order.
	SplitChunks(ctx context.Context, in, outDir string, chunkSize int) ([]string, error)
	ImagesToPDF(ctx context.Context, images []string, out string) error
}

// Rasterizer renders PDF pages to images.
type Rasterizer interface {
	// RenderPage returns PNG bytes for the zero-based page at scale (1.0 = 72 DPI).
	RenderPage(ctx context.Context, path string, pageIndex int, scale float64) ([]byte, error)
	// RenderAll writes one PNG per page into outDir and returns their paths in page order.
	RenderAll(ctx context.Context, path, outDir string) ([]string, error)
}

// DocumentConverter wraps the subprocess-backed converters. Either may be
// absent from the deployment, in which case it fails with EngineMissing.
type DocumentConverter interface {
	OfficeToPDF(ctx context.Context, in, out string) error
	OCR(ctx context.Context, in, out string) error
}

// ArchiveEntry is one file placed in a zip archive.
type ArchiveEntry struct {
	Name string
	Path string
}

// Archiver bundles multi-file outputs into a single artifact.
type Archiver interface {
	WriteZip(ctx context.Context, out string, entries []ArchiveEntry) error
}
