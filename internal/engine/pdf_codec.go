package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"pdf-workbench/internal/domain"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	codecEngine = "pdfcpu"
	// stampInset keeps corner stamps off the page edge, in points.
	stampInset = 50.0
	// pageNumberInset is the distance of page numbers from the page edge.
	pageNumberInset = 20.0
)

var disableConfigDir sync.Once

// PDFCodec implements domain.PDFCodec on top of pdfcpu.
type PDFCodec struct {
	logger domain.Logger
}

// NewPDFCodec creates a codec. pdfcpu's on-disk user configuration is
// disabled so every call runs with the built-in defaults.
func NewPDFCodec(logger domain.Logger) *PDFCodec {
	disableConfigDir.Do(pdfapi.DisableConfigDir)
	return &PDFCodec{logger: logger}
}

func (c *PDFCodec) conf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (c *PDFCodec) PageCount(ctx context.Context, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, timeout(err)
	}
	n, err := pdfapi.PageCountFile(path)
	if err != nil {
		return 0, classify("page count", err)
	}
	return n, nil
}

func (c *PDFCodec) Merge(ctx context.Context, inputs []string, out string) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	if err := pdfapi.MergeCreateFile(inputs, out, false, c.conf()); err != nil {
		return classify("merge", err)
	}
	return nil
}

func (c *PDFCodec) Collect(ctx context.Context, in, out string, sel *domain.PageSelection) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	if err := pdfapi.CollectFile(in, out, pages(sel), c.conf()); err != nil {
		return classify("collect", err)
	}
	return nil
}

func (c *PDFCodec) RemovePages(ctx context.Context, in, out string, sel *domain.PageSelection) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	if err := pdfapi.RemovePagesFile(in, out, pages(sel), c.conf()); err != nil {
		return classify("remove pages", err)
	}
	return nil
}

func (c *PDFCodec) Rotate(ctx context.Context, in, out string, degrees int, sel *domain.PageSelection) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	if err := pdfapi.RotateFile(in, out, degrees, pages(sel), c.conf()); err != nil {
		return classify("rotate", err)
	}
	return nil
}

func (c *PDFCodec) Crop(ctx context.Context, in, out string, m domain.CropMargins, sel *domain.PageSelection) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	box, err := pdfapi.Box(fmt.Sprintf("%.2f %.2f %.2f %.2f", m.Top, m.Right, m.Bottom, m.Left), types.POINTS)
	if err != nil {
		return domain.NewEngineError(codecEngine, domain.EngineUnsupported, err)
	}
	if err := pdfapi.CropFile(in, out, pages(sel), box, c.conf()); err != nil {
		return classify("crop", err)
	}
	return nil
}

// Watermark stamps text once per page at the requested anchor, or for the
// tiled position repeats it on a RepeatX by RepeatY grid.
func (c *PDFCodec) Watermark(ctx context.Context, in, out string, p *domain.WatermarkParams) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}

	if p.Position != domain.PositionTiled {
		desc := watermarkDesc(p, anchorFor(p.Position))
		if err := pdfapi.AddTextWatermarksFile(in, out, nil, true, p.Text, desc, c.conf()); err != nil {
			return classify("watermark", err)
		}
		return nil
	}

	dims, err := pdfapi.PageDimsFile(in)
	if err != nil {
		return classify("page dimensions", err)
	}

	stamps := make(map[int][]*model.Watermark, len(dims))
	desc := watermarkDesc(p, anchor{pos: "c"})
	for i, dim := range dims {
		cellW := dim.Width / float64(p.RepeatX)
		cellH := dim.Height / float64(p.RepeatY)
		for x := 0; x < p.RepeatX; x++ {
			for y := 0; y < p.RepeatY; y++ {
				wm, err := pdfcpu.ParseTextWatermarkDetails(p.Text, desc, true, types.POINTS)
				if err != nil {
					return domain.NewEngineError(codecEngine, domain.EngineUnsupported, err)
				}
				wm.Dx = (float64(x)+0.5)*cellW - dim.Width/2
				wm.Dy = (float64(y)+0.5)*cellH - dim.Height/2
				stamps[i+1] = append(stamps[i+1], wm)
			}
		}
	}

	if err := pdfapi.AddWatermarksSliceMapFile(in, out, stamps, c.conf()); err != nil {
		return classify("watermark", err)
	}
	return nil
}

// StampPageNumbers writes "N" or "N / total" on the selected pages.
func (c *PDFCodec) StampPageNumbers(ctx context.Context, in, out string, p *domain.PageNumberParams, sel *domain.PageSelection) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}

	text := "%p"
	if p.Format == domain.PageNumberOfTotal {
		text = "%p / %P"
	}

	a := anchorFor(p.Position)
	a.dx, a.dy = scaleInset(a.dx, pageNumberInset), scaleInset(a.dy, pageNumberInset)
	desc := fmt.Sprintf("fontname:Helvetica, points:%d, scalefactor:1 abs, rotation:0, opacity:1, fillcolor:#000000, position:%s, offset:%.0f %.0f",
		p.FontSize, a.pos, a.dx, a.dy)

	if err := pdfapi.AddTextWatermarksFile(in, out, pages(sel), true, text, desc, c.conf()); err != nil {
		return classify("page numbers", err)
	}
	return nil
}

func (c *PDFCodec) Compress(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	if err := pdfapi.OptimizeFile(in, out, c.conf()); err != nil {
		return classify("optimize", err)
	}
	return nil
}

// Protect encrypts with AES-256 using password as both user and owner password.
func (c *PDFCodec) Protect(ctx context.Context, in, out, password string) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	conf := model.NewAESConfiguration(password, password, 256)
	conf.ValidationMode = model.ValidationRelaxed
	if err := pdfapi.EncryptFile(in, out, conf); err != nil {
		return classify("encrypt", err)
	}
	return nil
}

// SplitChunks writes part_001.pdf, part_002.pdf, ... each holding chunkSize pages.
func (c *PDFCodec) SplitChunks(ctx context.Context, in, outDir string, chunkSize int) ([]string, error) {
	total, err := c.PageCount(ctx, in)
	if err != nil {
		return nil, err
	}

	var parts []string
	for start, n := 1, 1; start <= total; start, n = start+chunkSize, n+1 {
		if err := ctx.Err(); err != nil {
			return nil, timeout(err)
		}
		end := start + chunkSize - 1
		if end > total {
			end = total
		}
		part := filepath.Join(outDir, fmt.Sprintf("part_%03d.pdf", n))
		if err := pdfapi.CollectFile(in, part, []string{fmt.Sprintf("%d-%d", start, end)}, c.conf()); err != nil {
			return nil, classify("split", err)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

func (c *PDFCodec) ImagesToPDF(ctx context.Context, images []string, out string) error {
	if err := ctx.Err(); err != nil {
		return timeout(err)
	}
	if err := pdfapi.ImportImagesFile(images, out, pdfcpu.DefaultImportConfig(), c.conf()); err != nil {
		return classify("import images", err)
	}
	return nil
}

// anchor is a pdfcpu position plus offset in points.
type anchor struct {
	pos    string
	dx, dy float64
}

func anchorFor(pos domain.WatermarkPosition) anchor {
	switch pos {
	case domain.PositionTopLeft:
		return anchor{"tl", stampInset, -stampInset}
	case domain.PositionTopCenter:
		return anchor{"tc", 0, -stampInset}
	case domain.PositionTopRight:
		return anchor{"tr", -stampInset, -stampInset}
	case domain.PositionBottomLeft:
		return anchor{"bl", stampInset, stampInset}
	case domain.PositionBottomCenter:
		return anchor{"bc", 0, stampInset}
	case domain.PositionBottomRight:
		return anchor{"br", -stampInset, stampInset}
	default:
		return anchor{pos: "c"}
	}
}

func scaleInset(v, inset float64) float64 {
	switch {
	case v > 0:
		return inset
	case v < 0:
		return -inset
	default:
		return 0
	}
}

// watermarkDesc renders a pdfcpu text watermark description.
func watermarkDesc(p *domain.WatermarkParams, a anchor) string {
	// pdfcpu expects rotation in [-180, 180].
	rot := p.NormalizedRotation()
	if rot > 180 {
		rot -= 360
	}
	return fmt.Sprintf("fontname:Helvetica, points:%d, scalefactor:1 abs, rotation:%d, opacity:%.2f, fillcolor:%s, position:%s, offset:%.0f %.0f",
		p.FontSize, rot, *p.Opacity, p.Color, a.pos, a.dx, a.dy)
}

func pages(sel *domain.PageSelection) []string {
	if sel == nil {
		return nil
	}
	return sel.PageNumbers()
}

func timeout(err error) error {
	return domain.NewEngineError(codecEngine, domain.EngineTimeout, err)
}

// classify maps pdfcpu errors onto engine error kinds. pdfcpu does not export
// typed errors for these cases, so the message is inspected.
func classify(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return domain.NewEngineError(codecEngine, domain.EngineFailed, wrapped)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password") || strings.Contains(msg, "encrypted"):
		return domain.NewEngineError(codecEngine, domain.EnginePasswordRequired, wrapped)
	case strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported"):
		return domain.NewEngineError(codecEngine, domain.EngineUnsupported, wrapped)
	default:
		return domain.NewEngineError(codecEngine, domain.EngineCorrupt, wrapped)
	}
}
