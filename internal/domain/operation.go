package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxWatermarkRepeat bounds tiled watermark repeats per axis.
	MaxWatermarkRepeat = 10
	// MaxWatermarkFontSize bounds watermark text size in points.
	MaxWatermarkFontSize = 400
	// MaxCropMargin bounds a single crop margin in points.
	MaxCropMargin = 5000
)

// OperationParams is the closed set of per-kind transform parameters.
type OperationParams interface {
	Kind() OperationKind
	Validate() error
	isOperationParams()
}

// OperationRequest asks the pipeline to run one transform.
type OperationRequest struct {
	SessionID   string
	Inputs      []string
	DisplayName string
	Params      OperationParams
}

// Kind returns the kind carried by the request parameters.
func (r *OperationRequest) Kind() OperationKind {
	if r.Params == nil {
		return ""
	}
	return r.Params.Kind()
}

// Validate checks the envelope, the input arity, and the parameters.
func (r *OperationRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return invalid("session_id", "session id is required")
	}
	if r.Params == nil {
		return invalid("operation", "operation parameters are required")
	}
	for i, id := range r.Inputs {
		if strings.TrimSpace(id) == "" {
			return invalid("files", "file reference %d is empty", i)
		}
	}

	minInputs, maxInputs := InputArity(r.Params.Kind())
	switch {
	case len(r.Inputs) < minInputs && minInputs == 1:
		return invalid("files", "a file is required")
	case len(r.Inputs) < minInputs:
		return invalid("files", "at least %d files are required", minInputs)
	case maxInputs > 0 && len(r.Inputs) > maxInputs:
		return invalid("files", "at most %d file(s) allowed", maxInputs)
	}

	return r.Params.Validate()
}

// InputArity returns the minimum and maximum input count for kind; max 0 means unbounded.
func InputArity(kind OperationKind) (int, int) {
	switch kind {
	case OpMerge:
		return 2, 0
	case OpConvert:
		return 1, 0
	default:
		return 1, 1
	}
}

// NormalizeRotation folds degrees into [0,360). When axisAligned is set the
// result snaps to the nearest multiple of 90.
func NormalizeRotation(degrees int, axisAligned bool) int {
	n := ((degrees % 360) + 360) % 360
	if axisAligned {
		n = ((n + 45) / 90 * 90) % 360
	}
	return n
}

type MergeParams struct{}

func (MergeParams) Kind() OperationKind { return OpMerge }
func (MergeParams) Validate() error     { return nil }
func (MergeParams) isOperationParams()  {}

// SplitParams selects a page range into one document, or with ChunkSize
// splits every ChunkSize pages into parts delivered as a zip archive.
type SplitParams struct {
	Pages     string `json:"pages"`
	ChunkSize int    `json:"chunk_size"`
}

func (SplitParams) Kind() OperationKind { return OpSplit }
func (SplitParams) isOperationParams()  {}

func (p SplitParams) Validate() error {
	if p.ChunkSize < 0 {
		return invalid("chunk_size", "chunk size cannot be negative")
	}
	if p.ChunkSize > 0 && strings.TrimSpace(p.Pages) != "" {
		return invalid("pages", "use either pages or chunk_size, not both")
	}
	if p.ChunkSize == 0 && strings.TrimSpace(p.Pages) == "" {
		return invalid("pages", "at least one page must be selected")
	}
	return nil
}

// OrganizeParams is an explicit zero-based page order. Pages may repeat;
// pages left out are dropped.
type OrganizeParams struct {
	PageIndices []int `json:"page_indices"`
}

func (OrganizeParams) Kind() OperationKind { return OpOrganize }
func (OrganizeParams) isOperationParams()  {}

func (p OrganizeParams) Validate() error {
	for _, idx := range p.PageIndices {
		if idx < 0 {
			return invalid("page_indices", "index %d cannot be negative", idx)
		}
	}
	return nil
}

type RemovePagesParams struct {
	Pages string `json:"pages"`
}

func (RemovePagesParams) Kind() OperationKind { return OpRemovePages }
func (RemovePagesParams) isOperationParams()  {}

func (p RemovePagesParams) Validate() error {
	if strings.TrimSpace(strings.ReplaceAll(p.Pages, ",", "")) == "" {
		return invalid("pages", "at least one page must be selected")
	}
	return nil
}

type ExtractPagesParams struct {
	Pages string `json:"pages"`
}

func (ExtractPagesParams) Kind() OperationKind { return OpExtractPages }
func (ExtractPagesParams) isOperationParams()  {}

func (p ExtractPagesParams) Validate() error {
	if strings.TrimSpace(strings.ReplaceAll(p.Pages, ",", "")) == "" {
		return invalid("pages", "at least one page must be selected")
	}
	return nil
}

// RotateParams rotates the selected pages (all when Pages is empty) clockwise.
type RotateParams struct {
	Angle int    `json:"angle"`
	Pages string `json:"pages"`
}

func (RotateParams) Kind() OperationKind { return OpRotate }
func (RotateParams) isOperationParams()  {}

// Normalized returns the axis-aligned rotation the codec applies.
func (p RotateParams) Normalized() int {
	return NormalizeRotation(p.Angle, true)
}

func (p RotateParams) Validate() error {
	if p.Normalized() == 0 {
		return invalid("angle", "rotation of %d degrees leaves pages unchanged", p.Angle)
	}
	return nil
}

// CropParams trims margins, in points, from the selected pages.
type CropParams struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
	Pages  string  `json:"pages"`
}

func (CropParams) Kind() OperationKind { return OpCrop }
func (CropParams) isOperationParams()  {}

func (p CropParams) Validate() error {
	margins := []struct {
		name  string
		value float64
	}{{"top", p.Top}, {"right", p.Right}, {"bottom", p.Bottom}, {"left", p.Left}}

	positive := false
	for _, m := range margins {
		if m.value < 0 {
			return invalid(m.name, "margin cannot be negative")
		}
		if m.value > MaxCropMargin {
			return invalid(m.name, "margin cannot exceed %d points", MaxCropMargin)
		}
		if m.value > 0 {
			positive = true
		}
	}
	if !positive {
		return invalid("margins", "at least one margin must be positive")
	}
	return nil
}

// WatermarkPosition anchors a text watermark on the page.
type WatermarkPosition string

const (
	PositionCenter       WatermarkPosition = "center"
	PositionTopLeft      WatermarkPosition = "top-left"
	PositionTopCenter    WatermarkPosition = "top-center"
	PositionTopRight     WatermarkPosition = "top-right"
	PositionBottomLeft   WatermarkPosition = "bottom-left"
	PositionBottomCenter WatermarkPosition = "bottom-center"
	PositionBottomRight  WatermarkPosition = "bottom-right"
	PositionTiled        WatermarkPosition = "tiled"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// WatermarkParams describes a text watermark. Zero values take the defaults
// applied by ApplyDefaults.
type WatermarkParams struct {
	Text     string            `json:"text"`
	Opacity  *float64          `json:"opacity"`
	FontSize int               `json:"font_size"`
	Rotation *int              `json:"rotation"`
	Position WatermarkPosition `json:"position"`
	Color    string            `json:"color"`
	RepeatX  int               `json:"repeat_x"`
	RepeatY  int               `json:"repeat_y"`
}

func (*WatermarkParams) Kind() OperationKind { return OpWatermark }
func (*WatermarkParams) isOperationParams()  {}

// ApplyDefaults fills unset fields.
func (p *WatermarkParams) ApplyDefaults() {
	if strings.TrimSpace(p.Text) == "" {
		p.Text = "CONFIDENTIAL"
	}
	if p.Opacity == nil {
		op := 0.3
		p.Opacity = &op
	}
	if p.FontSize == 0 {
		p.FontSize = 60
	}
	if p.Rotation == nil {
		rot := 45
		p.Rotation = &rot
	}
	if p.Position == "" {
		p.Position = PositionCenter
	}
	if p.Color == "" {
		p.Color = "#808080"
	}
	if p.RepeatX == 0 {
		p.RepeatX = 1
	}
	if p.RepeatY == 0 {
		p.RepeatY = 1
	}
}

// NormalizedRotation returns the watermark angle folded into [0,360).
// Text stamps may sit at any angle, so no snapping is applied.
func (p *WatermarkParams) NormalizedRotation() int {
	if p.Rotation == nil {
		return 0
	}
	return NormalizeRotation(*p.Rotation, false)
}

func (p *WatermarkParams) Validate() error {
	p.ApplyDefaults()

	if len(p.Text) > 200 {
		return invalid("text", "watermark text is limited to 200 characters")
	}
	if *p.Opacity < 0 || *p.Opacity > 1 {
		return invalid("opacity", "opacity must be between 0 and 1")
	}
	if p.FontSize < 1 || p.FontSize > MaxWatermarkFontSize {
		return invalid("font_size", "font size must be between 1 and %d", MaxWatermarkFontSize)
	}
	if !hexColorPattern.MatchString(p.Color) {
		return invalid("color", "color must be a hex value like #808080")
	}
	switch p.Position {
	case PositionCenter, PositionTopLeft, PositionTopCenter, PositionTopRight,
		PositionBottomLeft, PositionBottomCenter, PositionBottomRight, PositionTiled:
	default:
		return invalid("position", "unknown position %q", p.Position)
	}
	if p.RepeatX < 1 || p.RepeatX > MaxWatermarkRepeat {
		return invalid("repeat_x", "repeat count must be between 1 and %d", MaxWatermarkRepeat)
	}
	if p.RepeatY < 1 || p.RepeatY > MaxWatermarkRepeat {
		return invalid("repeat_y", "repeat count must be between 1 and %d", MaxWatermarkRepeat)
	}
	return nil
}

// PageNumberFormat selects how stamped numbers read.
type PageNumberFormat string

const (
	PageNumberPlain   PageNumberFormat = "n"
	PageNumberOfTotal PageNumberFormat = "n_of_total"
)

type PageNumberParams struct {
	Position WatermarkPosition `json:"position"`
	Format   PageNumberFormat  `json:"format"`
	FontSize int               `json:"font_size"`
	Pages    string            `json:"pages"`
}

func (*PageNumberParams) Kind() OperationKind { return OpPageNumbers }
func (*PageNumberParams) isOperationParams()  {}

func (p *PageNumberParams) Validate() error {
	if p.Position == "" {
		p.Position = PositionBottomCenter
	}
	if p.Format == "" {
		p.Format = PageNumberPlain
	}
	if p.FontSize == 0 {
		p.FontSize = 10
	}

	switch p.Position {
	case PositionTopLeft, PositionTopCenter, PositionTopRight,
		PositionBottomLeft, PositionBottomCenter, PositionBottomRight:
	default:
		return invalid("position", "unknown position %q", p.Position)
	}
	if p.Format != PageNumberPlain && p.Format != PageNumberOfTotal {
		return invalid("format", "unknown format %q", p.Format)
	}
	if p.FontSize < 4 || p.FontSize > 72 {
		return invalid("font_size", "font size must be between 4 and 72")
	}
	return nil
}

// ConvertTarget names the output format of a conversion.
type ConvertTarget string

const (
	// ConvertToPDF turns office documents or images into a PDF.
	ConvertToPDF ConvertTarget = "pdf"
	// ConvertToImages rasterizes every page into a zip of PNGs.
	ConvertToImages ConvertTarget = "png"
	// ConvertToSearchablePDF adds an OCR text layer.
	ConvertToSearchablePDF ConvertTarget = "ocr"
)

type ConvertParams struct {
	Target ConvertTarget `json:"target"`
}

func (ConvertParams) Kind() OperationKind { return OpConvert }
func (ConvertParams) isOperationParams()  {}

func (p ConvertParams) Validate() error {
	switch p.Target {
	case ConvertToPDF, ConvertToImages, ConvertToSearchablePDF:
		return nil
	case "":
		return invalid("target", "conversion target is required")
	default:
		return invalid("target", "unknown conversion target %q", p.Target)
	}
}

type CompressParams struct{}

func (CompressParams) Kind() OperationKind { return OpCompress }
func (CompressParams) Validate() error     { return nil }
func (CompressParams) isOperationParams()  {}

type ProtectParams struct {
	Password string `json:"password"`
}

func (ProtectParams) Kind() OperationKind { return OpProtect }
func (ProtectParams) isOperationParams()  {}

func (p ProtectParams) Validate() error {
	if p.Password == "" {
		return invalid("password", "password is required")
	}
	if len(p.Password) > 127 {
		return invalid("password", "password is limited to 127 characters")
	}
	return nil
}

// DecodeParams decodes the JSON parameters for kind. Unknown fields are ignored so
// the same body may also carry the request envelope.
func DecodeParams(kind OperationKind, raw []byte) (OperationParams, error) {
	var params OperationParams
	switch kind {
	case OpMerge:
		params = &MergeParams{}
	case OpSplit:
		params = &SplitParams{}
	case OpOrganize:
		params = &OrganizeParams{}
	case OpRemovePages:
		params = &RemovePagesParams{}
	case OpExtractPages:
		params = &ExtractPagesParams{}
	case OpRotate:
		params = &RotateParams{}
	case OpCrop:
		params = &CropParams{}
	case OpWatermark:
		params = &WatermarkParams{}
	case OpPageNumbers:
		params = &PageNumberParams{}
	case OpConvert:
		params = &ConvertParams{}
	case OpCompress:
		params = &CompressParams{}
	case OpProtect:
		params = &ProtectParams{}
	default:
		return nil, invalid("operation", "unknown operation %q", kind)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, params); err != nil {
			return nil, invalid("body", "invalid parameters: %v", err)
		}
	}
	return params, nil
}

// String renders a short description for logs.
func (r *OperationRequest) String() string {
	return fmt.Sprintf("%s(session=%s, inputs=%v)", r.Kind(), r.SessionID, r.Inputs)
}
