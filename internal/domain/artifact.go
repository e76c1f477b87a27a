package domain

import (
	"io"
	"time"
)

// OperationKind tags how an artifact came to exist.
type OperationKind string

const (
	OpUpload       OperationKind = "upload"
	OpMerge        OperationKind = "merge"
	OpSplit        OperationKind = "split"
	OpOrganize     OperationKind = "organize"
	OpRemovePages  OperationKind = "remove_pages"
	OpExtractPages OperationKind = "extract_pages"
	OpRotate       OperationKind = "rotate"
	OpCrop         OperationKind = "crop"
	OpWatermark    OperationKind = "watermark"
	OpPageNumbers  OperationKind = "page_numbers"
	OpConvert      OperationKind = "convert"
	OpCompress     OperationKind = "compress"
	OpProtect      OperationKind = "protect"
)

// Stored-name prefixes. These are part of the on-disk naming contract and must stay stable.
var operationPrefixes = map[OperationKind]string{
	OpUpload:       "upload",
	OpMerge:        "merged",
	OpSplit:        "split",
	OpOrganize:     "organized",
	OpRemovePages:  "removed",
	OpExtractPages: "extracted",
	OpRotate:       "rotated",
	OpCrop:         "cropped",
	OpWatermark:    "watermarked",
	OpPageNumbers:  "numbered",
	OpConvert:      "converted",
	OpCompress:     "compressed",
	OpProtect:      "protected",
}

// Valid reports whether k is a known operation kind.
func (k OperationKind) Valid() bool {
	_, ok := operationPrefixes[k]
	return ok
}

// Prefix returns the stored-name prefix for k.
func (k OperationKind) Prefix() string {
	return operationPrefixes[k]
}

// Bucket returns the storage bucket artifacts of kind k live in.
func (k OperationKind) Bucket() Bucket {
	if k == OpUpload {
		return BucketIncoming
	}
	return BucketGenerated
}

// OperationKinds lists every transform kind in a stable order (uploads excluded).
func OperationKinds() []OperationKind {
	return []OperationKind{
		OpMerge, OpSplit, OpOrganize, OpRemovePages, OpExtractPages, OpRotate,
		OpCrop, OpWatermark, OpPageNumbers, OpConvert, OpCompress, OpProtect,
	}
}

// Bucket is one of the two logical storage areas.
type Bucket string

const (
	BucketIncoming  Bucket = "incoming"
	BucketGenerated Bucket = "generated"
)

// Artifact is one immutable stored document version.
type Artifact struct {
	ID               string        `json:"id"`
	StoredName       string        `json:"stored_name"`
	DisplayName      string        `json:"display_name"`
	Kind             OperationKind `json:"kind"`
	Bucket           Bucket        `json:"bucket"`
	PageCount        *int          `json:"page_count,omitempty"`
	Size             int64         `json:"size"`
	Checksum         string        `json:"checksum"`
	ContentType      string        `json:"content_type"`
	CreatedAt        time.Time     `json:"created_at"`
	SessionID        string        `json:"session_id"`
	SourceArtifactID string        `json:"source_artifact_id,omitempty"`
}

// HasSource reports whether the artifact was derived from another one.
func (a *Artifact) HasSource() bool {
	return a.SourceArtifactID != ""
}

// Clone returns a copy that callers may keep without aliasing store state.
func (a *Artifact) Clone() *Artifact {
	c := *a
	if a.PageCount != nil {
		n := *a.PageCount
		c.PageCount = &n
	}
	return &c
}

// NewArtifact describes an artifact about to be created.
type NewArtifact struct {
	SessionID        string
	DisplayName      string
	SourceArtifactID string
	Kind             OperationKind
	Ext              string
	PageCount        *int
}

// ArtifactStore owns the mapping from artifact ids to stored bytes.
type ArtifactStore interface {
	// Create streams src into a freshly named stored file.
	Create(draft NewArtifact, src io.Reader) (*Artifact, error)
	// StagingPath reserves a scratch path an engine may write its output to.
	StagingPath(ext string) (string, error)
	// StagingDir creates a scratch directory for multi-file engine output.
	StagingDir() (string, error)
	// CreateFromFile adopts a staged file as a new artifact.
	CreateFromFile(draft NewArtifact, stagedPath string) (*Artifact, error)
	// Resolve returns the artifact and the physical path of its bytes.
	Resolve(id string) (*Artifact, string, error)
	// FindByStoredName looks an artifact up by its stored name.
	FindByStoredName(name string) (*Artifact, bool)
	// SetPageCount caches a page count resolved after creation.
	SetPageCount(id string, pages int) error
	// Delete removes bytes and record. Deleting an unknown id is not an error.
	Delete(id string) error
	// List returns a snapshot of every live artifact.
	List() []*Artifact
}
