package domain

import "time"

// SourceKind enumerates how an image asset came to exist.
type SourceKind string

const (
	SourceKindUpload    SourceKind = "upload"
	SourceKindGenerated SourceKind = "generated"
	SourceKindFallback  SourceKind = "fallback"
)

// ImageAsset is an immutable record of one stored raster image. A new
// regeneration always produces a new row; existing rows are never mutated so
// the history chain can point back at them.
type ImageAsset struct {
	ID            string
	URI           string
	MIME          string
	Width         int
	Height        int
	SourceKind    SourceKind
	SourceAssetID string
	CreatedAt     time.Time
}
