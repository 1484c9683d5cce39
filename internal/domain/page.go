package domain

import "time"

// Page is a landing page composed of vertically stacked sections.
type Page struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BoundaryOffset describes how many pixels of a neighbor's edge are folded
// into a section's recognition window when it is regenerated.
type BoundaryOffset struct {
	Top    int
	Bottom int
}

// Section is one visual block of a page, backed by an image asset. The image
// references are reassigned on successful regeneration; the section row itself
// is never deleted by the regeneration pipeline.
type Section struct {
	ID               string
	PageID           string
	Position         int
	ImageRef         string
	MobileImageRef   string
	OriginalImageRef string
	Boundary         BoundaryOffset
	UpdatedAt        time.Time
}

// ImageField selects which of a section's image references an operation
// targets.
type ImageField string

const (
	FieldPrimary ImageField = "primary"
	FieldMobile  ImageField = "mobile"
)

// Ref returns the current asset reference for the given field.
func (s Section) Ref(field ImageField) string {
	if field == FieldMobile {
		return s.MobileImageRef
	}
	return s.ImageRef
}
