package regen

import (
	"fmt"

	"server/internal/domain"
)

// defaultSeamOffset is used for seam repair when neither the stored boundary
// offsets nor the request override provide a window.
const defaultSeamOffset = 100

// WorkItem is one section resolved for processing: its source image URI, the
// neighbor context URIs, and the effective boundary offsets.
type WorkItem struct {
	Section           domain.Section
	SourceAssetID     string
	SourceURI         string
	TopNeighborURI    string
	BottomNeighborURI string
	Offsets           domain.BoundaryOffset
}

// BuildWorkList resolves the ordered work items for a job. sections must be
// the page's sections in position order; assetURIs maps asset IDs to their
// pixel URIs; overrides carries per-section boundary offsets from the
// request.
func BuildWorkList(kind domain.ActionKind, field domain.ImageField, sections []domain.Section, assetURIs map[string]string, targetIDs []string, overrides map[string]domain.BoundaryOffset) ([]WorkItem, error) {
	index := make(map[string]int, len(sections))
	for i, s := range sections {
		index[s.ID] = i
	}

	var selected []int
	switch kind {
	case domain.ActionUpscale:
		for i, s := range sections {
			if s.Ref(field) != "" {
				selected = append(selected, i)
			}
		}
	case domain.ActionStyle, domain.ActionSeam, domain.ActionRestore:
		if len(targetIDs) == 0 {
			return nil, fmt.Errorf("%w: %s requires target sections", domain.ErrInvalidOperation, kind)
		}
		for _, id := range targetIDs {
			i, ok := index[id]
			if !ok {
				return nil, fmt.Errorf("section %s: %w", id, domain.ErrNotFound)
			}
			if sections[i].Ref(field) == "" {
				return nil, fmt.Errorf("%w: section %s has no image to regenerate", domain.ErrInvalidOperation, id)
			}
			selected = append(selected, i)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidOperation, kind)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no sections with images to process", domain.ErrInvalidOperation)
	}

	items := make([]WorkItem, 0, len(selected))
	for _, i := range selected {
		section := sections[i]
		assetID := section.Ref(field)
		uri, ok := assetURIs[assetID]
		if !ok || uri == "" {
			return nil, fmt.Errorf("image asset %s for section %s: %w", assetID, section.ID, domain.ErrNotFound)
		}

		item := WorkItem{
			Section:       section,
			SourceAssetID: assetID,
			SourceURI:     uri,
			Offsets:       effectiveOffsets(kind, section, overrides),
		}
		if item.Offsets.Top > 0 && i > 0 {
			item.TopNeighborURI = assetURIs[sections[i-1].Ref(field)]
		}
		if item.Offsets.Bottom > 0 && i < len(sections)-1 {
			item.BottomNeighborURI = assetURIs[sections[i+1].Ref(field)]
		}
		// Without a neighbor on that side the offset contributes nothing.
		if item.TopNeighborURI == "" {
			item.Offsets.Top = 0
		}
		if item.BottomNeighborURI == "" {
			item.Offsets.Bottom = 0
		}
		items = append(items, item)
	}
	return items, nil
}

func effectiveOffsets(kind domain.ActionKind, section domain.Section, overrides map[string]domain.BoundaryOffset) domain.BoundaryOffset {
	offsets := section.Boundary
	if o, ok := overrides[section.ID]; ok {
		offsets = o
	}
	switch kind {
	case domain.ActionUpscale, domain.ActionRestore:
		// Full-frame operations never fold in neighbor context.
		return domain.BoundaryOffset{}
	case domain.ActionSeam:
		if offsets.Top <= 0 && offsets.Bottom <= 0 {
			offsets.Top = defaultSeamOffset
		}
	}
	if offsets.Top < 0 {
		offsets.Top = 0
	}
	if offsets.Bottom < 0 {
		offsets.Bottom = 0
	}
	return offsets
}
