package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/prompt"
	"server/internal/regen"
	"server/internal/sqlinline"
)

type boundaryOffsetDTO struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
}

type styleDTO struct {
	Preset       string `json:"preset"`
	Palette      string `json:"palette"`
	Instructions string `json:"instructions"`
}

type regenerateRequest struct {
	Mode             string                       `json:"mode"`
	Resolution       int                          `json:"resolution"`
	Style            styleDTO                     `json:"style"`
	TargetSectionIDs []string                     `json:"target_section_ids"`
	BoundaryOffsets  map[string]boundaryOffsetDTO `json:"boundary_offsets"`
	TargetField      string                       `json:"target_field"`
}

// Regenerate runs one regeneration job over the page's sections and streams
// progress as server-sent events. All precondition checks happen before the
// stream opens; afterwards failures are reported in-stream only.
func (a *App) Regenerate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	pageID := chi.URLParam(r, "page_id")
	if pageID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "page_id required")
		return
	}

	var req regenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	kind, ok := parseMode(req.Mode)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported mode")
		return
	}
	field := domain.FieldPrimary
	if req.TargetField == string(domain.FieldMobile) {
		field = domain.FieldMobile
	}

	if err := a.lookupPage(r.Context(), pageID, userID); err != nil {
		a.lookupError(w, err, "page not found")
		return
	}
	sections, err := a.loadPageSections(r.Context(), pageID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load sections")
		return
	}
	assetURIs, err := a.loadPageAssetURIs(r.Context(), pageID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load image assets")
		return
	}

	overrides := make(map[string]domain.BoundaryOffset, len(req.BoundaryOffsets))
	for id, o := range req.BoundaryOffsets {
		overrides[id] = domain.BoundaryOffset{Top: o.Top, Bottom: o.Bottom}
	}
	items, err := regen.BuildWorkList(kind, field, sections, assetURIs, req.TargetSectionIDs, overrides)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	job := regen.Job{
		UserID:         userID,
		PageID:         pageID,
		Kind:           kind,
		Field:          field,
		RequestedWidth: req.Resolution,
		Style: prompt.Style{
			Preset:       req.Style.Preset,
			Palette:      req.Style.Palette,
			Instructions: req.Style.Instructions,
		},
		Items: items,
	}

	if err := a.Runner.Precheck(r.Context(), job); err != nil {
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			a.error(w, http.StatusForbidden, "quota_exceeded", "daily quota exceeded")
		case errors.Is(err, domain.ErrMissingAPIKey):
			a.error(w, http.StatusServiceUnavailable, "provider_unavailable", "model credential not configured")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "precondition check failed")
		}
		return
	}

	sink, err := newSSESink(w)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if err := a.Runner.Run(r.Context(), job, sink); err != nil {
		a.Logger.Error().Err(err).Str("page_id", pageID).Str("mode", string(kind)).Msg("regeneration job aborted")
	}
}

func parseMode(mode string) (domain.ActionKind, bool) {
	switch domain.ActionKind(mode) {
	case domain.ActionUpscale, domain.ActionStyle, domain.ActionSeam, domain.ActionRestore:
		return domain.ActionKind(mode), true
	default:
		return "", false
	}
}

func (a *App) lookupPage(ctx context.Context, pageID, userID string) error {
	row := a.SQL.QueryRow(ctx, sqlinline.QSelectPageForUser, pageID, userID)
	var id, owner, title string
	return row.Scan(&id, &owner, &title)
}

func (a *App) loadPageSections(ctx context.Context, pageID string) ([]domain.Section, error) {
	rows, err := a.SQL.Query(ctx, sqlinline.QSelectPageSections, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []domain.Section
	for rows.Next() {
		var s domain.Section
		var updatedAt time.Time
		if err := rows.Scan(&s.ID, &s.PageID, &s.Position, &s.ImageRef, &s.MobileImageRef, &s.OriginalImageRef, &s.Boundary.Top, &s.Boundary.Bottom, &updatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt = updatedAt
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

func (a *App) loadPageAssetURIs(ctx context.Context, pageID string) (map[string]string, error) {
	rows, err := a.SQL.Query(ctx, sqlinline.QSelectPageAssetURIs, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	uris := make(map[string]string)
	for rows.Next() {
		var id, uri string
		if err := rows.Scan(&id, &uri); err != nil {
			return nil, err
		}
		uris[id] = uri
	}
	return uris, rows.Err()
}
