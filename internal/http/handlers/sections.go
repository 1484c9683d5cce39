package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/sqlinline"
)

type sectionDTO struct {
	ID               string            `json:"id"`
	PageID           string            `json:"page_id"`
	Position         int               `json:"position"`
	ImageRef         string            `json:"image_ref,omitempty"`
	MobileImageRef   string            `json:"mobile_image_ref,omitempty"`
	OriginalImageRef string            `json:"original_image_ref,omitempty"`
	Boundary         boundaryOffsetDTO `json:"boundary"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toSectionDTO(s domain.Section) sectionDTO {
	return sectionDTO{
		ID:               s.ID,
		PageID:           s.PageID,
		Position:         s.Position,
		ImageRef:         s.ImageRef,
		MobileImageRef:   s.MobileImageRef,
		OriginalImageRef: s.OriginalImageRef,
		Boundary:         boundaryOffsetDTO{Top: s.Boundary.Top, Bottom: s.Boundary.Bottom},
		UpdatedAt:        s.UpdatedAt,
	}
}

// ListPageSections returns the page's sections in display order, with their
// current image references and boundary offsets.
func (a *App) ListPageSections(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	pageID := chi.URLParam(r, "page_id")
	if err := a.lookupPage(r.Context(), pageID, userID); err != nil {
		a.lookupError(w, err, "page not found")
		return
	}
	sections, err := a.loadPageSections(r.Context(), pageID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load sections")
		return
	}
	out := make([]sectionDTO, 0, len(sections))
	for _, s := range sections {
		out = append(out, toSectionDTO(s))
	}
	a.json(w, http.StatusOK, map[string]any{"sections": out})
}

type historyEntryDTO struct {
	ID               string    `json:"id"`
	SectionID        string    `json:"section_id"`
	Field            string    `json:"field"`
	PreviousImageRef string    `json:"previous_image_ref,omitempty"`
	NewImageRef      string    `json:"new_image_ref"`
	ActionKind       string    `json:"action_kind"`
	PromptText       string    `json:"prompt_text,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// SectionHistory lists the regeneration history of one section, newest first.
func (a *App) SectionHistory(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	sectionID := chi.URLParam(r, "section_id")
	if _, err := a.lookupSection(r, sectionID, userID); err != nil {
		a.lookupError(w, err, "section not found")
		return
	}

	rows, err := a.SQL.Query(r.Context(), sqlinline.QSelectSectionHistory, sectionID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	defer rows.Close()

	entries := make([]historyEntryDTO, 0)
	for rows.Next() {
		var e historyEntryDTO
		if err := rows.Scan(&e.ID, &e.SectionID, &e.Field, &e.PreviousImageRef, &e.NewImageRef, &e.ActionKind, &e.PromptText, &e.CreatedAt); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to read history")
			return
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read history")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"history": entries})
}

type undoRequest struct {
	TargetField string `json:"target_field"`
}

// UndoSection reverts the section's image reference to the previous entry in
// its history and records the reversal as a new entry.
func (a *App) UndoSection(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	sectionID := chi.URLParam(r, "section_id")
	if _, err := a.lookupSection(r, sectionID, userID); err != nil {
		a.lookupError(w, err, "section not found")
		return
	}

	var req undoRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}
	field := domain.FieldPrimary
	if req.TargetField == string(domain.FieldMobile) {
		field = domain.FieldMobile
	}

	entry, err := a.Versions.Undo(r.Context(), sectionID, field)
	if err != nil {
		if infra.IsNoRows(err) {
			a.error(w, http.StatusConflict, "nothing_to_undo", "section has no regeneration to undo")
			return
		}
		a.Logger.Error().Err(err).Str("section_id", sectionID).Msg("undo failed")
		a.error(w, http.StatusConflict, "nothing_to_undo", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"section_id":       entry.SectionID,
		"field":            string(entry.Field),
		"restored_ref":     entry.NewImageRef,
		"history_entry_id": entry.ID,
	})
}

type boundaryPatchRequest struct {
	Top    *int `json:"top"`
	Bottom *int `json:"bottom"`
}

// PatchSectionBoundary updates the stored seam offsets of one section. Absent
// fields keep their current value.
func (a *App) PatchSectionBoundary(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	sectionID := chi.URLParam(r, "section_id")
	section, err := a.lookupSection(r, sectionID, userID)
	if err != nil {
		a.lookupError(w, err, "section not found")
		return
	}

	var req boundaryPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	top := section.Boundary.Top
	bottom := section.Boundary.Bottom
	if req.Top != nil {
		top = *req.Top
	}
	if req.Bottom != nil {
		bottom = *req.Bottom
	}
	if top < 0 || bottom < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "offsets must be non-negative")
		return
	}

	if _, err := a.SQL.Exec(r.Context(), sqlinline.QUpdateSectionBoundary, sectionID, top, bottom); err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to update boundary")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"section_id": sectionID,
		"boundary":   boundaryOffsetDTO{Top: top, Bottom: bottom},
	})
}

func (a *App) lookupSection(r *http.Request, sectionID, userID string) (domain.Section, error) {
	var s domain.Section
	row := a.SQL.QueryRow(r.Context(), sqlinline.QSelectSectionForUser, sectionID, userID)
	err := row.Scan(&s.ID, &s.PageID, &s.Position, &s.ImageRef, &s.MobileImageRef, &s.OriginalImageRef, &s.Boundary.Top, &s.Boundary.Bottom, &s.UpdatedAt)
	return s, err
}
