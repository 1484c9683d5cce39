package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"server/internal/domain"
	"server/internal/sqlinline"
)

const testSectionID = "22222222-2222-4222-8222-222222222222"

func sectionFixture(sql *fakeSQL) {
	updated := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	sql.scans[sqlinline.QSelectSectionForUser] = func(dest ...any) error {
		return setValues(dest, testSectionID, testPageID, 1, "asset-2", "", "asset-orig", 80, 40, updated)
	}
}

func TestListPageSections(t *testing.T) {
	sql := newFakeSQL()
	pageFixture(sql)
	app := newTestApp(sql, &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/pages/"+testPageID+"/sections", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Sections []sectionDTO `json:"sections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(payload.Sections))
	}
	if payload.Sections[1].Boundary.Top != 80 {
		t.Fatalf("boundary top = %d, want 80", payload.Sections[1].Boundary.Top)
	}
}

func TestListPageSectionsUnknownPage(t *testing.T) {
	app := newTestApp(newFakeSQL(), &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/pages/"+testPageID+"/sections", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSectionHistoryLookupQueryFailure(t *testing.T) {
	sql := newFakeSQL()
	sql.rowErr[sqlinline.QSelectSectionForUser] = fmt.Errorf("connection reset")
	app := newTestApp(sql, &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/sections/"+testSectionID+"/history", ""))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 for a query failure", rec.Code)
	}
}

func TestSectionHistoryNewestFirst(t *testing.T) {
	sql := newFakeSQL()
	sectionFixture(sql)
	created := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	sql.rows[sqlinline.QSelectSectionHistory] = &fakeRows{scans: []func(dest ...any) error{
		func(dest ...any) error {
			return setValues(dest, "hist-2", testSectionID, "primary", "asset-2", "asset-3", "style", "Visual style: Dark Minimal.", created)
		},
		func(dest ...any) error {
			return setValues(dest, "hist-1", testSectionID, "primary", "asset-1", "asset-2", "upscale", "", created.Add(-time.Hour))
		},
	}}
	app := newTestApp(sql, &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/sections/"+testSectionID+"/history", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		History []historyEntryDTO `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.History) != 2 {
		t.Fatalf("history = %d, want 2", len(payload.History))
	}
	if payload.History[0].ID != "hist-2" || payload.History[0].ActionKind != "style" {
		t.Fatalf("first entry = %+v, want newest", payload.History[0])
	}
}

func TestUndoSection(t *testing.T) {
	sql := newFakeSQL()
	sectionFixture(sql)
	versions := &fakeVersions{entry: &domain.RegenerationHistoryEntry{
		ID:          "hist-9",
		SectionID:   testSectionID,
		Field:       domain.FieldPrimary,
		NewImageRef: "asset-1",
		ActionKind:  domain.ActionUndo,
	}}
	app := newTestApp(sql, &fakeRunner{}, versions)
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/sections/"+testSectionID+"/undo", `{"target_field":"primary"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(versions.calls) != 1 || versions.calls[0] != testSectionID+"/primary" {
		t.Fatalf("undo calls = %v", versions.calls)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["restored_ref"] != "asset-1" {
		t.Fatalf("restored_ref = %v, want asset-1", payload["restored_ref"])
	}
}

func TestUndoSectionDefaultsToPrimaryWithoutBody(t *testing.T) {
	sql := newFakeSQL()
	sectionFixture(sql)
	versions := &fakeVersions{entry: &domain.RegenerationHistoryEntry{SectionID: testSectionID, Field: domain.FieldPrimary}}
	app := newTestApp(sql, &fakeRunner{}, versions)
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/sections/"+testSectionID+"/undo", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if versions.calls[0] != testSectionID+"/primary" {
		t.Fatalf("undo calls = %v, want primary default", versions.calls)
	}
}

func TestUndoSectionNothingToUndo(t *testing.T) {
	sql := newFakeSQL()
	sectionFixture(sql)
	versions := &fakeVersions{err: pgx.ErrNoRows}
	app := newTestApp(sql, &fakeRunner{}, versions)
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/sections/"+testSectionID+"/undo", ""))

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestUndoSectionNotOwned(t *testing.T) {
	app := newTestApp(newFakeSQL(), &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/sections/"+testSectionID+"/undo", ""))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPatchSectionBoundary(t *testing.T) {
	sql := newFakeSQL()
	sectionFixture(sql)
	app := newTestApp(sql, &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodPatch, "/v1/sections/"+testSectionID+"/boundary", `{"top":120}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(sql.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(sql.execs))
	}
	exec := sql.execs[0]
	if exec.query != sqlinline.QUpdateSectionBoundary {
		t.Fatalf("unexpected query executed")
	}
	// Absent bottom keeps the stored value.
	if exec.args[1] != 120 || exec.args[2] != 40 {
		t.Fatalf("args = %v, want top 120 and stored bottom 40", exec.args)
	}
}

func TestPatchSectionBoundaryRejectsNegative(t *testing.T) {
	sql := newFakeSQL()
	sectionFixture(sql)
	app := newTestApp(sql, &fakeRunner{}, &fakeVersions{})
	rec := httptest.NewRecorder()

	testRouter(app).ServeHTTP(rec, authedRequest(http.MethodPatch, "/v1/sections/"+testSectionID+"/boundary", `{"top":-5}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(sql.execs) != 0 {
		t.Fatalf("execs = %d, want 0", len(sql.execs))
	}
}
