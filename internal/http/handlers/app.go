package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/regen"
	"server/internal/storage"
)

// JobRunner is the orchestrator boundary the handlers depend on.
type JobRunner interface {
	Precheck(ctx context.Context, job regen.Job) error
	Run(ctx context.Context, job regen.Job, sink regen.EventSink) error
}

// VersionTracker exposes the undo side of the version/history tracker.
type VersionTracker interface {
	Undo(ctx context.Context, sectionID string, field domain.ImageField) (*domain.RegenerationHistoryEntry, error)
}

// App is the handler container; collaborators are injected so tests can
// substitute fakes.
type App struct {
	SQL      infra.SQLExecutor
	Config   *infra.Config
	Logger   infra.Logger
	Runner   JobRunner
	Versions VersionTracker
	Store    *storage.FileStore
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// lookupError maps a row lookup failure: an absent row is the caller's 404,
// anything else is a query failure and must not masquerade as not-found.
func (a *App) lookupError(w http.ResponseWriter, err error, message string) {
	if infra.IsNoRows(err) {
		a.error(w, http.StatusNotFound, "not_found", message)
		return
	}
	a.Logger.Error().Err(err).Msg("lookup query failed")
	a.error(w, http.StatusInternalServerError, "internal", "lookup failed")
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
