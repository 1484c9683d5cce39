package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface: health and static assets are public,
// everything under /v1 requires a bearer token.
func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.Get("/healthz", app.Health)

	// Generated images are served straight from the file store; URIs handed
	// out by the pipeline point here.
	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
	r.Get("/static/*", func(w http.ResponseWriter, req *http.Request) {
		fileServer.ServeHTTP(w, req)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))

		r.Route("/pages/{page_id}", func(r chi.Router) {
			r.Get("/sections", app.ListPageSections)
			r.Get("/images.zip", app.DownloadPageImages)
			r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).
				Post("/regenerate", app.Regenerate)
		})

		r.Route("/sections/{section_id}", func(r chi.Router) {
			r.Get("/history", app.SectionHistory)
			r.Post("/undo", app.UndoSection)
			r.Patch("/boundary", app.PatchSectionBoundary)
		})
	})

	return r
}
