package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// NewRouter builds the HTTP API. Publish and rollback live under the app
// namespace path; the notifications endpoint is what config clients
// long-poll.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, map[string]string{"status": "ok"})
	})

	r.Get("/notifications", h.handleNotifications)

	r.Route("/apps/{appID}/clusters/{cluster}/namespaces/{namespace}", func(r chi.Router) {
		r.Post("/releases", h.handlePublish)
		r.Post("/gray-del-releases", h.handleGrayDelPublish)
		r.Post("/branches/{branch}/merge-releases", h.handleMergeRelease)

		r.Get("/releases/latest", h.handleLatestActiveRelease)
		r.Get("/releases/active", h.handleActiveReleases)
		r.Get("/releases/all", h.handleAllReleases)
		r.Get("/histories", h.handleReleaseHistories)
	})

	r.Route("/releases", func(r chi.Router) {
		r.Get("/", h.handleGetReleasesByIDs)
		r.Get("/{releaseID}", h.handleGetRelease)
		r.Put("/{releaseID}/rollback", h.handleRollback)
	})

	log.Info().Msg("Admin API routes registered")
	return r
}
