// Package admin is the thin HTTP shell over the release engine and the
// notification pipeline: publish, rollback, release reads, and the client
// long-poll endpoint.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowhq/burrow/message"
	"github.com/burrowhq/burrow/notify"
	"github.com/burrowhq/burrow/release"
	"github.com/burrowhq/burrow/watch"
)

// Handlers carries the wired collaborators of the HTTP layer.
type Handlers struct {
	releases        *release.Service
	cache           *message.Cache
	hub             *notify.Hub
	assembler       *watch.KeyAssembler
	longPollTimeout time.Duration
}

func NewHandlers(releases *release.Service, cache *message.Cache, hub *notify.Hub,
	assembler *watch.KeyAssembler, longPollTimeout time.Duration) *Handlers {
	if longPollTimeout <= 0 {
		longPollTimeout = 60 * time.Second
	}
	return &Handlers{
		releases:        releases,
		cache:           cache,
		hub:             hub,
		assembler:       assembler,
		longPollTimeout: longPollTimeout,
	}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// writeEngineError maps the engine's failure taxonomy onto status codes:
// not-found to 404, validation and conflict rejections to 400, everything
// else is an opaque 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, release.ErrNamespaceNotFound), errors.Is(err, release.ErrReleaseNotFound):
		writeErrorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, release.ErrSelfPublishForbidden),
		errors.Is(err, release.ErrReleaseAbandoned),
		errors.Is(err, release.ErrOnlyOneActiveRelease),
		errors.Is(err, release.ErrParentNamespaceNotFound):
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		writeErrorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

// parsePage parses page/size query parameters with defaults
func parsePage(r *http.Request) (page, size int) {
	page, size = 0, 20
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			size = n
		}
	}
	return page, size
}

func decodeBody(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
