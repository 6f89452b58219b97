// Helper functions for sending standardized JSON responses.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/jobs"
	"github.com/queuesync/queuesync/internal/store"
)

// RespondWithJSON writes a JSON response with the given status code and payload.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to marshal response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithError writes a standardized JSON error response.
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]string{"error": message})
}

// respondJobError maps job manager errors to status codes.
func respondJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		RespondWithError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrInvalidTransition), errors.Is(err, jobs.ErrNotRunning):
		RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrInvalidProgress), errors.Is(err, jobs.ErrInvalidJobType):
		RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("job operation failed")
		RespondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
