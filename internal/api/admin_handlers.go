package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/store"
)

func (s *Server) handleListAdminJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Status: models.JobStatus(q.Get("status")),
		Type:   models.JobType(q.Get("type")),
		Query:  q.Get("q"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		RespondWithError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		RespondWithError(w, http.StatusBadRequest, "Invalid type filter")
		return
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > store.MaxJobLimit {
			RespondWithError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		filter.Limit = limit
	}
	if v := q.Get("cursor"); v != "" {
		cursor, err := strconv.ParseInt(v, 10, 64)
		if err != nil || cursor < 1 {
			RespondWithError(w, http.StatusBadRequest, "Invalid cursor")
			return
		}
		filter.Cursor = cursor
	}

	items, next, err := s.store.ListJobs(filter)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if items == nil {
		items = []models.Job{}
	}
	RespondWithJSON(w, http.StatusOK, map[string]any{"items": items, "next_cursor": next})
}

func (s *Server) handleAdminJobAction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "jobID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}
	action := models.Action(chi.URLParam(r, "action"))
	if !action.IsAdmin() {
		RespondWithError(w, http.StatusBadRequest, "Unknown action: "+string(action))
		return
	}

	job, err := s.jobs.Control(id, action)
	if err != nil {
		respondJobError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "jobID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}
	if err := s.jobs.Remove(id); err != nil {
		respondJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
