package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/store"
)

// authorizedProject loads the project named in the URL and checks the
// caller owns it or is an admin. It writes the error response itself.
func (s *Server) authorizedProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	id, ok := idParam(r, "projectID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid project ID")
		return nil, false
	}
	project, err := s.store.GetProject(id)
	if errors.Is(err, store.ErrNotFound) {
		RespondWithError(w, http.StatusNotFound, "Project not found")
		return nil, false
	}
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to load project")
		return nil, false
	}
	user := getUserFromContext(r)
	if user == nil || (project.OwnerID != user.ID && !user.IsAdmin()) {
		RespondWithError(w, http.StatusForbidden, "Forbidden: not your project")
		return nil, false
	}
	return project, true
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		RespondWithError(w, http.StatusBadRequest, "Project name is required")
		return
	}

	user := getUserFromContext(r)
	project, err := s.store.CreateProject(user.ID, name)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to create project")
		return
	}
	RespondWithJSON(w, http.StatusCreated, project)
}

func (s *Server) handleListProjectJobs(w http.ResponseWriter, r *http.Request) {
	project, ok := s.authorizedProject(w, r)
	if !ok {
		return
	}
	jobs, _, err := s.store.ListJobs(store.JobFilter{ProjectID: project.ID, Limit: store.MaxJobLimit})
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	RespondWithJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	project, ok := s.authorizedProject(w, r)
	if !ok {
		return
	}
	var payload struct {
		Type models.JobType `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	job, err := s.jobs.Submit(project.ID, getUserFromContext(r).ID, payload.Type)
	if err != nil {
		respondJobError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusCreated, job)
}
