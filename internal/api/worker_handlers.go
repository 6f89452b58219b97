package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/queuesync/queuesync/internal/jobs"
	"github.com/queuesync/queuesync/internal/models"
)

func (s *Server) handleWorkerClaim(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.ClaimNext(models.JobType(r.URL.Query().Get("type")))
	if err != nil {
		respondJobError(w, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

func (s *Server) handleWorkerReport(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "jobID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	raw := map[string]json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	progress, err := decodeProgress(raw)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	var job *models.Job
	switch models.Action(chi.URLParam(r, "report")) {
	case "progress":
		job, err = s.jobs.ReportProgress(id, progress)
	case models.ActionComplete:
		job, err = s.jobs.Complete(id)
	case models.ActionFail:
		note := ""
		if progress.Note != nil {
			note = *progress.Note
		}
		job, err = s.jobs.Fail(id, note)
	default:
		RespondWithError(w, http.StatusNotFound, "Unknown report")
		return
	}
	if err != nil {
		respondJobError(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, job)
}

// decodeProgress reads a flat progress body. Explicit nulls are only
// meaningful for eta_seconds and note.
func decodeProgress(raw map[string]json.RawMessage) (jobs.Progress, error) {
	var p jobs.Progress
	if _, ok := raw["status"]; ok {
		return p, errors.New("status cannot be reported")
	}
	patch, err := models.DecodePatch(raw)
	if err != nil {
		return p, err
	}
	for name, f := range map[string]models.Field[int]{
		"progress_percent": patch.ProgressPercent,
		"step_index":       patch.StepIndex,
		"step_total":       patch.StepTotal,
	} {
		if f.Set && f.Value == nil {
			return p, fmt.Errorf("%s cannot be null", name)
		}
	}
	if patch.Step.Set && patch.Step.Value == nil {
		return p, errors.New("step cannot be null")
	}

	p.Percent = patch.ProgressPercent.Value
	p.Step = patch.Step.Value
	p.StepIndex = patch.StepIndex.Value
	p.StepTotal = patch.StepTotal.Value
	p.ETA = patch.ETASeconds.Value
	p.ClearETA = patch.ETASeconds.Set && patch.ETASeconds.Value == nil
	p.Note = patch.Note.Value
	p.ClearNote = patch.Note.Set && patch.Note.Value == nil
	return p, nil
}
