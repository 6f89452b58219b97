package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/events"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/pubsub"
	"github.com/queuesync/queuesync/internal/store"
)

// AdminTopic receives every job event.
const AdminTopic = "admin"

// claimAttempts bounds how often ClaimNext retries after losing a race.
const claimAttempts = 5

// ProjectTopic is the topic carrying events for one project's jobs.
func ProjectTopic(projectID int64) string {
	return fmt.Sprintf("project:%d", projectID)
}

// Manager is the only writer of job status and progress. Every change is
// stored first and then published to the job's project topic and AdminTopic.
type Manager struct {
	store *store.Store
	pub   pubsub.Publisher
}

// NewManager creates a Manager. pub may be nil, in which case nothing is
// broadcast.
func NewManager(st *store.Store, pub pubsub.Publisher) *Manager {
	return &Manager{store: st, pub: pub}
}

// Store exposes the underlying store for read paths.
func (m *Manager) Store() *store.Store { return m.store }

// Submit creates a queued job and announces it.
func (m *Manager) Submit(projectID, ownerID int64, jobType models.JobType) (*models.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}
	job, err := m.store.CreateJob(projectID, ownerID, jobType)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log.Info().Int64("job", job.ID).Int64("project", projectID).Str("type", string(jobType)).Msg("job submitted")
	m.publish(projectID, events.Added(*job))
	return job, nil
}

// Apply performs action on job id. Retry also resets progress fields and
// increments the attempt counter.
func (m *Manager) Apply(id int64, action models.Action) (*models.Job, error) {
	return m.transition(id, action, models.JobPatch{})
}

// Control applies one of the admin actions.
func (m *Manager) Control(id int64, action models.Action) (*models.Job, error) {
	if !action.IsAdmin() {
		return nil, fmt.Errorf("%w: %q is not an admin action", ErrInvalidTransition, action)
	}
	return m.Apply(id, action)
}

// Complete marks a running job completed.
func (m *Manager) Complete(id int64) (*models.Job, error) {
	return m.transition(id, models.ActionComplete, models.JobPatch{
		ProgressPercent: models.SetTo(100),
		ETASeconds:      models.Clear[int](),
	})
}

// Fail marks a running job failed. A non-empty note is kept as diagnostics.
func (m *Manager) Fail(id int64, note string) (*models.Job, error) {
	extra := models.JobPatch{ETASeconds: models.Clear[int]()}
	if note != "" {
		extra.Note = models.SetTo(note)
	}
	return m.transition(id, models.ActionFail, extra)
}

func (m *Manager) transition(id int64, action models.Action, extra models.JobPatch) (*models.Job, error) {
	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	to, err := Next(job.Status, action)
	if err != nil {
		return nil, err
	}

	patch := extra
	patch.Status = &to
	retry := action == models.ActionRetry
	if retry {
		patch.ProgressPercent = models.Clear[int]()
		patch.Step = models.Clear[string]()
		patch.StepIndex = models.Clear[int]()
		patch.StepTotal = models.Clear[int]()
		patch.ETASeconds = models.Clear[int]()
		patch.Note = models.Clear[string]()
	}
	now := time.Now().UTC()
	patch.UpdatedAt = &now

	updated, err := m.store.UpdateJob(id, job.Status, store.JobUpdate{Patch: patch, NextAttempt: retry})
	if errors.Is(err, store.ErrStatusChanged) {
		// Someone else moved the job first; report against its new status.
		if cur, gerr := m.store.GetJob(id); gerr == nil {
			return nil, fmt.Errorf("%w: job is now %s", ErrInvalidTransition, cur.Status)
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	log.Printf("Job %d: %s (%s -> %s)", id, action, job.Status, to)
	m.publish(updated.ProjectID, events.Status(id, patch))
	return updated, nil
}

// ClaimNext moves the oldest queued job of jobType (any type when empty) to
// running and returns it. It returns nil when nothing is queued.
func (m *Manager) ClaimNext(jobType models.JobType) (*models.Job, error) {
	if jobType != "" && !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}
	for i := 0; i < claimAttempts; i++ {
		job, err := m.store.OldestQueuedJob(jobType)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		claimed, err := m.Apply(job.ID, models.ActionStart)
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			continue
		}
		return claimed, err
	}
	return nil, nil
}

// Progress is a worker's report on a running job. Nil fields are left
// unchanged; ClearETA and ClearNote unset their fields.
type Progress struct {
	Percent   *int
	Step      *string
	StepIndex *int
	StepTotal *int
	ETA       *int
	Note      *string
	ClearETA  bool
	ClearNote bool
}

func (p Progress) patch() models.JobPatch {
	var patch models.JobPatch
	if p.Percent != nil {
		patch.ProgressPercent = models.SetTo(*p.Percent)
	}
	if p.Step != nil {
		patch.Step = models.SetTo(*p.Step)
	}
	if p.StepIndex != nil {
		patch.StepIndex = models.SetTo(*p.StepIndex)
	}
	if p.StepTotal != nil {
		patch.StepTotal = models.SetTo(*p.StepTotal)
	}
	switch {
	case p.ETA != nil:
		patch.ETASeconds = models.SetTo(*p.ETA)
	case p.ClearETA:
		patch.ETASeconds = models.Clear[int]()
	}
	switch {
	case p.Note != nil:
		patch.Note = models.SetTo(*p.Note)
	case p.ClearNote:
		patch.Note = models.Clear[string]()
	}
	return patch
}

// ReportProgress records progress for a running job and publishes a
// progress event carrying only the reported fields.
func (m *Manager) ReportProgress(id int64, p Progress) (*models.Job, error) {
	job, err := m.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusRunning {
		return nil, fmt.Errorf("%w: job %d is %s", ErrNotRunning, id, job.Status)
	}

	patch := p.patch()
	if patch.Empty() {
		return nil, fmt.Errorf("%w: nothing reported", ErrInvalidProgress)
	}
	if p.Percent != nil && (*p.Percent < 0 || *p.Percent > 100) {
		return nil, fmt.Errorf("%w: progress %d out of range", ErrInvalidProgress, *p.Percent)
	}

	merged := *job
	patch.ApplyTo(&merged)
	if merged.StepIndex != nil && merged.StepTotal != nil && *merged.StepIndex > *merged.StepTotal {
		return nil, fmt.Errorf("%w: step_index %d exceeds step_total %d", ErrInvalidProgress, *merged.StepIndex, *merged.StepTotal)
	}

	now := time.Now().UTC()
	patch.UpdatedAt = &now
	updated, err := m.store.UpdateJob(id, models.StatusRunning, store.JobUpdate{Patch: patch})
	if errors.Is(err, store.ErrStatusChanged) {
		return nil, fmt.Errorf("%w: job %d", ErrNotRunning, id)
	}
	if err != nil {
		return nil, err
	}
	m.publish(updated.ProjectID, events.Progress(id, patch))
	return updated, nil
}

// Remove deletes a job and announces its removal.
func (m *Manager) Remove(id int64) error {
	job, err := m.store.GetJob(id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteJob(id); err != nil {
		return err
	}
	m.publish(job.ProjectID, events.Removed(id))
	return nil
}

// Prune removes completed and canceled jobs not updated within retention
// and returns how many were removed.
func (m *Manager) Prune(retention time.Duration) (int, error) {
	removed, err := m.store.PruneJobs(time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	for _, j := range removed {
		m.publish(j.ProjectID, events.Removed(j.ID))
	}
	return len(removed), nil
}

// Snapshot encodes a queue_snapshot of the latest jobs. projectID 0 means
// every project.
func (m *Manager) Snapshot(projectID int64) ([]byte, error) {
	jobs, _, err := m.store.ListJobs(store.JobFilter{ProjectID: projectID, Limit: store.DefaultJobLimit})
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.Snapshot(jobs))
}

func (m *Manager) publish(projectID int64, ev events.Event) {
	if m.pub == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Kind)).Msg("could not encode job event")
		return
	}
	m.pub.Publish(ProjectTopic(projectID), data)
	m.pub.Publish(AdminTopic, data)
}
