package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// JobType is the kind of work a job performs.
type JobType string

const (
	JobTypeAnalysis JobType = "analysis"
	JobTypeRender   JobType = "render"
	JobTypeEdit     JobType = "edit"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeAnalysis, JobTypeRender, JobTypeEdit:
		return true
	}
	return false
}

// JobStatus is a state of the job lifecycle.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusPaused    JobStatus = "paused"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCanceled  JobStatus = "canceled"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusPaused, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether s can only be left through a retry.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Job is one unit of asynchronous work tracked by status and progress.
// Optional fields are nil when unset.
type Job struct {
	ID              int64     `json:"id"`
	ProjectID       int64     `json:"project_id"`
	OwnerID         int64     `json:"owner_id,omitempty"`
	Type            JobType   `json:"type"`
	Status          JobStatus `json:"status"`
	ProgressPercent *int      `json:"progress_percent,omitempty"`
	Step            *string   `json:"step,omitempty"`
	StepIndex       *int      `json:"step_index,omitempty"`
	StepTotal       *int      `json:"step_total,omitempty"`
	ETASeconds      *int      `json:"eta_seconds,omitempty"`
	Note            *string   `json:"note,omitempty"`
	Attempt         int       `json:"attempt,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

var (
	ErrMissingJobID   = errors.New("job id is required")
	ErrUnknownStatus  = errors.New("unknown job status")
	ErrUnknownJobType = errors.New("unknown job type")
	ErrStepOutOfRange = errors.New("step_index exceeds step_total")
)

// Validate checks the invariants a Job must satisfy to enter a collection.
func (j *Job) Validate() error {
	if j.ID == 0 {
		return ErrMissingJobID
	}
	if !j.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, j.Status)
	}
	if !j.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownJobType, j.Type)
	}
	if j.StepIndex != nil && j.StepTotal != nil && *j.StepIndex > *j.StepTotal {
		return ErrStepOutOfRange
	}
	return nil
}

// Clone returns a deep copy so callers never share optional field storage.
func (j Job) Clone() Job {
	c := j
	c.ProgressPercent = clonePtr(j.ProgressPercent)
	c.Step = clonePtr(j.Step)
	c.StepIndex = clonePtr(j.StepIndex)
	c.StepTotal = clonePtr(j.StepTotal)
	c.ETASeconds = clonePtr(j.ETASeconds)
	c.Note = clonePtr(j.Note)
	return c
}

// UnmarshalJSON accepts progress_percent as any JSON number and rounds it.
func (j *Job) UnmarshalJSON(data []byte) error {
	type plain Job
	var aux struct {
		plain
		ProgressPercent *float64 `json:"progress_percent"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*j = Job(aux.plain)
	j.ProgressPercent = nil
	if aux.ProgressPercent != nil {
		j.ProgressPercent = Ptr(roundPercent(*aux.ProgressPercent))
	}
	return nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func roundPercent(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(math.Round(f))
}
