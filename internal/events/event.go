// Package events defines the realtime messages exchanged between the job
// authority and its viewers, and validates them at the transport boundary.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/queuesync/queuesync/internal/models"
)

// Kind discriminates the Event payload.
type Kind string

const (
	KindQueueSnapshot Kind = "queue_snapshot"
	KindJobAdded      Kind = "job_added"
	KindJobRemoved    Kind = "job_removed"
	KindProgress      Kind = "progress"
	KindStatus        Kind = "status"
)

// ErrMalformed wraps every reason Parse rejects a message.
var ErrMalformed = errors.New("malformed event")

// Event is one realtime message. Which fields are meaningful depends on Kind:
// Jobs for snapshots, Job for additions, JobID for removals, and JobID plus
// Patch for progress and status updates.
type Event struct {
	Kind  Kind
	Jobs  []models.Job
	Job   *models.Job
	JobID int64
	Patch models.JobPatch
}

func Snapshot(jobs []models.Job) Event {
	if jobs == nil {
		jobs = []models.Job{}
	}
	return Event{Kind: KindQueueSnapshot, Jobs: jobs}
}

func Added(job models.Job) Event {
	return Event{Kind: KindJobAdded, Job: &job}
}

func Removed(id int64) Event {
	return Event{Kind: KindJobRemoved, JobID: id}
}

func Progress(id int64, patch models.JobPatch) Event {
	return Event{Kind: KindProgress, JobID: id, Patch: patch}
}

func Status(id int64, patch models.JobPatch) Event {
	return Event{Kind: KindStatus, JobID: id, Patch: patch}
}

// MarshalJSON writes the flat wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{"type": e.Kind}
	switch e.Kind {
	case KindQueueSnapshot:
		jobs := e.Jobs
		if jobs == nil {
			jobs = []models.Job{}
		}
		m["jobs"] = jobs
	case KindJobAdded:
		if e.Job == nil {
			return nil, fmt.Errorf("%w: job_added without job", ErrMalformed)
		}
		m["job"] = e.Job
	case KindJobRemoved:
		m["job_id"] = e.JobID
	case KindProgress, KindStatus:
		e.Patch.AppendFields(m)
		m["job_id"] = e.JobID
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, e.Kind)
	}
	return json.Marshal(m)
}

// Parse decodes and validates one inbound message. Any error it returns
// wraps ErrMalformed; callers drop such messages and keep going.
func Parse(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var kind Kind
	if v, ok := raw["type"]; !ok || json.Unmarshal(v, &kind) != nil {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	e := Event{Kind: kind}
	switch kind {
	case KindQueueSnapshot:
		v, ok := raw["jobs"]
		if !ok || string(v) == "null" {
			return Event{}, fmt.Errorf("%w: snapshot without jobs", ErrMalformed)
		}
		if err := json.Unmarshal(v, &e.Jobs); err != nil {
			return Event{}, fmt.Errorf("%w: jobs: %v", ErrMalformed, err)
		}
		for i := range e.Jobs {
			if err := e.Jobs[i].Validate(); err != nil {
				return Event{}, fmt.Errorf("%w: jobs[%d]: %v", ErrMalformed, i, err)
			}
		}
	case KindJobAdded:
		v, ok := raw["job"]
		if !ok || string(v) == "null" {
			return Event{}, fmt.Errorf("%w: job_added without job", ErrMalformed)
		}
		var job models.Job
		if err := json.Unmarshal(v, &job); err != nil {
			return Event{}, fmt.Errorf("%w: job: %v", ErrMalformed, err)
		}
		if err := job.Validate(); err != nil {
			return Event{}, fmt.Errorf("%w: job: %v", ErrMalformed, err)
		}
		e.Job = &job
	case KindJobRemoved:
		id, err := jobID(raw)
		if err != nil {
			return Event{}, err
		}
		e.JobID = id
	case KindProgress, KindStatus:
		id, err := jobID(raw)
		if err != nil {
			return Event{}, err
		}
		patch, err := models.DecodePatch(raw)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		e.JobID = id
		e.Patch = patch
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, kind)
	}
	return e, nil
}

func jobID(raw map[string]json.RawMessage) (int64, error) {
	v, ok := raw["job_id"]
	if !ok {
		return 0, fmt.Errorf("%w: missing job_id", ErrMalformed)
	}
	var id int64
	if err := json.Unmarshal(v, &id); err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid job_id %s", ErrMalformed, v)
	}
	return id, nil
}
