// Package reconcile maintains one viewer's in-memory job collection from
// snapshots and delta events and derives what the viewer should display.
//
// A Reconciler is not safe for concurrent use. It is owned by exactly one
// Subscription, which applies messages one at a time in arrival order.
package reconcile

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/events"
	"github.com/queuesync/queuesync/internal/models"
)

// FreshnessWindow is how long a completed job stays visible after its last update.
const FreshnessWindow = 90 * time.Second

// FallbackCount is how many recently updated jobs are shown when the
// freshness filter leaves nothing to display.
const FallbackCount = 5

type entry struct {
	job models.Job
	seq uint64
}

// Reconciler holds the Reconciled Collection.
type Reconciler struct {
	jobs       map[int64]*entry
	seq        uint64
	lastReload time.Time
	now        func() time.Time
}

// New returns an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{jobs: make(map[int64]*entry), now: time.Now}
}

// Apply dispatches one event. It is the only place event kinds are matched.
func (r *Reconciler) Apply(e events.Event) {
	switch e.Kind {
	case events.KindQueueSnapshot:
		r.ApplySnapshot(e.Jobs)
	case events.KindJobAdded:
		if e.Job != nil {
			r.ApplyAdded(*e.Job)
		}
	case events.KindJobRemoved:
		r.ApplyRemoved(e.JobID)
	case events.KindProgress, events.KindStatus:
		r.ApplyPatch(e.JobID, e.Patch)
	}
}

// ApplyAll applies a batch of events in order. The result is the same as
// applying them one at a time.
func (r *Reconciler) ApplyAll(evts []events.Event) {
	for _, e := range evts {
		r.Apply(e)
	}
}

// ApplySnapshot replaces the whole collection. Jobs are expected newest
// first, as the authority sends them; the first job becomes the most recent.
func (r *Reconciler) ApplySnapshot(jobs []models.Job) {
	r.jobs = make(map[int64]*entry, len(jobs))
	for i := len(jobs) - 1; i >= 0; i-- {
		r.put(jobs[i])
	}
	r.lastReload = r.now()
}

// ApplyAdded inserts job as the most recent entry, overwriting on id collision.
func (r *Reconciler) ApplyAdded(job models.Job) {
	r.put(job)
}

// ApplyRemoved deletes the job if present.
func (r *Reconciler) ApplyRemoved(id int64) {
	delete(r.jobs, id)
}

// ApplyPatch merges the patch into an existing job. Patches for unknown ids
// are dropped: a partial update cannot produce a valid Job on its own. A
// patch whose result fails validation is dropped and the job left as it was.
func (r *Reconciler) ApplyPatch(id int64, patch models.JobPatch) bool {
	e, ok := r.jobs[id]
	if !ok {
		return false
	}
	merged := e.job.Clone()
	patch.ApplyTo(&merged)
	if err := merged.Validate(); err != nil {
		log.Debug().Int64("job_id", id).Err(err).Msg("dropping patch")
		return false
	}
	e.job = merged
	return true
}

func (r *Reconciler) put(job models.Job) {
	r.seq++
	r.jobs[job.ID] = &entry{job: job.Clone(), seq: r.seq}
}

// Len returns the number of jobs in the collection.
func (r *Reconciler) Len() int { return len(r.jobs) }

// Get returns a copy of the job with the given id.
func (r *Reconciler) Get(id int64) (models.Job, bool) {
	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return e.job.Clone(), true
}

// LastReload is when the last snapshot was applied; zero if never.
func (r *Reconciler) LastReload() time.Time { return r.lastReload }

// Jobs returns copies of every job, most recent first.
func (r *Reconciler) Jobs() []models.Job {
	entries := r.entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	return copyJobs(entries)
}

// Visible applies the freshness window at now. If that hides everything
// while the collection is non-empty, the FallbackCount most recently
// updated jobs are returned instead, regardless of status.
func (r *Reconciler) Visible(now time.Time) []models.Job {
	entries := r.entries()
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	var fresh []*entry
	for _, e := range entries {
		if IsFresh(e.job, now) {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) > 0 || len(entries) == 0 {
		return copyJobs(fresh)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].job.UpdatedAt, entries[j].job.UpdatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return entries[i].seq > entries[j].seq
	})
	if len(entries) > FallbackCount {
		entries = entries[:FallbackCount]
	}
	return copyJobs(entries)
}

// IsFresh reports whether a job passes the freshness filter at now.
func IsFresh(j models.Job, now time.Time) bool {
	if j.Status != models.StatusCompleted {
		return true
	}
	return now.Sub(j.UpdatedAt) < FreshnessWindow
}

func (r *Reconciler) entries() []*entry {
	out := make([]*entry, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e)
	}
	return out
}

func copyJobs(entries []*entry) []models.Job {
	out := make([]models.Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.job.Clone())
	}
	return out
}
