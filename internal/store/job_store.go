package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/queuesync/queuesync/internal/models"
)

const (
	DefaultJobLimit = 50
	MaxJobLimit     = 200
)

const jobColumns = `id, project_id, owner_id, type, status, progress_percent, step, step_index,
	step_total, eta_seconds, note, attempt, created_at, updated_at`

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	ProjectID int64
	Status    models.JobStatus
	Type      models.JobType
	// Query matches step, note and type as a substring.
	Query  string
	Limit  int
	Cursor int64
}

// JobUpdate is applied by UpdateJob.
type JobUpdate struct {
	Patch models.JobPatch
	// NextAttempt increments the attempt counter.
	NextAttempt bool
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	var progress, stepIndex, stepTotal, eta sql.NullInt64
	var step, note sql.NullString
	err := row.Scan(&j.ID, &j.ProjectID, &j.OwnerID, &j.Type, &j.Status, &progress, &step, &stepIndex,
		&stepTotal, &eta, &note, &j.Attempt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.ProgressPercent = nullInt(progress)
	j.StepIndex = nullInt(stepIndex)
	j.StepTotal = nullInt(stepTotal)
	j.ETASeconds = nullInt(eta)
	j.Step = nullString(step)
	j.Note = nullString(note)
	return &j, nil
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

// CreateJob inserts a queued job for a project.
func (s *Store) CreateJob(projectID, ownerID int64, jobType models.JobType) (*models.Job, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		"INSERT INTO jobs (project_id, owner_id, type, status, attempt, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?)",
		projectID, ownerID, jobType, models.StatusQueued, now, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.GetJob(id)
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(id int64) (*models.Job, error) {
	j, err := scanJob(s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

// ListJobs returns jobs newest first. When more rows match than the limit,
// the returned cursor is the id to pass as Cursor for the next page.
func (s *Store) ListJobs(f JobFilter) ([]models.Job, *int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultJobLimit
	}
	if limit > MaxJobLimit {
		limit = MaxJobLimit
	}

	var where []string
	var args []any
	if f.ProjectID != 0 {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		like := "%" + q + "%"
		where = append(where, "(step LIKE ? OR note LIKE ? OR type LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Cursor > 0 {
		where = append(where, "id < ?")
		args = append(args, f.Cursor)
	}

	query := "SELECT " + jobColumns + " FROM jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	jobs := make([]models.Job, 0, limit)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *int64
	if len(jobs) > limit {
		jobs = jobs[:limit]
		cursor := jobs[limit-1].ID
		next = &cursor
	}
	return jobs, next, nil
}

// OldestQueuedJob returns the queued job that has waited longest, optionally
// restricted to one type.
func (s *Store) OldestQueuedJob(jobType models.JobType) (*models.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE status = ?"
	args := []any{models.StatusQueued}
	if jobType != "" {
		query += " AND type = ?"
		args = append(args, jobType)
	}
	query += " ORDER BY id ASC LIMIT 1"
	j, err := scanJob(s.db.QueryRow(query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

// UpdateJob applies u to job id only if its status is still from. It
// returns ErrNotFound for an unknown id and ErrStatusChanged when the
// status no longer matches.
func (s *Store) UpdateJob(id int64, from models.JobStatus, u JobUpdate) (*models.Job, error) {
	patch := u.Patch
	if patch.UpdatedAt == nil {
		now := time.Now().UTC()
		patch.UpdatedAt = &now
	}
	sets, args := patchColumns(patch)
	if u.NextAttempt {
		sets = append(sets, "attempt = attempt + 1")
	}
	query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
	args = append(args, id, from)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := s.GetJob(id); err != nil {
			return nil, err
		}
		return nil, ErrStatusChanged
	}
	return s.GetJob(id)
}

func patchColumns(p models.JobPatch) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.ProgressPercent.Set {
		add("progress_percent", p.ProgressPercent.Value)
	}
	if p.Step.Set {
		add("step", p.Step.Value)
	}
	if p.StepIndex.Set {
		add("step_index", p.StepIndex.Value)
	}
	if p.StepTotal.Set {
		add("step_total", p.StepTotal.Value)
	}
	if p.ETASeconds.Set {
		add("eta_seconds", p.ETASeconds.Value)
	}
	if p.Note.Set {
		add("note", p.Note.Value)
	}
	if p.UpdatedAt != nil {
		add("updated_at", p.UpdatedAt.UTC())
	}
	return sets, args
}

// JobIDsForUser returns the ids of every job that deleting the user would
// cascade to: jobs they submitted and jobs in projects they own.
func (s *Store) JobIDsForUser(userID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT id FROM jobs
		WHERE owner_id = ? OR project_id IN (SELECT id FROM projects WHERE owner_id = ?)
		ORDER BY id`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteJob removes a job.
func (s *Store) DeleteJob(id int64) error {
	res, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// PruneJobs deletes completed and canceled jobs last updated before cutoff
// and returns what was removed.
func (s *Store) PruneJobs(cutoff time.Time) ([]models.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const cond = "status IN ('completed', 'canceled') AND updated_at < ?"
	rows, err := tx.Query("SELECT "+jobColumns+" FROM jobs WHERE "+cond+" ORDER BY id", cutoff.UTC())
	if err != nil {
		return nil, err
	}
	var removed []models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		removed = append(removed, *j)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if _, err := tx.Exec("DELETE FROM jobs WHERE "+cond, cutoff.UTC()); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return removed, nil
}
