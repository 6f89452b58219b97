package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/store"
	"github.com/queuesync/queuesync/internal/testutil"
)

func setupProject(t *testing.T) (*store.Store, *models.Project) {
	t.Helper()
	s := store.New(testutil.SetupTestDB(t))
	user, err := s.CreateUser("owner", "hash", models.RoleUser)
	require.NoError(t, err)
	p, err := s.CreateProject(user.ID, "demo")
	require.NoError(t, err)
	return s, p
}

func TestJobStore_CreateAndGet(t *testing.T) {
	s, p := setupProject(t)

	job, err := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Equal(t, 1, job.Attempt)
	assert.Nil(t, job.ProgressPercent)
	assert.False(t, job.CreatedAt.IsZero())

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, p.ID, got.ProjectID)

	_, err = s.GetJob(9999)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetProject(9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobStore_UpdateIsCompareAndSet(t *testing.T) {
	s, p := setupProject(t)
	job, err := s.CreateJob(p.ID, p.OwnerID, models.JobTypeAnalysis)
	require.NoError(t, err)

	running := models.StatusRunning
	updated, err := s.UpdateJob(job.ID, models.StatusQueued, store.JobUpdate{Patch: models.JobPatch{
		Status:          &running,
		ProgressPercent: models.SetTo(40),
		Step:            models.SetTo("decode"),
		StepIndex:       models.SetTo(2),
		StepTotal:       models.SetTo(5),
	}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, updated.Status)
	assert.Equal(t, 40, *updated.ProgressPercent)
	assert.Equal(t, "decode", *updated.Step)

	t.Run("stale status loses", func(t *testing.T) {
		_, err := s.UpdateJob(job.ID, models.StatusQueued, store.JobUpdate{Patch: models.JobPatch{Status: &running}})
		assert.ErrorIs(t, err, store.ErrStatusChanged)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.UpdateJob(777, models.StatusQueued, store.JobUpdate{Patch: models.JobPatch{Status: &running}})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("clear fields and bump attempt", func(t *testing.T) {
		failed := models.StatusFailed
		_, err := s.UpdateJob(job.ID, models.StatusRunning, store.JobUpdate{Patch: models.JobPatch{Status: &failed}})
		require.NoError(t, err)

		queued := models.StatusQueued
		retried, err := s.UpdateJob(job.ID, models.StatusFailed, store.JobUpdate{
			Patch: models.JobPatch{
				Status:          &queued,
				ProgressPercent: models.Clear[int](),
				Step:            models.Clear[string](),
				StepIndex:       models.Clear[int](),
				StepTotal:       models.Clear[int](),
			},
			NextAttempt: true,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, retried.Status)
		assert.Nil(t, retried.ProgressPercent)
		assert.Nil(t, retried.Step)
		assert.Nil(t, retried.StepIndex)
		assert.Nil(t, retried.StepTotal)
		assert.Equal(t, 2, retried.Attempt)
	})
}

func TestJobStore_ListFiltersAndCursor(t *testing.T) {
	s, p := setupProject(t)
	for i := 0; i < 5; i++ {
		_, err := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)
		require.NoError(t, err)
	}
	edit, err := s.CreateJob(p.ID, p.OwnerID, models.JobTypeEdit)
	require.NoError(t, err)
	running := models.StatusRunning
	_, err = s.UpdateJob(edit.ID, models.StatusQueued, store.JobUpdate{Patch: models.JobPatch{
		Status: &running, Note: models.SetTo("color grading pass"),
	}})
	require.NoError(t, err)

	t.Run("pages newest first", func(t *testing.T) {
		page, next, err := s.ListJobs(store.JobFilter{Limit: 4})
		require.NoError(t, err)
		require.Len(t, page, 4)
		require.NotNil(t, next)
		assert.Equal(t, edit.ID, page[0].ID)
		assert.Greater(t, page[0].ID, page[1].ID)

		rest, next, err := s.ListJobs(store.JobFilter{Limit: 4, Cursor: *next})
		require.NoError(t, err)
		assert.Len(t, rest, 2)
		assert.Nil(t, next)
	})

	t.Run("status and type", func(t *testing.T) {
		jobs, _, err := s.ListJobs(store.JobFilter{Status: models.StatusQueued, Type: models.JobTypeRender})
		require.NoError(t, err)
		assert.Len(t, jobs, 5)

		jobs, _, err = s.ListJobs(store.JobFilter{Status: models.StatusRunning})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, edit.ID, jobs[0].ID)
	})

	t.Run("free text", func(t *testing.T) {
		jobs, _, err := s.ListJobs(store.JobFilter{Query: "grading"})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, edit.ID, jobs[0].ID)
	})

	t.Run("project scope", func(t *testing.T) {
		other, err := s.CreateProject(p.OwnerID, "other")
		require.NoError(t, err)
		jobs, _, err := s.ListJobs(store.JobFilter{ProjectID: other.ID})
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})
}

func TestJobStore_OldestQueued(t *testing.T) {
	s, p := setupProject(t)
	_, err := s.OldestQueuedJob("")
	assert.ErrorIs(t, err, store.ErrNotFound)

	first, _ := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)
	second, _ := s.CreateJob(p.ID, p.OwnerID, models.JobTypeEdit)

	got, err := s.OldestQueuedJob("")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	got, err = s.OldestQueuedJob(models.JobTypeEdit)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestJobStore_Prune(t *testing.T) {
	s, p := setupProject(t)
	old, _ := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)
	fresh, _ := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)
	active, _ := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)

	canceled := models.StatusCanceled
	longAgo := time.Now().Add(-48 * time.Hour)
	_, err := s.UpdateJob(old.ID, models.StatusQueued, store.JobUpdate{Patch: models.JobPatch{Status: &canceled, UpdatedAt: &longAgo}})
	require.NoError(t, err)
	_, err = s.UpdateJob(fresh.ID, models.StatusQueued, store.JobUpdate{Patch: models.JobPatch{Status: &canceled}})
	require.NoError(t, err)

	removed, err := s.PruneJobs(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, old.ID, removed[0].ID)

	_, err = s.GetJob(old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJob(fresh.ID)
	assert.NoError(t, err)
	_, err = s.GetJob(active.ID)
	assert.NoError(t, err)

	removed, err = s.PruneJobs(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestJobStore_JobIDsForUser(t *testing.T) {
	s, p := setupProject(t)
	admin, err := s.CreateUser("admin", "hash", models.RoleAdmin)
	require.NoError(t, err)
	other, err := s.CreateProject(admin.ID, "other")
	require.NoError(t, err)

	own, err := s.CreateJob(p.ID, p.OwnerID, models.JobTypeRender)
	require.NoError(t, err)
	// Submitted by the admin into the user's project.
	inProject, err := s.CreateJob(p.ID, admin.ID, models.JobTypeEdit)
	require.NoError(t, err)
	_, err = s.CreateJob(other.ID, admin.ID, models.JobTypeEdit)
	require.NoError(t, err)

	ids, err := s.JobIDsForUser(p.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, []int64{own.ID, inProject.ID}, ids)

	ids, err = s.JobIDsForUser(999)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
