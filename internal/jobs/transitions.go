package jobs

import (
	"errors"
	"fmt"

	"github.com/queuesync/queuesync/internal/models"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed from
	// the job's current status.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrNotRunning is returned for progress reports on a job that is not
	// running.
	ErrNotRunning = errors.New("job is not running")
	// ErrInvalidProgress is returned for progress reports that break the
	// job invariants.
	ErrInvalidProgress = errors.New("invalid progress report")
	// ErrInvalidJobType is returned when submitting an unknown job type.
	ErrInvalidJobType = errors.New("invalid job type")
)

var transitions = map[models.Action]struct {
	from []models.JobStatus
	to   models.JobStatus
}{
	models.ActionStart:    {[]models.JobStatus{models.StatusQueued}, models.StatusRunning},
	models.ActionPause:    {[]models.JobStatus{models.StatusRunning}, models.StatusPaused},
	models.ActionResume:   {[]models.JobStatus{models.StatusPaused}, models.StatusRunning},
	models.ActionComplete: {[]models.JobStatus{models.StatusRunning}, models.StatusCompleted},
	models.ActionFail:     {[]models.JobStatus{models.StatusRunning}, models.StatusFailed},
	models.ActionCancel:   {[]models.JobStatus{models.StatusQueued, models.StatusRunning, models.StatusPaused}, models.StatusCanceled},
	models.ActionRetry:    {[]models.JobStatus{models.StatusFailed, models.StatusCanceled}, models.StatusQueued},
}

// Next returns the status a job in from moves to when action is applied.
func Next(from models.JobStatus, action models.Action) (models.JobStatus, error) {
	t, ok := transitions[action]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot %s a %s job", ErrInvalidTransition, action, from)
}

// Allowed reports whether action may be applied to a job in status from.
func Allowed(from models.JobStatus, action models.Action) bool {
	_, err := Next(from, action)
	return err == nil
}
