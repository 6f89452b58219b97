// Package admin issues job commands against the authority and then
// re-reads the authority's state instead of trusting the command response.
package admin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/models"
)

// Commander sends a job command; *client.Client implements it.
type Commander interface {
	JobAction(ctx context.Context, action models.Action, jobID int64) (*models.Job, error)
}

// Reloader refreshes a view from the authority; *watch.Subscription
// implements it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Controller is the admin control plane.
type Controller struct {
	cmd    Commander
	reload Reloader
}

// NewController wires commands to the view that must be reloaded after them.
func NewController(cmd Commander, reload Reloader) *Controller {
	return &Controller{cmd: cmd, reload: reload}
}

func (c *Controller) Pause(ctx context.Context, id int64) error {
	return c.Do(ctx, models.ActionPause, id)
}

func (c *Controller) Resume(ctx context.Context, id int64) error {
	return c.Do(ctx, models.ActionResume, id)
}

func (c *Controller) Retry(ctx context.Context, id int64) error {
	return c.Do(ctx, models.ActionRetry, id)
}

func (c *Controller) Cancel(ctx context.Context, id int64) error {
	return c.Do(ctx, models.ActionCancel, id)
}

// Do sends action for job id. On success the view is reloaded; the command
// response itself is discarded. On failure nothing is reloaded.
func (c *Controller) Do(ctx context.Context, action models.Action, id int64) error {
	if !action.IsAdmin() {
		return fmt.Errorf("%s is not an admin action", action)
	}
	if _, err := c.cmd.JobAction(ctx, action, id); err != nil {
		return fmt.Errorf("%s job %d: %w", action, id, err)
	}
	log.Info().Str("action", string(action)).Int64("job_id", id).Msg("admin action accepted")
	if c.reload == nil {
		return nil
	}
	if err := c.reload.Reload(ctx); err != nil {
		return fmt.Errorf("reload after %s: %w", action, err)
	}
	return nil
}

// AvailableActions lists the commands worth offering for j. The authority
// validates every command again; this is only a hint.
func AvailableActions(j models.Job) []models.Action {
	var out []models.Action
	switch j.Status {
	case models.StatusRunning:
		out = append(out, models.ActionPause)
	case models.StatusPaused:
		out = append(out, models.ActionResume)
	case models.StatusFailed, models.StatusCanceled:
		out = append(out, models.ActionRetry)
	}
	if j.Status == models.StatusQueued || j.Status == models.StatusRunning {
		out = append(out, models.ActionCancel)
	}
	return out
}
