package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/queuesync/queuesync/internal/admin"
	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/models"
)

// listReloader re-reads the admin listing after a command and prints it.
type listReloader struct {
	cl  *client.Client
	out io.Writer
}

func (r listReloader) Reload(ctx context.Context) error {
	page, err := r.cl.ListAdminJobs(ctx, client.AdminFilter{Limit: 20})
	if err != nil {
		return err
	}
	printJobs(r.out, page.Items)
	return nil
}

func newActionCommands(ctx *commandContext) []*cobra.Command {
	descriptions := map[models.Action]string{
		models.ActionPause:  "Pause a running job",
		models.ActionResume: "Resume a paused job",
		models.ActionRetry:  "Requeue a failed or canceled job",
		models.ActionCancel: "Cancel a job",
	}

	cmds := make([]*cobra.Command, 0, len(models.AdminActions))
	for _, action := range models.AdminActions {
		action := action
		cmds = append(cmds, &cobra.Command{
			Use:   string(action) + " <job-id>",
			Short: descriptions[action],
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				cl, err := ctx.client()
				if err != nil {
					return err
				}
				ctrl := admin.NewController(cl, listReloader{cl: cl, out: cmd.OutOrStdout()})
				return ctrl.Do(cmd.Context(), action, id)
			},
		})
	}
	return cmds
}
