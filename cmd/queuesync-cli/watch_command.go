package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/logging"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/realtime"
	"github.com/queuesync/queuesync/internal/watch"
)

const clearScreen = "\033[H\033[2J"

type watchOptions struct {
	projectID   int64
	admin       bool
	all         bool
	once        bool
	reloadEvery time.Duration
	redrawEvery time.Duration
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a project's jobs (or all jobs with --admin) as they change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.admin == (opts.projectID > 0) {
				return errors.New("pass exactly one of --project or --admin")
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), cl, ctx.gateway(cl), opts)
		},
	}
	cmd.Flags().Int64Var(&opts.projectID, "project", 0, "Project ID to follow")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "Follow every job (admin only)")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Show finished jobs that are no longer fresh")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Print the current view and exit")
	cmd.Flags().DurationVar(&opts.reloadEvery, "reload-every", 0, "Also reload from the server at this interval (0 disables)")
	cmd.Flags().DurationVar(&opts.redrawEvery, "redraw-every", 250*time.Millisecond, "Minimum time between redraws")
	return cmd
}

func watchTarget(cl *client.Client, opts watchOptions) (realtime.Scope, watch.Loader) {
	if opts.admin {
		return realtime.AdminScope(), func(ctx context.Context) ([]models.Job, error) {
			page, err := cl.ListAdminJobs(ctx, client.AdminFilter{})
			if err != nil {
				return nil, err
			}
			return page.Items, nil
		}
	}
	id := opts.projectID
	return realtime.ProjectScope(id), func(ctx context.Context) ([]models.Job, error) {
		return cl.ListProjectJobs(ctx, id)
	}
}

func runWatch(ctx context.Context, out io.Writer, cl *client.Client, gw watch.Opener, opts watchOptions) error {
	scope, loader := watchTarget(cl, opts)

	// Holds at most the newest view; OnChange runs on a single goroutine.
	views := make(chan watch.View, 1)
	onChange := func(v watch.View) {
		select {
		case <-views:
		default:
		}
		select {
		case views <- v:
		default:
		}
	}

	sub, err := watch.Start(ctx, watch.Options{
		Scope:    scope,
		Gateway:  gw,
		Loader:   loader,
		OnChange: onChange,
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	title := scope.String()
	if opts.once {
		printView(out, title, sub.View(), opts.all)
		return nil
	}

	redrawInPlace := logging.IsTerminal(out)
	draw := func(v watch.View) {
		if redrawInPlace {
			fmt.Fprint(out, clearScreen)
		}
		printView(out, title, v, opts.all)
	}
	draw(sub.View())

	var reload <-chan time.Time
	if opts.reloadEvery > 0 {
		t := time.NewTicker(opts.reloadEvery)
		defer t.Stop()
		reload = t.C
	}

	limiter := rate.NewLimiter(rate.Every(opts.redrawEvery), 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reload:
			if err := sub.Reload(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("scope", title).Msg("periodic reload failed")
			}
		case v := <-views:
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			// A newer view may have arrived while waiting.
			select {
			case v = <-views:
			default:
			}
			draw(v)
		}
	}
}
