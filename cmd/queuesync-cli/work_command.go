package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/models"
)

type workOptions struct {
	jobType      string
	steps        int
	stepInterval time.Duration
	pollInterval time.Duration
	once         bool
	failNote     string
}

// newWorkCommand runs a simulated worker: it claims queued jobs and walks
// them through a fixed number of steps, reporting progress as it goes.
func newWorkCommand(ctx *commandContext) *cobra.Command {
	var opts workOptions
	var workerToken string

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Claim queued jobs and report simulated progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.steps <= 0 {
				return errors.New("--steps must be positive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if workerToken == "" {
				workerToken = cfg.Worker.Token
			}
			if workerToken == "" {
				return errors.New("a worker token is required (--worker-token or worker.token)")
			}
			cl, err := ctx.clientWithToken(workerToken)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cmd.OutOrStdout(), cl, opts)
		},
	}
	cmd.Flags().StringVar(&workerToken, "worker-token", "", "Worker token (defaults to worker.token)")
	cmd.Flags().StringVar(&opts.jobType, "type", "", "Only claim jobs of this type")
	cmd.Flags().IntVar(&opts.steps, "steps", 5, "Steps per job")
	cmd.Flags().DurationVar(&opts.stepInterval, "step-interval", time.Second, "Time spent on each step")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 2*time.Second, "Wait between claims when the queue is empty")
	cmd.Flags().BoolVar(&opts.once, "once", false, "Process at most one job and exit")
	cmd.Flags().StringVar(&opts.failNote, "fail", "", "Fail every job with this note instead of completing it")
	return cmd
}

func runWorker(ctx context.Context, out io.Writer, cl *client.Client, opts workOptions) error {
	for {
		job, err := cl.ClaimJob(ctx, models.JobType(opts.jobType))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("claim: %w", err)
		}
		if job == nil {
			if opts.once {
				fmt.Fprintln(out, "No queued jobs")
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(opts.pollInterval):
			}
			continue
		}

		fmt.Fprintf(out, "Claimed job %d (%s)\n", job.ID, job.Type)
		if err := processJob(ctx, out, cl, job.ID, opts); err != nil {
			return err
		}
		if opts.once {
			return nil
		}
	}
}

func processJob(ctx context.Context, out io.Writer, cl *client.Client, id int64, opts workOptions) error {
	limiter := rate.NewLimiter(rate.Every(opts.stepInterval), 1)
	total := opts.steps

	for i := 1; i <= total; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		percent := i * 100 / total
		step := fmt.Sprintf("step %d", i)
		idx, tot := i, total
		eta := int((time.Duration(total-i) * opts.stepInterval).Seconds())
		_, err := cl.Report(ctx, id, client.ReportProgress, client.ProgressReport{
			ProgressPercent: &percent,
			Step:            &step,
			StepIndex:       &idx,
			StepTotal:       &tot,
			ETASeconds:      &eta,
		})
		if stopped(err) {
			fmt.Fprintf(out, "Job %d is no longer running; leaving it\n", id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("report job %d: %w", id, err)
		}
		log.Debug().Int64("job_id", id).Int("percent", percent).Msg("progress reported")
	}

	if opts.failNote != "" {
		note := opts.failNote
		if _, err := cl.Report(ctx, id, models.ActionFail, client.ProgressReport{Note: &note}); err != nil && !stopped(err) {
			return fmt.Errorf("fail job %d: %w", id, err)
		}
		fmt.Fprintf(out, "Failed job %d: %s\n", id, note)
		return nil
	}
	if _, err := cl.Report(ctx, id, models.ActionComplete, client.ProgressReport{}); err != nil {
		if stopped(err) {
			fmt.Fprintf(out, "Job %d is no longer running; leaving it\n", id)
			return nil
		}
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	fmt.Fprintf(out, "Completed job %d\n", id)
	return nil
}

// stopped reports whether the authority refused a report because the job
// left the running state, e.g. after an admin pause or cancel.
func stopped(err error) bool {
	var reqErr *client.RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusConflict
}
