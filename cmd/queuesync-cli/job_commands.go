package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/queuesync/queuesync/internal/client"
	"github.com/queuesync/queuesync/internal/models"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			p, err := cl.CreateProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %d (%s)\n", p.ID, p.Name)
			return nil
		},
	})
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and submit jobs",
	}
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsAdminCommand(ctx))
	cmd.AddCommand(newJobsSubmitCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a project's jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID <= 0 {
				return errors.New("--project is required")
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := cl.ListProjectJobs(cmd.Context(), projectID)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), jobs)
			return nil
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "Project ID")
	return cmd
}

func newJobsAdminCommand(ctx *commandContext) *cobra.Command {
	var filter client.AdminFilter
	var status, jobType string

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "List jobs across all projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = models.JobStatus(status)
			filter.Type = models.JobType(jobType)
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			page, err := cl.ListAdminJobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			printJobs(cmd.OutOrStdout(), page.Items)
			if page.NextCursor != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "More results: --cursor %d\n", *page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&jobType, "type", "", "Filter by job type")
	cmd.Flags().StringVarP(&filter.Query, "query", "q", "", "Substring match on step, note or type")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Page size")
	cmd.Flags().Int64Var(&filter.Cursor, "cursor", 0, "Continue after this job ID")
	return cmd
}

func newJobsSubmitCommand(ctx *commandContext) *cobra.Command {
	var projectID int64
	var jobType string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job to a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID <= 0 {
				return errors.New("--project is required")
			}
			cl, err := ctx.client()
			if err != nil {
				return err
			}
			j, err := cl.SubmitJob(cmd.Context(), projectID, models.JobType(jobType))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %d (%s, %s)\n", j.ID, j.Type, j.Status)
			return nil
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "Project ID")
	cmd.Flags().StringVar(&jobType, "type", string(models.JobTypeAnalysis), "Job type: analysis, render or edit")
	return cmd
}

func parseJobID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}
