package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/queuesync/queuesync/internal/admin"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/reconcile"
	"github.com/queuesync/queuesync/internal/watch"
)

var jobHeaders = []string{"ID", "Project", "Type", "Status", "Progress", "Step", "ETA", "Attempt", "Updated", "Actions"}

var jobAligns = []columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignLeft}

func jobRows(jobs []models.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10),
			strconv.FormatInt(j.ProjectID, 10),
			string(j.Type),
			string(j.Status),
			fmt.Sprintf("%d%%", reconcile.DisplayProgress(j)),
			formatStep(j),
			formatETA(j.ETASeconds),
			strconv.Itoa(j.Attempt),
			j.UpdatedAt.Local().Format("15:04:05"),
			formatActions(admin.AvailableActions(j)),
		})
	}
	return rows
}

func formatStep(j models.Job) string {
	var b strings.Builder
	if j.Step != nil {
		b.WriteString(*j.Step)
	}
	if j.StepIndex != nil && j.StepTotal != nil {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "(%d/%d)", *j.StepIndex, *j.StepTotal)
	}
	if j.Note != nil && *j.Note != "" {
		if b.Len() > 0 {
			b.WriteString(" - ")
		}
		b.WriteString(*j.Note)
	}
	return b.String()
}

func formatActions(actions []models.Action) string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return strings.Join(names, ",")
}

func formatETA(eta *int) string {
	if eta == nil {
		return ""
	}
	return (time.Duration(*eta) * time.Second).String()
}

func printJobs(w io.Writer, jobs []models.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs")
		return
	}
	fmt.Fprint(w, renderTable(jobHeaders, jobRows(jobs), jobAligns))
}

func printView(w io.Writer, title string, v watch.View, all bool) {
	jobs := v.Visible
	if all {
		jobs = v.Jobs
	}
	reloaded := "never"
	if !v.LastReload.IsZero() {
		reloaded = v.LastReload.Local().Format("15:04:05")
	}
	fmt.Fprintf(w, "%s  realtime: %s  reloaded: %s  showing %d of %d\n", title, v.Realtime, reloaded, len(jobs), len(v.Jobs))
	printJobs(w, jobs)
}
