package reconcile

import (
	"math"

	"github.com/queuesync/queuesync/internal/models"
)

// DisplayProgress derives the percentage a viewer shows for j. It is always
// within [0,100].
//
// Precedence: explicit progress_percent, then step_index/step_total when the
// total is positive, then a default per status.
func DisplayProgress(j models.Job) int {
	if j.ProgressPercent != nil {
		return clamp(*j.ProgressPercent)
	}
	if j.StepTotal != nil && *j.StepTotal > 0 {
		idx := 0
		if j.StepIndex != nil {
			idx = *j.StepIndex
		}
		ratio := math.Round(float64(idx) / float64(*j.StepTotal) * 100)
		return clamp(int(math.Max(0, math.Min(100, ratio))))
	}
	switch j.Status {
	case models.StatusQueued:
		return 5
	case models.StatusRunning:
		return 50
	case models.StatusCompleted, models.StatusFailed, models.StatusCanceled:
		return 100
	}
	return 0
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
