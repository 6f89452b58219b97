package jobs

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

// PruneSettings controls the scheduled removal of finished jobs.
type PruneSettings struct {
	Retention       time.Duration
	IntervalMinutes int
}

// StartScheduler starts the background job scheduler. The caller stops it
// with Stop on shutdown.
func StartScheduler(m *Manager, settings PruneSettings) *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	schedulePrune(s, m, settings)

	log.Print("Starting background job scheduler...")
	s.StartAsync()
	return s
}

func schedulePrune(s *gocron.Scheduler, m *Manager, settings PruneSettings) {
	if settings.IntervalMinutes <= 0 || settings.Retention <= 0 {
		log.Print("Job pruning is disabled.")
		return
	}

	jobID := "prune-finished-jobs"
	log.Printf("Scheduling job: '%s' to run every %d minutes.", jobID, settings.IntervalMinutes)

	_, err := s.Every(settings.IntervalMinutes).Minutes().Tag(jobID).Do(func() {
		n, err := m.Prune(settings.Retention)
		if err != nil {
			log.Error().Err(err).Str("job", jobID).Msg("scheduled prune failed")
			return
		}
		if n > 0 {
			log.Info().Int("removed", n).Msg("pruned finished jobs")
		}
	})
	if err != nil {
		log.Printf("Error scheduling '%s' job: %v", jobID, err)
	}
}
