// Package scheduler runs the daily trading pass on a cron schedule.
package scheduler

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a schedulable unit of work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs. Each job is single-flight: a firing
// that lands while the previous run is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a scheduler using standard five-field cron expressions.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers a job with a cron schedule, e.g. "30 15 * * MON-FRI".
func (s *Scheduler) AddJob(ctx context.Context, schedule string, job Job) error {
	var running atomic.Bool

	_, err := s.cron.AddFunc(schedule, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn().Str("job", job.Name()).Msg("previous run still active, skipping")
			return
		}
		defer running.Store(false)

		s.log.Info().Str("job", job.Name()).Msg("running job")
		if err := job.Run(ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Info().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run(ctx)
}
