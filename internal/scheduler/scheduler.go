package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"bondkeeper/internal/logging"
)

// TickFunc is invoked at every activation of the schedule.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Name labels log lines, e.g. "snapshot".
	Name string
	// Cron is a standard 5-field expression.
	Cron       string
	Location   *time.Location
	RunOnStart bool
}

// Scheduler drives cron-timed execution of a pipeline.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	schedule, err := cron.ParseStandard(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
	}
	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		now:      time.Now,
		logger:   logging.Component(logger, "scheduler").With().Str("pipeline", opts.Name).Logger(),
	}, nil
}

// Next returns the first activation strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Run blocks, invoking tick at each activation until ctx is cancelled.
// Tick errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.RunOnStart {
		s.logger.Info().Msg("run on start enabled, executing now")
		s.fire(ctx, tick, s.now())
	}

	for {
		now := s.now()
		next := s.Next(now)
		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		s.logger.Info().Time("next_run", next).Msg("waiting for next activation")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("at", at).Msg("executing scheduled tick")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
}
