package trigger

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// CronSpecs are the embedded trigger schedules. The handlers stay idempotent
// and externally callable; this loop is a convenience for single-binary
// deployments without an external cron.
type CronSpecs struct {
	DailyPlan string // e.g. "5 0 * * *"
	HourlyRun string // e.g. "0 * * * *"
	TokenSync string // e.g. "*/30 * * * *"
}

// Loop drives the trigger runner from an in-process cron.
type Loop struct {
	runner *Runner
	cron   *cron.Cron
}

// NewLoop wires the three triggers onto their cron specs. Entries run in the
// engine's configured timezone so "0 0 * * *" means offset midnight.
func (r *Runner) NewLoop(specs CronSpecs) (*Loop, error) {
	c := cron.New(cron.WithLocation(r.clock.Location()))

	entries := []struct {
		spec string
		name string
		run  func(context.Context) error
	}{
		{specs.DailyPlan, "daily-plan", func(ctx context.Context) error {
			_, err := r.DailyPlan(ctx)
			return err
		}},
		{specs.HourlyRun, "hourly-execution", func(ctx context.Context) error {
			_, err := r.HourlyRun(ctx)
			return err
		}},
		{specs.TokenSync, "token-sync", func(ctx context.Context) error {
			_, err := r.TokenSync(ctx)
			return err
		}},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		e := e
		if _, err := c.AddFunc(e.spec, func() {
			if err := e.run(context.Background()); err != nil {
				log.Error().Err(err).Str("trigger", e.name).Msg("cron trigger failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("cron spec %q for %s: %w", e.spec, e.name, err)
		}
	}
	return &Loop{runner: r, cron: c}, nil
}

func (l *Loop) Start() {
	l.cron.Start()
	log.Info().Msg("embedded trigger loop started")
}

// Stop halts scheduling and waits for running trigger invocations.
func (l *Loop) Stop() {
	<-l.cron.Stop().Done()
}
