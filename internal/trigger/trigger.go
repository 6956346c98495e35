// Package trigger exposes the three idempotent entry points an external
// scheduler drives: generate daily plans, run the current hour, sync tokens.
// Each tolerates duplicate or overlapping invocations without double effect.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"clickflow/internal/coordinator"
	"clickflow/internal/planner"
	"clickflow/internal/store"
	"clickflow/internal/tokens"
	"clickflow/internal/window"
)

type Runner struct {
	repo     store.Repository
	planner  *planner.Generator
	coord    *coordinator.Coordinator
	tokens   *tokens.Synchronizer
	clock    *window.Clock
	parallel int
}

func NewRunner(repo store.Repository, gen *planner.Generator, coord *coordinator.Coordinator, sync *tokens.Synchronizer, clock *window.Clock, parallel int) *Runner {
	if parallel <= 0 {
		parallel = 4
	}
	return &Runner{repo: repo, planner: gen, coord: coord, tokens: sync, clock: clock, parallel: parallel}
}

// DailyPlanResult is the structured outcome of one daily-plan trigger.
type DailyPlanResult struct {
	Date       string `json:"date"`
	Created    int    `json:"created"`
	Existing   int    `json:"existing"`
	Skipped    int    `json:"skipped"`
	DaysClosed int    `json:"days_closed"`
}

// DailyPlan ensures every active task has a plan for the current offset
// date, and closes out plans left open from earlier dates.
func (r *Runner) DailyPlan(ctx context.Context) (DailyPlanResult, error) {
	date := r.clock.OffsetDate(r.clock.Now())
	res := DailyPlanResult{Date: date}

	closed, err := r.closeOpenPlansBefore(ctx, date)
	if err != nil {
		return res, err
	}
	res.DaysClosed = closed

	tasks, err := r.repo.ListActiveTasks(ctx)
	if err != nil {
		return res, fmt.Errorf("list active tasks: %w", err)
	}

	for _, task := range tasks {
		_, created, err := r.planner.EnsurePlan(ctx, task, date)
		if err != nil {
			if errors.Is(err, planner.ErrTaskNotActive) {
				res.Skipped++
				continue
			}
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
	}
	log.Info().
		Str("date", date).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Msg("daily plan trigger done")
	return res, nil
}

// HourlyRunResult is the structured outcome of one hourly trigger.
type HourlyRunResult struct {
	Date    string                   `json:"date"`
	Hour    int                      `json:"hour"`
	Results []coordinator.HourResult `json:"results"`
}

// HourlyRun dispatches the current offset hour for every active task whose
// window includes it. Plans are created lazily here too: the first trigger
// of any kind for a day materializes the plan.
func (r *Runner) HourlyRun(ctx context.Context) (HourlyRunResult, error) {
	now := r.clock.Now()
	date := r.clock.OffsetDate(now)
	hour := r.clock.OffsetHour(now)
	res := HourlyRunResult{Date: date, Hour: hour}

	tasks, err := r.repo.ListActiveTasks(ctx)
	if err != nil {
		return res, fmt.Errorf("list active tasks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	results := make([]coordinator.HourResult, len(tasks))
	ran := make([]bool, len(tasks))

	for i, task := range tasks {
		if !window.InWindow(task.TimeWindow, hour) {
			continue
		}
		i, task := i, task
		ran[i] = true
		g.Go(func() error {
			plan, _, err := r.planner.EnsurePlan(gctx, task, date)
			if err != nil {
				return err
			}
			hr, err := r.coord.RunHour(gctx, task, plan, hour)
			if err != nil {
				return err
			}
			results[i] = hr

			// Last eligible hour of the window closes the day.
			if hour == window.LastHour(task.TimeWindow) {
				if _, err := r.coord.CloseDay(gctx, task, plan); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for i := range results {
		if ran[i] {
			res.Results = append(res.Results, results[i])
		}
	}
	log.Info().
		Int("hour", hour).
		Int("tasks", len(res.Results)).
		Msg("hourly trigger done")
	return res, nil
}

// TokenSyncResult is the structured outcome of one token-sync trigger.
type TokenSyncResult struct {
	Balances map[string]int64 `json:"balances"`
}

// TokenSync reconciles balances for all owners with active tasks.
func (r *Runner) TokenSync(ctx context.Context) (TokenSyncResult, error) {
	balances, err := r.tokens.SyncAll(ctx)
	if err != nil {
		return TokenSyncResult{}, err
	}
	log.Info().Int("owners", len(balances)).Msg("token sync done")
	return TokenSyncResult{Balances: balances}, nil
}

// closeOpenPlansBefore finalizes plans from previous dates that never saw
// their last hour, e.g. across a restart. RunHour's idempotence makes this
// safe to repeat.
func (r *Runner) closeOpenPlansBefore(ctx context.Context, date string) (int, error) {
	plans, err := r.repo.ListOpenPlansBefore(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("list open plans: %w", err)
	}
	closed := 0
	for _, plan := range plans {
		task, err := r.repo.GetTask(ctx, plan.TaskID)
		if err != nil {
			log.Warn().Err(err).Str("plan_id", plan.ID).Msg("orphaned plan")
			continue
		}
		if _, err := r.coord.CloseDay(ctx, task, plan); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}
