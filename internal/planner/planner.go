// Package planner turns a task's daily click target into a per-hour
// distribution and owns DailyExecutionPlan creation.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"clickflow/internal/domain"
	"clickflow/internal/store"
	"clickflow/internal/window"
)

// ErrTaskNotActive is returned when plan generation is requested for a
// terminated task.
var ErrTaskNotActive = errors.New("task not active")

type Generator struct {
	repo store.Repository

	mu  sync.Mutex
	rng *rand.Rand
}

func NewGenerator(repo store.Repository) *Generator {
	return &Generator{repo: repo, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewGeneratorWithSeed pins the random source, for deterministic tests.
func NewGeneratorWithSeed(repo store.Repository, seed int64) *Generator {
	return &Generator{repo: repo, rng: rand.New(rand.NewSource(seed))}
}

// EnsurePlan returns the task's plan for date, creating it on first call.
// Creation is idempotent: once a plan exists for (taskID, date) the stored
// plan is returned unchanged, never regenerated.
func (g *Generator) EnsurePlan(ctx context.Context, task domain.Task, date string) (domain.DailyExecutionPlan, bool, error) {
	if task.Status == domain.TaskTerminated {
		return domain.DailyExecutionPlan{}, false, fmt.Errorf("%w: %s", ErrTaskNotActive, task.ID)
	}

	if p, err := g.repo.GetPlan(ctx, task.ID, date); err == nil {
		return p, false, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.DailyExecutionPlan{}, false, err
	}

	dist := g.Distribute(task.DailyClicks, task.TimeWindow)
	total := 0
	for _, n := range dist {
		total += n
	}

	p, created, err := g.repo.CreatePlan(ctx, domain.DailyExecutionPlan{
		TaskID:             task.ID,
		Date:               date,
		TotalClicks:        total,
		HourlyDistribution: dist,
		Status:             domain.PlanPlanned,
	})
	if err != nil {
		return domain.DailyExecutionPlan{}, false, err
	}
	if created {
		log.Info().
			Str("task_id", task.ID).
			Str("plan_id", p.ID).
			Str("date", date).
			Int("total_clicks", total).
			Msg("daily plan created")
	}
	return p, created, nil
}

// Distribute splits dailyClicks across the hours of the window key. Every
// eligible hour gets a share drawn from a bounded perturbation around the
// uniform split, then the remainder is scattered over randomly chosen hours
// so the total is preserved exactly. Hours outside the window stay zero; an
// unknown window key yields an all-zero distribution.
func (g *Generator) Distribute(dailyClicks int, windowKey string) [24]int {
	var dist [24]int
	hours := window.HoursInWindow(windowKey)
	if len(hours) == 0 || dailyClicks <= 0 {
		return dist
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	base := float64(dailyClicks) / float64(len(hours))
	assigned := 0
	for _, h := range hours {
		// share in [0.5, 1.5) of the uniform slice
		share := int(base * (0.5 + g.rng.Float64()))
		if share < 0 {
			share = 0
		}
		if assigned+share > dailyClicks {
			share = dailyClicks - assigned
		}
		dist[h] = share
		assigned += share
	}

	// Scatter the remainder one click at a time onto random window hours.
	for assigned < dailyClicks {
		h := hours[g.rng.Intn(len(hours))]
		dist[h]++
		assigned++
	}
	return dist
}
