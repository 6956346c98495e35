// Package coordinator turns one hour's click target into dispatched jobs and
// records their outcomes. Re-invoking an hour is safe: satisfied hours
// no-op, and outcomes from a superseded invocation are discarded.
package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"clickflow/internal/domain"
	"clickflow/internal/executor"
	"clickflow/internal/pool"
	"clickflow/internal/progress"
	"clickflow/internal/store"
	"clickflow/internal/tokens"
)

type Coordinator struct {
	repo         store.Repository
	pool         *pool.Pool
	tokens       *tokens.Synchronizer
	hub          *progress.Hub
	costPerClick int64
}

func New(repo store.Repository, p *pool.Pool, t *tokens.Synchronizer, hub *progress.Hub, costPerClick int64) *Coordinator {
	if costPerClick <= 0 {
		costPerClick = 1
	}
	return &Coordinator{repo: repo, pool: p, tokens: t, hub: hub, costPerClick: costPerClick}
}

// HourResult describes what one RunHour invocation did. Shortfall counts
// clicks that could not be dispatched this invocation (insufficient balance
// or saturated queue); it is recorded, not an error.
type HourResult struct {
	TaskID      string `json:"task_id"`
	PlanID      string `json:"plan_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Hour        int    `json:"hour"`
	Target      int    `json:"target"`
	Dispatched  int    `json:"dispatched"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Cancelled   int    `json:"cancelled"`
	Shortfall   int    `json:"shortfall"`
	AlreadyDone bool   `json:"already_done,omitempty"`
}

// RunHour ensures the hour's target is dispatched and its outcomes recorded.
// Individual job failures are counted, never escalated; only store failures
// surface as errors.
func (c *Coordinator) RunHour(ctx context.Context, task domain.Task, plan domain.DailyExecutionPlan, hour int) (HourResult, error) {
	res := HourResult{TaskID: task.ID, PlanID: plan.ID, Hour: hour}
	if hour < 0 || hour > 23 {
		return res, fmt.Errorf("hour %d out of range", hour)
	}
	res.Target = plan.HourlyDistribution[hour]
	if res.Target == 0 {
		res.AlreadyDone = true
		return res, nil
	}

	exec, err := c.repo.BeginHour(ctx, plan.ID, hour, res.Target)
	if err != nil {
		return res, fmt.Errorf("begin hour: %w", err)
	}
	res.ExecutionID = exec.ID
	if exec.Closed || exec.Satisfied() {
		res.AlreadyDone = true
		return res, nil
	}

	remaining := exec.TargetClicks - exec.ActualClicks
	c.hub.Publish(domain.ProgressEvent{
		Type:         domain.EventHourStarted,
		TaskID:       task.ID,
		PlanID:       plan.ID,
		ExecutionID:  exec.ID,
		Hour:         hour,
		TargetClicks: exec.TargetClicks,
		ActualClicks: exec.ActualClicks,
	})

	// Cap dispatch by what the owner's balance allows. Partial fulfillment
	// is expected behavior, not a fault.
	granted, err := c.tokens.Reserve(ctx, task.OwnerID, int64(remaining)*c.costPerClick)
	if err != nil {
		return res, fmt.Errorf("reserve tokens: %w", err)
	}
	dispatchable := int(granted / c.costPerClick)
	if leftover := granted - int64(dispatchable)*c.costPerClick; leftover > 0 {
		c.refund(ctx, task.OwnerID, leftover)
	}
	if short := remaining - dispatchable; short > 0 {
		c.recordShortfall(ctx, exec, task, short, "insufficient token balance")
		res.Shortfall += short
	}

	if err := c.repo.SetPlanStatus(ctx, plan.ID, domain.PlanInProgress); err != nil {
		log.Warn().Err(err).Str("plan_id", plan.ID).Msg("mark plan in progress")
	}

	referer := executor.ExpandReferer(task.RefererTemplate, task.OfferURL, task.Country)
	jobs := make([]*pool.Job, 0, dispatchable)
	for i := 0; i < dispatchable; i++ {
		job, err := c.pool.Submit(domain.JobSpec{
			TaskID:      task.ID,
			OwnerID:     task.OwnerID,
			PlanID:      plan.ID,
			ExecutionID: exec.ID,
			Hour:        hour,
			Seq:         exec.Seq,
			Kind:        task.ClickMode,
			OfferURL:    task.OfferURL,
			Referer:     referer,
			Country:     task.Country,
		})
		if err != nil {
			// Saturation (or shutdown) rejects the rest of the batch.
			undispatched := dispatchable - i
			c.refund(ctx, task.OwnerID, int64(undispatched)*c.costPerClick)
			c.recordShortfall(ctx, exec, task, undispatched, err.Error())
			res.Shortfall += undispatched
			if !errors.Is(err, pool.ErrQueueSaturated) {
				log.Warn().Err(err).Str("task_id", task.ID).Msg("submit rejected")
			}
			break
		}
		jobs = append(jobs, job)
	}
	res.Dispatched = len(jobs)

	for _, job := range jobs {
		<-job.Done()
		c.resolve(ctx, task, exec, job, &res)
	}

	c.hub.Publish(domain.ProgressEvent{
		Type:         domain.EventHourClosed,
		TaskID:       task.ID,
		PlanID:       plan.ID,
		ExecutionID:  exec.ID,
		Hour:         hour,
		TargetClicks: exec.TargetClicks,
		SuccessCount: res.Succeeded,
		FailCount:    res.Failed,
		Shortfall:    res.Shortfall,
	})
	return res, nil
}

// resolve applies one finished job to the hour's counters. Cancelled jobs
// and outcomes rejected by the seq guard refund their token and leave the
// counters untouched.
func (c *Coordinator) resolve(ctx context.Context, task domain.Task, exec domain.HourlyExecution, job *pool.Job, res *HourResult) {
	if job.State() == domain.JobCancelled {
		res.Cancelled++
		c.refund(ctx, task.OwnerID, c.costPerClick)
		return
	}

	out := job.Outcome()
	updated, applied, err := c.repo.ApplyOutcome(ctx, domain.ExecutionDetail{
		ExecutionID: exec.ID,
		Seq:         exec.Seq,
		Type:        domain.DetailOutcome,
		JobID:       job.ID,
		Kind:        job.Spec.Kind,
		Success:     out.Success,
		Error:       out.Error,
		DurationMS:  out.Duration.Milliseconds(),
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("apply outcome")
		return
	}
	if !applied {
		// Superseded invocation or target already met.
		c.refund(ctx, task.OwnerID, c.costPerClick)
		return
	}
	if out.Success {
		res.Succeeded++
	} else {
		res.Failed++
	}
	c.hub.Publish(domain.ProgressEvent{
		Type:         domain.EventClickResolved,
		TaskID:       task.ID,
		PlanID:       exec.PlanID,
		ExecutionID:  exec.ID,
		Hour:         exec.Hour,
		TargetClicks: updated.TargetClicks,
		ActualClicks: updated.ActualClicks,
		SuccessCount: updated.SuccessCount,
		FailCount:    updated.FailCount,
	})
}

func (c *Coordinator) recordShortfall(ctx context.Context, exec domain.HourlyExecution, task domain.Task, n int, reason string) {
	if err := c.repo.RecordShortfall(ctx, exec.ID, exec.Seq, n, reason); err != nil {
		log.Error().Err(err).Str("execution_id", exec.ID).Msg("record shortfall")
	}
	c.hub.Publish(domain.ProgressEvent{
		Type:        domain.EventShortfall,
		TaskID:      task.ID,
		PlanID:      exec.PlanID,
		ExecutionID: exec.ID,
		Hour:        exec.Hour,
		Shortfall:   n,
	})
	log.Info().
		Str("task_id", task.ID).
		Int("hour", exec.Hour).
		Int("shortfall", n).
		Str("reason", reason).
		Msg("hour partially fulfilled")
}

func (c *Coordinator) refund(ctx context.Context, ownerID string, amount int64) {
	if err := c.tokens.Refund(ctx, ownerID, amount); err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("refund tokens")
	}
}

// CloseDay freezes a plan's hourly rows, rolls them into the DailySummary
// and marks the plan completed. Safe to call more than once.
func (c *Coordinator) CloseDay(ctx context.Context, task domain.Task, plan domain.DailyExecutionPlan) (domain.DailySummary, error) {
	if err := c.repo.ClosePlanExecutions(ctx, plan.ID); err != nil {
		return domain.DailySummary{}, fmt.Errorf("close executions: %w", err)
	}
	totals, err := store.SummarizePlan(ctx, c.repo, plan.ID)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("summarize plan: %w", err)
	}

	status := domain.SummaryCompleted
	switch {
	case plan.TotalClicks > 0 && totals.Success == 0:
		status = domain.SummaryFailed
	case totals.Success < plan.TotalClicks:
		status = domain.SummaryPartial
	}

	summary := domain.DailySummary{
		TaskID:          task.ID,
		Date:            plan.Date,
		TotalClicks:     totals.Actual,
		SuccessCount:    totals.Success,
		FailCount:       totals.Fail,
		TokensUsed:      int64(totals.Actual) * c.costPerClick,
		ExecutionStatus: status,
	}
	id, err := c.repo.UpsertSummary(ctx, summary)
	if err != nil {
		return domain.DailySummary{}, fmt.Errorf("write summary: %w", err)
	}
	summary.ID = id

	if err := c.repo.SetPlanStatus(ctx, plan.ID, domain.PlanCompleted); err != nil {
		log.Warn().Err(err).Str("plan_id", plan.ID).Msg("mark plan completed")
	}
	c.hub.Publish(domain.ProgressEvent{
		Type:         domain.EventDayClosed,
		TaskID:       task.ID,
		PlanID:       plan.ID,
		SuccessCount: summary.SuccessCount,
		FailCount:    summary.FailCount,
	})
	log.Info().
		Str("task_id", task.ID).
		Str("date", plan.Date).
		Int("success", summary.SuccessCount).
		Int("fail", summary.FailCount).
		Str("status", status).
		Msg("day closed")
	return summary, nil
}
