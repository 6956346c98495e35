package coordinator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"clickflow/internal/domain"
	"clickflow/internal/pool"
	"clickflow/internal/progress"
	"clickflow/internal/store"
	"clickflow/internal/tokens"
)

type fakeExec struct {
	fn func(ctx context.Context, spec domain.JobSpec) domain.JobOutcome
}

func (f fakeExec) Execute(ctx context.Context, spec domain.JobSpec) domain.JobOutcome {
	if f.fn != nil {
		return f.fn(ctx, spec)
	}
	return domain.JobOutcome{Success: true}
}

func blockUntilCancel(ctx context.Context, _ domain.JobSpec) domain.JobOutcome {
	<-ctx.Done()
	return domain.JobOutcome{Error: ctx.Err().Error()}
}

type stack struct {
	repo  store.Repository
	pool  *pool.Pool
	coord *Coordinator
	hub   *progress.Hub
}

func newStack(t *testing.T, httpFn func(context.Context, domain.JobSpec) domain.JobOutcome) *stack {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := store.EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	repo := store.NewSQLiteRepo(db)

	p := pool.New(fakeExec{fn: httpFn}, fakeExec{fn: blockUntilCancel},
		pool.TierConfig{Workers: 4, QueueDepth: 32},
		pool.TierConfig{Workers: 1, QueueDepth: 32},
	)
	p.Start()
	t.Cleanup(p.Shutdown)

	hub := progress.NewHub()
	sync := tokens.NewSynchronizer(repo, tokens.KeepSource{Repo: repo})
	return &stack{repo: repo, pool: p, coord: New(repo, p, sync, hub, 1), hub: hub}
}

func (s *stack) seed(t *testing.T, mode domain.JobKind, hour, target int, balance int64) (domain.Task, domain.DailyExecutionPlan) {
	t.Helper()
	ctx := context.Background()
	id, err := s.repo.CreateTask(ctx, domain.Task{
		OwnerID: "own_1", OfferURL: "https://example.com/offer", TimeWindow: "00:00-24:00",
		DailyClicks: target, ClickMode: mode,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, _ := s.repo.GetTask(ctx, id)

	var dist [24]int
	dist[hour] = target
	plan, _, err := s.repo.CreatePlan(ctx, domain.DailyExecutionPlan{
		TaskID: task.ID, Date: "2025-03-10", TotalClicks: target, HourlyDistribution: dist,
	})
	if err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := s.repo.SetBalance(ctx, task.OwnerID, balance); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	return task, plan
}

func TestRunHourDispatchesTarget(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	task, plan := s.seed(t, domain.KindHTTP, 9, 4, 100)

	res, err := s.coord.RunHour(context.Background(), task, plan, 9)
	if err != nil {
		t.Fatalf("run hour: %v", err)
	}
	if res.Dispatched != 4 || res.Succeeded != 4 || res.Shortfall != 0 {
		t.Fatalf("result = %+v, want 4 dispatched, 4 succeeded", res)
	}
	exec, err := s.repo.GetHourly(context.Background(), plan.ID, 9)
	if err != nil {
		t.Fatalf("get hourly: %v", err)
	}
	if exec.ActualClicks != 4 || exec.SuccessCount != 4 || exec.FailCount != 0 {
		t.Fatalf("counters = (%d,%d,%d), want (4,4,0)", exec.ActualClicks, exec.SuccessCount, exec.FailCount)
	}
}

func TestRunHourIdempotent(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	task, plan := s.seed(t, domain.KindHTTP, 9, 5, 100)
	ctx := context.Background()

	first, err := s.coord.RunHour(ctx, task, plan, 9)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	afterFirst, _ := s.repo.GetHourly(ctx, plan.ID, 9)

	second, err := s.coord.RunHour(ctx, task, plan, 9)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.AlreadyDone || second.Dispatched != 0 {
		t.Fatalf("second run = %+v, want already-done no-op", second)
	}
	afterSecond, _ := s.repo.GetHourly(ctx, plan.ID, 9)
	if afterSecond.ActualClicks != afterFirst.ActualClicks ||
		afterSecond.SuccessCount != afterFirst.SuccessCount ||
		afterSecond.FailCount != afterFirst.FailCount {
		t.Fatalf("counters changed on re-trigger: %+v -> %+v", afterFirst, afterSecond)
	}
	if first.Succeeded != 5 {
		t.Fatalf("first run succeeded = %d, want 5", first.Succeeded)
	}
}

func TestRunHourTokenShortfall(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	task, plan := s.seed(t, domain.KindHTTP, 9, 10, 3)
	ctx := context.Background()

	res, err := s.coord.RunHour(ctx, task, plan, 9)
	if err != nil {
		t.Fatalf("run hour should not error on shortfall: %v", err)
	}
	if res.Dispatched != 3 {
		t.Fatalf("dispatched = %d, want 3", res.Dispatched)
	}
	if res.Shortfall != 7 {
		t.Fatalf("shortfall = %d, want 7", res.Shortfall)
	}

	details, err := s.repo.ListDetails(ctx, res.ExecutionID)
	if err != nil {
		t.Fatalf("list details: %v", err)
	}
	found := false
	for _, d := range details {
		if d.Type == domain.DetailShortfall && d.Count == 7 {
			found = true
		}
	}
	if !found {
		t.Fatalf("details = %+v, want a shortfall entry of 7", details)
	}
}

func TestRunHourZeroBalance(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	task, plan := s.seed(t, domain.KindHTTP, 9, 4, 0)

	res, err := s.coord.RunHour(context.Background(), task, plan, 9)
	if err != nil {
		t.Fatalf("run hour: %v", err)
	}
	if res.Dispatched != 0 || res.Shortfall != 4 {
		t.Fatalf("result = %+v, want 0 dispatched, 4 shortfall", res)
	}
}

func TestTerminationCancelsWithoutCounting(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	task, plan := s.seed(t, domain.KindBrowser, 9, 5, 5)
	ctx := context.Background()

	type out struct {
		res HourResult
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := s.coord.RunHour(ctx, task, plan, 9)
		done <- out{res, err}
	}()

	// Let the batch land in the browser tier, then terminate the task.
	time.Sleep(100 * time.Millisecond)
	s.pool.CancelTask(task.ID)

	var got out
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunHour did not return after cancellation")
	}
	if got.err != nil {
		t.Fatalf("run hour: %v", got.err)
	}
	if got.res.Cancelled != 5 || got.res.Succeeded != 0 || got.res.Failed != 0 {
		t.Fatalf("result = %+v, want all 5 cancelled", got.res)
	}

	exec, err := s.repo.GetHourly(ctx, plan.ID, 9)
	if err != nil {
		t.Fatalf("get hourly: %v", err)
	}
	if exec.ActualClicks != 0 {
		t.Fatalf("actual = %d after termination, want 0", exec.ActualClicks)
	}
	// Cancelled clicks refund their tokens.
	balance, _ := s.repo.GetBalance(ctx, task.OwnerID)
	if balance != 5 {
		t.Fatalf("balance = %d after refunds, want 5", balance)
	}
}

func TestCloseDay(t *testing.T) {
	t.Parallel()
	s := newStack(t, nil)
	task, plan := s.seed(t, domain.KindHTTP, 9, 4, 100)
	ctx := context.Background()

	if _, err := s.coord.RunHour(ctx, task, plan, 9); err != nil {
		t.Fatalf("run hour: %v", err)
	}
	sum, err := s.coord.CloseDay(ctx, task, plan)
	if err != nil {
		t.Fatalf("close day: %v", err)
	}
	if sum.SuccessCount != 4 || sum.ExecutionStatus != domain.SummaryCompleted {
		t.Fatalf("summary = %+v, want 4 successes completed", sum)
	}
	if sum.TokensUsed != 4 {
		t.Fatalf("tokens used = %d, want 4", sum.TokensUsed)
	}

	got, err := s.repo.GetPlanByID(ctx, plan.ID)
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if got.Status != domain.PlanCompleted {
		t.Fatalf("plan status = %s, want completed", got.Status)
	}

	// The day is frozen: a re-trigger of the hour is a no-op.
	res, err := s.coord.RunHour(ctx, task, plan, 9)
	if err != nil {
		t.Fatalf("run hour after close: %v", err)
	}
	if !res.AlreadyDone {
		t.Fatalf("post-close run = %+v, want already-done", res)
	}
}

func TestAllFailuresSurfaceInSummary(t *testing.T) {
	t.Parallel()
	fail := func(ctx context.Context, _ domain.JobSpec) domain.JobOutcome {
		return domain.JobOutcome{Error: "navigation timeout"}
	}
	s := newStack(t, fail)
	task, plan := s.seed(t, domain.KindHTTP, 9, 3, 100)
	ctx := context.Background()

	res, err := s.coord.RunHour(ctx, task, plan, 9)
	if err != nil {
		t.Fatalf("job failures must not escalate: %v", err)
	}
	if res.Failed != 3 {
		t.Fatalf("failed = %d, want 3", res.Failed)
	}
	sum, err := s.coord.CloseDay(ctx, task, plan)
	if err != nil {
		t.Fatalf("close day: %v", err)
	}
	if sum.ExecutionStatus != domain.SummaryFailed {
		t.Fatalf("status = %s, want failed", sum.ExecutionStatus)
	}
}
