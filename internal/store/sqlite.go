package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"clickflow/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrBadTransition = errors.New("invalid status transition")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  offer_url TEXT NOT NULL,
  country TEXT NOT NULL DEFAULT '',
  time_window TEXT NOT NULL,
  daily_clicks INTEGER NOT NULL,
  referer_template TEXT NOT NULL DEFAULT '',
  click_mode TEXT NOT NULL CHECK(click_mode IN ('http','browser')) DEFAULT 'http',
  status TEXT NOT NULL CHECK(status IN ('pending','running','terminated')) DEFAULT 'pending',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id);
CREATE TABLE IF NOT EXISTS plans (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  date TEXT NOT NULL,
  total_clicks INTEGER NOT NULL,
  hourly TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('planned','in_progress','completed')) DEFAULT 'planned',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(task_id, date),
  FOREIGN KEY(task_id) REFERENCES tasks(id)
);
CREATE TABLE IF NOT EXISTS hourly_executions (
  id TEXT PRIMARY KEY,
  plan_id TEXT NOT NULL,
  hour INTEGER NOT NULL,
  target_clicks INTEGER NOT NULL,
  actual_clicks INTEGER NOT NULL DEFAULT 0,
  success_count INTEGER NOT NULL DEFAULT 0,
  fail_count INTEGER NOT NULL DEFAULT 0,
  seq INTEGER NOT NULL DEFAULT 1,
  closed INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(plan_id, hour),
  FOREIGN KEY(plan_id) REFERENCES plans(id)
);
CREATE TABLE IF NOT EXISTS execution_details (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  execution_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  detail_type TEXT NOT NULL,
  job_id TEXT,
  kind TEXT,
  success INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  count INTEGER NOT NULL DEFAULT 0,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(execution_id) REFERENCES hourly_executions(id)
);
CREATE INDEX IF NOT EXISTS idx_details_execution ON execution_details(execution_id);
CREATE TABLE IF NOT EXISTS daily_summaries (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  date TEXT NOT NULL,
  total_clicks INTEGER NOT NULL,
  success_count INTEGER NOT NULL,
  fail_count INTEGER NOT NULL,
  tokens_used INTEGER NOT NULL,
  execution_status TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(task_id, date)
);
CREATE TABLE IF NOT EXISTS balances (
  owner_id TEXT PRIMARY KEY,
  balance INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	_, err := db.Exec(schema)
	return err
}

type Repository interface {
	// Tasks
	CreateTask(ctx context.Context, t domain.Task) (string, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListActiveTasks(ctx context.Context) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, to domain.TaskStatus) error
	ListActiveOwners(ctx context.Context) ([]string, error)

	// Plans
	CreatePlan(ctx context.Context, p domain.DailyExecutionPlan) (domain.DailyExecutionPlan, bool, error)
	GetPlan(ctx context.Context, taskID, date string) (domain.DailyExecutionPlan, error)
	GetPlanByID(ctx context.Context, id string) (domain.DailyExecutionPlan, error)
	SetPlanStatus(ctx context.Context, id string, to domain.PlanStatus) error
	ListOpenPlansBefore(ctx context.Context, date string) ([]domain.DailyExecutionPlan, error)

	// Hourly executions
	BeginHour(ctx context.Context, planID string, hour, target int) (domain.HourlyExecution, error)
	ApplyOutcome(ctx context.Context, d domain.ExecutionDetail) (domain.HourlyExecution, bool, error)
	RecordShortfall(ctx context.Context, execID string, seq, count int, reason string) error
	GetHourly(ctx context.Context, planID string, hour int) (domain.HourlyExecution, error)
	ListHourlyForPlan(ctx context.Context, planID string) ([]domain.HourlyExecution, error)
	ListDetails(ctx context.Context, execID string) ([]domain.ExecutionDetail, error)
	ClosePlanExecutions(ctx context.Context, planID string) error

	// Summaries
	UpsertSummary(ctx context.Context, s domain.DailySummary) (string, error)
	GetSummary(ctx context.Context, taskID, date string) (domain.DailySummary, error)

	// Balances
	DebitUpTo(ctx context.Context, ownerID string, amount int64) (int64, error)
	Credit(ctx context.Context, ownerID string, amount int64) error
	SetBalance(ctx context.Context, ownerID string, amount int64) error
	GetBalance(ctx context.Context, ownerID string) (int64, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

func (r *sqliteRepo) CreateTask(ctx context.Context, t domain.Task) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.ClickMode == "" {
		t.ClickMode = domain.KindHTTP
	}
	if t.Status == "" {
		t.Status = domain.TaskPending
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tasks (id,owner_id,offer_url,country,time_window,daily_clicks,referer_template,click_mode,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, t.OwnerID, t.OfferURL, t.Country, t.TimeWindow, t.DailyClicks, t.RefererTemplate, t.ClickMode, t.Status)
	return id, err
}

func (r *sqliteRepo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,owner_id,offer_url,country,time_window,daily_clicks,referer_template,click_mode,status,created_at,updated_at
FROM tasks WHERE id=?`, id)
	return scanTask(row)
}

func (r *sqliteRepo) ListActiveTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,owner_id,offer_url,country,time_window,daily_clicks,referer_template,click_mode,status,created_at,updated_at
FROM tasks WHERE status IN ('pending','running') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus applies a forward-only transition. Moving a terminated
// task or moving backwards returns ErrBadTransition.
func (r *sqliteRepo) UpdateTaskStatus(ctx context.Context, id string, to domain.TaskStatus) error {
	var res sql.Result
	var err error
	switch to {
	case domain.TaskRunning:
		res, err = r.db.ExecContext(ctx, `
UPDATE tasks SET status='running', updated_at=CURRENT_TIMESTAMP WHERE id=? AND status='pending'`, id)
	case domain.TaskTerminated:
		res, err = r.db.ExecContext(ctx, `
UPDATE tasks SET status='terminated', updated_at=CURRENT_TIMESTAMP WHERE id=? AND status IN ('pending','running')`, id)
	default:
		return fmt.Errorf("%w: cannot move to %s", ErrBadTransition, to)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetTask(ctx, id); err != nil {
			return ErrNotFound
		}
		return ErrBadTransition
	}
	return nil
}

func (r *sqliteRepo) ListActiveOwners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM tasks WHERE status IN ('pending','running')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// CreatePlan inserts a plan for (taskID, date). If one already exists the
// stored plan is returned unchanged and created is false, so regeneration
// never replaces an existing random split.
func (r *sqliteRepo) CreatePlan(ctx context.Context, p domain.DailyExecutionPlan) (domain.DailyExecutionPlan, bool, error) {
	id := p.ID
	if id == "" {
		id = "pln_" + uuid.NewString()
	}
	if p.Status == "" {
		p.Status = domain.PlanPlanned
	}
	hourly, err := json.Marshal(p.HourlyDistribution)
	if err != nil {
		return domain.DailyExecutionPlan{}, false, err
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO plans (id,task_id,date,total_clicks,hourly,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
ON CONFLICT(task_id,date) DO NOTHING
`, id, p.TaskID, p.Date, p.TotalClicks, string(hourly), p.Status)
	if err != nil {
		return domain.DailyExecutionPlan{}, false, err
	}
	n, _ := res.RowsAffected()
	existing, err := r.GetPlan(ctx, p.TaskID, p.Date)
	if err != nil {
		return domain.DailyExecutionPlan{}, false, err
	}
	return existing, n > 0, nil
}

func (r *sqliteRepo) GetPlan(ctx context.Context, taskID, date string) (domain.DailyExecutionPlan, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,task_id,date,total_clicks,hourly,status,created_at,updated_at
FROM plans WHERE task_id=? AND date=?`, taskID, date)
	return scanPlan(row)
}

func (r *sqliteRepo) GetPlanByID(ctx context.Context, id string) (domain.DailyExecutionPlan, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,task_id,date,total_clicks,hourly,status,created_at,updated_at
FROM plans WHERE id=?`, id)
	return scanPlan(row)
}

// SetPlanStatus applies a forward-only transition; completed is final.
// Already being at or past the target state is not an error.
func (r *sqliteRepo) SetPlanStatus(ctx context.Context, id string, to domain.PlanStatus) error {
	var err error
	switch to {
	case domain.PlanInProgress:
		_, err = r.db.ExecContext(ctx, `
UPDATE plans SET status='in_progress', updated_at=CURRENT_TIMESTAMP WHERE id=? AND status='planned'`, id)
	case domain.PlanCompleted:
		_, err = r.db.ExecContext(ctx, `
UPDATE plans SET status='completed', updated_at=CURRENT_TIMESTAMP WHERE id=? AND status IN ('planned','in_progress')`, id)
	default:
		return fmt.Errorf("%w: cannot move to %s", ErrBadTransition, to)
	}
	return err
}

func (r *sqliteRepo) ListOpenPlansBefore(ctx context.Context, date string) ([]domain.DailyExecutionPlan, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,task_id,date,total_clicks,hourly,status,created_at,updated_at
FROM plans WHERE date < ? AND status != 'completed' ORDER BY date ASC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.DailyExecutionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// BeginHour loads or creates the HourlyExecution row for (planID, hour) and
// bumps the invocation sequence. Outcomes carrying an older seq are rejected
// by ApplyOutcome, which is what discards late jobs from a superseded
// invocation. A closed row is returned as-is.
func (r *sqliteRepo) BeginHour(ctx context.Context, planID string, hour, target int) (domain.HourlyExecution, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.HourlyExecution{}, err
	}
	defer tx.Rollback()

	e, err := scanHourly(tx.QueryRowContext(ctx, `
SELECT id,plan_id,hour,target_clicks,actual_clicks,success_count,fail_count,seq,closed,created_at,updated_at
FROM hourly_executions WHERE plan_id=? AND hour=?`, planID, hour))
	switch {
	case errors.Is(err, ErrNotFound):
		e = domain.HourlyExecution{
			ID:           "hex_" + uuid.NewString(),
			PlanID:       planID,
			Hour:         hour,
			TargetClicks: target,
			Seq:          1,
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO hourly_executions (id,plan_id,hour,target_clicks,seq,created_at,updated_at)
VALUES (?,?,?,?,1,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)`, e.ID, planID, hour, target)
		if err != nil {
			return domain.HourlyExecution{}, err
		}
	case err != nil:
		return domain.HourlyExecution{}, err
	case e.Closed:
		return e, tx.Commit()
	default:
		e.Seq++
		if _, err := tx.ExecContext(ctx, `
UPDATE hourly_executions SET seq=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, e.Seq, e.ID); err != nil {
			return domain.HourlyExecution{}, err
		}
	}
	return e, tx.Commit()
}

// ApplyOutcome atomically applies one job outcome to its HourlyExecution.
// The update is guarded by the invocation seq and the closed flag; a stale
// or late outcome is not applied (applied=false) and must not be counted.
func (r *sqliteRepo) ApplyOutcome(ctx context.Context, d domain.ExecutionDetail) (domain.HourlyExecution, bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.HourlyExecution{}, false, err
	}
	defer tx.Rollback()

	succ, fail := 0, 1
	if d.Success {
		succ, fail = 1, 0
	}
	res, err := tx.ExecContext(ctx, `
UPDATE hourly_executions
SET actual_clicks = actual_clicks + 1,
    success_count = success_count + ?,
    fail_count = fail_count + ?,
    updated_at = CURRENT_TIMESTAMP
WHERE id=? AND seq=? AND closed=0 AND actual_clicks < target_clicks`,
		succ, fail, d.ExecutionID, d.Seq)
	if err != nil {
		return domain.HourlyExecution{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.HourlyExecution{}, false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO execution_details (execution_id,seq,detail_type,job_id,kind,success,error,duration_ms,created_at)
VALUES (?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)`,
		d.ExecutionID, d.Seq, domain.DetailOutcome, d.JobID, d.Kind, succ, d.Error, d.DurationMS)
	if err != nil {
		return domain.HourlyExecution{}, false, err
	}

	e, err := scanHourly(tx.QueryRowContext(ctx, `
SELECT id,plan_id,hour,target_clicks,actual_clicks,success_count,fail_count,seq,closed,created_at,updated_at
FROM hourly_executions WHERE id=?`, d.ExecutionID))
	if err != nil {
		return domain.HourlyExecution{}, false, err
	}
	return e, true, tx.Commit()
}

func (r *sqliteRepo) RecordShortfall(ctx context.Context, execID string, seq, count int, reason string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO execution_details (execution_id,seq,detail_type,error,count,created_at)
VALUES (?,?,?,?,?,CURRENT_TIMESTAMP)`, execID, seq, domain.DetailShortfall, reason, count)
	return err
}

func (r *sqliteRepo) GetHourly(ctx context.Context, planID string, hour int) (domain.HourlyExecution, error) {
	return scanHourly(r.db.QueryRowContext(ctx, `
SELECT id,plan_id,hour,target_clicks,actual_clicks,success_count,fail_count,seq,closed,created_at,updated_at
FROM hourly_executions WHERE plan_id=? AND hour=?`, planID, hour))
}

func (r *sqliteRepo) ListHourlyForPlan(ctx context.Context, planID string) ([]domain.HourlyExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,plan_id,hour,target_clicks,actual_clicks,success_count,fail_count,seq,closed,created_at,updated_at
FROM hourly_executions WHERE plan_id=? ORDER BY hour ASC`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.HourlyExecution
	for rows.Next() {
		e, err := scanHourly(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func (r *sqliteRepo) ListDetails(ctx context.Context, execID string) ([]domain.ExecutionDetail, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,execution_id,seq,detail_type,COALESCE(job_id,''),COALESCE(kind,''),success,COALESCE(error,''),count,duration_ms,created_at
FROM execution_details WHERE execution_id=? ORDER BY id ASC`, execID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []domain.ExecutionDetail
	for rows.Next() {
		var d domain.ExecutionDetail
		var succ int
		if err := rows.Scan(&d.ID, &d.ExecutionID, &d.Seq, &d.Type, &d.JobID, &d.Kind, &succ, &d.Error, &d.Count, &d.DurationMS, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Success = succ == 1
		details = append(details, d)
	}
	return details, rows.Err()
}

// ClosePlanExecutions freezes all hourly rows of a plan. Once closed the
// rows are immutable: ApplyOutcome no-ops against them.
func (r *sqliteRepo) ClosePlanExecutions(ctx context.Context, planID string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE hourly_executions SET closed=1, updated_at=CURRENT_TIMESTAMP WHERE plan_id=? AND closed=0`, planID)
	return err
}

func (r *sqliteRepo) UpsertSummary(ctx context.Context, s domain.DailySummary) (string, error) {
	id := s.ID
	if id == "" {
		id = "sum_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO daily_summaries (id,task_id,date,total_clicks,success_count,fail_count,tokens_used,execution_status,created_at)
VALUES (?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(task_id,date) DO UPDATE SET
  total_clicks=excluded.total_clicks,
  success_count=excluded.success_count,
  fail_count=excluded.fail_count,
  tokens_used=excluded.tokens_used,
  execution_status=excluded.execution_status
`, id, s.TaskID, s.Date, s.TotalClicks, s.SuccessCount, s.FailCount, s.TokensUsed, s.ExecutionStatus)
	return id, err
}

func (r *sqliteRepo) GetSummary(ctx context.Context, taskID, date string) (domain.DailySummary, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id,task_id,date,total_clicks,success_count,fail_count,tokens_used,execution_status,created_at
FROM daily_summaries WHERE task_id=? AND date=?`, taskID, date)
	var s domain.DailySummary
	err := row.Scan(&s.ID, &s.TaskID, &s.Date, &s.TotalClicks, &s.SuccessCount, &s.FailCount, &s.TokensUsed, &s.ExecutionStatus, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.DailySummary{}, ErrNotFound
	}
	return s, err
}

// DebitUpTo grants up to amount from the owner's balance, debiting
// immediately. The read and the debit run in one serializable transaction so
// concurrent reservations for the same owner can never overspend.
func (r *sqliteRepo) DebitUpTo(ctx context.Context, ownerID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE owner_id=?`, ownerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, tx.Commit()
	}
	if err != nil {
		return 0, err
	}
	granted := amount
	if balance < granted {
		granted = balance
	}
	if granted <= 0 {
		return 0, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE balances SET balance=balance-?, updated_at=CURRENT_TIMESTAMP WHERE owner_id=?`, granted, ownerID); err != nil {
		return 0, err
	}
	return granted, tx.Commit()
}

func (r *sqliteRepo) Credit(ctx context.Context, ownerID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO balances (owner_id,balance,updated_at) VALUES (?,?,CURRENT_TIMESTAMP)
ON CONFLICT(owner_id) DO UPDATE SET balance=balance+excluded.balance, updated_at=CURRENT_TIMESTAMP`, ownerID, amount)
	return err
}

func (r *sqliteRepo) SetBalance(ctx context.Context, ownerID string, amount int64) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO balances (owner_id,balance,updated_at) VALUES (?,?,CURRENT_TIMESTAMP)
ON CONFLICT(owner_id) DO UPDATE SET balance=excluded.balance, updated_at=CURRENT_TIMESTAMP`, ownerID, amount)
	return err
}

func (r *sqliteRepo) GetBalance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE owner_id=?`, ownerID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

type scanner interface{ Scan(dest ...any) error }

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	err := row.Scan(&t.ID, &t.OwnerID, &t.OfferURL, &t.Country, &t.TimeWindow, &t.DailyClicks, &t.RefererTemplate, &t.ClickMode, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.Task{}, ErrNotFound
	}
	return t, err
}

func scanPlan(row scanner) (domain.DailyExecutionPlan, error) {
	var p domain.DailyExecutionPlan
	var hourly string
	err := row.Scan(&p.ID, &p.TaskID, &p.Date, &p.TotalClicks, &hourly, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.DailyExecutionPlan{}, ErrNotFound
	}
	if err != nil {
		return domain.DailyExecutionPlan{}, err
	}
	if err := json.Unmarshal([]byte(hourly), &p.HourlyDistribution); err != nil {
		return domain.DailyExecutionPlan{}, fmt.Errorf("decode hourly distribution: %w", err)
	}
	return p, nil
}

func scanHourly(row scanner) (domain.HourlyExecution, error) {
	var e domain.HourlyExecution
	var closed int
	err := row.Scan(&e.ID, &e.PlanID, &e.Hour, &e.TargetClicks, &e.ActualClicks, &e.SuccessCount, &e.FailCount, &e.Seq, &closed, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.HourlyExecution{}, ErrNotFound
	}
	e.Closed = closed == 1
	return e, err
}

// PlanTotals aggregates a plan's hourly rows, used by CloseDay to roll them
// into a DailySummary.
type PlanTotals struct {
	Actual  int
	Success int
	Fail    int
}

// SummarizePlan sums the recorded hourly counters for one plan.
func SummarizePlan(ctx context.Context, repo Repository, planID string) (PlanTotals, error) {
	execs, err := repo.ListHourlyForPlan(ctx, planID)
	if err != nil {
		return PlanTotals{}, err
	}
	var t PlanTotals
	for _, e := range execs {
		t.Actual += e.ActualClicks
		t.Success += e.SuccessCount
		t.Fail += e.FailCount
	}
	return t, nil
}
