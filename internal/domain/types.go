package domain

import "time"

// TaskStatus is the lifecycle state of a click task. Transitions only move
// forward: pending -> running -> terminated.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskTerminated TaskStatus = "terminated"
)

// PlanStatus is the lifecycle state of one day's execution plan.
type PlanStatus string

const (
	PlanPlanned    PlanStatus = "planned"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
)

// JobKind selects the execution tier for a click job.
type JobKind string

const (
	KindHTTP    JobKind = "http"
	KindBrowser JobKind = "browser"
)

// JobState is the state machine of one click job inside the worker pool.
// Terminal states are never left.
type JobState int32

const (
	JobQueued JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	case JobCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Task is a user's standing instruction to click an offer URL within a daily
// quota and time window.
type Task struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	OfferURL        string     `json:"offer_url"`
	Country         string     `json:"country"`
	TimeWindow      string     `json:"time_window"` // symbolic key, e.g. "06:00-24:00"
	DailyClicks     int        `json:"daily_clicks"`
	RefererTemplate string     `json:"referer_template"`
	ClickMode       JobKind    `json:"click_mode"`
	Status          TaskStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (t Task) Active() bool { return t.Status == TaskPending || t.Status == TaskRunning }

// DailyExecutionPlan is one calendar day's commitment for one task:
// the daily click target split into per-hour targets.
// Invariant: sum(HourlyDistribution) == TotalClicks, zero outside the window.
type DailyExecutionPlan struct {
	ID                 string     `json:"id"`
	TaskID             string     `json:"task_id"`
	Date               string     `json:"date"` // "2006-01-02" at the configured offset
	TotalClicks        int        `json:"total_clicks"`
	HourlyDistribution [24]int    `json:"hourly_distribution"`
	Status             PlanStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HourlyExecution records one hour's attempted work for a plan.
// Seq is the invocation sequence: each RunHour invocation bumps it, and
// outcomes carrying a stale seq are discarded (superseded invocation).
type HourlyExecution struct {
	ID           string    `json:"id"`
	PlanID       string    `json:"plan_id"`
	Hour         int       `json:"hour"`
	TargetClicks int       `json:"target_clicks"`
	ActualClicks int       `json:"actual_clicks"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
	Seq          int       `json:"seq"`
	Closed       bool      `json:"closed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (e HourlyExecution) Satisfied() bool { return e.ActualClicks >= e.TargetClicks }

// ExecutionDetail is one structured per-job (or shortfall) entry attached to
// an HourlyExecution.
type ExecutionDetail struct {
	ID          int64     `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Seq         int       `json:"seq"`
	Type        string    `json:"type"` // "outcome" or "shortfall"
	JobID       string    `json:"job_id,omitempty"`
	Kind        JobKind   `json:"kind,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Count       int       `json:"count,omitempty"` // shortfall size
	DurationMS  int64     `json:"duration_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Detail types.
const (
	DetailOutcome   = "outcome"
	DetailShortfall = "shortfall"
)

// DailySummary is the per-day rollup derived from the day's HourlyExecutions.
type DailySummary struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	Date            string    `json:"date"`
	TotalClicks     int       `json:"total_clicks"`
	SuccessCount    int       `json:"success_count"`
	FailCount       int       `json:"fail_count"`
	TokensUsed      int64     `json:"tokens_used"`
	ExecutionStatus string    `json:"execution_status"` // completed | partial | failed
	CreatedAt       time.Time `json:"created_at"`
}

// Summary execution statuses.
const (
	SummaryCompleted = "completed"
	SummaryPartial   = "partial"
	SummaryFailed    = "failed"
)

// JobSpec describes one click to execute.
type JobSpec struct {
	TaskID      string  `json:"task_id"`
	OwnerID     string  `json:"owner_id"`
	PlanID      string  `json:"plan_id"`
	ExecutionID string  `json:"execution_id"`
	Hour        int     `json:"hour"`
	Seq         int     `json:"seq"`
	Kind        JobKind `json:"kind"`
	OfferURL    string  `json:"offer_url"`
	Referer     string  `json:"referer"`
	Country     string  `json:"country"`
}

// JobOutcome is the result of executing one click job.
type JobOutcome struct {
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// QueueState is a read-only snapshot of the dual-tier worker pool,
// for observability only.
type QueueState struct {
	HTTPQueueDepth     int `json:"http_queue_depth"`
	HTTPWorkerCount    int `json:"http_worker_count"`
	HTTPRunning        int `json:"http_running"`
	BrowserQueueDepth  int `json:"browser_queue_depth"`
	BrowserWorkerCount int `json:"browser_worker_count"`
	BrowserRunning     int `json:"browser_running"`
}

// ProgressEvent is one live-progress delta published to subscribers. It
// carries enough identity for a subscriber to reconstruct current progress
// without replaying history.
type ProgressEvent struct {
	Type         string    `json:"type"`
	TaskID       string    `json:"task_id"`
	PlanID       string    `json:"plan_id,omitempty"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	Hour         int       `json:"hour"`
	TargetClicks int       `json:"target_clicks,omitempty"`
	ActualClicks int       `json:"actual_clicks,omitempty"`
	SuccessCount int       `json:"success_count,omitempty"`
	FailCount    int       `json:"fail_count,omitempty"`
	Shortfall    int       `json:"shortfall,omitempty"`
	At           time.Time `json:"at"`
}

// Progress event types.
const (
	EventPlanCreated   = "plan_created"
	EventHourStarted   = "hour_started"
	EventClickResolved = "click_resolved"
	EventShortfall     = "shortfall"
	EventHourClosed    = "hour_closed"
	EventDayClosed     = "day_closed"
	EventTaskEnded     = "task_terminated"
)
