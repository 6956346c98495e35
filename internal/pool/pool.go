// Package pool bounds click execution concurrency independently for the two
// job kinds. Each tier has its own workers and a bounded queue; a full queue
// rejects submission instead of growing without limit.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"clickflow/internal/domain"
	"clickflow/internal/executor"
)

var (
	// ErrQueueSaturated is the retryable rejection returned when a tier's
	// queue is full. The coordinator records the shortfall and stops.
	ErrQueueSaturated = errors.New("queue saturated")
	ErrUnknownKind    = errors.New("unknown job kind")
	ErrPoolClosed     = errors.New("pool closed")
)

// Job is one submitted click. State only moves forward:
// queued -> running -> {succeeded, failed, cancelled}.
type Job struct {
	ID   string
	Spec domain.JobSpec

	state   atomic.Int32
	outcome domain.JobOutcome
	cancel  context.CancelFunc
	done    chan struct{}
}

// State returns the job's current state.
func (j *Job) State() domain.JobState { return domain.JobState(j.state.Load()) }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Outcome is valid only after Done is closed.
func (j *Job) Outcome() domain.JobOutcome { return j.outcome }

func (j *Job) transition(from, to domain.JobState) bool {
	return j.state.CompareAndSwap(int32(from), int32(to))
}

type TierConfig struct {
	Workers    int
	QueueDepth int
}

type tier struct {
	kind    domain.JobKind
	exec    executor.Executor
	queue   chan *Job
	workers int
	running atomic.Int32
}

// Pool runs the two execution tiers. Tiers do not share a concurrency
// budget: a browser backlog never starves http throughput.
type Pool struct {
	tiers map[domain.JobKind]*tier

	mu         sync.Mutex
	terminated map[string]struct{} // taskID -> cancelled
	inflight   map[string]map[*Job]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func New(httpExec, browserExec executor.Executor, httpCfg, browserCfg TierConfig) *Pool {
	if httpCfg.Workers <= 0 {
		httpCfg.Workers = 8
	}
	if httpCfg.QueueDepth <= 0 {
		httpCfg.QueueDepth = 256
	}
	if browserCfg.Workers <= 0 {
		browserCfg.Workers = 2
	}
	if browserCfg.QueueDepth <= 0 {
		browserCfg.QueueDepth = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tiers: map[domain.JobKind]*tier{
			domain.KindHTTP:    {kind: domain.KindHTTP, exec: httpExec, queue: make(chan *Job, httpCfg.QueueDepth), workers: httpCfg.Workers},
			domain.KindBrowser: {kind: domain.KindBrowser, exec: browserExec, queue: make(chan *Job, browserCfg.QueueDepth), workers: browserCfg.Workers},
		},
		terminated: make(map[string]struct{}),
		inflight:   make(map[string]map[*Job]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for _, t := range p.tiers {
		for i := 0; i < t.workers; i++ {
			p.wg.Add(1)
			go p.worker(t)
		}
	}
	log.Info().
		Int("http_workers", p.tiers[domain.KindHTTP].workers).
		Int("browser_workers", p.tiers[domain.KindBrowser].workers).
		Msg("worker pool started")
}

// Shutdown cancels all work and waits for workers to drain.
func (p *Pool) Shutdown() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.mu.Lock()
	for _, t := range p.tiers {
		close(t.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Submit enqueues one click job. A full tier queue returns ErrQueueSaturated
// immediately; a task already terminated returns a job that is born
// cancelled so the caller's accounting stays uniform.
func (p *Pool) Submit(spec domain.JobSpec) (*Job, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	t, ok := p.tiers[spec.Kind]
	if !ok {
		return nil, ErrUnknownKind
	}

	job := &Job{ID: "job_" + uuid.NewString(), Spec: spec, done: make(chan struct{})}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if _, dead := p.terminated[spec.TaskID]; dead {
		job.state.Store(int32(domain.JobCancelled))
		close(job.done)
		return job, nil
	}
	select {
	case t.queue <- job:
		p.track(job)
		return job, nil
	default:
		return nil, ErrQueueSaturated
	}
}

// CancelTask cooperatively cancels all queued and in-flight jobs for a task.
// Queued jobs flip to cancelled before they run; in-flight jobs have their
// contexts cancelled and resolve at the executor's next safe point.
func (p *Pool) CancelTask(taskID string) int {
	p.mu.Lock()
	p.terminated[taskID] = struct{}{}
	jobs := p.inflight[taskID]
	n := len(jobs)
	cancels := make([]context.CancelFunc, 0, n)
	cancelled := make([]*Job, 0, n)
	for j := range jobs {
		if j.transition(domain.JobQueued, domain.JobCancelled) {
			cancelled = append(cancelled, j)
		} else if c := j.cancel; c != nil {
			cancels = append(cancels, c)
		}
	}
	p.mu.Unlock()

	for _, j := range cancelled {
		close(j.done)
	}
	for _, c := range cancels {
		c()
	}
	log.Info().Str("task_id", taskID).Int("jobs", n).Msg("cancelled task jobs")
	return n
}

// State returns the observability snapshot. Not authoritative for
// scheduling decisions.
func (p *Pool) State() domain.QueueState {
	h := p.tiers[domain.KindHTTP]
	b := p.tiers[domain.KindBrowser]
	return domain.QueueState{
		HTTPQueueDepth:     len(h.queue),
		HTTPWorkerCount:    h.workers,
		HTTPRunning:        int(h.running.Load()),
		BrowserQueueDepth:  len(b.queue),
		BrowserWorkerCount: b.workers,
		BrowserRunning:     int(b.running.Load()),
	}
}

func (p *Pool) worker(t *tier) {
	defer p.wg.Done()
	for job := range t.queue {
		p.run(t, job)
	}
}

func (p *Pool) run(t *tier, job *Job) {
	// A job cancelled while queued is already terminal.
	if !job.transition(domain.JobQueued, domain.JobRunning) {
		p.mu.Lock()
		p.untrack(job)
		p.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	job.cancel = cancel
	if _, dead := p.terminated[job.Spec.TaskID]; dead {
		cancel()
	}
	p.mu.Unlock()
	defer cancel()

	t.running.Add(1)
	out := t.exec.Execute(ctx, job.Spec)
	t.running.Add(-1)

	p.mu.Lock()
	_, dead := p.terminated[job.Spec.TaskID]
	p.untrack(job)
	p.mu.Unlock()

	job.outcome = out
	switch {
	case dead || (ctx.Err() != nil && !out.Success):
		job.transition(domain.JobRunning, domain.JobCancelled)
	case out.Success:
		job.transition(domain.JobRunning, domain.JobSucceeded)
	default:
		job.transition(domain.JobRunning, domain.JobFailed)
	}
	close(job.done)
}

// track/untrack maintain the per-task in-flight index. Callers hold p.mu.
func (p *Pool) track(j *Job) {
	m := p.inflight[j.Spec.TaskID]
	if m == nil {
		m = make(map[*Job]struct{})
		p.inflight[j.Spec.TaskID] = m
	}
	m[j] = struct{}{}
}

func (p *Pool) untrack(j *Job) {
	m := p.inflight[j.Spec.TaskID]
	delete(m, j)
	if len(m) == 0 {
		delete(p.inflight, j.Spec.TaskID)
	}
}
