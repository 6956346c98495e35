package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"clickflow/internal/domain"
	"clickflow/internal/pool"
	"clickflow/internal/progress"
	"clickflow/internal/store"
	"clickflow/internal/trigger"
	"clickflow/internal/window"
)

type Server struct {
	repo   store.Repository
	runner *trigger.Runner
	pool   *pool.Pool
	hub    *progress.Hub
	clock  *window.Clock
}

func NewServer(repo store.Repository, runner *trigger.Runner, p *pool.Pool, hub *progress.Hub, clock *window.Clock) http.Handler {
	return NewServerWithDebug(repo, runner, p, hub, clock, false)
}

func NewServerWithDebug(repo store.Repository, runner *trigger.Runner, p *pool.Pool, hub *progress.Hub, clock *window.Clock, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{repo: repo, runner: runner, pool: p, hub: hub, clock: clock}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	// Trigger surface: idempotent, driven by an external scheduler or the
	// embedded cron loop.
	r.Post("/api/triggers/daily-plan", s.triggerDailyPlan)
	r.Post("/api/triggers/hourly-execution", s.triggerHourly)
	r.Post("/api/triggers/token-sync", s.triggerTokenSync)

	// Observability surface.
	r.Get("/api/queue-state", s.queueState)
	r.Get("/api/events", s.events)

	// Task surface: creation is the seam for the out-of-scope task
	// management collaborator; termination drives cancellation.
	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Post("/api/tasks/{id}/terminate", s.terminateTask)
	r.Get("/api/tasks/{id}/plan", s.getPlan)
	r.Get("/api/tasks/{id}/summary", s.getSummary)
	r.Get("/api/plans/{id}/hours", s.getPlanHours)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	st := s.pool.State()
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "clickflow_up 1\n")
	fmt.Fprintf(w, "clickflow_http_queue_depth %d\n", st.HTTPQueueDepth)
	fmt.Fprintf(w, "clickflow_http_workers %d\n", st.HTTPWorkerCount)
	fmt.Fprintf(w, "clickflow_http_running %d\n", st.HTTPRunning)
	fmt.Fprintf(w, "clickflow_browser_queue_depth %d\n", st.BrowserQueueDepth)
	fmt.Fprintf(w, "clickflow_browser_workers %d\n", st.BrowserWorkerCount)
	fmt.Fprintf(w, "clickflow_browser_running %d\n", st.BrowserRunning)
	fmt.Fprintf(w, "clickflow_progress_subscribers %d\n", s.hub.Len())
}

func (s *Server) triggerDailyPlan(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.DailyPlan(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, res)
}

func (s *Server) triggerHourly(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.HourlyRun(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, res)
}

func (s *Server) triggerTokenSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.TokenSync(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, res)
}

func (s *Server) queueState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.pool.State())
}

// events streams progress deltas as server-sent events, optionally scoped by
// ?task_id=. There is no replay buffer: after reconnect a subscriber
// re-fetches aggregate state from the plan and execution endpoints.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.hub.Subscribe(r.URL.Query().Get("task_id"), 0)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

type createTaskReq struct {
	OwnerID         string `json:"owner_id"`
	OfferURL        string `json:"offer_url"`
	Country         string `json:"country"`
	TimeWindow      string `json:"time_window"`
	DailyClicks     int    `json:"daily_clicks"`
	RefererTemplate string `json:"referer_template"`
	ClickMode       string `json:"click_mode"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.OwnerID == "" || req.OfferURL == "" {
		http.Error(w, "owner_id and offer_url are required", 400)
		return
	}
	if req.DailyClicks <= 0 {
		http.Error(w, "daily_clicks must be positive", 400)
		return
	}
	if req.TimeWindow == "" {
		req.TimeWindow = "00:00-24:00"
	}
	mode := domain.JobKind(req.ClickMode)
	if mode == "" {
		mode = domain.KindHTTP
	}
	if mode != domain.KindHTTP && mode != domain.KindBrowser {
		http.Error(w, "click_mode must be http or browser", 400)
		return
	}
	id, err := s.repo.CreateTask(r.Context(), domain.Task{
		OwnerID:         req.OwnerID,
		OfferURL:        req.OfferURL,
		Country:         req.Country,
		TimeWindow:      req.TimeWindow,
		DailyClicks:     req.DailyClicks,
		RefererTemplate: req.RefererTemplate,
		ClickMode:       mode,
		Status:          domain.TaskPending,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.repo.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, t)
}

func (s *Server) terminateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.repo.UpdateTaskStatus(r.Context(), id, domain.TaskTerminated)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
		return
	case errors.Is(err, store.ErrBadTransition):
		http.Error(w, "task already terminated", 409)
		return
	case err != nil:
		http.Error(w, err.Error(), 500)
		return
	}

	cancelled := s.pool.CancelTask(id)
	s.hub.Publish(domain.ProgressEvent{Type: domain.EventTaskEnded, TaskID: id})
	log.Info().Str("task_id", id).Int("cancelled_jobs", cancelled).Msg("task terminated")
	writeJSON(w, 200, map[string]any{"id": id, "cancelled_jobs": cancelled})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.clock.OffsetDate(s.clock.Now())
	}
	p, err := s.repo.GetPlan(r.Context(), taskID, date)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, p)
}

func (s *Server) getPlanHours(w http.ResponseWriter, r *http.Request) {
	execs, err := s.repo.ListHourlyForPlan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, execs)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.clock.OffsetDate(s.clock.Now())
	}
	sum, err := s.repo.GetSummary(r.Context(), taskID, date)
	if err != nil {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
