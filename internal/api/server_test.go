package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"clickflow/internal/coordinator"
	"clickflow/internal/domain"
	"clickflow/internal/planner"
	"clickflow/internal/pool"
	"clickflow/internal/progress"
	"clickflow/internal/store"
	"clickflow/internal/tokens"
	"clickflow/internal/trigger"
	"clickflow/internal/window"
)

type okExec struct{}

func (okExec) Execute(ctx context.Context, spec domain.JobSpec) domain.JobOutcome {
	return domain.JobOutcome{Success: true}
}

func newTestServer(t *testing.T) (http.Handler, store.Repository) {
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

	p := pool.New(okExec{}, okExec{},
		pool.TierConfig{Workers: 2, QueueDepth: 16},
		pool.TierConfig{Workers: 1, QueueDepth: 16},
	)
	p.Start()
	t.Cleanup(p.Shutdown)

	hub := progress.NewHub()
	sync := tokens.NewSynchronizer(repo, tokens.KeepSource{Repo: repo})
	coord := coordinator.New(repo, p, sync, hub, 1)
	gen := planner.NewGeneratorWithSeed(repo, 77)
	clock := window.FixedClock(0)
	runner := trigger.NewRunner(repo, gen, coord, sync, clock, 2)
	return NewServer(repo, runner, p, hub, clock), repo
}

func TestHealthAndQueueState(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue-state", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("queue-state = %d, want 200", rec.Code)
	}
	var st domain.QueueState
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode queue state: %v", err)
	}
	if st.HTTPWorkerCount != 2 || st.BrowserWorkerCount != 1 {
		t.Fatalf("snapshot = %+v, want (2,1) workers", st)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	body := `{"owner_id":"own_1","offer_url":"https://example.com","time_window":"06:00-24:00","daily_clicks":48}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	json.NewDecoder(rec.Body).Decode(&created)
	id := created["id"]
	if id == "" {
		t.Fatal("no task id returned")
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/terminate", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("terminate = %d: %s", rec.Code, rec.Body.String())
	}

	// Terminating twice conflicts.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/"+id+"/terminate", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("double terminate = %d, want 409", rec.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{name: "missing owner", body: `{"offer_url":"https://example.com","daily_clicks":10}`},
		{name: "zero clicks", body: `{"owner_id":"o","offer_url":"https://example.com","daily_clicks":0}`},
		{name: "bad mode", body: `{"owner_id":"o","offer_url":"https://example.com","daily_clicks":1,"click_mode":"smoke-signal"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, want 400", rec.Code)
			}
		})
	}
}

func TestTriggerEndpoints(t *testing.T) {
	t.Parallel()
	srv, repo := newTestServer(t)
	ctx := context.Background()

	if _, err := repo.CreateTask(ctx, domain.Task{
		OwnerID: "own_1", OfferURL: "https://example.com", TimeWindow: "00:00-24:00", DailyClicks: 24,
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/triggers/daily-plan", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("daily-plan = %d: %s", rec.Code, rec.Body.String())
	}
	var res trigger.DailyPlanResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/triggers/token-sync", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("token-sync = %d", rec.Code)
	}
}
