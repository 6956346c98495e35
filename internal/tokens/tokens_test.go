package tokens

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"clickflow/internal/domain"
	"clickflow/internal/store"
)

func newTestRepo(t *testing.T) store.Repository {
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
	return store.NewSQLiteRepo(db)
}

type staticSource map[string]int64

func (s staticSource) Balance(_ context.Context, ownerID string) (int64, error) {
	return s[ownerID], nil
}

func TestReservePartialGrant(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	sync := NewSynchronizer(repo, KeepSource{Repo: repo})
	ctx := context.Background()

	if err := repo.SetBalance(ctx, "own_1", 3); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	granted, err := sync.Reserve(ctx, "own_1", 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if granted != 3 {
		t.Fatalf("granted = %d, want 3", granted)
	}
	if granted, _ = sync.Reserve(ctx, "own_1", 1); granted != 0 {
		t.Fatalf("drained balance granted %d, want 0", granted)
	}
}

func TestConcurrentReserveNeverOverspends(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	s := NewSynchronizer(repo, KeepSource{Repo: repo})
	ctx := context.Background()

	const balance = 100
	if err := repo.SetBalance(ctx, "own_1", balance); err != nil {
		t.Fatalf("set balance: %v", err)
	}

	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := s.Reserve(ctx, "own_1", 10)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			total.Add(granted)
		}()
	}
	wg.Wait()

	if total.Load() > balance {
		t.Fatalf("total granted %d exceeds balance %d", total.Load(), balance)
	}
	remaining, _ := repo.GetBalance(ctx, "own_1")
	if remaining != balance-total.Load() {
		t.Fatalf("remaining = %d, want %d", remaining, balance-total.Load())
	}
}

func TestRefund(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	s := NewSynchronizer(repo, KeepSource{Repo: repo})
	ctx := context.Background()

	repo.SetBalance(ctx, "own_1", 10)
	if _, err := s.Reserve(ctx, "own_1", 10); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Refund(ctx, "own_1", 4); err != nil {
		t.Fatalf("refund: %v", err)
	}
	balance, _ := repo.GetBalance(ctx, "own_1")
	if balance != 4 {
		t.Fatalf("balance = %d, want 4", balance)
	}
}

func TestSyncAllReconciles(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, owner := range []string{"own_a", "own_b"} {
		if _, err := repo.CreateTask(ctx, domain.Task{
			OwnerID: owner, OfferURL: "https://example.com", TimeWindow: "00:00-24:00", DailyClicks: 10,
		}); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}
	repo.SetBalance(ctx, "own_a", 1) // drifted

	s := NewSynchronizer(repo, staticSource{"own_a": 500, "own_b": 42})
	balances, err := s.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if balances["own_a"] != 500 || balances["own_b"] != 42 {
		t.Fatalf("balances = %v, want own_a=500 own_b=42", balances)
	}
	stored, _ := repo.GetBalance(ctx, "own_a")
	if stored != 500 {
		t.Fatalf("stored balance = %d, want 500", stored)
	}
}
