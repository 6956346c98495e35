// Package tokens maintains per-owner credit balances consumed by click
// attempts. All debits go through Reserve so concurrent hourly runs for the
// same owner can never overspend.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"clickflow/internal/store"
)

// BalanceSource is the externally-tracked balance collaborator (billing
// system). Sync pulls from it to correct drift from out-of-band top-ups.
type BalanceSource interface {
	Balance(ctx context.Context, ownerID string) (int64, error)
}

type Synchronizer struct {
	repo   store.Repository
	source BalanceSource
}

func NewSynchronizer(repo store.Repository, source BalanceSource) *Synchronizer {
	return &Synchronizer{repo: repo, source: source}
}

// Reserve grants up to amount from the owner's available balance, debiting
// immediately. grantedAmount <= amount and >= 0; it never exceeds the
// balance, under any interleaving.
func (s *Synchronizer) Reserve(ctx context.Context, ownerID string, amount int64) (int64, error) {
	granted, err := s.repo.DebitUpTo(ctx, ownerID, amount)
	if err != nil {
		return 0, fmt.Errorf("reserve %d for %s: %w", amount, ownerID, err)
	}
	if granted < amount {
		log.Debug().
			Str("owner_id", ownerID).
			Int64("requested", amount).
			Int64("granted", granted).
			Msg("partial token reservation")
	}
	return granted, nil
}

// Refund returns unused reservation back to the balance, e.g. for jobs
// cancelled before execution or outcomes discarded as superseded.
func (s *Synchronizer) Refund(ctx context.Context, ownerID string, amount int64) error {
	return s.repo.Credit(ctx, ownerID, amount)
}

// Sync reconciles one owner's stored balance against the external source.
func (s *Synchronizer) Sync(ctx context.Context, ownerID string) (int64, error) {
	balance, err := s.source.Balance(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("fetch balance for %s: %w", ownerID, err)
	}
	if err := s.repo.SetBalance(ctx, ownerID, balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// SyncAll reconciles every owner with at least one active task. Per-owner
// failures are recorded and skipped so one unreachable account does not
// block the rest.
func (s *Synchronizer) SyncAll(ctx context.Context) (map[string]int64, error) {
	owners, err := s.repo.ListActiveOwners(ctx)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]int64, len(owners))
	for _, owner := range owners {
		balance, err := s.Sync(ctx, owner)
		if err != nil {
			log.Warn().Err(err).Str("owner_id", owner).Msg("token sync failed")
			continue
		}
		balances[owner] = balance
	}
	return balances, nil
}

// KeepSource leaves stored balances untouched: Sync reads back what the
// store already holds. The default when no billing endpoint is configured.
type KeepSource struct {
	Repo store.Repository
}

func (k KeepSource) Balance(ctx context.Context, ownerID string) (int64, error) {
	return k.Repo.GetBalance(ctx, ownerID)
}

// HTTPSource fetches balances from a billing endpoint:
// GET {base}/{ownerID} returning {"balance": N}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{BaseURL: baseURL, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *HTTPSource) Balance(ctx context.Context, ownerID string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/"+ownerID, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode balance response: %w", err)
	}
	return body.Balance, nil
}
