package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"clickflow/internal/domain"
)

const maxVerifyBytes = 64 << 10

// HTTPExecutor performs a lightweight network-level click: a paced GET with
// the task's referer, verified by status code. The limiter spreads requests
// out so a dispatched batch does not land as one burst.
type HTTPExecutor struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

type HTTPConfig struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	UserAgent  string
}

func NewHTTPExecutor(cfg HTTPConfig) *HTTPExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0 Safari/537.36"
	}
	return &HTTPExecutor{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		userAgent: cfg.UserAgent,
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, spec domain.JobSpec) domain.JobOutcome {
	start := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.JobOutcome{Error: err.Error(), Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.OfferURL, nil)
	if err != nil {
		return domain.JobOutcome{Error: fmt.Sprintf("build request: %v", err), Duration: time.Since(start)}
	}
	req.Header.Set("User-Agent", e.userAgent)
	if spec.Referer != "" {
		req.Header.Set("Referer", spec.Referer)
	}
	if spec.Country != "" {
		req.Header.Set("Accept-Language", acceptLanguage(spec.Country))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.JobOutcome{Error: err.Error(), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	// Drain a bounded slice of the body so the connection is reusable and
	// the click registers as a real page load.
	_, _ = io.CopyN(io.Discard, resp.Body, maxVerifyBytes)

	out := domain.JobOutcome{StatusCode: resp.StatusCode, Duration: time.Since(start)}
	if resp.StatusCode >= 400 {
		out.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return out
	}
	out.Success = true
	return out
}

func acceptLanguage(country string) string {
	switch country {
	case "US", "GB", "AU", "CA":
		return "en-US,en;q=0.9"
	case "DE":
		return "de-DE,de;q=0.9,en;q=0.5"
	case "FR":
		return "fr-FR,fr;q=0.9,en;q=0.5"
	case "JP":
		return "ja-JP,ja;q=0.9,en;q=0.5"
	default:
		return "en-US,en;q=0.8"
	}
}
