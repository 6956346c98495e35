// Package executor defines the click execution capability and its two
// concrete tiers: a lightweight request/verify cycle and a full
// browser-automation session.
package executor

import (
	"context"
	"strings"

	"clickflow/internal/domain"
)

// Executor runs one click job to completion. Implementations must honor ctx
// cancellation: a cancelled context is the cooperative cancellation point
// for queued and in-flight jobs.
type Executor interface {
	Execute(ctx context.Context, spec domain.JobSpec) domain.JobOutcome
}

// ExpandReferer fills a task's referer template. Supported placeholders are
// {url} (the offer URL) and {country}. A template without placeholders is
// used verbatim.
func ExpandReferer(template, offerURL, country string) string {
	if template == "" {
		return ""
	}
	r := strings.ReplaceAll(template, "{url}", offerURL)
	r = strings.ReplaceAll(r, "{country}", country)
	return r
}
