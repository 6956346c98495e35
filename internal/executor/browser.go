package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"clickflow/internal/domain"
)

// BrowserExecutor drives a full headless-Chrome session per click: navigate,
// wait for the document, extract the title as the render check. Much slower
// and more failure-prone than the http tier, which is why it runs in its own
// pool.
type BrowserExecutor struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	timeout     time.Duration
}

type BrowserConfig struct {
	Timeout   time.Duration
	ProxyURL  string
	UserAgent string
}

func NewBrowserExecutor(cfg BrowserConfig) *BrowserExecutor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &BrowserExecutor{allocCtx: allocCtx, allocCancel: cancel, timeout: cfg.Timeout}
}

// Close releases the browser allocator.
func (e *BrowserExecutor) Close() { e.allocCancel() }

func (e *BrowserExecutor) Execute(ctx context.Context, spec domain.JobSpec) domain.JobOutcome {
	start := time.Now()

	// Tie the tab to both the job context (cancellation) and the allocator.
	tabCtx, cancelTab := chromedp.NewContext(e.allocCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	runCtx, cancel := context.WithTimeout(tabCtx, e.timeout)
	defer cancel()

	var title string
	actions := []chromedp.Action{}
	if spec.Referer != "" {
		actions = append(actions, setReferer(spec.Referer))
	}
	actions = append(actions,
		chromedp.Navigate(spec.OfferURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second), // let trackers fire
		chromedp.Title(&title),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		out := domain.JobOutcome{Duration: time.Since(start)}
		if ctx.Err() != nil {
			out.Error = ctx.Err().Error()
		} else {
			out.Error = fmt.Sprintf("browser navigation: %v", err)
		}
		return out
	}
	return domain.JobOutcome{Success: true, Duration: time.Since(start)}
}

func setReferer(referer string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}
		return network.SetExtraHTTPHeaders(network.Headers{"Referer": referer}).Do(ctx)
	})
}
