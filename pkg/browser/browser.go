// Package browser drives a Chrome tab through chromedp and exposes it as a
// scrollable page and an HTML snapshot source.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"mediagrab/pkg/config"
	"mediagrab/pkg/extract"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
	"mediagrab/pkg/retry"
	"mediagrab/pkg/scroll"
)

// Browser owns one Chrome process shared by all tabs
type Browser struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	cfg           config.BrowserConfig
	seenOpts      []extract.SeenOption
	logger        logger.Logger
}

// New starts the browser allocator. Chrome itself launches with the first tab.
func New(cfg config.BrowserConfig, log logger.Logger, seenOpts ...extract.SeenOption) *Browser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.WindowSize(1280, 2000),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if log == nil {
		log = logger.GetLogger()
	}
	return &Browser{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		cfg:           cfg,
		seenOpts:      seenOpts,
		logger:        logger.Component(log, "browser"),
	}
}

// Open navigates a new tab to target and returns it as a scroll session.
func (b *Browser) Open(ctx context.Context, target models.Target) (scroll.Session, error) {
	tab, err := b.OpenTab(ctx, string(target))
	if err != nil {
		return nil, err
	}
	ex := extract.NewHTMLExtractor(tab, extract.NewSeenSet(b.seenOpts...), b.cfg.CardSelector)
	return &Session{Tab: tab, HTMLExtractor: ex}, nil
}

// OpenTab creates a tab and waits for the page body
func (b *Browser) OpenTab(ctx context.Context, url string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)

	// The first Run allocates the tab; it must not carry the navigation timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	b.logger.InfoWithFields("Opening page", map[string]interface{}{
		"url": url,
	})

	// Slow or flaky page loads get another try; a cancelled caller does not.
	err := retry.Do(ctx, &retry.Config{
		MaxAttempts: b.cfg.NavigateAttempts,
		Backoff:     retry.DefaultExponentialBackoff(),
		RetryIf:     func(error) bool { return ctx.Err() == nil },
		Logger:      b.logger,
	}, func() error {
		return b.navigate(ctx, tabCtx, url)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load %s: %w", url, err)
	}

	return &Tab{ctx: tabCtx, cancel: cancel}, nil
}

// navigate loads url in the tab, bounded by the navigation timeout and ctx
func (b *Browser) navigate(ctx, tabCtx context.Context, url string) error {
	timeout := b.cfg.NavigateTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	defer navCancel()

	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	return chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Close shuts the browser down
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// Session pairs a tab with the extractor that remembers what it has reported
type Session struct {
	*Tab
	*extract.HTMLExtractor
}

var _ scroll.Session = (*Session)(nil)

// Tab is one page in the browser
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

const snapshotScript = `(() => {
  document.querySelectorAll('img, video').forEach(el => {
    if (el.currentSrc) el.setAttribute('` + extract.CurrentSrcAttr + `', el.currentSrc);
  });
  return { html: document.documentElement.outerHTML, url: location.href };
})()`

func (t *Tab) eval(ctx context.Context, script string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(t.ctx, chromedp.Evaluate(script, res))
}

func (t *Tab) ScrollToTop(ctx context.Context) error {
	return t.eval(ctx, `window.scrollTo(0, 0)`, nil)
}

func (t *Tab) ScrollBy(ctx context.Context, px int) error {
	return t.eval(ctx, fmt.Sprintf(`window.scrollBy(0, %d)`, px), nil)
}

func (t *Tab) ScrollToBottom(ctx context.Context) error {
	return t.eval(ctx, `window.scrollTo(0, document.body.scrollHeight)`, nil)
}

// Snapshot serializes the DOM with each media element's currentSrc exposed as an attribute.
func (t *Tab) Snapshot(ctx context.Context) (extract.Snapshot, error) {
	var res struct {
		HTML string `json:"html"`
		URL  string `json:"url"`
	}
	if err := t.eval(ctx, snapshotScript, &res); err != nil {
		return extract.Snapshot{}, fmt.Errorf("failed to snapshot page: %w", err)
	}
	return extract.Snapshot{HTML: res.HTML, BaseURL: res.URL}, nil
}

// Close closes the tab
func (t *Tab) Close() error {
	t.once.Do(t.cancel)
	return nil
}
