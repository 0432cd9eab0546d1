package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/mwirth/immoharvest/internal/config"
	"github.com/mwirth/immoharvest/internal/domain"
	"github.com/mwirth/immoharvest/internal/source"
)

// cookieClickTimeout bounds the best-effort consent banner dismissal so a
// missing banner never stalls the fetch.
const cookieClickTimeout = 3 * time.Second

// allocator pairs a chromedp exec allocator with the cancel func that
// tears down the Chrome process it owns.
type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Browser drives headless Chrome for sites that render listings with
// JavaScript. A fixed-size pool of allocator contexts lets concurrent
// fetches reuse browser processes instead of spawning one per page;
// Close tears the whole pool down.
type Browser struct {
	cfg      config.SourceConfig
	allocs   chan *allocator
	size     int
	timeout  time.Duration
	maxPages int

	closeOnce sync.Once
}

// NewBrowser builds a headless-browser adapter for one source. The pool
// holds one allocator per page worker so every concurrent fetch has a
// browser process without waiting.
func NewBrowser(cfg config.SourceConfig, harvest *config.HarvestConfig) *Browser {
	size := harvest.PageWorkers
	if size < 1 {
		size = 1
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(staticUserAgent),
	)

	allocs := make(chan *allocator, size)
	for i := 0; i < size; i++ {
		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
		allocs <- &allocator{ctx: allocCtx, cancel: cancel}
	}

	timeout := harvest.PageTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Browser{
		cfg:      cfg,
		allocs:   allocs,
		size:     size,
		timeout:  timeout,
		maxPages: harvest.MaxPages,
	}
}

func (b *Browser) SourceID() string { return b.cfg.ID }

func (b *Browser) DisplayName() string { return b.cfg.ID + " (browser)" }

func (b *Browser) Seeds() []domain.WorkUnit { return seeds(&b.cfg) }

func (b *Browser) Fetch(ctx context.Context, unit domain.WorkUnit) (*source.FetchResult, error) {
	var alloc *allocator
	select {
	case alloc = <-b.allocs:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { b.allocs <- alloc }()

	taskCtx, cancel := chromedp.NewContext(alloc.ctx)
	defer cancel()

	taskCtx, cancel = context.WithTimeout(taskCtx, b.timeout)
	defer cancel()

	// Propagate caller cancellation into the browser task.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(unit.Locator),
		chromedp.WaitReady("body"),
	)
	if err != nil {
		return nil, classifyBrowserErr(ctx, err)
	}

	b.dismissCookieBanner(taskCtx)

	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html)); err != nil {
		return nil, classifyBrowserErr(ctx, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, source.Permanent(fmt.Errorf("%w: %v", source.ErrParse, err))
	}

	return buildResult(doc, unit, &b.cfg, b.maxPages)
}

// dismissCookieBanner clicks the configured consent button if present.
// Best effort: most pages after the first never show the banner again.
func (b *Browser) dismissCookieBanner(taskCtx context.Context) {
	if b.cfg.Listing.CookieButton == "" {
		return
	}

	clickCtx, cancel := context.WithTimeout(taskCtx, cookieClickTimeout)
	defer cancel()

	// Ignore the error: the banner is absent on nearly every fetch.
	_ = chromedp.Run(clickCtx,
		chromedp.Click(b.cfg.Listing.CookieButton, chromedp.NodeVisible),
	)
}

func classifyBrowserErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return source.Transient(source.ErrFetchTimeout)
	}
	return source.Transient(fmt.Errorf("%w: %v", source.ErrNavigationFailed, err))
}

// Close shuts down every pooled allocator and the Chrome processes they
// own. It blocks until in-flight fetches have returned their allocators;
// Fetch must not be called after Close.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		for i := 0; i < b.size; i++ {
			alloc := <-b.allocs
			alloc.cancel()
		}
	})
	return nil
}

var _ source.Adapter = (*Browser)(nil)
