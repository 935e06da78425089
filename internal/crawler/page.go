package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archivepath"
)

// PageState names a step of the page crawl.
type PageState string

// Page crawl states, in order.
const (
	StateNavigating   PageState = "navigating"
	StateSettling     PageState = "settling"
	StateExtracting   PageState = "extracting"
	StateHoverProbing PageState = "hover-probing"
	StateSnapshotting PageState = "snapshotting"
	StateClosing      PageState = "closing"
)

// PageConfig tunes the page crawl timings.
type PageConfig struct {
	NavTimeout  time.Duration
	SettleDelay time.Duration
	HoverLinks  bool
	HoverDelay  time.Duration
}

func (c PageConfig) withDefaults() PageConfig {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 60 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.HoverDelay < 0 {
		c.HoverDelay = 0
	}
	return c
}

// PageCrawler runs the page crawl protocol against a Browser.
type PageCrawler struct {
	browser Browser
	cfg     PageConfig
	logger  *zap.Logger
	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPageCrawler returns a PageCrawler that opens tabs on browser.
func NewPageCrawler(browser Browser, cfg PageConfig, logger *zap.Logger) *PageCrawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageCrawler{
		browser: browser,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("page"),
		sleep:   sleepContext,
	}
}

// Crawl loads pageURL in a fresh tab and reports everything it finds to
// hooks. A failed or timed out navigation returns an error wrapping
// ErrNavigation; the tab is closed in every case.
func (p *PageCrawler) Crawl(ctx context.Context, pageURL, origin string, hooks PageHooks) error {
	log := p.logger.With(zap.String("url", archivepath.ShortURL(pageURL)))
	state := StateNavigating
	log.Debug("Page state", zap.String("state", string(state)))

	tab, err := p.browser.NewTab(ctx)
	if err != nil {
		return fmt.Errorf("%w: open tab: %v", ErrNavigation, err)
	}
	defer func() {
		log.Debug("Page state", zap.String("state", string(StateClosing)), zap.String("from", string(state)))
		if cerr := tab.Close(); cerr != nil {
			log.Debug("Failed to close tab", zap.Error(cerr))
		}
	}()

	tab.OnRequest(func(u string) {
		hooks.AddLinks(u)
	})
	tab.OnResponse(func(resp Response) {
		hooks.AddLinks(resp.URL)
		hooks.Captured(resp)
	})

	navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavTimeout)
	err = tab.Navigate(navCtx, pageURL)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, pageURL, err)
	}

	state = p.enter(log, StateSettling)
	p.focus(ctx, tab, log)
	p.extract(ctx, tab, hooks, log)
	if err := p.sleep(ctx, p.cfg.SettleDelay); err != nil {
		return err
	}
	p.focus(ctx, tab, log)

	state = p.enter(log, StateExtracting)
	p.extract(ctx, tab, hooks, log)

	if p.cfg.HoverLinks {
		state = p.enter(log, StateHoverProbing)
		if err := p.hoverProbe(ctx, tab, origin, hooks, log); err != nil {
			return err
		}
	}

	state = p.enter(log, StateSnapshotting)
	html, err := tab.HTML(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("Failed to serialize document", zap.Error(err))
	} else {
		html = "<!DOCTYPE html>\n" + html
		hooks.Snapshot(pageURL, html)
		if final, uerr := tab.URL(ctx); uerr == nil && final != "" && final != pageURL {
			hooks.Snapshot(final, html)
		}
	}
	p.extract(ctx, tab, hooks, log)
	return nil
}

func (p *PageCrawler) enter(log *zap.Logger, state PageState) PageState {
	log.Debug("Page state", zap.String("state", string(state)))
	return state
}

func (p *PageCrawler) focus(ctx context.Context, tab Tab, log *zap.Logger) {
	if err := tab.BringToFront(ctx); err != nil {
		log.Debug("Failed to bring tab to front", zap.Error(err))
	}
	if err := tab.FocusBody(ctx); err != nil {
		log.Debug("Failed to focus body", zap.Error(err))
	}
}

func (p *PageCrawler) extract(ctx context.Context, tab Tab, hooks PageHooks, log *zap.Logger) {
	if targets, err := tab.Targets(ctx); err != nil {
		log.Debug("Failed to list targets", zap.Error(err))
	} else {
		hooks.AddLinks(targets...)
	}

	links, err := tab.Links(ctx)
	if err != nil {
		log.Debug("Failed to extract links", zap.Error(err))
		return
	}
	hooks.AddQueue(links.Frames...)
	hooks.AddQueue(links.Anchors...)
	hooks.AddLinks(links.Resources...)
}

func (p *PageCrawler) hoverProbe(ctx context.Context, tab Tab, origin string, hooks PageHooks, log *zap.Logger) error {
	links, err := tab.Links(ctx)
	if err != nil {
		log.Debug("Failed to list anchors", zap.Error(err))
		return nil
	}
	for _, anchor := range links.Anchors {
		href := archivepath.StripFragment(anchor)
		if !strings.HasPrefix(href, origin) || !hooks.ClaimFocus(href) {
			continue
		}
		log.Debug("Hover probe", zap.String("href", archivepath.ShortURL(href)))
		p.focus(ctx, tab, log)
		if err := tab.Hover(ctx, href); err != nil {
			log.Debug("Failed to hover link", zap.String("href", href), zap.Error(err))
		}
		if err := p.sleep(ctx, p.cfg.HoverDelay); err != nil {
			return err
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
