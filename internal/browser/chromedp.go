// Package browser implements crawler.Browser on top of headless Chrome
// driven through chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

// ErrClosed is returned by NewTab after Close.
var ErrClosed = errors.New("browser closed")

// Config controls the Chrome process and tab behavior.
type Config struct {
	Headless    bool
	UserDataDir string
	ExecPath    string
	UserAgent   string
	// NetworkIdle is how long the network must stay quiet after the load
	// event before navigation is considered complete.
	NetworkIdle time.Duration
	// BodyWait bounds how long closing a tab waits for pending response
	// bodies.
	BodyWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.NetworkIdle <= 0 {
		c.NetworkIdle = 500 * time.Millisecond
	}
	if c.BodyWait <= 0 {
		c.BodyWait = 5 * time.Second
	}
	return c
}

// Chromedp is a shared Chrome session handing out tabs.
type Chromedp struct {
	cfg             Config
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

var _ crawler.Browser = (*Chromedp)(nil)

// New launches Chrome. The process lives until Close.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	opts := append(chromedp.DefaultExecAllocatorOptions[:], launchFlags(cfg)...)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		cfg:             cfg,
		logger:          logger.Named("browser"),
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
	}, nil
}

func launchFlags(cfg Config) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ash-no-nudges", true),
		chromedp.Flag("deny-permission-prompts", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-features", "TranslateUI,Translate,InfiniteSessionRestore"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-session-crashed-bubble", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("start-maximized", true),
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// NewTab opens a tab with request interception and network capture
// enabled. Cancelling ctx closes the tab.
func (b *Chromedp) NewTab(ctx context.Context) (crawler.Tab, error) {
	if err := b.browserCtx.Err(); err != nil {
		return nil, ErrClosed
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	stopForward := forwardCancel(ctx, cancel)

	t := newTab(tabCtx, cancel, stopForward, b.cfg, b.logger)
	chromedp.ListenTarget(tabCtx, t.onEvent)
	if err := chromedp.Run(tabCtx, t.setupAction()); err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("tab setup: %w", err)
	}
	return t, nil
}

// Close shuts Chrome down.
func (b *Chromedp) Close() error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocatorCancel()
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
