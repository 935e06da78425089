// Package dispatcher runs a crawl: it owns the frontier and the archive,
// hands URLs to page and fetch workers within a concurrency budget, and
// applies everything they report from a single goroutine.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/archivepath"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
	"github.com/JakeFAU/sitearchiver/internal/frontier"
	"github.com/JakeFAU/sitearchiver/internal/metrics"
)

const (
	workerPage  = "page"
	workerFetch = "fetch"
)

// PageRunner crawls a single page. *crawler.PageCrawler satisfies it.
type PageRunner interface {
	Crawl(ctx context.Context, pageURL, origin string, hooks crawler.PageHooks) error
}

// Config tunes a crawl run.
type Config struct {
	// Root is the crawl root; only URLs with this prefix are crawled as
	// pages.
	Root            string
	Budget          int
	CheckpointEvery int
	OriginalHTML    bool
	OriginalURLs    bool
	SeedSitemaps    bool
}

// Deps are the collaborators of a Dispatcher. Browser may be nil; it is
// closed when the run ends.
type Deps struct {
	Archive   *archive.Archive
	Pages     PageRunner
	Fetcher   crawler.Fetcher
	Browser   crawler.Browser
	Blocklist *frontier.Blocklist
	Logger    *zap.Logger
}

// Summary reports the outcome of a run. HTTPErrors are in the order they
// were seen; Errors are sorted.
type Summary struct {
	Root       string
	Archive    string
	Crawled    int
	Fetched    int
	Counts     frontier.Counts
	HTTPErrors []string
	Errors     []string
	Elapsed    time.Duration
}

// Dispatcher coordinates a crawl. Only the goroutine running Run touches
// the frontier store and the archive.
type Dispatcher struct {
	cfg     Config
	origin  string
	store   *frontier.Store
	archive *archive.Archive
	pages   PageRunner
	fetcher crawler.Fetcher
	browser crawler.Browser
	logger  *zap.Logger

	events    chan event
	running   int
	crawled   int
	fetched   int
	saves     int
	fallbacks map[string]struct{}
}

// New restores the frontier from the archive's checkpoint, or seeds a
// fresh one with the root URL.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Archive == nil || deps.Pages == nil || deps.Fetcher == nil {
		return nil, errors.New("dispatcher requires an archive, a page runner and a fetcher")
	}
	root, err := archivepath.NormalizeRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q", crawler.ErrMalformedURL, cfg.Root)
	}
	cfg.Root = root
	origin, err := archivepath.OriginOf(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %q", crawler.ErrMalformedURL, cfg.Root)
	}
	if cfg.Budget <= 0 {
		cfg.Budget = 1
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 250
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:       cfg,
		origin:    origin,
		archive:   deps.Archive,
		pages:     deps.Pages,
		fetcher:   deps.Fetcher,
		browser:   deps.Browser,
		logger:    logger.Named("dispatcher"),
		events:    make(chan event, 64),
		fallbacks: make(map[string]struct{}),
	}

	var snap frontier.Snapshot
	found, err := deps.Archive.ReadJSON(archive.StateEntry, &snap)
	switch {
	case err != nil:
		d.logger.Warn("Ignoring unreadable checkpoint", zap.Error(err))
		d.store = frontier.New(cfg.Root, deps.Blocklist)
	case found:
		d.store = frontier.Restore(cfg.Root, deps.Blocklist, snap)
		counts := d.store.Counts()
		d.logger.Info("Resuming from checkpoint",
			zap.Int("done", counts.Done),
			zap.Int("saved", counts.Saved),
			zap.Int("queued", counts.Queue))
	default:
		d.store = frontier.New(cfg.Root, deps.Blocklist)
	}
	return d, nil
}

// Store exposes the frontier. It must not be used while Run is active.
func (d *Dispatcher) Store() *frontier.Store { return d.store }

// Origin returns the crawl origin.
func (d *Dispatcher) Origin() string { return d.origin }

// Run crawls until no eligible URL is left, then writes the sitemap
// artifacts and a final checkpoint. Only archive I/O failures are returned
// as errors; per-URL failures are reported in the Summary. When ctx is
// cancelled Run waits for in-flight workers, checkpoints, and returns
// ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer d.closeBrowser()

	if d.cfg.SeedSitemaps {
		d.seed(runCtx)
	}
	if err := d.checkpoint(); err != nil {
		return d.summary(start), err
	}

	d.next(runCtx)
	var fatal error
	for d.running > 0 {
		ev := <-d.events
		if fatal != nil {
			d.drain(ev)
			continue
		}
		if err := d.handle(runCtx, ev); err != nil {
			d.logger.Error("Aborting crawl", zap.Error(err))
			fatal = err
			cancel()
		}
	}
	if fatal != nil {
		return d.summary(start), fatal
	}

	if err := ctx.Err(); err != nil {
		d.logger.Warn("Crawl interrupted; writing checkpoint", zap.Error(err))
		if cerr := d.checkpoint(); cerr != nil {
			return d.summary(start), cerr
		}
		return d.summary(start), err
	}
	return d.finalize(start)
}

// next starts workers while the budget allows: pages first, then links.
// It is the only place work is scheduled.
func (d *Dispatcher) next(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	for d.running < d.cfg.Budget {
		u, ok := d.store.NextPageURL()
		if !ok {
			break
		}
		d.store.RecordPending(u)
		d.logger.Info("Crawling page", zap.String("url", archivepath.ShortURL(u)))
		d.startPage(ctx, u)
	}
	for d.running < d.cfg.Budget {
		u, ok := d.store.NextLinkURL()
		if !ok {
			break
		}
		d.store.RecordPending(u)
		d.logger.Debug("Fetching link", zap.String("url", archivepath.ShortURL(u)))
		d.startFetch(ctx, fetchJob{url: u})
	}
}

func (d *Dispatcher) startPage(ctx context.Context, u string) {
	d.running++
	d.crawled++
	metrics.IncActiveWorkers(workerPage)
	go func() {
		session := newPageSession(ctx, d.events)
		err := d.pages.Crawl(ctx, u, d.origin, session)
		session.close()
		d.events <- pageDoneEvent{url: u, err: err}
	}()
}

func (d *Dispatcher) startFetch(ctx context.Context, job fetchJob) {
	d.running++
	d.fetched++
	metrics.IncActiveWorkers(workerFetch)
	go func() {
		res, err := d.fetcher.Fetch(ctx, job.url)
		d.events <- fetchDoneEvent{job: job, result: res, err: err}
	}()
}

func (d *Dispatcher) handle(ctx context.Context, ev event) error {
	switch e := ev.(type) {
	case linksEvent:
		if e.queue {
			d.store.AddQueue(e.urls...)
		} else {
			d.store.AddLinks(e.urls...)
		}
	case focusEvent:
		e.reply <- d.store.ClaimFocus(e.href)
	case capturedEvent:
		return d.onCaptured(e.resp)
	case snapshotEvent:
		return d.onFile(e.url, []byte(e.html), false, saveSnapshot)
	case pageDoneEvent:
		d.running--
		metrics.DecActiveWorkers(workerPage)
		metrics.ObservePage(e.url, e.err)
		d.onPageDone(ctx, e)
		d.next(ctx)
	case fetchDoneEvent:
		d.running--
		metrics.DecActiveWorkers(workerFetch)
		metrics.ObserveFetch(e.job.url, e.err)
		err := d.onFetchDone(e)
		d.next(ctx)
		return err
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
	return nil
}

// drain accounts for completions after a fatal error without touching the
// archive.
func (d *Dispatcher) drain(ev event) {
	switch e := ev.(type) {
	case focusEvent:
		e.reply <- false
	case pageDoneEvent:
		d.running--
		metrics.DecActiveWorkers(workerPage)
	case fetchDoneEvent:
		d.running--
		metrics.DecActiveWorkers(workerFetch)
	}
}

func (d *Dispatcher) onPageDone(ctx context.Context, e pageDoneEvent) {
	if e.err == nil {
		d.store.RecordDone(e.url)
		return
	}
	d.logger.Error("Page crawl failed", zap.String("url", archivepath.ShortURL(e.url)), zap.Error(e.err))
	d.store.RecordError(e.url)

	if _, tried := d.fallbacks[e.url]; tried || ctx.Err() != nil {
		return
	}
	d.fallbacks[e.url] = struct{}{}
	d.logger.Info("Retrying page with direct fetch", zap.String("url", archivepath.ShortURL(e.url)))
	d.startFetch(ctx, fetchJob{url: e.url, overwrite: true, fallback: true})
}

func (d *Dispatcher) onFetchDone(e fetchDoneEvent) error {
	if e.err != nil {
		d.logger.Error("Fetch failed",
			zap.String("url", archivepath.ShortURL(e.job.url)),
			zap.Bool("fallback", e.job.fallback),
			zap.Error(e.err))
		d.store.RecordError(e.job.url)
		return nil
	}

	res := e.result
	if !crawler.StatusOK(res.Status) {
		location := ""
		if res.FinalURL != "" && res.FinalURL != e.job.url {
			location = res.FinalURL
		}
		d.recordHTTPError(crawler.HTTPErrorLine(res.Status, e.job.url, location), res.Status)
	}

	kind := saveCapture
	if e.job.overwrite {
		kind = saveOverwrite
	}
	if err := d.onFile(e.job.url, res.Body, true, kind); err != nil {
		return err
	}

	if e.job.fallback && crawler.LooksLikeHTML(res.ContentType, res.Body) {
		base := res.FinalURL
		if base == "" {
			base = e.job.url
		}
		links, err := crawler.ExtractLinks(base, res.Body)
		if err != nil {
			d.logger.Debug("Failed to extract links from fallback body", zap.Error(err))
			return nil
		}
		d.store.AddQueue(links.Anchors...)
		d.store.AddQueue(links.Frames...)
		d.store.AddLinks(links.Resources...)
	}
	return nil
}

func (d *Dispatcher) recordHTTPError(line string, status int) {
	d.logger.Warn("HTTP error", zap.String("line", line))
	d.store.RecordHTTPError(line)
	metrics.ObserveHTTPError(status)
}

func (d *Dispatcher) closeBrowser() {
	if d.browser == nil {
		return
	}
	if err := d.browser.Close(); err != nil {
		d.logger.Warn("Failed to close browser", zap.Error(err))
	}
	d.browser = nil
}

func (d *Dispatcher) summary(start time.Time) Summary {
	snap := d.store.Snapshot()
	return Summary{
		Root:       d.cfg.Root,
		Archive:    d.archive.Path(),
		Crawled:    d.crawled,
		Fetched:    d.fetched,
		Counts:     d.store.Counts(),
		HTTPErrors: d.store.HTTPErrors(),
		Errors:     snap.Errors,
		Elapsed:    time.Since(start),
	}
}
