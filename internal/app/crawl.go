package app

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/archivepath"
	"github.com/JakeFAU/sitearchiver/internal/browser"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
	"github.com/JakeFAU/sitearchiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/sitearchiver/internal/fetcher/colly"
	"github.com/JakeFAU/sitearchiver/internal/frontier"
	"github.com/JakeFAU/sitearchiver/internal/id/uuid"
	"github.com/JakeFAU/sitearchiver/internal/logging"
	"github.com/JakeFAU/sitearchiver/internal/publisher"
	"github.com/JakeFAU/sitearchiver/internal/storage"
)

// Result describes a finished crawl run.
type Result struct {
	RunID      string
	ArchiveURI string
	Summary    dispatcher.Summary
}

// ArchivePath returns where the archive for root is written.
func (a *App) ArchivePath(root *url.URL) string {
	return filepath.Join(a.cfg.Crawler.OutputDir, root.Host+".zip")
}

// Crawl archives the site under rawRoot. A cancelled ctx leaves a
// resumable checkpoint and returns the context error.
func (a *App) Crawl(ctx context.Context, rawRoot string) (Result, error) {
	normalized, err := archivepath.NormalizeRoot(rawRoot)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", crawler.ErrMalformedURL, rawRoot)
	}
	rawRoot = normalized
	root, err := url.Parse(rawRoot)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %q", crawler.ErrMalformedURL, rawRoot)
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return Result{}, err
	}
	logger := logging.ForRun(a.logger, runID, rawRoot)
	res := Result{RunID: runID}

	arc, err := archive.Open(a.ArchivePath(root))
	if err != nil {
		return res, err
	}
	logger.Info("Starting crawl",
		zap.String("archive", arc.Path()),
		zap.Int("budget", a.cfg.Crawler.Budget()),
		zap.Bool("original_html", a.cfg.Archive.OriginalHTML),
		zap.Bool("original_urls", a.cfg.Archive.OriginalURLs))

	br, err := a.newBrowser(browser.Config{
		Headless:    a.cfg.Browser.Headless,
		UserDataDir: a.cfg.Browser.UserDataDir,
		ExecPath:    a.cfg.Browser.ExecPath,
		UserAgent:   a.cfg.Crawler.UserAgent,
		NetworkIdle: a.cfg.Crawler.NetworkIdle(),
	}, logger)
	if err != nil {
		return res, fmt.Errorf("launch browser: %w", err)
	}

	pages := crawler.NewPageCrawler(br, crawler.PageConfig{
		NavTimeout:  a.cfg.Crawler.NavTimeout(),
		SettleDelay: a.cfg.Crawler.SettleDelay(),
		HoverLinks:  a.cfg.Crawler.HoverLinks,
		HoverDelay:  a.cfg.Crawler.HoverDelay(),
	}, logger)

	d, err := dispatcher.New(dispatcher.Config{
		Root:            rawRoot,
		Budget:          a.cfg.Crawler.Budget(),
		CheckpointEvery: a.cfg.Crawler.CheckpointEvery,
		OriginalHTML:    a.cfg.Archive.OriginalHTML,
		OriginalURLs:    a.cfg.Archive.OriginalURLs,
		SeedSitemaps:    a.cfg.Crawler.SeedSitemaps,
	}, dispatcher.Deps{
		Archive:   arc,
		Pages:     pages,
		Fetcher:   a.fetcher(logger),
		Browser:   br,
		Blocklist: frontier.NewBlocklist(a.cfg.Crawler.Blocklist),
		Logger:    logger,
	})
	if err != nil {
		if cerr := br.Close(); cerr != nil {
			logger.Warn("Failed to close browser", zap.Error(cerr))
		}
		return res, err
	}

	sum, err := d.Run(ctx)
	res.Summary = sum
	res.ArchiveURI = "file://" + absPath(arc.Path())
	if err != nil {
		return res, err
	}

	res.ArchiveURI = a.export(ctx, logger, root.Host, res.ArchiveURI, sum)
	a.notify(ctx, logger, res)
	return res, nil
}

func (a *App) fetcher(logger *zap.Logger) crawler.Fetcher {
	return a.newFetcher(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.Fetch.Timeout(),
		RatePerOrigin: a.cfg.Fetch.RatePerOrigin,
		MaxBodyBytes:  a.cfg.Fetch.MaxBodyBytes,
	}, logger)
}

// export uploads the archive and returns its URI, or fallback when export
// is disabled or fails.
func (a *App) export(ctx context.Context, logger *zap.Logger, host, fallback string, sum dispatcher.Summary) string {
	if a.store == nil {
		return fallback
	}
	f, err := os.Open(sum.Archive)
	if err != nil {
		logger.Warn("Failed to open archive for export", zap.Error(err))
		return fallback
	}
	defer func() {
		_ = f.Close()
	}()

	uri, err := a.store.PutObject(ctx, storage.ObjectPath(a.cfg.Export.Prefix, host), storage.ArchiveContentType, f)
	if err != nil {
		logger.Warn("Failed to export archive", zap.Error(err))
		return fallback
	}
	logger.Info("Exported archive", zap.String("uri", uri))
	return uri
}

func (a *App) notify(ctx context.Context, logger *zap.Logger, res Result) {
	if a.publisher == nil {
		return
	}
	sum := res.Summary
	id, err := a.publisher.Publish(ctx, "", publisher.CrawlCompleted{
		RunID:      res.RunID,
		Root:       sum.Root,
		ArchiveURI: res.ArchiveURI,
		Crawled:    sum.Crawled,
		Fetched:    sum.Fetched,
		Saved:      sum.Counts.Saved,
		Errors:     sum.Counts.Errors,
		HTTPErrors: sum.Counts.HTTPErrors,
		Elapsed:    sum.Elapsed.Seconds(),
		FinishedAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("Failed to publish crawl notification", zap.Error(err))
		return
	}
	logger.Info("Published crawl notification", zap.String("message_id", id))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
