package dispatcher_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
	"github.com/JakeFAU/sitearchiver/internal/crawler/crawlertest"
	"github.com/JakeFAU/sitearchiver/internal/dispatcher"
	"github.com/JakeFAU/sitearchiver/internal/frontier"
)

const root = "https://x.test/"

type harness struct {
	browser *crawlertest.Browser
	fetcher *crawlertest.Fetcher
	path    string
}

func newHarness(t *testing.T, pages map[string]crawlertest.Page) *harness {
	t.Helper()
	return &harness{
		browser: crawlertest.NewBrowser(pages),
		fetcher: &crawlertest.Fetcher{},
		path:    filepath.Join(t.TempDir(), "x.test.zip"),
	}
}

func (h *harness) dispatcher(t *testing.T, cfg dispatcher.Config) *dispatcher.Dispatcher {
	t.Helper()
	a, err := archive.Open(h.path)
	require.NoError(t, err)
	if cfg.Root == "" {
		cfg.Root = root
	}
	if cfg.Budget == 0 {
		cfg.Budget = 2
	}
	d, err := dispatcher.New(cfg, dispatcher.Deps{
		Archive: a,
		Pages:   crawler.NewPageCrawler(h.browser, crawler.PageConfig{}, zap.NewNop()),
		Fetcher: h.fetcher,
		Browser: h.browser,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	return d
}

func (h *harness) reopen(t *testing.T) *archive.Archive {
	t.Helper()
	a, err := archive.Open(h.path)
	require.NoError(t, err)
	return a
}

func TestNewRejectsInvalidRoot(t *testing.T) {
	t.Parallel()

	a, err := archive.Open(filepath.Join(t.TempDir(), "a.zip"))
	require.NoError(t, err)
	_, err = dispatcher.New(dispatcher.Config{Root: "ftp://x.test/"}, dispatcher.Deps{
		Archive: a,
		Pages:   crawler.NewPageCrawler(crawlertest.NewBrowser(nil), crawler.PageConfig{}, nil),
		Fetcher: &crawlertest.Fetcher{},
	})
	require.ErrorIs(t, err, crawler.ErrMalformedURL)
}

func TestRunNormalizesRoot(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"https://x.test", "https://X.test/", "HTTPS://x.TEST"} {
		t.Run(input, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, map[string]crawlertest.Page{
				root: {
					HTML: `<html><body></body></html>`,
					Links: crawler.PageLinks{
						Anchors: []string{"https://x.test/", "https://x.test/a", "https://x.test/b"},
					},
				},
			})
			d := h.dispatcher(t, dispatcher.Config{Root: input})
			assert.Equal(t, "https://x.test", d.Origin())

			sum, err := d.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, root, sum.Root)
			assert.Equal(t, 3, sum.Crawled)
			assert.Empty(t, sum.Errors)

			txt, ok := h.reopen(t).Get(archive.SitemapText)
			require.True(t, ok)
			assert.Equal(t, "/\n/a\n/b", string(txt))
		})
	}
}

func TestRunCrawlsSiteAndWritesArtifacts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]crawlertest.Page{
		root: {
			HTML: `<html><body><a href="https://x.test/a">a</a><script src="https://x.test/app.js"></script></body></html>`,
			Links: crawler.PageLinks{
				Anchors: []string{"https://x.test/a", "https://x.test/b#top"},
			},
			Responses: []crawler.Response{{
				URL:          "https://x.test/app.js",
				Status:       200,
				ResourceType: crawler.ResourceScript,
				Body:         []byte("fetch('https://x.test/api')"),
			}},
		},
	})
	h.fetcher.On("Fetch", mock.Anything, "https://x.test/app.js.map").
		Return(crawler.FetchResult{URL: "https://x.test/app.js.map", Status: 404, Body: []byte("missing")}, nil).Once()

	sum, err := h.dispatcher(t, dispatcher.Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Crawled)
	assert.Equal(t, 1, sum.Fetched)
	assert.Equal(t, []string{"404 https://x.test/app.js.map"}, sum.HTTPErrors)
	assert.Empty(t, sum.Errors)
	assert.True(t, h.browser.IsClosed())
	assert.Zero(t, h.browser.OpenTabs())
	h.fetcher.AssertExpectations(t)

	a := h.reopen(t)
	index, ok := a.Get("index.html")
	require.True(t, ok)
	assert.Equal(t, "<!DOCTYPE html>\n<html><body><a href=\"/a\">a</a><script src=\"/app.js\"></script></body></html>", string(index))

	script, ok := a.Get("app.js")
	require.True(t, ok)
	assert.Equal(t, "fetch('/api')", string(script))
	assert.True(t, a.Has("a.html"))
	assert.True(t, a.Has("b.html"))
	assert.True(t, a.Has("app.js.map"))

	xml, ok := a.Get(archive.SitemapXML)
	require.True(t, ok)
	assert.Contains(t, string(xml), "<loc>/</loc>")
	assert.Contains(t, string(xml), "<loc>/a</loc>")
	assert.Contains(t, string(xml), "<loc>/b</loc>")
	assert.NotContains(t, string(xml), "#top")

	txt, ok := a.Get(archive.SitemapText)
	require.True(t, ok)
	assert.Equal(t, "/\n/a\n/b", string(txt))

	var snap frontier.Snapshot
	found, err := a.ReadJSON(archive.StateEntry, &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, snap.Pending)
	assert.Contains(t, snap.Done, "https://x.test/a")
	assert.Contains(t, snap.Saved, "app.js")
}

func TestRunFallsBackToDirectFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]crawlertest.Page{
		root: {Links: crawler.PageLinks{Anchors: []string{"https://x.test/a"}}},
		"https://x.test/a": {NavErr: errors.New("net::ERR_TIMED_OUT")},
	})
	h.fetcher.On("Fetch", mock.Anything, "https://x.test/a").Return(crawler.FetchResult{
		URL:         "https://x.test/a",
		Status:      200,
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(`<html><body><a href="https://x.test/c">c</a></body></html>`),
	}, nil).Once()

	sum, err := h.dispatcher(t, dispatcher.Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://x.test/a"}, sum.Errors)
	assert.Equal(t, 3, sum.Crawled, "root, a and the page found by the fallback")
	h.fetcher.AssertNumberOfCalls(t, "Fetch", 1)

	a := h.reopen(t)
	body, ok := a.Get("a.html")
	require.True(t, ok)
	assert.Contains(t, string(body), `href="/c"`)
	assert.True(t, a.Has("c.html"))

	var snap frontier.Snapshot
	_, err = a.ReadJSON(archive.StateEntry, &snap)
	require.NoError(t, err)
	assert.Contains(t, snap.Done, "https://x.test/a")
	assert.Contains(t, snap.Errors, "https://x.test/a")
}

func TestRunFallbackFailureIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]crawlertest.Page{
		root: {NavErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
	})
	h.fetcher.On("Fetch", mock.Anything, root).
		Return(crawler.FetchResult{}, crawler.ErrFetch).Once()

	sum, err := h.dispatcher(t, dispatcher.Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{root}, sum.Errors)
	assert.Equal(t, 1, sum.Crawled)
	assert.Equal(t, 1, sum.Fetched)
	h.fetcher.AssertNumberOfCalls(t, "Fetch", 1)
	assert.False(t, h.reopen(t).Has("index.html"))
}

func TestRunOriginalHTMLKeepsCapturedMarkup(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]crawlertest.Page{
		root: {
			HTML: "<html><body>rendered</body></html>",
			Responses: []crawler.Response{{
				URL:          root,
				Status:       200,
				ResourceType: crawler.ResourceDocument,
				Body:         []byte("<html><body>served</body></html>"),
			}},
		},
	})

	_, err := h.dispatcher(t, dispatcher.Config{OriginalHTML: true}).Run(context.Background())
	require.NoError(t, err)

	body, ok := h.reopen(t).Get("index.html")
	require.True(t, ok)
	assert.Equal(t, "<html><body>served</body></html>", string(body))
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	a, err := archive.Open(h.path)
	require.NoError(t, err)
	require.NoError(t, a.PutJSON(archive.StateEntry, frontier.Snapshot{
		Queue:   []string{root, "https://x.test/a", "https://x.test/b"},
		Done:    []string{root},
		Pending: []string{"https://x.test/a"},
		Errors:  []string{"https://x.test/b"},
		Saved:   []string{"index.html"},
	}))
	a.Put("index.html", []byte("kept"))
	require.NoError(t, a.Flush())

	sum, err := h.dispatcher(t, dispatcher.Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Crawled, "pending and errored pages are retried")
	assert.Equal(t, 2, h.browser.Opened())
	body, ok := h.reopen(t).Get("index.html")
	require.True(t, ok)
	assert.Equal(t, "kept", string(body))
}

func TestRunSeedsFromSiteLists(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.fetcher.On("Fetch", mock.Anything, "https://x.test/urls.txt").
		Return(crawler.FetchResult{Status: 200, Body: []byte("/robots-only.txt\n")}, nil)
	h.fetcher.On("Fetch", mock.Anything, "https://x.test/sitemap.txt").
		Return(crawler.FetchResult{Status: 404}, nil)
	h.fetcher.On("Fetch", mock.Anything, "https://x.test/sitemap.xml").
		Return(crawler.FetchResult{Status: 200, Body: []byte(
			`<urlset><url><loc>https://x.test/from-sitemap</loc></url><url><loc>https://elsewhere.test/</loc></url></urlset>`,
		)}, nil)
	h.fetcher.On("Fetch", mock.Anything, "https://x.test/robots-only.txt").
		Return(crawler.FetchResult{Status: 200, Body: []byte("plain")}, nil).Once()

	sum, err := h.dispatcher(t, dispatcher.Config{SeedSitemaps: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Crawled)
	assert.Equal(t, 1, sum.Fetched)
	a := h.reopen(t)
	assert.True(t, a.Has("from-sitemap.html"))
	assert.True(t, a.Has("robots-only.txt"))
	h.fetcher.AssertExpectations(t)
}

func TestRunCancelledWritesCheckpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := h.dispatcher(t, dispatcher.Config{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Crawled)

	var snap frontier.Snapshot
	found, err := h.reopen(t).ReadJSON(archive.StateEntry, &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{root}, snap.Queue)
	assert.Empty(t, snap.Done)
}

func TestRunCancelledDuringSnapshotLeavesPageForResume(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, map[string]crawlertest.Page{
		root: {HTML: "<html><body>home</body></html>", OnHTML: cancel},
	})

	sum, err := h.dispatcher(t, dispatcher.Config{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Crawled)
	assert.Zero(t, sum.Fetched)

	a := h.reopen(t)
	assert.False(t, a.Has("index.html"))
	var snap frontier.Snapshot
	found, err := a.ReadJSON(archive.StateEntry, &snap)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotContains(t, snap.Done, root)
	assert.Contains(t, snap.Errors, root)
	assert.Empty(t, snap.Pending)
}

func TestRunAbortsOnArchiveFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := newHarness(t, nil)
	h.path = filepath.Join(dir, "sub", "x.test.zip")
	d := h.dispatcher(t, dispatcher.Config{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub"), []byte("not a dir"), 0o644))

	_, err := d.Run(context.Background())
	require.ErrorIs(t, err, archive.ErrIO)
	assert.Zero(t, h.browser.Opened())
	assert.True(t, h.browser.IsClosed())
}
