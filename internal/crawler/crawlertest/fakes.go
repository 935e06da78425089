// Package crawlertest provides scripted crawler collaborators for tests.
package crawlertest

import (
	"context"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

// Page scripts what a fake tab does when it navigates to a URL.
type Page struct {
	NavErr    error
	Requests  []string
	Responses []crawler.Response
	Links     crawler.PageLinks
	Targets   []string
	HTML      string
	FinalURL  string
	// HTMLErr is returned when the document is serialized.
	HTMLErr   error
	// OnHTML runs just before the document is serialized.
	OnHTML    func()
}

// Browser is a crawler.Browser whose tabs replay scripted pages.
type Browser struct {
	mu      sync.Mutex
	pages   map[string]Page
	opened  int
	closed  int
	hovered []string
	shut    bool
	// NewTabErr, when set, is returned by NewTab.
	NewTabErr error
}

// NewBrowser returns a Browser serving pages keyed by URL.
func NewBrowser(pages map[string]Page) *Browser {
	if pages == nil {
		pages = make(map[string]Page)
	}
	return &Browser{pages: pages}
}

// SetPage scripts url.
func (b *Browser) SetPage(url string, page Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = page
}

// NewTab implements crawler.Browser.
func (b *Browser) NewTab(context.Context) (crawler.Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewTabErr != nil {
		return nil, b.NewTabErr
	}
	b.opened++
	return &Tab{browser: b}, nil
}

// Close implements crawler.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shut = true
	return nil
}

// Opened returns how many tabs were opened.
func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// OpenTabs returns how many tabs are still open.
func (b *Browser) OpenTabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened - b.closed
}

// Hovered returns every href passed to Tab.Hover.
func (b *Browser) Hovered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.hovered...)
}

// IsClosed reports whether Close was called.
func (b *Browser) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shut
}

func (b *Browser) page(url string) (Page, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[url]
	return p, ok
}

// Tab is the fake tab handed out by Browser.
type Tab struct {
	browser    *Browser
	onRequest  func(string)
	onResponse func(crawler.Response)
	current    Page
	url        string
}

// OnRequest implements crawler.Tab.
func (t *Tab) OnRequest(fn func(string)) { t.onRequest = fn }

// OnResponse implements crawler.Tab.
func (t *Tab) OnResponse(fn func(crawler.Response)) { t.onResponse = fn }

// Navigate replays the scripted requests and responses for url.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	page, ok := t.browser.page(url)
	if !ok {
		page = Page{HTML: "<html><body>" + url + "</body></html>"}
	}
	t.current = page
	t.url = url
	if page.FinalURL != "" {
		t.url = page.FinalURL
	}
	for _, r := range page.Requests {
		if t.onRequest != nil {
			t.onRequest(r)
		}
	}
	for _, resp := range page.Responses {
		if t.onRequest != nil {
			t.onRequest(resp.URL)
		}
		if t.onResponse != nil {
			t.onResponse(resp)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return page.NavErr
}

// BringToFront implements crawler.Tab.
func (t *Tab) BringToFront(context.Context) error { return nil }

// FocusBody implements crawler.Tab.
func (t *Tab) FocusBody(context.Context) error { return nil }

// Hover records href on the browser.
func (t *Tab) Hover(_ context.Context, href string) error {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	t.browser.hovered = append(t.browser.hovered, href)
	return nil
}

// Links implements crawler.Tab.
func (t *Tab) Links(context.Context) (crawler.PageLinks, error) { return t.current.Links, nil }

// Targets implements crawler.Tab.
func (t *Tab) Targets(context.Context) ([]string, error) { return t.current.Targets, nil }

// HTML returns the scripted markup without the doctype.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	if t.current.OnHTML != nil {
		t.current.OnHTML()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.current.HTMLErr != nil {
		return "", t.current.HTMLErr
	}
	return strings.TrimPrefix(t.current.HTML, "<!DOCTYPE html>\n"), nil
}

// URL implements crawler.Tab.
func (t *Tab) URL(context.Context) (string, error) { return t.url, nil }

// Close implements crawler.Tab.
func (t *Tab) Close() error {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	t.browser.closed++
	return nil
}

// Fetcher is a testify mock of crawler.Fetcher.
type Fetcher struct {
	mock.Mock
}

// Fetch implements crawler.Fetcher.
func (m *Fetcher) Fetch(ctx context.Context, url string) (crawler.FetchResult, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(crawler.FetchResult), args.Error(1)
}
