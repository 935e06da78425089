package crawler

import "context"

// Browser opens tabs on a shared browser session.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is a single browser tab. Event callbacks must be registered before
// Navigate and may be invoked from any goroutine until Close returns.
type Tab interface {
	OnRequest(fn func(url string))
	OnResponse(fn func(Response))
	// Navigate loads url and waits for the load event followed by a quiet
	// network period.
	Navigate(ctx context.Context, url string) error
	BringToFront(ctx context.Context) error
	FocusBody(ctx context.Context) error
	// Hover moves the pointer over and focuses the first anchor whose
	// fragment-less href equals href.
	Hover(ctx context.Context, href string) error
	Links(ctx context.Context) (PageLinks, error)
	// Targets lists the URLs of every target the browser knows about,
	// including workers and service workers.
	Targets(ctx context.Context) ([]string, error)
	// HTML returns the serialized document element.
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// Fetcher retrieves a URL directly over HTTP.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// PageHooks receives everything a page crawl discovers. Implementations
// must be safe for concurrent use.
type PageHooks interface {
	AddQueue(urls ...string)
	AddLinks(urls ...string)
	// ClaimFocus reports whether href has not been hover-probed yet and
	// marks it as probed.
	ClaimFocus(href string) bool
	Captured(resp Response)
	Snapshot(url, html string)
}
