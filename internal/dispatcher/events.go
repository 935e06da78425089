package dispatcher

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

// event is anything a worker reports back to the dispatch loop.
type event interface{}

type linksEvent struct {
	queue bool
	urls  []string
}

type capturedEvent struct {
	resp crawler.Response
}

type snapshotEvent struct {
	url  string
	html string
}

type focusEvent struct {
	href  string
	reply chan bool
}

type pageDoneEvent struct {
	url string
	err error
}

type fetchJob struct {
	url string
	// overwrite replaces an existing entry at the same path.
	overwrite bool
	// fallback marks a retry of a page whose navigation failed.
	fallback bool
}

type fetchDoneEvent struct {
	job    fetchJob
	result crawler.FetchResult
	err    error
}

// pageSession is the crawler.PageHooks handed to a page worker. It
// forwards every hook call to the dispatch loop and stops forwarding once
// the page has finished, so nothing about a page arrives after its
// completion event.
type pageSession struct {
	ctx    context.Context
	events chan<- event

	mu     sync.RWMutex
	closed bool
}

var _ crawler.PageHooks = (*pageSession)(nil)

func newPageSession(ctx context.Context, events chan<- event) *pageSession {
	return &pageSession{ctx: ctx, events: events}
}

func (s *pageSession) send(ev event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *pageSession) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *pageSession) AddQueue(urls ...string) {
	if len(urls) == 0 {
		return
	}
	s.send(linksEvent{queue: true, urls: append([]string(nil), urls...)})
}

func (s *pageSession) AddLinks(urls ...string) {
	if len(urls) == 0 {
		return
	}
	s.send(linksEvent{urls: append([]string(nil), urls...)})
}

func (s *pageSession) ClaimFocus(href string) bool {
	reply := make(chan bool, 1)
	if !s.send(focusEvent{href: href, reply: reply}) {
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-s.ctx.Done():
		return false
	}
}

func (s *pageSession) Captured(resp crawler.Response) {
	s.send(capturedEvent{resp: resp})
}

func (s *pageSession) Snapshot(url, html string) {
	s.send(snapshotEvent{url: url, html: html})
}
