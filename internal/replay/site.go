package replay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/archivepath"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
	"github.com/JakeFAU/sitearchiver/internal/metrics"
)

const (
	outcomeHit   = "hit"
	outcomeIndex = "index"
	outcomeLive  = "live"
	outcomeMiss  = "miss"
)

// Site serves one archive.
type Site struct {
	domain     string
	archive    *archive.Archive
	fetcher    crawler.Fetcher
	flushDelay time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
	dirty bool
}

// NewSite returns a Site for the archive of domain. A nil fetcher disables
// live fetching of missing entries.
func NewSite(domain string, a *archive.Archive, fetcher crawler.Fetcher, flushDelay time.Duration, logger *zap.Logger) *Site {
	if logger == nil {
		logger = zap.NewNop()
	}
	if flushDelay <= 0 {
		flushDelay = 5 * time.Second
	}
	return &Site{
		domain:     domain,
		archive:    a,
		fetcher:    fetcher,
		flushDelay: flushDelay,
		logger:     logger.With(zap.String("domain", domain)),
	}
}

// Domain returns the host the archive was crawled from.
func (s *Site) Domain() string { return s.domain }

// Handler returns the router serving the archive.
func (s *Site) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.HandleFunc("/*", s.serve)
	return r
}

// candidates lists the archive names tried for a request, in order.
func candidates(p, noQuery string) []string {
	list := []string{
		p,
		p + ".html",
		indexFor(p),
		p + "/index.html",
		noQuery,
		indexFor(noQuery),
		noQuery + "/index.html",
	}
	out := make([]string, 0, len(list))
	for _, c := range list {
		if c = strings.TrimLeft(c, "/"); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// indexFor replaces trailing slashes with "/index.html".
func indexFor(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == p {
		return p
	}
	return trimmed + "/index.html"
}

func (s *Site) serve(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()
	p := archivepath.RequestPath(uri)
	noQuery := archivepath.RequestPathNoQuery(uri)

	for _, name := range candidates(p, noQuery) {
		if data, ok := s.archive.Get(name); ok {
			metrics.ObserveReplay(outcomeHit)
			s.write(w, name, data)
			return
		}
	}

	if p == "" || p == "index.html" {
		metrics.ObserveReplay(outcomeIndex)
		s.index(w)
		return
	}

	if s.fetcher == nil {
		s.notFound(w, p)
		return
	}
	s.live(w, r, p)
}

func (s *Site) live(w http.ResponseWriter, r *http.Request, p string) {
	target := "https://" + s.domain + "/" + p
	body, err := s.fetchLive(r.Context(), target)
	if err != nil {
		s.logger.Info("Live fetch failed", zap.String("url", target), zap.Error(err))
		s.notFound(w, p)
		return
	}
	s.archive.Put(p, body)
	s.scheduleFlush()
	metrics.ObserveReplay(outcomeLive)
	s.logger.Info("Added live entry", zap.String("path", p))
	s.write(w, p, body)
}

func (s *Site) fetchLive(ctx context.Context, target string) ([]byte, error) {
	res, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if res.Status >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %d", crawler.ErrHTTPStatus, res.Status)
	}
	return res.Body, nil
}

func setCacheHeaders(h http.Header) {
	h.Set("Pragma", "public")
	h.Set("Cache-Control", "public, max-age=180")
}

func (s *Site) write(w http.ResponseWriter, name string, data []byte) {
	setCacheHeaders(w.Header())
	w.Header().Set("Content-Type", ContentType(name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Write response failed", zap.Error(err))
	}
}

func (s *Site) index(w http.ResponseWriter) {
	var b strings.Builder
	b.WriteString("<h1>index of " + archivepath.EscapeHTML(s.domain) + "</h1><ul>")
	for _, name := range s.archive.Names() {
		escaped := archivepath.EscapeHTML(name)
		b.WriteString(`<li><a href="/` + escaped + `">` + escaped + "</a></li>")
	}
	b.WriteString("</ul>")

	setCacheHeaders(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(b.String())); err != nil {
		s.logger.Debug("Write response failed", zap.Error(err))
	}
}

func (s *Site) notFound(w http.ResponseWriter, p string) {
	metrics.ObserveReplay(outcomeMiss)
	setCacheHeaders(w.Header())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	if _, err := fmt.Fprintf(w, "404 Not Found: %s/%s", s.domain, p); err != nil {
		s.logger.Debug("Write response failed", zap.Error(err))
	}
}

// scheduleFlush writes the archive once no entry has been added for the
// flush delay.
func (s *Site) scheduleFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.flushDelay, s.flush)
		return
	}
	s.timer.Reset(s.flushDelay)
}

func (s *Site) flush() {
	s.mu.Lock()
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if !dirty {
		return
	}
	if err := s.archive.Flush(); err != nil {
		s.logger.Warn("Failed to flush archive", zap.Error(err))
	}
}

// Close stops the pending flush and writes unsaved entries.
func (s *Site) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	dirty := s.dirty
	s.dirty = false
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.archive.Flush()
}
