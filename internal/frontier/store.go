// Package frontier tracks which URLs a crawl has discovered, claimed,
// finished, and written. A Store is owned by a single goroutine and is not
// safe for concurrent use.
package frontier

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/sitearchiver/internal/archivepath"
)

var httpURL = regexp.MustCompile(`^https?://`)

// Snapshot is the serialized form of a Store. Every slice is deduplicated
// and sorted.
type Snapshot struct {
	Queue      []string `json:"queue"`
	Links      []string `json:"links"`
	Focused    []string `json:"focused"`
	Done       []string `json:"done"`
	Pending    []string `json:"pending"`
	Errors     []string `json:"errors"`
	Saved      []string `json:"saved"`
	HTTPErrors []string `json:"httpErrors"`
}

// Counts summarizes the size of every set.
type Counts struct {
	Queue      int
	Links      int
	Focused    int
	Done       int
	Pending    int
	Errors     int
	Saved      int
	HTTPErrors int
}

// Store holds the crawl frontier.
type Store struct {
	root      string
	blocklist *Blocklist

	queue      *orderedSet
	links      *orderedSet
	focused    *orderedSet
	done       *orderedSet
	pending    *orderedSet
	errors     *orderedSet
	saved      *orderedSet
	httpErrors *orderedSet

	// Entries before a cursor are permanently ineligible.
	pageCursor int
	linkCursor int
}

// New returns a Store seeded with root.
func New(root string, blocklist *Blocklist) *Store {
	s := &Store{
		root:       root,
		blocklist:  blocklist,
		queue:      newOrderedSet(),
		links:      newOrderedSet(),
		focused:    newOrderedSet(),
		done:       newOrderedSet(),
		pending:    newOrderedSet(),
		errors:     newOrderedSet(),
		saved:      newOrderedSet(),
		httpErrors: newOrderedSet(),
	}
	s.queue.add(root)
	return s
}

// Restore rebuilds a Store from a checkpoint. Errors, pending and HTTP
// error lines from the previous run are discarded so those URLs are retried.
func Restore(root string, blocklist *Blocklist, snap Snapshot) *Store {
	s := New(root, blocklist)
	s.queue.add(snap.Queue...)
	s.links.add(snap.Links...)
	s.focused.add(snap.Focused...)
	s.done.add(snap.Done...)
	s.saved.add(snap.Saved...)
	return s
}

// Root returns the crawl root URL.
func (s *Store) Root() string { return s.root }

// NextPageURL returns the first queued URL that may be crawled in a
// browser: under the root, not yet done, failed, or in flight, and not on
// the blocklist.
func (s *Store) NextPageURL() (string, bool) {
	for ; s.pageCursor < len(s.queue.items); s.pageCursor++ {
		entry := s.queue.items[s.pageCursor]
		if !strings.HasPrefix(entry, s.root) {
			continue
		}
		u := archivepath.StripFragment(entry)
		if s.done.has(u) || s.errors.has(u) {
			continue
		}
		if !s.allowed(u) {
			continue
		}
		if s.pending.has(u) {
			continue
		}
		return u, true
	}
	return "", false
}

// NextLinkURL returns the first discovered http(s) URL that still needs a
// direct fetch. URLs that are also queued are left to the page crawler.
func (s *Store) NextLinkURL() (string, bool) {
	for ; s.linkCursor < len(s.links.items); s.linkCursor++ {
		entry := s.links.items[s.linkCursor]
		if !httpURL.MatchString(entry) {
			continue
		}
		u := archivepath.StripFragment(entry)
		if s.done.has(u) || s.errors.has(u) || s.queue.has(u) {
			continue
		}
		if !s.allowed(u) {
			continue
		}
		if s.pending.has(u) {
			continue
		}
		return u, true
	}
	return "", false
}

// allowed reports whether u parses as an absolute URL whose origin is not
// blocklisted.
func (s *Store) allowed(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	return !s.blocklist.IsBlocked(parsed)
}

// AddQueue appends page candidates and reports how many were new.
func (s *Store) AddQueue(urls ...string) int { return s.queue.add(urls...) }

// AddLinks appends fetch candidates and reports how many were new.
func (s *Store) AddLinks(urls ...string) int { return s.links.add(urls...) }

// ClaimFocus records href as probed. It returns false when href was
// already claimed.
func (s *Store) ClaimFocus(href string) bool { return s.focused.add(href) == 1 }

// RecordPending marks u as in flight. URLs that are already done or failed
// are refused.
func (s *Store) RecordPending(u string) bool {
	if s.done.has(u) || s.errors.has(u) {
		return false
	}
	s.pending.add(u)
	return true
}

// RecordDone marks urls as processed and clears them from pending.
func (s *Store) RecordDone(urls ...string) {
	for _, u := range urls {
		s.pending.remove(u)
		s.done.add(u)
	}
}

// RecordError marks u as failed and clears it from pending.
func (s *Store) RecordError(u string) {
	s.pending.remove(u)
	s.errors.add(u)
}

// RecordSaved marks an archive path as written. It returns false when the
// path was already recorded.
func (s *Store) RecordSaved(path string) bool { return s.saved.add(path) == 1 }

// RecordHTTPError appends a diagnostic line.
func (s *Store) RecordHTTPError(line string) { s.httpErrors.add(line) }

// IsSaved reports whether path has been written.
func (s *Store) IsSaved(path string) bool { return s.saved.has(path) }

// IsDone reports whether u has been processed.
func (s *Store) IsDone(u string) bool { return s.done.has(u) }

// IsError reports whether u failed this run.
func (s *Store) IsError(u string) bool { return s.errors.has(u) }

// HTTPErrors returns the diagnostic lines in the order they were recorded.
func (s *Store) HTTPErrors() []string {
	out := make([]string, len(s.httpErrors.items))
	copy(out, s.httpErrors.items)
	return out
}

// Snapshot returns a sorted copy of every set.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Queue:      s.queue.sorted(),
		Links:      s.links.sorted(),
		Focused:    s.focused.sorted(),
		Done:       s.done.sorted(),
		Pending:    s.pending.sorted(),
		Errors:     s.errors.sorted(),
		Saved:      s.saved.sorted(),
		HTTPErrors: s.httpErrors.sorted(),
	}
}

// Sitemap returns the crawled page URLs under the root, without fragments,
// deduplicated and sorted.
func (s *Store) Sitemap() []string {
	seen := make(map[string]struct{}, s.queue.len())
	out := make([]string, 0, s.queue.len())
	for _, entry := range s.queue.items {
		u := archivepath.StripFragment(entry)
		if !strings.HasPrefix(u, s.root) {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Counts returns the size of every set.
func (s *Store) Counts() Counts {
	return Counts{
		Queue:      s.queue.len(),
		Links:      s.links.len(),
		Focused:    s.focused.len(),
		Done:       s.done.len(),
		Pending:    s.pending.len(),
		Errors:     s.errors.len(),
		Saved:      s.saved.len(),
		HTTPErrors: s.httpErrors.len(),
	}
}
