package frontier

import (
	"net/url"
	"strings"
)

// DefaultBlocklist lists analytics and ad origins that are never archived.
var DefaultBlocklist = []string{
	"https://www.google-analytics.com",
	"https://ssl.google-analytics.com",
	"https://www.googletagmanager.com",
	"https://stats.g.doubleclick.net",
	"https://googleads.g.doubleclick.net",
	"https://connect.facebook.net",
	"https://static.cloudflareinsights.com",
}

// Blocklist matches URLs by origin or host pattern. Entries containing a
// scheme match whole origins; bare entries match hosts, with "*.x" or ".x"
// matching x and every subdomain.
type Blocklist struct {
	origins  map[string]struct{}
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist builds a Blocklist. It returns nil when patterns is empty.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{
		origins: make(map[string]struct{}),
		exact:   make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimRight(strings.TrimSpace(strings.ToLower(raw)), "/")
		if value == "" {
			continue
		}
		switch {
		case strings.Contains(value, "://"):
			b.origins[value] = struct{}{}
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.origins) == 0 && len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether u is covered by the list. A nil Blocklist
// blocks nothing.
func (b *Blocklist) IsBlocked(u *url.URL) bool {
	if b == nil || u == nil {
		return false
	}
	origin := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
	if _, ok := b.origins[origin]; ok {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
