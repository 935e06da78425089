// Package archivepath maps crawled URLs onto archive entry paths.
package archivepath

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	trailingSlashes = regexp.MustCompile(`/+$`)
	extensionless   = regexp.MustCompile(`/[^/.]+$`)
	fragment        = regexp.MustCompile(`#.*`)
	leadingSlashes  = regexp.MustCompile(`^/+`)
	schemePrefix    = regexp.MustCompile(`^https?:/+`)
)

// UnnamedDir holds entries for URLs that have no http(s) location.
const UnnamedDir = "unnamed/"

// CanonicalPath returns the archive path for rawURL. URLs on origin map to
// root-relative paths, foreign URLs are prefixed with their host, and
// anything that is not http(s) lands under UnnamedDir keyed by its digest.
// The result is a pure function of (rawURL, origin).
func CanonicalPath(rawURL, origin string) string {
	if !IsHTTP(rawURL) {
		return unnamed(rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return unnamed(rawURL)
	}

	p := decode(u.EscapedPath())
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}

	p = trailingSlashes.ReplaceAllString(p, "/index.html")
	if extensionless.MatchString(p) {
		p += ".html"
	}
	p = strings.TrimPrefix(p, "/")

	if urlOrigin := Origin(u); urlOrigin != origin {
		p = schemePrefix.ReplaceAllString(urlOrigin, "") + "/" + p
	}
	return p
}

// Origin returns scheme://host[:port] for u.
func Origin(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// OriginOf parses rawURL and returns its origin.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return Origin(u), nil
}

// NormalizeRoot returns the serialized form of a crawl root: lowercase
// scheme and host, and "/" for an empty path.
func NormalizeRoot(rawURL string) (string, error) {
	if !IsHTTP(rawURL) {
		return "", fmt.Errorf("not an http(s) url: %q", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host: %q", rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// IsHTTP reports whether s uses the http or https scheme.
func IsHTTP(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// RemoveHash strips the fragment from http(s) URLs. Other URLs are returned
// untouched since data: URIs may legitimately contain '#'.
func RemoveHash(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if !IsHTTP(u.String()) {
		return rawURL
	}
	return StripFragment(rawURL)
}

// StripFragment removes everything from the first '#'.
func StripFragment(s string) string {
	return fragment.ReplaceAllString(s, "")
}

// ShortURL shortens s for log output.
func ShortURL(s string) string {
	if strings.HasPrefix(s, "http") {
		return StripFragment(s)
	}
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "…"
	}
	return s
}

// RequestPath converts a request URI into the archive path it addresses,
// keeping the query string.
func RequestPath(requestURI string) string {
	u, err := url.Parse("http://localhost" + requestURI)
	if err != nil {
		return leadingSlashes.ReplaceAllString(requestURI, "")
	}
	p := leadingSlashes.ReplaceAllString(decode(u.EscapedPath()), "")
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// RequestPathNoQuery is RequestPath without the query string.
func RequestPathNoQuery(requestURI string) string {
	u, err := url.Parse("http://localhost" + requestURI)
	if err != nil {
		return leadingSlashes.ReplaceAllString(requestURI, "")
	}
	return leadingSlashes.ReplaceAllString(decode(u.EscapedPath()), "")
}

func decode(p string) string {
	d, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return d
}

func unnamed(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return UnnamedDir + hex.EncodeToString(sum[:8])
}
