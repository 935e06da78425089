package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks parses an HTML document fetched from base and returns the
// same link candidates a rendered page would yield. Values that cannot be
// resolved against base are dropped.
func ExtractLinks(base string, body []byte) (PageLinks, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return PageLinks{}, fmt.Errorf("%w: %s", ErrMalformedURL, base)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse html: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := baseURL.Parse(strings.TrimSpace(href)); err == nil {
			baseURL = resolved
		}
	}

	resolve := func(raw string) (string, bool) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "javascript:") {
			return "", false
		}
		ref, err := baseURL.Parse(raw)
		if err != nil {
			return "", false
		}
		return ref.String(), true
	}

	var links PageLinks
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if u, ok := resolve(s.AttrOr("href", "")); ok {
			links.Anchors = append(links.Anchors, u)
		}
	})
	doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
		if u, ok := resolve(s.AttrOr("href", "")); ok {
			links.Resources = append(links.Resources, u)
		}
	})
	doc.Find("[src]").Each(func(_ int, s *goquery.Selection) {
		if u, ok := resolve(s.AttrOr("src", "")); ok {
			links.Resources = append(links.Resources, u)
		}
	})
	doc.Find("[srcset]").Each(func(_ int, s *goquery.Selection) {
		for _, candidate := range strings.Split(s.AttrOr("srcset", ""), ",") {
			fields := strings.Fields(candidate)
			if len(fields) == 0 {
				continue
			}
			if u, ok := resolve(fields[0]); ok {
				links.Resources = append(links.Resources, u)
			}
		}
	})
	doc.Find("iframe[src], frame[src]").Each(func(_ int, s *goquery.Selection) {
		if u, ok := resolve(s.AttrOr("src", "")); ok {
			links.Frames = append(links.Frames, u)
		}
	})
	return links, nil
}

// LooksLikeHTML reports whether a fetched body should be parsed for links.
func LooksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
