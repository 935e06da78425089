package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

const (
	seedURLList    = "/urls.txt"
	seedSitemapTxt = "/sitemap.txt"
	seedSitemapXML = "/sitemap.xml"
)

// seed fetches the site's published URL lists and adds what they name to
// the frontier. Missing or unreadable lists are ignored.
func (d *Dispatcher) seed(ctx context.Context) {
	names := []string{seedURLList, seedSitemapTxt, seedSitemapXML}
	bodies := make([][]byte, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			res, err := d.fetcher.Fetch(gctx, d.origin+name)
			if err != nil {
				d.logger.Debug("Seed list unavailable", zap.String("list", name), zap.Error(err))
				return nil
			}
			if !crawler.StatusOK(res.Status) || len(res.Body) == 0 {
				return nil
			}
			bodies[i] = res.Body
			return nil
		})
	}
	_ = g.Wait()

	links := d.store.AddLinks(parseURLList(d.origin, bodies[0])...)
	queued := d.store.AddQueue(parseSitemapText(d.cfg.Root, bodies[1])...)
	queued += d.store.AddQueue(parseSitemapXML(d.cfg.Root, bodies[2])...)
	if links+queued > 0 {
		d.logger.Info("Seeded frontier from site lists", zap.Int("queued", queued), zap.Int("links", links))
	}
}

// parseURLList reads one origin-relative path per line.
func parseURLList(origin string, body []byte) []string {
	var out []string
	for _, line := range lines(body) {
		out = append(out, origin+line)
	}
	return out
}

// parseSitemapText reads one absolute URL per line, keeping those under
// root.
func parseSitemapText(root string, body []byte) []string {
	var out []string
	for _, line := range lines(body) {
		if strings.HasPrefix(line, root) {
			out = append(out, line)
		}
	}
	return out
}

// parseSitemapXML collects <loc> entries and alternate hrefs under root.
func parseSitemapXML(root string, body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("loc").Each(func(_ int, s *goquery.Selection) {
		if u := strings.TrimSpace(s.Text()); strings.HasPrefix(u, root) {
			out = append(out, u)
		}
	})
	doc.Find("[href]").Each(func(_ int, s *goquery.Selection) {
		if u := strings.TrimSpace(s.AttrOr("href", "")); strings.HasPrefix(u, root) {
			out = append(out, u)
		}
	})
	return out
}

func lines(body []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}
