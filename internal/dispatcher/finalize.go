package dispatcher

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/archivepath"
)

const sitemapHeader = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
`

// finalize closes the browser, writes the sitemap artifacts and a final
// checkpoint, and logs the run summary.
func (d *Dispatcher) finalize(start time.Time) (Summary, error) {
	d.closeBrowser()

	crawled := d.store.Sitemap()
	d.archive.Put(archive.SitemapText, []byte(sitemapText(d.origin, crawled)))
	d.archive.Put(archive.SitemapXML, []byte(sitemapXML(d.origin, crawled)))
	d.archive.Put(archive.URLList, []byte(strings.Join(d.store.Snapshot().Done, "\n")))

	if err := d.checkpoint(); err != nil {
		return d.summary(start), err
	}

	sum := d.summary(start)
	d.logger.Info("Crawl finished",
		zap.Int("crawled", sum.Crawled),
		zap.Int("fetched", sum.Fetched),
		zap.Int("saved", sum.Counts.Saved),
		zap.Int("done", sum.Counts.Done),
		zap.Int("queued", sum.Counts.Queue),
		zap.Int("links", sum.Counts.Links),
		zap.Int("errors", sum.Counts.Errors),
		zap.Int("http_errors", sum.Counts.HTTPErrors),
		zap.Duration("elapsed", sum.Elapsed),
		zap.String("archive", sum.Archive))
	if len(sum.HTTPErrors) > 0 {
		d.logger.Warn("HTTP errors during crawl", zap.Strings("lines", sum.HTTPErrors))
	}
	return sum, nil
}

func sitemapText(origin string, crawled []string) string {
	return strings.ReplaceAll(strings.Join(crawled, "\n"), origin, "")
}

func sitemapXML(origin string, crawled []string) string {
	var b strings.Builder
	b.WriteString(sitemapHeader)
	for _, u := range crawled {
		b.WriteString("  <url><loc>")
		b.WriteString(strings.Replace(archivepath.EscapeHTML(u), origin, "", 1))
		b.WriteString("</loc></url>\n")
	}
	b.WriteString("</urlset>\n")
	return b.String()
}
