package dispatcher

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/archivepath"
	"github.com/JakeFAU/sitearchiver/internal/crawler"
	"github.com/JakeFAU/sitearchiver/internal/metrics"
)

type saveKind int

const (
	// saveCapture keeps the first body written to a path.
	saveCapture saveKind = iota
	// saveOverwrite replaces an existing body, as fallback fetches do.
	saveOverwrite
	// saveSnapshot replaces the captured markup of a page with its
	// rendered DOM.
	saveSnapshot
)

var (
	textLikePath = regexp.MustCompile(`\.(js|jsx|mjs|css|html|webmanifest|manifest|map)$`)
	cssURL       = regexp.MustCompile(`url\(([^)]+)\)`)
	sourceMapped = regexp.MustCompile(`\.(jsx|js|css)`)
)

// onCaptured handles a response observed by a browser tab.
func (d *Dispatcher) onCaptured(resp crawler.Response) error {
	if d.store.IsDone(resp.URL) {
		return nil
	}
	if !resp.OK() {
		d.recordHTTPError(resp.HTTPErrorLine(), resp.Status)
	}
	if resp.Body == nil {
		return nil
	}
	return d.onFile(resp.URL, resp.Body, resp.Binary(), saveCapture)
}

// onFile records u as done and writes body to its archive path. Text
// bodies have the crawl origin stripped so the archive replays from any
// host; stylesheets and scripts contribute the links they reference.
func (d *Dispatcher) onFile(u string, body []byte, binary bool, kind saveKind) error {
	d.store.RecordDone(u, archivepath.RemoveHash(u))
	if body == nil {
		return nil
	}

	path := d.pathFor(u)
	if strings.HasPrefix(path, archive.ReservedPrefix) {
		d.logger.Warn("Refusing to overwrite crawl state", zap.String("url", archivepath.ShortURL(u)))
		return nil
	}
	if d.store.IsSaved(path) && kind == saveCapture {
		return nil
	}
	d.store.RecordSaved(path)
	if kind == saveSnapshot && d.cfg.OriginalHTML {
		return nil
	}

	data := body
	if !d.cfg.OriginalURLs && (!binary || textLikePath.MatchString(pathNoQuery(path))) {
		data = bytes.ReplaceAll(body, []byte(d.origin), nil)
	}

	if strings.Contains(path, ".css") {
		d.store.AddLinks(d.stylesheetRefs(data)...)
	}
	if m := d.sourceMap(u, path); m != "" {
		d.store.AddLinks(m)
	}

	d.archive.Put(path, data)
	d.saves++
	metrics.ObserveSave(len(data))
	d.logger.Debug("Saved file", zap.String("path", path), zap.Int("bytes", len(data)))

	if d.saves%d.cfg.CheckpointEvery == 0 {
		return d.checkpoint()
	}
	return nil
}

// stylesheetRefs returns the absolute targets of every url() in css,
// skipping data URIs.
func (d *Dispatcher) stylesheetRefs(css []byte) []string {
	base, err := url.Parse(d.origin)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range cssURL.FindAllSubmatch(css, -1) {
		src := strings.Trim(strings.TrimSpace(string(m[1])), `"'`)
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}
		if strings.HasPrefix(src, "http:") {
			out = append(out, src)
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		out = append(out, base.ResolveReference(ref).String())
	}
	return out
}

// sourceMap guesses the source map sibling of a same-origin script or
// stylesheet.
func (d *Dispatcher) sourceMap(u, path string) string {
	if !strings.HasPrefix(u, d.origin) || !sourceMapped.MatchString(path) {
		return ""
	}
	if strings.Contains(path, ".map") || strings.Contains(path, ".json") {
		return ""
	}
	rest := u[len(d.origin):]
	loc := sourceMapped.FindStringSubmatchIndex(rest)
	if loc == nil {
		return ""
	}
	return d.origin + rest[:loc[1]] + ".map" + rest[loc[1]:]
}

// checkpoint writes the frontier into the archive and flushes it to disk.
func (d *Dispatcher) checkpoint() error {
	if err := d.archive.PutJSON(archive.StateEntry, d.store.Snapshot()); err != nil {
		return fmt.Errorf("%w: encode state: %v", archive.ErrIO, err)
	}
	if err := d.archive.Flush(); err != nil {
		return err
	}
	metrics.ObserveCheckpoint()
	d.logger.Debug("Checkpoint written", zap.Int("entries", d.archive.Len()))
	return nil
}

func (d *Dispatcher) pathFor(u string) string {
	return archivepath.CanonicalPath(u, d.origin)
}

func pathNoQuery(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}
