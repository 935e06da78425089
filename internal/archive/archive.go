// Package archive stores crawled entries in a single zip file.
package archive

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Reserved entry names. Nothing crawled can map under ReservedPrefix.
const (
	ReservedPrefix = "_crawl/"
	StateEntry     = ReservedPrefix + "state.json"
	SitemapText    = ReservedPrefix + "sitemap.txt"
	SitemapXML     = ReservedPrefix + "sitemap.xml"
	URLList        = ReservedPrefix + "urls.txt"
)

// ErrIO wraps failures reading or writing the zip file.
var ErrIO = errors.New("archive io")

// Archive is an in-memory path to bytes map persisted as a zip file.
type Archive struct {
	mu      sync.RWMutex
	path    string
	entries map[string][]byte
	now     func() time.Time
}

// Open loads the archive at path. A missing file yields an empty archive.
func Open(path string) (*Archive, error) {
	a := &Archive{
		path:    path,
		entries: make(map[string][]byte),
		now:     time.Now,
	}
	r, err := zip.OpenReader(path)
	if errors.Is(err, fs.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIO, path, err)
	}
	defer func() {
		_ = r.Close()
	}()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrIO, f.Name, err)
		}
		a.entries[f.Name] = data
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	return io.ReadAll(rc)
}

// Path returns the zip file location.
func (a *Archive) Path() string { return a.path }

// Get returns the entry stored at name.
func (a *Archive) Get(name string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.entries[name]
	return data, ok
}

// Has reports whether name exists.
func (a *Archive) Has(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[name]
	return ok
}

// Put stores data at name, replacing any previous entry.
func (a *Archive) Put(name string, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[name] = data
}

// Names returns all entry names in sorted order.
func (a *Archive) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// ReadJSON decodes the entry at name into v. It reports false when the
// entry does not exist.
func (a *Archive) ReadJSON(name string, v any) (bool, error) {
	data, ok := a.Get(name)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// PutJSON stores v as indented JSON at name.
func (a *Archive) PutJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	a.Put(name, data)
	return nil
}

// Flush writes every entry to a temporary file next to the archive and
// renames it into place, so a failed flush leaves the previous file intact.
func (a *Archive) Flush() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if dir := filepath.Dir(a.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create dir: %v", ErrIO, err)
		}
	}

	tmp := a.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrIO, tmp, err)
	}
	if err := a.writeZip(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", ErrIO, tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: sync %s: %v", ErrIO, tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %v", ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrIO, tmp, err)
	}
	return nil
}

func (a *Archive) writeZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	modified := a.now()
	for _, name := range names {
		method := zip.Deflate
		if storedAsIs(name) {
			method = zip.Store
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   method,
			Modified: modified,
		})
		if err != nil {
			return err
		}
		if _, err := fw.Write(a.entries[name]); err != nil {
			return err
		}
	}
	return zw.Close()
}

// storedAsIs reports whether name is an already-compressed format.
func storedAsIs(name string) bool {
	switch strings.ToLower(filepath.Ext(stripQuery(name))) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".woff", ".woff2", ".zip", ".gz", ".br", ".mp4", ".webm", ".mp3":
		return true
	}
	return false
}

func stripQuery(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		return name[:i]
	}
	return name
}
