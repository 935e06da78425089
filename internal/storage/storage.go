// Package storage defines where finished crawl archives are exported.
// Implementations live in the local, gcs and memory subpackages.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// ArchiveContentType is the content type of exported archives.
const ArchiveContentType = "application/zip"

// BlobStore writes an object and returns a URI addressing it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ObjectPath returns the object name for the archive of host under prefix.
func ObjectPath(prefix, host string) string {
	prefix = strings.Trim(prefix, "/")
	name := host + ".zip"
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
