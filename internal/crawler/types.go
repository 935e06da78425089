package crawler

import (
	"strconv"
	"strings"
)

// Resource types reported by the browser for a response.
const (
	ResourceDocument   = "Document"
	ResourceStylesheet = "Stylesheet"
	ResourceScript     = "Script"
	ResourceManifest   = "Manifest"
	ResourceImage      = "Image"
	ResourceFont       = "Font"
	ResourceFetch      = "Fetch"
	ResourceXHR        = "XHR"
	ResourceOther      = "Other"
)

// IsBinaryResource classifies a resource type. Documents, stylesheets,
// scripts and manifests are text; everything else is binary.
func IsBinaryResource(resourceType string) bool {
	switch strings.ToLower(resourceType) {
	case "document", "stylesheet", "script", "manifest":
		return false
	default:
		return true
	}
}

// Response is a network response observed on a browser tab.
type Response struct {
	URL          string
	Status       int
	Location     string
	ResourceType string
	// Body is nil for redirects and for responses whose body could not be
	// retrieved.
	Body []byte
}

// Binary reports whether the response should be stored without rewriting.
func (r Response) Binary() bool { return IsBinaryResource(r.ResourceType) }

// OK reports whether Status is one of the statuses archived without a
// diagnostic line.
func (r Response) OK() bool { return StatusOK(r.Status) }

// HTTPErrorLine formats the diagnostic line recorded for non-OK statuses.
func (r Response) HTTPErrorLine() string { return HTTPErrorLine(r.Status, r.URL, r.Location) }

// StatusOK reports whether status is 200, 204, 206 or 304.
func StatusOK(status int) bool {
	switch status {
	case 200, 204, 206, 304:
		return true
	default:
		return false
	}
}

// HTTPErrorLine returns "<status> <url>[ -> <location>]".
func HTTPErrorLine(status int, url, location string) string {
	line := strconv.Itoa(status) + " " + url
	if location != "" {
		line += " -> " + location
	}
	return line
}

// FetchResult is the outcome of a direct fetch.
type FetchResult struct {
	URL         string
	FinalURL    string
	Status      int
	ContentType string
	Body        []byte
}

// PageLinks holds the link candidates extracted from a rendered page.
type PageLinks struct {
	// Anchors are a[href] values; they become page candidates.
	Anchors []string
	// Resources are [href] and [src] values plus performance timeline
	// entries; they become fetch candidates.
	Resources []string
	// Frames are the URLs of every frame in the tab.
	Frames []string
}
