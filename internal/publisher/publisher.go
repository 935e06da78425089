// Package publisher announces finished crawls to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// Publisher sends a JSON-encodable payload to a topic. An empty topic
// selects the implementation's default.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// CrawlCompleted is published after an archive has been written and
// exported.
type CrawlCompleted struct {
	RunID      string    `json:"run_id"`
	Root       string    `json:"root"`
	ArchiveURI string    `json:"archive_uri"`
	Crawled    int       `json:"crawled"`
	Fetched    int       `json:"fetched"`
	Saved      int       `json:"saved"`
	Errors     int       `json:"errors"`
	HTTPErrors int       `json:"http_errors"`
	Elapsed    float64   `json:"elapsed_seconds"`
	FinishedAt time.Time `json:"finished_at"`
}
