package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitearchiver/internal/crawler"
)

func TestChromedpTab(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!doctype html><html><head><link rel="stylesheet" href="/site.css"></head>
<body><a href="/about#team">About</a><script>document.body.insertAdjacentHTML('beforeend', '<div id="late">late content</div>')</script></body></html>`)
	})
	mux.HandleFunc("/site.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		fmt.Fprint(w, `body { background: url(/bg.png) }`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b, err := New(Config{Headless: true, NetworkIdle: 200 * time.Millisecond}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer func() {
		require.NoError(t, b.Close())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tb, err := b.NewTab(ctx)
	if err != nil {
		t.Skipf("open tab failed: %v", err)
	}

	var mu sync.Mutex
	var requests []string
	var responses []crawler.Response
	tb.OnRequest(func(u string) {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, u)
	})
	tb.OnResponse(func(r crawler.Response) {
		mu.Lock()
		defer mu.Unlock()
		responses = append(responses, r)
	})

	require.NoError(t, tb.Navigate(ctx, srv.URL+"/"))

	links, err := tb.Links(ctx)
	require.NoError(t, err)
	assert.Contains(t, links.Anchors, srv.URL+"/about#team")
	assert.Contains(t, links.Resources, srv.URL+"/site.css")
	assert.Contains(t, links.Frames, srv.URL+"/")

	html, err := tb.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "late content")

	require.NoError(t, tb.Hover(ctx, srv.URL+"/about"))
	require.NoError(t, tb.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, requests, srv.URL+"/site.css")
	var css *crawler.Response
	for i := range responses {
		if strings.HasSuffix(responses[i].URL, "/site.css") {
			css = &responses[i]
		}
	}
	require.NotNil(t, css, "stylesheet response should be captured")
	assert.False(t, css.Binary())
	assert.Contains(t, string(css.Body), "bg.png")
}

func TestEventQueueRunsInOrderAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	go q.run()

	var got []int
	for i := 0; i < 100; i++ {
		q.push(func() { got = append(got, i) })
	}
	q.close()
	q.push(func() { got = append(got, -1) })

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestHeaderValue(t *testing.T) {
	t.Parallel()

	headers := network.Headers{"Location": "/next", "X-Count": 3}
	assert.Equal(t, "/next", headerValue(headers, "location"))
	assert.Equal(t, "3", headerValue(headers, "x-count"))
	assert.Equal(t, "", headerValue(headers, "missing"))
}

func TestFrameURLs(t *testing.T) {
	t.Parallel()

	tree := &page.FrameTree{
		Frame: &cdp.Frame{URL: "https://example.com/"},
		ChildFrames: []*page.FrameTree{
			{Frame: &cdp.Frame{URL: "https://example.com/embed"}},
			{Frame: &cdp.Frame{URL: ""}},
		},
	}
	assert.Equal(t, []string{"https://example.com/", "https://example.com/embed"}, frameURLs(tree, nil))
	assert.Nil(t, frameURLs(nil, nil))
}
