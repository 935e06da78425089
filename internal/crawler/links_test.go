package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	body := []byte(`<!DOCTYPE html>
<html><head>
<link rel="stylesheet" href="/css/site.css">
<script src="app.js"></script>
</head><body>
<a href="/about">About</a>
<a href="https://other.org/x">Out</a>
<a href="javascript:void(0)">noop</a>
<img src="img/a.png" srcset="img/a@2x.png 2x, img/a@3x.png 3x">
<iframe src="/embed"></iframe>
</body></html>`)

	links, err := ExtractLinks("https://example.com/blog/", body)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/about", "https://other.org/x"}, links.Anchors)
	assert.Contains(t, links.Resources, "https://example.com/css/site.css")
	assert.Contains(t, links.Resources, "https://example.com/blog/app.js")
	assert.Contains(t, links.Resources, "https://example.com/blog/img/a.png")
	assert.Contains(t, links.Resources, "https://example.com/blog/img/a@3x.png")
	assert.Equal(t, []string{"https://example.com/embed"}, links.Frames)
}

func TestExtractLinksHonorsBase(t *testing.T) {
	t.Parallel()

	body := []byte(`<html><head><base href="https://cdn.example.com/v2/"></head><body><a href="page">p</a></body></html>`)
	links, err := ExtractLinks("https://example.com/", body)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/v2/page"}, links.Anchors)
}

func TestLooksLikeHTML(t *testing.T) {
	t.Parallel()

	assert.True(t, LooksLikeHTML("text/html; charset=utf-8", nil))
	assert.True(t, LooksLikeHTML("", []byte("  <!DOCTYPE html><html>")))
	assert.False(t, LooksLikeHTML("application/javascript", []byte("var a")))
}
