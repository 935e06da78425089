package archivepath

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "https://example.com"

func TestCanonicalPath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"root", "https://example.com", "index.html"},
		{"root slash", "https://example.com/", "index.html"},
		{"directory", "https://example.com/blog/", "blog/index.html"},
		{"repeated slashes", "https://example.com/blog///", "blog/index.html"},
		{"extensionless", "https://example.com/about", "about.html"},
		{"with extension", "https://example.com/css/site.css", "css/site.css"},
		{"fragment dropped", "https://example.com/about#team", "about.html"},
		{"query kept", "https://example.com/img.png?v=2", "img.png?v=2"},
		{"decoded", "https://example.com/a%20b.txt", "a b.txt"},
		{"foreign origin", "https://cdn.example.net/lib.js", "cdn.example.net/lib.js"},
		{"foreign port", "http://localhost:8080/x/", "localhost:8080/x/index.html"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, CanonicalPath(tc.in, origin))
		})
	}
}

func TestCanonicalPathIsStable(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://example.com/a/b/",
		"data:image/svg+xml;utf8,<svg>#a</svg>",
		"blob:https://example.com/123",
		"not a url",
	}
	for _, in := range inputs {
		first := CanonicalPath(in, origin)
		require.Equal(t, first, CanonicalPath(in, origin), in)
	}
	assert.True(t, strings.HasPrefix(CanonicalPath("data:text/plain,hi", origin), UnnamedDir))
	assert.NotEqual(t, CanonicalPath("data:a", origin), CanonicalPath("data:b", origin))
}

func TestRemoveHash(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com/a", RemoveHash("https://example.com/a#x"))
	assert.Equal(t, "https://example.com/a", RemoveHash("https://example.com/a"))

	svg := "data:image/svg+xml;utf8,<svg><use href='#i'/></svg>"
	assert.Equal(t, svg, RemoveHash(svg))
}

func TestNormalizeRoot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://x.test", "https://x.test/"},
		{"https://X.test/", "https://x.test/"},
		{"HTTPS://Example.COM:8080/Docs/", "https://example.com:8080/Docs/"},
		{"http://x.test?q=1", "http://x.test/?q=1"},
		{"https://x.test/a/b", "https://x.test/a/b"},
	}
	for _, tt := range tests {
		got, err := NormalizeRoot(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"ftp://x.test/", "x.test", "https://", "https://x.test/%zz"} {
		_, err := NormalizeRoot(bad)
		assert.Error(t, err, bad)
	}
}

func TestShortURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://example.com/a", ShortURL("https://example.com/a#b"))
	long := "data:" + strings.Repeat("x", 100)
	short := ShortURL(long)
	assert.True(t, strings.HasSuffix(short, "…"))
	assert.Equal(t, 81, len([]rune(short)))
}

func TestRequestPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b/c.html?x=1", RequestPath("/a%20b/c.html?x=1"))
	assert.Equal(t, "a b/c.html", RequestPathNoQuery("/a%20b/c.html?x=1"))
	assert.Equal(t, "", RequestPath("/"))
	assert.Equal(t, "", RequestPath("/?"))
}

func TestEscapeHTML(t *testing.T) {
	t.Parallel()

	in := `/search?q=a&b="c"<d>'e'`
	escaped := EscapeHTML(in)
	assert.Equal(t, "/search?q=a&amp;b=&quot;c&quot;&lt;d&gt;&#39;e&#39;", escaped)
	assert.Equal(t, "&amp;amp;", EscapeHTML("&amp;"))
}

func FuzzCanonicalPath(f *testing.F) {
	for _, seed := range []string{"https://example.com/", "data:x", "http://a/b?c#d"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if CanonicalPath(in, origin) != CanonicalPath(in, origin) {
			t.Errorf("CanonicalPath(%q) is not deterministic", in)
		}
	})
}
