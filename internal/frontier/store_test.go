package frontier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "https://example.com/"

func TestNewSeedsRoot(t *testing.T) {
	t.Parallel()

	s := New(root, nil)
	u, ok := s.NextPageURL()
	require.True(t, ok)
	assert.Equal(t, root, u)
}

func TestNextPageURLEligibility(t *testing.T) {
	t.Parallel()

	s := New(root, NewBlocklist([]string{"https://example.com:8443"}))
	s.RecordPending(root)
	s.AddQueue(
		"https://other.org/x",          // off root
		"https://example.com/a#frag",   // stripped to /a
		"https://example.com/b",
	)

	u, ok := s.NextPageURL()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", u)

	s.RecordPending(u)
	u, ok = s.NextPageURL()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/b", u)

	s.RecordError(u)
	_, ok = s.NextPageURL()
	assert.False(t, ok)
}

func TestNextPageURLSkipsBlockedOrigins(t *testing.T) {
	t.Parallel()

	s := New("https://example.com", NewBlocklist([]string{"https://example.com.evil.net"}))
	s.RecordDone("https://example.com")
	s.AddQueue("https://example.com.evil.net/page")

	_, ok := s.NextPageURL()
	assert.False(t, ok)
}

func TestNextLinkURLEligibility(t *testing.T) {
	t.Parallel()

	s := New(root, NewBlocklist(DefaultBlocklist))
	s.AddLinks(
		"data:image/png;base64,AAAA",
		"https://www.google-analytics.com/analytics.js",
		root,
		"https://cdn.example.net/lib.js#x",
		"https://cdn.example.net/lib.css",
	)

	u, ok := s.NextLinkURL()
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.net/lib.js", u)

	s.RecordPending(u)
	u, ok = s.NextLinkURL()
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.net/lib.css", u)

	s.RecordDone(u)
	_, ok = s.NextLinkURL()
	assert.False(t, ok)
}

func TestPendingStaysDisjoint(t *testing.T) {
	t.Parallel()

	s := New(root, nil)
	require.True(t, s.RecordPending(root))
	s.RecordDone(root)
	assert.False(t, s.pending.has(root))
	assert.False(t, s.RecordPending(root))

	const page = "https://example.com/p"
	require.True(t, s.RecordPending(page))
	s.RecordError(page)
	assert.False(t, s.pending.has(page))
	assert.False(t, s.RecordPending(page))
	assert.Zero(t, s.Counts().Pending)
}

func TestClaimFocusAndSaved(t *testing.T) {
	t.Parallel()

	s := New(root, nil)
	assert.True(t, s.ClaimFocus("https://example.com/menu"))
	assert.False(t, s.ClaimFocus("https://example.com/menu"))

	assert.True(t, s.RecordSaved("index.html"))
	assert.False(t, s.RecordSaved("index.html"))
	assert.True(t, s.IsSaved("index.html"))
}

func TestSnapshotIsSortedAndDeduplicated(t *testing.T) {
	t.Parallel()

	s := New(root, nil)
	s.AddQueue("https://example.com/z", "https://example.com/a", "https://example.com/z")
	s.AddLinks("https://b.org", "https://a.org", "https://a.org")
	s.RecordHTTPError("404 https://example.com/missing")

	snap := s.Snapshot()
	assert.Equal(t, []string{"https://example.com/", "https://example.com/a", "https://example.com/z"}, snap.Queue)
	assert.Equal(t, []string{"https://a.org", "https://b.org"}, snap.Links)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, key := range []string{"queue", "links", "focused", "done", "pending", "errors", "saved", "httpErrors"} {
		assert.Contains(t, fields, key)
	}
}

func TestRestoreResetsRunState(t *testing.T) {
	t.Parallel()

	s := New(root, nil)
	s.AddQueue("https://example.com/a", "https://example.com/b")
	s.RecordPending(root)
	s.RecordDone(root)
	s.RecordPending("https://example.com/a")
	s.RecordPending("https://example.com/b")
	s.RecordError("https://example.com/b")
	s.RecordSaved("index.html")
	s.RecordHTTPError("500 https://example.com/b")

	restored := Restore(root, nil, s.Snapshot())
	counts := restored.Counts()
	assert.Zero(t, counts.Pending)
	assert.Zero(t, counts.Errors)
	assert.Zero(t, counts.HTTPErrors)
	assert.True(t, restored.IsSaved("index.html"))
	assert.True(t, restored.IsDone(root))

	u, ok := restored.NextPageURL()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", u)
}

func TestSitemap(t *testing.T) {
	t.Parallel()

	s := New(root, nil)
	s.AddQueue("https://example.com/b#top", "https://example.com/a", "https://other.org/", "https://example.com/b")

	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
	}, s.Sitemap())
}
