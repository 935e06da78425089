package replay_test

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitearchiver/internal/archive"
	"github.com/JakeFAU/sitearchiver/internal/replay"
)

func TestPortIsStableAndInRange(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"/srv/a.test.zip", "/srv/b.test.zip", "/tmp/x.zip", ""} {
		port := replay.Port(p)
		assert.GreaterOrEqual(t, port, 1025, p)
		assert.Less(t, port, 65534, p)
		assert.Equal(t, port, replay.Port(p), p)
	}
	assert.NotEqual(t, replay.Port("/srv/a.test.zip"), replay.Port("/srv/b.test.zip"))
}

func TestServeWithoutArchives(t *testing.T) {
	t.Parallel()

	err := replay.Serve(context.Background(), replay.Config{Dir: t.TempDir()}, nil, nil)
	require.ErrorIs(t, err, replay.ErrNoArchives)
}

func TestServeUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.test.zip")
	a, err := archive.Open(path)
	require.NoError(t, err)
	a.Put("index.html", []byte("home"))
	require.NoError(t, a.Flush())

	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	url := fmt.Sprintf("http://127.0.0.1:%d/", replay.Port(abs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- replay.Serve(ctx, replay.Config{Dir: dir, Host: "127.0.0.1"}, nil, nil)
	}()

	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
