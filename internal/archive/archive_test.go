package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingIsEmpty(t *testing.T) {
	t.Parallel()

	a, err := Open(filepath.Join(t.TempDir(), "example.com.zip"))
	require.NoError(t, err)
	assert.Zero(t, a.Len())
}

func TestFlushAndReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "example.com.zip")
	a, err := Open(path)
	require.NoError(t, err)

	a.Put("index.html", []byte("<html></html>"))
	a.Put("img/logo.png", []byte{0x89, 'P', 'N', 'G'})
	a.Put("app.js?v=1", []byte("console.log(1)"))
	require.NoError(t, a.PutJSON(StateEntry, map[string][]string{"done": {"https://example.com/"}}))
	require.NoError(t, a.Flush())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, a.Names(), reopened.Names())

	data, ok := reopened.Get("index.html")
	require.True(t, ok)
	assert.Equal(t, "<html></html>", string(data))

	var state map[string][]string
	found, err := reopened.ReadJSON(StateEntry, &state)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"https://example.com/"}, state["done"])
}

func TestFlushWritesSortedEntries(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.zip")
	a, err := Open(path)
	require.NoError(t, err)
	a.Put("b.html", []byte("b"))
	a.Put("a.html", []byte("a"))
	a.Put("img/c.png", []byte("c"))
	require.NoError(t, a.Flush())

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, r.Close())
	}()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a.html", "b.html", "img/c.png"}, names)
	assert.Equal(t, zip.Store, r.File[2].Method)
}

func TestFlushFailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "site.zip")
	a, err := Open(path)
	require.NoError(t, err)
	a.Put("index.html", []byte("v1"))
	require.NoError(t, a.Flush())

	// A directory squatting on the temp name makes the next flush fail.
	require.NoError(t, os.Mkdir(path+".tmp", 0o755))
	a.Put("index.html", []byte("v2"))
	err = a.Flush()
	require.ErrorIs(t, err, ErrIO)

	reopened, err := Open(path)
	require.NoError(t, err)
	data, _ := reopened.Get("index.html")
	assert.Equal(t, "v1", string(data))
}

func TestOpenCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o600))
	_, err := Open(path)
	require.ErrorIs(t, err, ErrIO)
}
