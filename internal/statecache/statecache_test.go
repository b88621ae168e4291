package statecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	root := t.TempDir()
	cache, err := Open(filepath.Join(root, ".deploy_temp", "state.db"), root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache, root
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	return abs
}

func TestHashFileChangesWithContent(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "a.txt", "one")

	h1, err := HashFile(abs)
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	h2, err := HashFile(abs)
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hash must be stable")

	require.NoError(t, os.WriteFile(abs, []byte("two"), 0o644))
	h3, err := HashFile(abs)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestShouldDeployLifecycle(t *testing.T) {
	cache, root := openTestCache(t)
	abs := writeFile(t, root, "src/app.go", "package main")

	should, err := cache.ShouldDeploy("staging", abs)
	require.NoError(t, err)
	assert.True(t, should, "unknown file deploys")

	require.NoError(t, cache.RecordDeployed("staging", abs))

	should, err = cache.ShouldDeploy("staging", abs)
	require.NoError(t, err)
	assert.False(t, should, "unchanged file skips")

	// a different target has its own state
	should, err = cache.ShouldDeploy("mirror", abs)
	require.NoError(t, err)
	assert.True(t, should)

	require.NoError(t, os.WriteFile(abs, []byte("package main // v2"), 0o644))
	should, err = cache.ShouldDeploy("staging", abs)
	require.NoError(t, err)
	assert.True(t, should, "changed file deploys again")
}

func TestLookupAndRecordFields(t *testing.T) {
	cache, root := openTestCache(t)
	abs := writeFile(t, root, "web/index.html", "<html>")

	rec, err := cache.Lookup("staging", "web/index.html")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, cache.RecordDeployed("staging", abs))
	rec, err = cache.Lookup("staging", "web/index.html")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "staging", rec.Target)
	assert.Equal(t, int64(len("<html>")), rec.Size)
	assert.False(t, rec.LastDeploy.IsZero())
	assert.True(t, rec.LastPull.IsZero())

	require.NoError(t, cache.RecordPulled("staging", abs))
	rec, err = cache.Lookup("staging", "web/index.html")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.LastPull.IsZero())
}

func TestForget(t *testing.T) {
	cache, root := openTestCache(t)
	abs := writeFile(t, root, "gone.txt", "x")

	require.NoError(t, cache.RecordDeployed("staging", abs))
	require.NoError(t, cache.Forget("staging", "gone.txt"))

	rec, err := cache.Lookup("staging", "gone.txt")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestMarkSyncChecked(t *testing.T) {
	cache, _ := openTestCache(t)

	// works for paths that were never deployed
	require.NoError(t, cache.MarkSyncChecked("staging", "remote-only.txt"))
	rec, err := cache.Lookup("staging", "remote-only.txt")
	require.NoError(t, err)
	require.NotNil(t, rec)
	first := rec.LastSyncCheck
	assert.False(t, first.IsZero())

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cache.MarkSyncChecked("staging", "remote-only.txt"))
	rec, err = cache.Lookup("staging", "remote-only.txt")
	require.NoError(t, err)
	assert.True(t, rec.LastSyncCheck.After(first))
}

func TestResetAndStats(t *testing.T) {
	cache, root := openTestCache(t)
	abs1 := writeFile(t, root, "a.txt", "aaaa")
	abs2 := writeFile(t, root, "b.txt", "bb")

	require.NoError(t, cache.RecordDeployed("staging", abs1))
	require.NoError(t, cache.RecordDeployed("staging", abs2))

	files, size, err := cache.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), files)
	assert.Equal(t, int64(6), size)

	require.NoError(t, cache.Reset())
	files, _, err = cache.Stats()
	require.NoError(t, err)
	assert.Zero(t, files)
}
