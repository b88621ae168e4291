package syncer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/plugin/testplugin"
	"deploy-reloaded/internal/statecache"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

func testSyncer(t *testing.T, cache *statecache.Cache, root string, pkgs []*config.Package, targets ...*config.Target) *Syncer {
	t.Helper()
	testplugin.ResetStores()
	cfg := &config.Config{Root: root, Targets: targets, Packages: pkgs}
	reg := plugin.NewRegistry()
	testplugin.Register(reg)
	orch := transfer.New(cfg, reg, cache, logging.Nop())

	p := &util.SafePrinter{}
	p.SetOutput(&bytes.Buffer{})
	orch.SetPrinter(p)
	s := New(cfg, orch, reg, cache, logging.Nop())
	s.SetPrinter(p)
	return s
}

func writeLocal(t *testing.T, root, rel, content string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(abs, mtime, mtime))
}

func syncPackage(targets ...string) *config.Package {
	return &config.Package{
		Name:         "app",
		Targets:      targets,
		SyncWhenOpen: config.TriggerSetting{Enabled: true},
	}
}

func TestPullsFilesTheRemoteHasNewer(t *testing.T) {
	root := t.TempDir()
	pkg := syncPackage("mirror")
	s := testSyncer(t, nil, root, []*config.Package{pkg}, &config.Target{Name: "mirror", Type: "test"})

	writeLocal(t, root, "a.txt", "stale", time.Now().Add(-time.Hour))
	writeLocal(t, root, "src/b.txt", "current", time.Now())
	testplugin.StoreFor("mirror").Put("a.txt", []byte("fresh"), time.Now())
	testplugin.StoreFor("mirror").Put("src/b.txt", []byte("old"), time.Now().Add(-2*time.Hour))

	n, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data), "the stale local copy is replaced")

	data, err = os.ReadFile(filepath.Join(root, "src", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "current", string(data), "the current local copy stays")
}

func TestNothingToDoWhenRemoteIsOlder(t *testing.T) {
	root := t.TempDir()
	pkg := syncPackage("mirror")
	s := testSyncer(t, nil, root, []*config.Package{pkg}, &config.Target{Name: "mirror", Type: "test"})

	writeLocal(t, root, "a.txt", "mine", time.Now())
	testplugin.StoreFor("mirror").Put("a.txt", []byte("theirs"), time.Now().Add(-time.Hour))

	n, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDisabledPackagesAreSkipped(t *testing.T) {
	root := t.TempDir()
	pkg := &config.Package{Name: "app", Targets: []string{"mirror"}}
	s := testSyncer(t, nil, root, []*config.Package{pkg}, &config.Target{Name: "mirror", Type: "test"})

	writeLocal(t, root, "a.txt", "stale", time.Now().Add(-time.Hour))
	testplugin.StoreFor("mirror").Put("a.txt", []byte("fresh"), time.Now())

	n, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckWindowSuppressesRepeatListings(t *testing.T) {
	root := t.TempDir()
	cache, err := statecache.Open(filepath.Join(root, ".deploy_temp", "state.db"), root)
	require.NoError(t, err)
	defer cache.Close()

	pkg := &config.Package{
		Name:    "app",
		Targets: []string{"mirror"},
		SyncWhenOpen: config.TriggerSetting{
			Enabled: true,
			Window:  config.Duration(80 * time.Millisecond),
		},
	}
	s := testSyncer(t, cache, root, []*config.Package{pkg}, &config.Target{Name: "mirror", Type: "test"})

	writeLocal(t, root, "a.txt", "local", time.Now())
	testplugin.StoreFor("mirror").Put("a.txt", []byte("same age"), time.Now().Add(-time.Hour))

	// first pass: checked, nothing newer, stamp written
	n, err := s.SyncPaths(context.Background(), pkg, []string{"a.txt"})
	require.NoError(t, err)
	assert.Zero(t, n)

	// remote becomes newer, but the stamp is still fresh
	testplugin.StoreFor("mirror").Put("a.txt", []byte("brand new"), time.Now().Add(time.Hour))
	n, err = s.SyncPaths(context.Background(), pkg, []string{"a.txt"})
	require.NoError(t, err)
	assert.Zero(t, n, "inside the window the file is not re-checked")

	time.Sleep(100 * time.Millisecond)
	n, err = s.SyncPaths(context.Background(), pkg, []string{"a.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "after the window the newer remote copy is pulled")
}

func TestSyncTargetListOverridesPackageTargets(t *testing.T) {
	root := t.TempDir()
	pkg := &config.Package{
		Name:    "app",
		Targets: []string{"staging"},
		SyncWhenOpen: config.TriggerSetting{
			Enabled: true,
			Targets: []string{"mirror"},
		},
	}
	s := testSyncer(t, nil, root, []*config.Package{pkg},
		&config.Target{Name: "staging", Type: "test"},
		&config.Target{Name: "mirror", Type: "test"},
	)

	writeLocal(t, root, "a.txt", "stale", time.Now().Add(-time.Hour))
	testplugin.StoreFor("mirror").Put("a.txt", []byte("fresh"), time.Now())
	testplugin.StoreFor("staging").Put("a.txt", []byte("fresher"), time.Now())

	n, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the trigger's own target list is consulted")

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestMissingLocalFileIsPulled(t *testing.T) {
	root := t.TempDir()
	pkg := syncPackage("mirror")
	s := testSyncer(t, nil, root, []*config.Package{pkg}, &config.Target{Name: "mirror", Type: "test"})

	testplugin.StoreFor("mirror").Put("docs/readme.md", []byte("hello"), time.Now())

	n, err := s.SyncPaths(context.Background(), pkg, []string{"docs/readme.md"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(root, "docs", "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
