package localplugin

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
)

func memPlugin(t *testing.T, settings map[string]interface{}) (*Plugin, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	p, err := newWithFs(&plugin.Context{
		Target: &config.Target{Name: "mirror", Type: TypeName, Settings: settings},
		Root:   "/workspace",
	}, fs)
	require.NoError(t, err)
	return p, fs
}

func upload(rel, content string) *plugin.FileToUpload {
	return &plugin.FileToUpload{
		Rel:     rel,
		Name:    rel,
		Size:    int64(len(content)),
		ModTime: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func TestUploadCreatesTree(t *testing.T) {
	p, fs := memPlugin(t, map[string]interface{}{"dir": "/out"})

	err := p.UploadFiles(context.Background(), []*plugin.FileToUpload{
		upload("src/app.go", "package main"),
		upload("README.md", "# hi"),
	})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "/out/src/app.go")
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))

	info, err := fs.Stat("/out/README.md")
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())
}

func TestRelativeDirResolvesAgainstRoot(t *testing.T) {
	p, fs := memPlugin(t, map[string]interface{}{"dir": "dist"})

	err := p.UploadFiles(context.Background(), []*plugin.FileToUpload{upload("a.txt", "x")})
	require.NoError(t, err)

	exists, err := afero.Exists(fs, "/workspace/dist/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEmptyClearsDestinationOnce(t *testing.T) {
	p, fs := memPlugin(t, map[string]interface{}{"dir": "/out", "empty": true})
	require.NoError(t, afero.WriteFile(fs, "/out/stale.txt", []byte("old"), 0o644))

	err := p.UploadFiles(context.Background(), []*plugin.FileToUpload{upload("fresh.txt", "new")})
	require.NoError(t, err)

	exists, _ := afero.Exists(fs, "/out/stale.txt")
	assert.False(t, exists, "empty target clears old content")

	// a second batch within the same operation must not wipe the first
	err = p.UploadFiles(context.Background(), []*plugin.FileToUpload{upload("second.txt", "2")})
	require.NoError(t, err)
	exists, _ = afero.Exists(fs, "/out/fresh.txt")
	assert.True(t, exists)
}

func TestDownloadAndMissing(t *testing.T) {
	p, fs := memPlugin(t, map[string]interface{}{"dir": "/out"})
	require.NoError(t, afero.WriteFile(fs, "/out/have.txt", []byte("content"), 0o644))

	var got bytes.Buffer
	var missingErr error
	err := p.DownloadFiles(context.Background(), []*plugin.FileToDownload{
		{
			Rel:   "have.txt",
			Write: func(r io.Reader) error { _, err := io.Copy(&got, r); return err },
		},
		{
			Rel:               "gone.txt",
			Write:             func(io.Reader) error { return nil },
			DownloadCompleted: func(err error) { missingErr = err },
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "content", got.String())
	assert.True(t, plugin.IsNotFound(missingErr))
}

func TestDeleteFiles(t *testing.T) {
	p, fs := memPlugin(t, map[string]interface{}{"dir": "/out"})
	require.NoError(t, afero.WriteFile(fs, "/out/a.txt", []byte("1"), 0o644))

	var gone, missing error
	err := p.DeleteFiles(context.Background(), []*plugin.FileToDelete{
		{Rel: "a.txt", DeleteCompleted: func(err error) { gone = err }},
		{Rel: "b.txt", DeleteCompleted: func(err error) { missing = err }},
	})
	require.NoError(t, err)
	assert.NoError(t, gone)
	assert.True(t, plugin.IsNotFound(missing))

	exists, _ := afero.Exists(fs, "/out/a.txt")
	assert.False(t, exists)
}

func TestListDirectory(t *testing.T) {
	p, fs := memPlugin(t, map[string]interface{}{"dir": "/out"})
	require.NoError(t, afero.WriteFile(fs, "/out/src/app.go", []byte("package main"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/top.txt", []byte("x"), 0o644))

	entries, err := p.ListDirectory(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	names := []string{entries[0].Name, entries[1].Name}
	assert.Contains(t, names, "src")
	assert.Contains(t, names, "top.txt")

	_, err = p.ListDirectory(context.Background(), "nope")
	assert.True(t, plugin.IsNotFound(err))
}

func TestMissingDirSettingFailsAtUse(t *testing.T) {
	p, _ := memPlugin(t, nil)
	err := p.UploadFiles(context.Background(), []*plugin.FileToUpload{upload("a.txt", "x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrInvalidConfig)
}
