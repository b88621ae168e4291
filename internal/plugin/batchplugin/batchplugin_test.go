package batchplugin

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/plugin/testplugin"
)

func workspace(t *testing.T, targets ...*config.Target) (*config.Config, *plugin.Registry) {
	t.Helper()
	testplugin.ResetStores()
	cfg := &config.Config{Targets: targets}
	r := plugin.NewRegistry()
	testplugin.Register(r)
	Register(r)
	return cfg, r
}

func batchFor(t *testing.T, cfg *config.Config, r *plugin.Registry, name string) *Plugin {
	t.Helper()
	target, ok := cfg.TargetByName(name)
	require.True(t, ok)
	p, err := New(&plugin.Context{Target: target, Config: cfg, Registry: r})
	require.NoError(t, err)
	return p.(*Plugin)
}

func uploadDescriptor(rel string, starts *[]string, results map[string]int) *plugin.FileToUpload {
	return &plugin.FileToUpload{
		Rel:  rel,
		Name: rel,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("content of " + rel)), nil
		},
		BeforeUpload:    func(dest string) { *starts = append(*starts, dest) },
		UploadCompleted: func(err error) { results[rel]++ },
	}
}

func TestUploadFansOutToAllMembers(t *testing.T) {
	cfg, r := workspace(t,
		&config.Target{Name: "stage", Type: "test"},
		&config.Target{Name: "live", Type: "test"},
		&config.Target{Name: "everywhere", Type: "batch", Settings: map[string]interface{}{
			"targets": []string{"stage", "live"},
		}},
	)
	p := batchFor(t, cfg, r, "everywhere")

	var starts []string
	results := map[string]int{}
	err := p.UploadFiles(context.Background(), []*plugin.FileToUpload{
		uploadDescriptor("a.txt", &starts, results),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt"}, testplugin.StoreFor("stage").Paths())
	assert.Equal(t, []string{"a.txt"}, testplugin.StoreFor("live").Paths())
	assert.Equal(t, 2, results["a.txt"], "each member pass reports the file")
	require.Len(t, starts, 2)
	assert.Contains(t, starts[0], "stage: ")
	assert.Contains(t, starts[1], "live: ")
}

func TestMemberFailureDoesNotStopOthers(t *testing.T) {
	cfg, r := workspace(t,
		&config.Target{Name: "flaky", Type: "test", Settings: map[string]interface{}{
			"fail": []string{"**"},
		}},
		&config.Target{Name: "solid", Type: "test"},
		&config.Target{Name: "both", Type: "batch", Settings: map[string]interface{}{
			"targets": []string{"flaky", "solid"},
		}},
	)
	p := batchFor(t, cfg, r, "both")

	var starts []string
	results := map[string]int{}
	err := p.UploadFiles(context.Background(), []*plugin.FileToUpload{
		uploadDescriptor("a.txt", &starts, results),
	})
	// the flaky member reports per-file errors, not a member error
	require.NoError(t, err)
	assert.Equal(t, 0, testplugin.StoreFor("flaky").Len())
	assert.Equal(t, 1, testplugin.StoreFor("solid").Len())
}

func TestCycleIsRejected(t *testing.T) {
	cfg, r := workspace(t,
		&config.Target{Name: "a", Type: "batch", Settings: map[string]interface{}{
			"targets": []string{"b"},
		}},
		&config.Target{Name: "b", Type: "batch", Settings: map[string]interface{}{
			"targets": []string{"a"},
		}},
	)
	p := batchFor(t, cfg, r, "a")

	err := p.DeleteFiles(context.Background(), []*plugin.FileToDelete{{Rel: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestUnknownMemberFails(t *testing.T) {
	cfg, r := workspace(t,
		&config.Target{Name: "meta", Type: "batch", Settings: map[string]interface{}{
			"targets": []string{"ghost"},
		}},
	)
	p := batchFor(t, cfg, r, "meta")

	err := p.UploadFiles(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "ghost")
}

func TestListUsesFirstCapableMember(t *testing.T) {
	cfg, r := workspace(t,
		&config.Target{Name: "stage", Type: "test"},
		&config.Target{Name: "meta", Type: "batch", Settings: map[string]interface{}{
			"targets": []string{"stage"},
		}},
	)
	testplugin.StoreFor("stage").Put("doc.txt", []byte("x"), time.Now())

	p := batchFor(t, cfg, r, "meta")
	entries, err := p.ListDirectory(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.txt", entries[0].Name)
}
