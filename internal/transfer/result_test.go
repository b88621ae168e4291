package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/plugin"
)

func TestOperationCapabilities(t *testing.T) {
	assert.Equal(t, plugin.CapUpload, OpDeploy.Capability())
	assert.Equal(t, plugin.CapDownload, OpPull.Capability())
	assert.Equal(t, plugin.CapDelete, OpDelete.Capability())
}

func TestResultStates(t *testing.T) {
	r := newResult(OpDeploy, "staging", "")
	assert.Equal(t, StateSkipped, r.State(), "no plugin ran")

	r.setPlugins(1)
	r.recordFile(FileResult{Rel: "a.txt", Size: 10})
	assert.Equal(t, StateSucceeded, r.State())

	r.recordFile(FileResult{Rel: "b.txt", Err: errors.New("boom")})
	assert.Equal(t, StatePartial, r.State())

	r2 := newResult(OpDeploy, "staging", "")
	r2.setPlugins(1)
	r2.recordFile(FileResult{Rel: "a.txt", Err: errors.New("boom")})
	assert.Equal(t, StateFailed, r2.State())

	r2.markCancelled()
	assert.Equal(t, StateCancelled, r2.State(), "cancellation wins over failure")
}

func TestResultErrAggregatesPerFileFailures(t *testing.T) {
	r := newResult(OpDeploy, "staging", "")
	r.setPlugins(1)
	r.recordFile(FileResult{Rel: "ok.txt"})
	r.recordFile(FileResult{Rel: "bad.txt", Err: errors.New("permission denied")})
	r.recordError(errors.New("plugin exploded"))

	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.txt: permission denied")
	assert.Contains(t, err.Error(), "plugin exploded")

	clean := newResult(OpDeploy, "staging", "")
	clean.setPlugins(1)
	clean.recordFile(FileResult{Rel: "ok.txt"})
	assert.NoError(t, clean.Err())
}

func TestResultSummary(t *testing.T) {
	r := newResult(OpDeploy, "staging", "")
	r.setPlugins(1)
	r.recordFile(FileResult{Rel: "a.txt", Size: 2048})
	r.recordFile(FileResult{Rel: "b.txt", Size: 1024})
	r.recordFile(FileResult{Rel: "c.txt", Err: errors.New("boom")})
	r.finish()

	s := r.Summary()
	assert.Contains(t, s, "deployed 2 files")
	assert.Contains(t, s, "to staging")
	assert.Contains(t, s, "1 failed")

	p := newResult(OpPull, "mirror", "")
	p.setPlugins(1)
	p.recordFile(FileResult{Rel: "a.txt", Size: 5})
	p.finish()
	assert.Contains(t, p.Summary(), "pulled 1 file")
	assert.Contains(t, p.Summary(), "from mirror")

	d := newResult(OpDelete, "staging", "")
	d.setPlugins(1)
	d.recordFile(FileResult{Rel: "a.txt"})
	d.finish()
	assert.Contains(t, d.Summary(), "deleted 1 file")
	assert.Contains(t, d.Summary(), "on staging")
}

func TestResultIDsAreUnique(t *testing.T) {
	a := newResult(OpDeploy, "staging", "")
	b := newResult(OpDeploy, "staging", "")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
