package slackplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
)

func newPlugin(t *testing.T, settings map[string]interface{}) *Plugin {
	t.Helper()
	p, err := New(&plugin.Context{Target: &config.Target{Name: "notify", Type: TypeName, Settings: settings}})
	require.NoError(t, err)
	return p.(*Plugin)
}

func TestUploadOnlyCapability(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"token": "xoxb-x", "channels": []string{"C123"}})
	assert.True(t, plugin.Supports(p, plugin.CapUpload))
	assert.False(t, plugin.Supports(p, plugin.CapDownload))
	assert.False(t, plugin.Supports(p, plugin.CapDelete))
	assert.False(t, plugin.Supports(p, plugin.CapList))
}

func TestValidation(t *testing.T) {
	p := newPlugin(t, nil)
	err := p.UploadFiles(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "token")

	p = newPlugin(t, map[string]interface{}{"token": "xoxb-x"})
	err = p.UploadFiles(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel")
}
