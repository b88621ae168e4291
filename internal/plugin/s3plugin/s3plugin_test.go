package s3plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
)

func newPlugin(t *testing.T, settings map[string]interface{}) *Plugin {
	t.Helper()
	p, err := New(&plugin.Context{Target: &config.Target{Name: "cdn", Type: TypeName, Settings: settings}})
	require.NoError(t, err)
	return p.(*Plugin)
}

func TestDefaults(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"bucket": "assets"})
	assert.Equal(t, defaultPartSizeMB, p.settings.PartSizeMB)
	assert.Equal(t, defaultConcurrency, p.settings.Concurrency)
	assert.Nil(t, p.limiter)

	p = newPlugin(t, map[string]interface{}{"bucket": "assets", "requests_per_second": 25})
	require.NotNil(t, p.limiter)
	assert.Equal(t, float64(25), float64(p.limiter.Limit()))
}

func TestKeyMapping(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"bucket": "assets", "prefix": "releases/app"})
	assert.Equal(t, "releases/app/js/main.js", p.key("js/main.js"))

	p = newPlugin(t, map[string]interface{}{"bucket": "assets", "prefix": "/lead"})
	assert.Equal(t, "lead/a.txt", p.key("a.txt"), "keys never start with a slash")

	p = newPlugin(t, map[string]interface{}{"bucket": "assets"})
	assert.Equal(t, "a.txt", p.key("a.txt"))
}

func TestPathStyleDetection(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"bucket": "b"})
	assert.False(t, p.usePathStyle())

	p = newPlugin(t, map[string]interface{}{"bucket": "b", "endpoint": "https://s3.eu-central-1.amazonaws.com"})
	assert.False(t, p.usePathStyle())

	p = newPlugin(t, map[string]interface{}{"bucket": "b", "endpoint": "https://minio.internal:9000"})
	assert.True(t, p.usePathStyle(), "non-AWS endpoints force path style")

	p = newPlugin(t, map[string]interface{}{"bucket": "b", "path_style": true})
	assert.True(t, p.usePathStyle())
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := New(&plugin.Context{Target: &config.Target{
		Name: "cdn", Type: TypeName,
		Settings: map[string]interface{}{"bucket": "b", "buckit": "typo"},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buckit")
}
