package ftpplugin

import (
	"errors"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
)

func newPlugin(t *testing.T, settings map[string]interface{}) *Plugin {
	t.Helper()
	p, err := New(&plugin.Context{Target: &config.Target{Name: "legacy", Type: TypeName, Settings: settings}})
	require.NoError(t, err)
	return p.(*Plugin)
}

func TestDefaults(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"host": "ftp.example.com"})
	assert.Equal(t, 21, p.settings.Port)
	assert.Equal(t, defaultTimeout, p.settings.Timeout.Std())

	p = newPlugin(t, map[string]interface{}{"host": "ftp.example.com", "port": 2121, "timeout": "3s"})
	assert.Equal(t, 2121, p.settings.Port)
	assert.Equal(t, 3*time.Second, p.settings.Timeout.Std())
}

func TestRemotePathMapping(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"host": "h", "dir": "/htdocs"})
	assert.Equal(t, "/htdocs/img/logo.png", p.remotePath("img/logo.png"))
}

func TestIsNotAvailable(t *testing.T) {
	assert.True(t, isNotAvailable(&textproto.Error{Code: 550, Msg: "Not found"}))
	assert.False(t, isNotAvailable(&textproto.Error{Code: 530, Msg: "Not logged in"}))
	assert.False(t, isNotAvailable(errors.New("plain")))
}

func TestCloseWithoutConnectIsSafe(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"host": "h"})
	assert.NoError(t, p.Close())
}
