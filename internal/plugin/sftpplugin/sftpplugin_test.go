package sftpplugin

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin"
)

func newPlugin(t *testing.T, settings map[string]interface{}) *Plugin {
	t.Helper()
	p, err := New(&plugin.Context{Target: &config.Target{Name: "web", Type: TypeName, Settings: settings}})
	require.NoError(t, err)
	return p.(*Plugin)
}

func TestNewAppliesPortDefault(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"host": "example.com", "user": "deploy", "password": "x"})
	assert.Equal(t, 22, p.settings.Port)

	p = newPlugin(t, map[string]interface{}{"host": "example.com", "port": 2222})
	assert.Equal(t, 2222, p.settings.Port)
}

func TestMissingSettingsFailBeforeDialing(t *testing.T) {
	p := newPlugin(t, nil)
	err := p.UploadFiles(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "host")
	assert.Contains(t, err.Error(), "user")
}

func TestRemotePathMapping(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{"dir": "/var/www/app"})
	assert.Equal(t, "/var/www/app/src/index.php", p.remotePath("src/index.php"))

	p = newPlugin(t, map[string]interface{}{"dir": "htdocs/"})
	assert.Equal(t, "htdocs/a.txt", p.remotePath("a.txt"))

	p = newPlugin(t, nil)
	assert.Equal(t, "a.txt", p.remotePath("a.txt"))
}

func TestAuthMethodsFromKeyFile(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	p := newPlugin(t, map[string]interface{}{
		"host": "example.com", "user": "deploy", "private_key": keyPath,
	})
	methods, err := p.authMethods()
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestAuthMethodsPasswordAndKeyStack(t *testing.T) {
	p := newPlugin(t, map[string]interface{}{
		"host": "example.com", "user": "deploy", "password": "hunter2",
	})
	methods, err := p.authMethods()
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	p = newPlugin(t, map[string]interface{}{
		"host": "example.com", "user": "deploy",
		"password": "hunter2", "private_key": filepath.Join(t.TempDir(), "missing"),
	})
	_, err = p.authMethods()
	assert.Error(t, err, "unreadable key is an error even with a password fallback")
}

func TestCloseWithoutConnectIsSafe(t *testing.T) {
	p := newPlugin(t, nil)
	assert.NoError(t, p.Close())
}
