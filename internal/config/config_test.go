package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
vars:
  web:
    host: web.example.com
    port: 22
targets:
  - name: Staging
    type: SFTP
    description: main staging box
    host: ${web.host}
    port: ${web.port}
    user: deploy
    dir: /var/www
    prepare:
      - type: script
        command: ./scripts/build.sh
        reload_files: true
    after:
      - type: http
        url: https://example.com/hooks/deployed
        method: POST
        ignore_errors: true
  - name: mirror
    type: local
    dir: /mnt/mirror
packages:
  - name: app
    files:
      - "src/**"
      - "public/**"
    exclude:
      - "**/*.map"
    targets: [staging]
    deploy_on_save: true
    deploy_on_change:
      files: ["src/**"]
      fast_check: false
    remove_on_change: [mirror]
    sync_when_open:
      window: 45s
`

func writeWorkspace(t *testing.T, text string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(text), 0o644))
	return dir
}

func TestLoadAndValidateConfig(t *testing.T) {
	dir := writeWorkspace(t, sampleConfig)

	cfg, err := LoadAndValidateConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Root)
	require.Len(t, cfg.Targets, 2)
	require.Len(t, cfg.Packages, 1)

	staging := cfg.Targets[0]
	assert.Equal(t, "staging", staging.NormalizedName())
	assert.Equal(t, "sftp", staging.NormalizedType())
	assert.Equal(t, "web.example.com", staging.Settings["host"])
	require.Len(t, staging.Prepare, 1)
	assert.True(t, staging.Prepare[0].ReloadFiles)
	require.Len(t, staging.After, 1)
	assert.True(t, staging.After[0].IgnoreErrors)

	app := cfg.Packages[0]
	assert.True(t, app.DeployOnSave.Enabled)
	assert.True(t, app.DeployOnSave.UseFastCheck())
	assert.True(t, app.DeployOnChange.Enabled)
	assert.False(t, app.DeployOnChange.UseFastCheck())
	assert.Equal(t, []string{"src/**"}, app.DeployOnChange.Files)
	assert.True(t, app.RemoveOnChange.Enabled)
	assert.Equal(t, []string{"mirror"}, app.RemoveOnChange.Targets)
	assert.Equal(t, 45*time.Second, app.SyncWhenOpen.Window.Std())
}

func TestTargetLookupIsCaseInsensitive(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	tgt, ok := cfg.TargetByName("  STAGING ")
	require.True(t, ok)
	assert.Equal(t, "Staging", tgt.Name)

	_, ok = cfg.TargetByName("production")
	assert.False(t, ok)
}

func TestDuplicateTargetLaterWins(t *testing.T) {
	text := `
targets:
  - name: web
    type: sftp
    host: old.example.com
  - name: WEB
    type: sftp
    host: new.example.com
`
	cfg, err := Parse([]byte(text))
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "new.example.com", cfg.Targets[0].Settings["host"])
}

func TestDecodeSettingsRejectsUnknownKeys(t *testing.T) {
	cfg, err := Parse([]byte(`
targets:
  - name: box
    type: sftp
    host: h
    prot: 22
`))
	require.NoError(t, err)

	var settings struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	}
	err = cfg.Targets[0].DecodeSettings(&settings)
	require.Error(t, err, "typo key must be rejected")
	assert.Contains(t, err.Error(), "box")
}

func TestValidateRejectsUnknownTargetRefs(t *testing.T) {
	dir := writeWorkspace(t, `
targets:
  - name: web
    type: sftp
packages:
  - name: app
    targets: [web, nosuch]
    deploy_on_change: [alsomissing]
`)
	_, err := LoadAndValidateConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nosuch")
	assert.Contains(t, err.Error(), "alsomissing")
}

func TestValidateHookRequirements(t *testing.T) {
	dir := writeWorkspace(t, `
targets:
  - name: web
    type: sftp
    prepare:
      - type: wait
    before:
      - type: script
        reload_files: true
`)
	_, err := LoadAndValidateConfig(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait hook needs a positive duration")
	assert.Contains(t, err.Error(), "script hook needs a command")
	assert.Contains(t, err.Error(), "reload_files is only honored in prepare hooks")
}

func TestPlaceholderEnvFallback(t *testing.T) {
	t.Setenv("DEPLOY_TEST_HOST", "from.os.env")

	dir := writeWorkspace(t, `
targets:
  - name: web
    type: sftp
    host: ${DEPLOY_TEST_HOST}
    token: ${env:DEPLOY_TEST_TOKEN}
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DEPLOY_TEST_HOST=from.dotenv\nDEPLOY_TEST_TOKEN=sekret\n"), 0o644))

	cfg, err := LoadAndValidateConfig(dir)
	require.NoError(t, err)
	// OS environment takes priority over .env
	assert.Equal(t, "from.os.env", cfg.Targets[0].Settings["host"])
	// .env fills in unset variables
	assert.Equal(t, "sekret", cfg.Targets[0].Settings["token"])
}

func TestPlaceholderUnresolvedStaysPut(t *testing.T) {
	cfg, err := Parse([]byte(`
targets:
  - name: web
    type: sftp
    host: ${nope.nothere}
`))
	require.NoError(t, err)
	assert.Equal(t, "${nope.nothere}", cfg.Targets[0].Settings["host"])
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
export A=1
B = "two"
C='three'
broken-line
`), 0o644))

	env := LoadDotEnv(path)
	assert.Equal(t, "1", env["A"])
	assert.Equal(t, "two", env["B"])
	assert.Equal(t, "three", env["C"])
	assert.NotContains(t, env, "broken-line")

	assert.Empty(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestFindWorkspaceRoot(t *testing.T) {
	dir := writeWorkspace(t, sampleConfig)
	sub := filepath.Join(dir, "src", "deep")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	root, err := FindWorkspaceRoot(sub)
	require.NoError(t, err)
	assert.Equal(t, dir, root)

	_, err = FindWorkspaceRoot(t.TempDir())
	assert.Error(t, err)
}

func TestFilePatternsDefault(t *testing.T) {
	p := &Package{Name: "x"}
	assert.Equal(t, []string{"**"}, p.FilePatterns())
	p.Files = []string{"src/**"}
	assert.Equal(t, []string{"src/**"}, p.FilePatterns())
}

func TestLocalStateRoundtrip(t *testing.T) {
	root := t.TempDir()

	state, err := LoadLocalState(root)
	require.NoError(t, err)
	assert.Empty(t, state.LastPackage)

	state.LastOperation = "deploy"
	state.LastPackage = "app"
	state.LastTarget = "staging"
	require.NoError(t, state.Save(root))

	loaded, err := LoadLocalState(root)
	require.NoError(t, err)
	assert.Equal(t, "deploy", loaded.LastOperation)
	assert.Equal(t, "app", loaded.LastPackage)
	assert.Equal(t, "staging", loaded.LastTarget)
	assert.False(t, loaded.UpdatedAt.IsZero())
}
