package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Level: LevelInfo, File: "x.log"}
	assert.NoError(t, cfg.Validate())

	cfg = Config{Level: LevelInfo}
	assert.Error(t, cfg.Validate(), "empty file must be rejected")

	cfg = Config{Level: "LOUD", File: "x.log"}
	assert.Error(t, cfg.Validate())

	cfg = Config{Level: LevelInfo, File: "x.log", MaxBackups: -1}
	assert.Error(t, cfg.Validate())
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "logs", "app.log")

	log, err := New(Config{Level: LevelDebug, File: file})
	require.NoError(t, err)

	log.WithField("target", "staging").Info("upload finished")
	log.Debugf("processed %d files", 3)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "upload finished")
	assert.Contains(t, string(data), "staging")
	assert.Contains(t, string(data), "processed 3 files")
}

func TestNopDoesNotPanic(t *testing.T) {
	log := Nop()
	log.WithError(os.ErrNotExist).Warn("ignored")
	log.Infof("ignored %s", "too")
}
