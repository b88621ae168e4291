package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"failed", &exitCoder{ExitFailed, errors.New("boom")}, ExitFailed},
		{"cancelled", &exitCoder{ExitCancelled, errors.New("stopped")}, ExitCancelled},
		{"wrapped coder", fmt.Errorf("outer: %w", &exitCoder{ExitFailed, errors.New("boom")}), ExitFailed},
		{"context cancelled", context.Canceled, ExitCancelled},
		{"wrapped context", fmt.Errorf("op: %w", context.Canceled), ExitCancelled},
		{"plain error", errors.New("bad flag"), ExitUsage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func TestExitCoderUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &exitCoder{ExitFailed, inner}
	assert.Equal(t, "inner", err.Error())
	assert.True(t, errors.Is(err, inner))
}

func TestRelsOf(t *testing.T) {
	files := []fileset.FileInfo{
		{Rel: "a.txt"},
		{Rel: "sub/b.txt"},
	}
	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, relsOf(files))
	assert.Empty(t, relsOf(nil))
}

func TestHookSummary(t *testing.T) {
	target := &config.Target{
		Name: "staging",
		Prepare: []config.HookSpec{
			{Type: "script", Command: "make build"},
			{Type: "wait"},
		},
		After: []config.HookSpec{{Type: "http", URL: "http://x"}},
	}
	assert.Equal(t, "prepare x2, after x1", hookSummary(target))
	assert.Equal(t, "", hookSummary(&config.Target{Name: "bare"}))
}

func TestTriggerSummary(t *testing.T) {
	pkg := &config.Package{
		Name:           "app",
		DeployOnChange: config.TriggerSetting{Enabled: true},
		SyncWhenOpen:   config.TriggerSetting{Enabled: true},
	}
	assert.Equal(t, "deploy_on_change, sync_when_open", triggerSummary(pkg))
	assert.Equal(t, "", triggerSummary(&config.Package{Name: "quiet"}))
}

func TestTargetList(t *testing.T) {
	targets := []*config.Target{{Name: "dist"}, {Name: "mirror"}}
	assert.Equal(t, "dist, mirror", targetList(targets))
}

func TestDryRunListsSortedFiles(t *testing.T) {
	var buf bytes.Buffer
	printer := &util.SafePrinter{}
	printer.SetOutput(&buf)

	a := &app{printer: printer}
	a.dryRun(runSpec{
		op:      transfer.OpDeploy,
		targets: []*config.Target{{Name: "dist"}},
		files: []fileset.FileInfo{
			{Rel: "z.txt"},
			{Rel: "a.txt"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "dry run: deploy 2 files → dist")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a.txt")), bytes.Index(buf.Bytes(), []byte("z.txt")))
}

func TestDryRunUsesPathsForDelete(t *testing.T) {
	var buf bytes.Buffer
	printer := &util.SafePrinter{}
	printer.SetOutput(&buf)

	a := &app{printer: printer}
	a.dryRun(runSpec{
		op:      transfer.OpDelete,
		targets: []*config.Target{{Name: "dist"}},
		paths:   []string{"gone.txt"},
	})

	assert.Contains(t, buf.String(), "delete 1 file → dist")
	assert.Contains(t, buf.String(), "gone.txt")
}

func TestMenuEntriesButtonsFirst(t *testing.T) {
	a := &app{
		cfg: &config.Config{
			Packages: []*config.Package{
				{Name: "plain"},
				{Name: "app", Button: &config.ButtonSpec{Label: "Ship it"}},
			},
		},
		state: &config.LocalState{},
	}

	entries := menuEntries(a)
	assert.Equal(t, "🔘 Ship it", entries[0].label)

	var labels []string
	for _, e := range entries {
		labels = append(labels, e.label)
	}
	assert.Contains(t, labels, "deploy :: Deploy a package")
	assert.Contains(t, labels, "exit :: Quit")
}

func TestMenuEntriesButtonFallbackLabel(t *testing.T) {
	a := &app{
		cfg: &config.Config{
			Packages: []*config.Package{
				{Name: "app", Button: &config.ButtonSpec{}},
			},
		},
		state: &config.LocalState{},
	}
	entries := menuEntries(a)
	assert.Equal(t, "🔘 Deploy app", entries[0].label)
}
