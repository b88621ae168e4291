// Package scriptplugin backs the "script" target type: it hands each
// batch to a user command, with a JSON description of the operation on
// stdin. The command does the actual transport, exit code zero means
// the whole batch succeeded.
package scriptplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
)

const TypeName = "script"

// Settings holds the exec parameters of a script target.
type Settings struct {
	Command string            `yaml:"command"`
	Dir     string            `yaml:"dir"`
	Env     map[string]string `yaml:"env"`
	Timeout config.Duration   `yaml:"timeout"`
}

// payload is what the command reads from stdin.
type payload struct {
	Operation string        `json:"operation"`
	Target    string        `json:"target"`
	Root      string        `json:"root"`
	Files     []payloadFile `json:"files"`
}

type payloadFile struct {
	Rel     string    `json:"rel"`
	Name    string    `json:"name"`
	Path    string    `json:"path,omitempty"`
	Size    int64     `json:"size,omitempty"`
	ModTime time.Time `json:"mod_time,omitempty"`
}

// Plugin shells out per batch. It has no connection to manage.
type Plugin struct {
	target   string
	root     string
	settings Settings
	log      logging.Interface
}

// Register adds the script factory to the registry.
func Register(r *plugin.Registry) {
	r.Register(TypeName, New)
}

// New decodes the target settings.
func New(pctx *plugin.Context) (plugin.Plugin, error) {
	var s Settings
	if err := pctx.Target.DecodeSettings(&s); err != nil {
		return nil, err
	}
	return &Plugin{
		target:   pctx.Target.NormalizedName(),
		root:     pctx.Root,
		settings: s,
		log:      pctx.Logger(),
	}, nil
}

func (p *Plugin) Type() string { return TypeName }

// run feeds the payload to the configured command through the platform
// shell.
func (p *Plugin) run(ctx context.Context, op string, files []payloadFile) error {
	if p.settings.Command == "" {
		return plugin.NewError(op, p.target, "",
			fmt.Errorf("%w: script target needs a command", plugin.ErrInvalidConfig))
	}

	if d := p.settings.Timeout.Std(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", p.settings.Command)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-c", p.settings.Command)
	}

	cmd.Dir = p.root
	if p.settings.Dir != "" {
		cmd.Dir = p.settings.Dir
	}

	cmd.Env = append(os.Environ(),
		"DEPLOY_TARGET="+p.target,
		"DEPLOY_OPERATION="+op,
		"DEPLOY_ROOT="+p.root,
	)
	for k, v := range p.settings.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	body, err := json.Marshal(payload{
		Operation: op,
		Target:    p.target,
		Root:      p.root,
		Files:     files,
	})
	if err != nil {
		return plugin.NewError(op, p.target, "", err)
	}
	cmd.Stdin = bytes.NewReader(body)

	output, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(output))
		if trimmed != "" {
			return plugin.NewError(op, p.target, "", fmt.Errorf("%s: %w", trimmed, err))
		}
		return plugin.NewError(op, p.target, "", err)
	}

	if len(output) > 0 {
		p.log.WithField("target", p.target).Debugf("script output: %s", strings.TrimSpace(string(output)))
	}
	return nil
}

func (p *Plugin) UploadFiles(ctx context.Context, files []*plugin.FileToUpload) error {
	batch := make([]payloadFile, 0, len(files))
	for _, f := range files {
		f.ReportStart(p.settings.Command)
		batch = append(batch, payloadFile{
			Rel:     f.Rel,
			Name:    f.Name,
			Path:    filepath.Join(p.root, filepath.FromSlash(f.Rel)),
			Size:    f.Size,
			ModTime: f.ModTime,
		})
	}

	if err := p.run(ctx, "upload", batch); err != nil {
		return err
	}
	for _, f := range files {
		f.ReportDone(nil)
	}
	return nil
}

func (p *Plugin) DeleteFiles(ctx context.Context, files []*plugin.FileToDelete) error {
	batch := make([]payloadFile, 0, len(files))
	for _, f := range files {
		f.ReportStart(p.settings.Command)
		batch = append(batch, payloadFile{Rel: f.Rel, Name: f.Name})
	}

	if err := p.run(ctx, "delete", batch); err != nil {
		return err
	}
	for _, f := range files {
		f.ReportDone(nil)
	}
	return nil
}
