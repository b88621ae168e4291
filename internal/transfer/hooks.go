package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/util"
)

// HookEnv carries what a hook can know about the operation around it.
type HookEnv struct {
	Target    string
	Operation string
	Phase     string
	Files     []string
}

// HookResult reports what the executed hooks asked for.
type HookResult struct {
	// ReloadFiles is set when a prepare hook wants the file list
	// re-globbed, e.g. because the hook generated workspace files.
	ReloadFiles bool
}

// HookRunner executes the script/wait/http/log entries of a target's
// prepare, before and after lists.
type HookRunner struct {
	Root    string
	Log     logging.Interface
	Printer *util.SafePrinter
	// Client serves http hooks. Nil means a 30 second default.
	Client *http.Client
}

const defaultHookTimeout = 30 * time.Second

// Run executes hooks in order. A failing hook stops the rest of the
// list and is returned, unless that hook sets ignore_errors.
func (r *HookRunner) Run(ctx context.Context, hooks []config.HookSpec, env HookEnv) (*HookResult, error) {
	res := &HookResult{}
	for i := range hooks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		h := &hooks[i]
		if err := r.runOne(ctx, h, env); err != nil {
			if h.IgnoreErrors {
				r.log().Warnf("%s hook %d (%s) failed, continuing: %v", env.Phase, i+1, h.Type, err)
				continue
			}
			return res, fmt.Errorf("%s hook %d (%s): %w", env.Phase, i+1, h.Type, err)
		}
		if h.ReloadFiles {
			res.ReloadFiles = true
		}
	}
	return res, nil
}

func (r *HookRunner) runOne(ctx context.Context, h *config.HookSpec, env HookEnv) error {
	switch h.Type {
	case "script":
		return r.runScript(ctx, h, env)
	case "wait":
		return r.runWait(ctx, h)
	case "http":
		return r.runHTTP(ctx, h)
	case "log":
		msg := h.Message
		if msg == "" {
			msg = h.Command
		}
		r.printer().Printf("📝 %s\n", msg)
		r.log().Info(msg)
		return nil
	default:
		return fmt.Errorf("unknown hook type %q", h.Type)
	}
}

// runScript hands the command line to the platform shell with the
// operation exposed through DEPLOY_* variables. Output is folded into
// the error on failure.
func (r *HookRunner) runScript(ctx context.Context, h *config.HookSpec, env HookEnv) error {
	if h.Command == "" {
		return fmt.Errorf("script hook needs a command")
	}
	line := h.Command
	if len(h.Args) > 0 {
		line += " " + strings.Join(h.Args, " ")
	}
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", line)
	} else {
		cmd = exec.CommandContext(ctx, "bash", "-c", line)
	}
	cmd.Dir = r.Root
	cmd.Env = append(os.Environ(),
		"DEPLOY_TARGET="+env.Target,
		"DEPLOY_OPERATION="+env.Operation,
		"DEPLOY_PHASE="+env.Phase,
		"DEPLOY_FILES="+strings.Join(env.Files, "\n"),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %s", h.Command, msg)
		}
		return fmt.Errorf("%s: %w", h.Command, err)
	}
	if trimmed := bytes.TrimSpace(out); len(trimmed) > 0 {
		r.log().WithField("hook", h.Command).Debugf("output: %s", trimmed)
	}
	return nil
}

func (r *HookRunner) runWait(ctx context.Context, h *config.HookSpec) error {
	d := time.Duration(h.Duration)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runHTTP fires a webhook. Method defaults to GET, or POST when a body
// is set; anything outside 2xx is a failure.
func (r *HookRunner) runHTTP(ctx context.Context, h *config.HookSpec) error {
	if h.URL == "" {
		return fmt.Errorf("http hook needs a url")
	}
	method := strings.ToUpper(h.Method)
	if method == "" {
		method = http.MethodGet
		if h.Body != "" {
			method = http.MethodPost
		}
	}
	var body io.Reader
	if h.Body != "" {
		body = strings.NewReader(h.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.URL, body)
	if err != nil {
		return err
	}
	if h.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, h.URL, resp.Status)
	}
	return nil
}

func (r *HookRunner) log() logging.Interface {
	if r.Log == nil {
		return logging.Nop()
	}
	return r.Log
}

func (r *HookRunner) printer() *util.SafePrinter {
	if r.Printer == nil {
		return util.Default
	}
	return r.Printer
}

func (r *HookRunner) client() *http.Client {
	if r.Client == nil {
		return &http.Client{Timeout: defaultHookTimeout}
	}
	return r.Client
}
