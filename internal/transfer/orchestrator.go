// Package transfer drives deploy, pull and delete operations: it
// serializes work per target, runs the target's hooks, fans the file
// list out to every matched plugin and folds the per-file outcomes
// into one result.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/events"
	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/statecache"
	"deploy-reloaded/internal/util"
)

// Orchestrator runs operations against configured targets. It is safe
// for concurrent use, per-target ordering comes from the session
// manager.
type Orchestrator struct {
	cfg      *config.Config
	registry *plugin.Registry
	sessions *SessionManager
	cache    *statecache.Cache
	log      logging.Interface
	printer  *util.SafePrinter
	hooks    *HookRunner
}

func New(cfg *config.Config, reg *plugin.Registry, cache *statecache.Cache, log logging.Interface) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: reg,
		sessions: NewSessionManager(),
		cache:    cache,
		log:      log,
		printer:  util.Default,
		hooks:    &HookRunner{Root: cfg.Root, Log: log},
	}
}

// Sessions exposes the per-target locks. The watcher checks them to
// queue bursts behind a running operation instead of stacking up.
func (o *Orchestrator) Sessions() *SessionManager { return o.sessions }

// SetPrinter redirects console output, used by the watch view and by
// tests.
func (o *Orchestrator) SetPrinter(p *util.SafePrinter) {
	o.printer = p
	o.hooks.Printer = p
}

// Request describes one operation against one target.
type Request struct {
	Operation Operation
	Target    *config.Target
	// Package is optional, it names the file selection for logs and
	// hooks.
	Package *config.Package

	// Files are the local sources for deploy.
	Files []fileset.FileInfo
	// Paths are the slash-relative file names for pull and delete.
	Paths []string

	// Reload re-lists Files after a prepare hook asked for it via
	// reload_files.
	Reload func() ([]fileset.FileInfo, error)
}

// rels returns the operation's payload as slash-relative names.
func (req *Request) rels() []string {
	if req.Operation == OpDeploy {
		out := make([]string, len(req.Files))
		for i, f := range req.Files {
			out[i] = f.Rel
		}
		return out
	}
	return req.Paths
}

// Run executes the request. The returned error aggregates plugin and
// per-file failures; a skipped operation (no matching plugin, empty
// file list) returns a nil error.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (*Result, error) {
	if req.Target == nil {
		return nil, fmt.Errorf("transfer: request without target")
	}
	pkgName := ""
	if req.Package != nil {
		pkgName = req.Package.Name
	}
	res := newResult(req.Operation, req.Target.Name, pkgName)
	logger := o.log.
		WithField("operation", string(req.Operation)).
		WithField("target", req.Target.Name).
		WithField("id", res.ID)

	events.GlobalBus.Publish(events.EventOperationStarted, res.ID, req.Target.Name)
	defer func() {
		res.finish()
		if res.State() == StateCancelled {
			events.GlobalBus.Publish(events.EventOperationCancelled, res.ID, req.Target.Name)
		} else {
			events.GlobalBus.Publish(events.EventOperationFinished, res.ID, req.Target.Name, string(res.State()))
		}
	}()

	name := req.Target.NormalizedName()
	if o.sessions.Busy(name) {
		o.printer.Statusf("⏳ %s is busy, waiting ...", req.Target.Name)
	}
	release, err := o.sessions.Acquire(ctx, name)
	if err != nil {
		res.markCancelled()
		res.recordError(fmt.Errorf("waiting for target %s: %w", req.Target.Name, err))
		return res, res.Err()
	}
	defer release()

	// Prepare hooks may rewrite the workspace, so they run before the
	// file list is considered final.
	hr, err := o.hooks.Run(ctx, req.Target.Prepare, o.hookEnv(req, "prepare"))
	if err != nil {
		if isCancel(ctx, err) {
			res.markCancelled()
		}
		res.recordError(err)
		return o.finish(req, res, logger)
	}
	if hr.ReloadFiles && req.Reload != nil {
		files, rerr := req.Reload()
		if rerr != nil {
			res.recordError(fmt.Errorf("reloading file list: %w", rerr))
			return o.finish(req, res, logger)
		}
		req.Files = files
		logger.Infof("prepare hooks reloaded the file list, now %d files", len(files))
	}

	if len(req.rels()) == 0 {
		o.printer.Warnf("nothing to %s for target %s", req.Operation, req.Target.Name)
		return res, nil
	}

	plugins, err := o.registry.PluginsFor(o.pluginContext(req.Target), req.Operation.Capability())
	if err != nil {
		res.recordError(err)
		return o.finish(req, res, logger)
	}
	defer closePlugins(plugins, logger)
	if len(plugins) == 0 {
		o.printer.Warnf("no plugin can %s targets of type %q, skipping %s",
			req.Operation, req.Target.Type, req.Target.Name)
		logger.Warn("no matching plugin, operation skipped")
		return res, nil
	}
	res.setPlugins(len(plugins))
	logger.Infof("%s %d files via %d plugin(s)", req.Operation, len(req.rels()), len(plugins))

	for _, p := range plugins {
		if ctx.Err() != nil {
			res.markCancelled()
			break
		}
		if _, err := o.hooks.Run(ctx, req.Target.Before, o.hookEnv(req, "before")); err != nil {
			if isCancel(ctx, err) {
				res.markCancelled()
			}
			res.recordError(err)
			break
		}
		if err := o.runPass(ctx, p, req, res); err != nil {
			res.recordError(fmt.Errorf("%s via %s: %w", req.Operation, p.Type(), err))
			if isCancel(ctx, err) {
				res.markCancelled()
				break
			}
			// A failing plugin does not keep the remaining plugins
			// from their pass.
		}
		if _, err := o.hooks.Run(ctx, req.Target.After, o.hookEnv(req, "after")); err != nil {
			res.recordError(err)
			if isCancel(ctx, err) {
				res.markCancelled()
				break
			}
		}
	}

	return o.finish(req, res, logger)
}

// finish prints and logs the summary and picks the error to return.
func (o *Orchestrator) finish(req *Request, res *Result, logger logging.Interface) (*Result, error) {
	res.finish()
	o.printer.ClearLine()
	state := res.State()
	switch state {
	case StateSucceeded:
		o.printer.Successf("%s", res.Summary())
	case StateFailed:
		o.printer.Errorf("%s", res.Summary())
	default:
		o.printer.Warnf("%s", res.Summary())
	}
	logger.WithField("state", string(state)).Info(res.Summary())

	err := res.Err()
	if state == StateCancelled && err == nil {
		err = context.Canceled
	}
	return res, err
}

// runPass hands the payload to one plugin. The capability filter in
// the registry guarantees the type assertion.
func (o *Orchestrator) runPass(ctx context.Context, p plugin.Plugin, req *Request, res *Result) error {
	switch req.Operation {
	case OpDeploy:
		return p.(plugin.Uploader).UploadFiles(ctx, o.uploadDescriptors(req, res))
	case OpPull:
		return p.(plugin.Downloader).DownloadFiles(ctx, o.downloadDescriptors(req, res))
	case OpDelete:
		return p.(plugin.Deleter).DeleteFiles(ctx, o.deleteDescriptors(req, res))
	default:
		return fmt.Errorf("unsupported operation %q", req.Operation)
	}
}

// List enumerates dir on the target through the first listing-capable
// plugin. It holds the target session like every other operation.
func (o *Orchestrator) List(ctx context.Context, target *config.Target, dir string) ([]plugin.Entry, error) {
	name := target.NormalizedName()
	if o.sessions.Busy(name) {
		o.printer.Statusf("⏳ %s is busy, waiting ...", target.Name)
	}
	release, err := o.sessions.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	plugins, err := o.registry.PluginsFor(o.pluginContext(target), plugin.CapList)
	if err != nil {
		return nil, err
	}
	defer closePlugins(plugins, o.log)
	if len(plugins) == 0 {
		return nil, fmt.Errorf("no plugin can list targets of type %q", target.Type)
	}
	entries, err := plugins[0].(plugin.Lister).ListDirectory(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %q on %s: %w", dir, target.Name, err)
	}
	return entries, nil
}

func (o *Orchestrator) pluginContext(t *config.Target) *plugin.Context {
	return &plugin.Context{
		Target:   t,
		Root:     o.cfg.Root,
		Log:      o.log.WithField("target", t.Name),
		Cache:    o.cache,
		Config:   o.cfg,
		Registry: o.registry,
	}
}

func (o *Orchestrator) hookEnv(req *Request, phase string) HookEnv {
	return HookEnv{
		Target:    req.Target.Name,
		Operation: string(req.Operation),
		Phase:     phase,
		Files:     req.rels(),
	}
}

func (o *Orchestrator) uploadDescriptors(req *Request, res *Result) []*plugin.FileToUpload {
	files := make([]*plugin.FileToUpload, 0, len(req.Files))
	for _, fi := range req.Files {
		fi := fi
		files = append(files, &plugin.FileToUpload{
			Rel:     fi.Rel,
			Name:    path.Base(fi.Rel),
			Size:    fi.Size,
			ModTime: fi.ModTime,
			Open: func() (io.ReadCloser, error) {
				return os.Open(fi.Abs)
			},
			BeforeUpload: func(destination string) {
				o.printer.Statusf("⬆️  %s → %s", fi.Rel, destination)
			},
			UploadCompleted: func(err error) {
				res.recordFile(FileResult{Rel: fi.Rel, Size: fi.Size, Err: err})
				o.fileDone(req, fi.Rel, fi.Abs, err)
			},
		})
	}
	return files
}

func (o *Orchestrator) downloadDescriptors(req *Request, res *Result) []*plugin.FileToDownload {
	files := make([]*plugin.FileToDownload, 0, len(req.Paths))
	for _, rel := range req.Paths {
		clean, err := safeRel(rel)
		if err != nil {
			res.recordFile(FileResult{Rel: rel, Err: err})
			continue
		}
		abs := filepath.Join(o.cfg.Root, filepath.FromSlash(clean))
		files = append(files, &plugin.FileToDownload{
			Rel:  clean,
			Name: path.Base(clean),
			Write: func(r io.Reader) error {
				return landFile(abs, r)
			},
			BeforeDownload: func(source string) {
				o.printer.Statusf("⬇️  %s ← %s", clean, source)
			},
			DownloadCompleted: func(err error) {
				var size int64
				if err == nil {
					if st, serr := os.Stat(abs); serr == nil {
						size = st.Size()
					}
				}
				res.recordFile(FileResult{Rel: clean, Size: size, Err: err})
				o.fileDone(req, clean, abs, err)
			},
		})
	}
	return files
}

func (o *Orchestrator) deleteDescriptors(req *Request, res *Result) []*plugin.FileToDelete {
	files := make([]*plugin.FileToDelete, 0, len(req.Paths))
	for _, rel := range req.Paths {
		clean, err := safeRel(rel)
		if err != nil {
			res.recordFile(FileResult{Rel: rel, Err: err})
			continue
		}
		files = append(files, &plugin.FileToDelete{
			Rel:  clean,
			Name: path.Base(clean),
			BeforeDelete: func(location string) {
				o.printer.Statusf("🗑  %s", location)
			},
			DeleteCompleted: func(err error) {
				res.recordFile(FileResult{Rel: clean, Err: err})
				o.fileDone(req, clean, "", err)
			},
		})
	}
	return files
}

// fileDone publishes the per-file outcome and keeps the state cache in
// step with what actually reached the target.
func (o *Orchestrator) fileDone(req *Request, rel, abs string, err error) {
	events.GlobalBus.Publish(events.EventFileTransferred, req.Target.Name, rel, err == nil)
	if err != nil {
		o.printer.ClearLine()
		o.printer.Errorf("%s: %v", rel, err)
		return
	}
	if o.cache == nil {
		return
	}
	name := req.Target.NormalizedName()
	var cerr error
	switch req.Operation {
	case OpDeploy:
		cerr = o.cache.RecordDeployed(name, abs)
	case OpPull:
		cerr = o.cache.RecordPulled(name, abs)
	case OpDelete:
		cerr = o.cache.Forget(name, rel)
	}
	if cerr != nil {
		o.log.Warnf("state cache update for %s: %v", rel, cerr)
	}
}

// safeRel normalizes a user-supplied path and rejects anything that
// would land outside the workspace.
func safeRel(rel string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" {
		return "", fmt.Errorf("empty path")
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return clean, nil
}

func landFile(abs string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	f, err := os.Create(abs)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || plugin.IsCancelled(err)
}

func closePlugins(list []plugin.Plugin, log logging.Interface) {
	for _, p := range list {
		if c, ok := p.(plugin.Closer); ok {
			if err := c.Close(); err != nil {
				log.Warnf("closing %s plugin: %v", p.Type(), err)
			}
		}
	}
}
