// Package syncer implements sync-when-open: it compares remote
// modification times against the workspace and pulls files the remote
// side has newer copies of. A persisted per-(target, path) stamp keeps
// repeat checks quiet inside the configured window.
package syncer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/statecache"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

// defaultWindow suppresses repeat checks per file unless the package
// configures its own.
const defaultWindow = 30 * time.Second

// mtimeSlack absorbs coarse remote timestamps, FTP servers report
// whole seconds.
const mtimeSlack = time.Second

// Syncer drives the remote-newer pull pass.
type Syncer struct {
	cfg      *config.Config
	orch     *transfer.Orchestrator
	registry *plugin.Registry
	cache    *statecache.Cache
	ign      *config.IgnoreCache
	log      logging.Interface
	printer  *util.SafePrinter
}

func New(cfg *config.Config, orch *transfer.Orchestrator, reg *plugin.Registry, cache *statecache.Cache, log logging.Interface) *Syncer {
	if log == nil {
		log = logging.Nop()
	}
	return &Syncer{
		cfg:      cfg,
		orch:     orch,
		registry: reg,
		cache:    cache,
		ign:      config.NewIgnoreCache(cfg.Root),
		log:      log,
		printer:  util.Default,
	}
}

// SetPrinter redirects console output, used by tests.
func (s *Syncer) SetPrinter(p *util.SafePrinter) { s.printer = p }

// SyncAll runs the pass for every package with sync_when_open enabled.
// It returns how many files were pulled.
func (s *Syncer) SyncAll(ctx context.Context) (int, error) {
	var merr *multierror.Error
	total := 0
	for _, pkg := range s.cfg.Packages {
		if !pkg.SyncWhenOpen.Enabled {
			continue
		}
		n, err := s.SyncPackage(ctx, pkg)
		total += n
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("package %s: %w", pkg.Name, err))
		}
	}
	return total, merr.ErrorOrNil()
}

// SyncPackage checks the package's whole local fileset.
func (s *Syncer) SyncPackage(ctx context.Context, pkg *config.Package) (int, error) {
	if !pkg.SyncWhenOpen.Enabled {
		return 0, nil
	}
	m := fileset.NewMatcher(pkg.FilePatterns(), pkg.Exclude)
	files, err := fileset.List(s.cfg.Root, m, s.ign)
	if err != nil {
		return 0, fmt.Errorf("listing workspace files of %s: %w", pkg.Name, err)
	}
	rels := make([]string, 0, len(files))
	for _, f := range files {
		rels = append(rels, f.Rel)
	}
	return s.SyncPaths(ctx, pkg, rels)
}

// SyncPaths checks the given paths only. The watcher uses it when a
// watched file first appears.
func (s *Syncer) SyncPaths(ctx context.Context, pkg *config.Package, rels []string) (int, error) {
	if !pkg.SyncWhenOpen.Enabled || len(rels) == 0 {
		return 0, nil
	}
	var merr *multierror.Error
	total := 0
	for _, target := range s.targetsFor(pkg) {
		n, err := s.syncTarget(ctx, pkg, target, rels)
		total += n
		if err != nil {
			merr = multierror.Append(merr, fmt.Errorf("target %s: %w", target.Name, err))
		}
	}
	return total, merr.ErrorOrNil()
}

// syncTarget lists the remote side (one listing per directory) and
// pulls the files whose remote mtime beats the local one.
func (s *Syncer) syncTarget(ctx context.Context, pkg *config.Package, target *config.Target, rels []string) (int, error) {
	plugins, err := s.registry.PluginsFor(s.pluginContext(target), plugin.CapList)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, p := range plugins {
			if c, ok := p.(plugin.Closer); ok {
				c.Close()
			}
		}
	}()
	if len(plugins) == 0 {
		s.log.Debugf("target %s cannot list directories, sync check skipped", target.Name)
		return 0, nil
	}
	lister := plugins[0].(plugin.Lister)

	window := s.window(pkg)
	listings := map[string][]plugin.Entry{}
	var candidates []string
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !s.dueForCheck(target, rel, window) {
			continue
		}
		dir := path.Dir(rel)
		if dir == "." {
			dir = ""
		}
		entries, seen := listings[dir]
		if !seen {
			var lerr error
			entries, lerr = lister.ListDirectory(ctx, dir)
			switch {
			case lerr == nil:
			case plugin.IsCancelled(lerr):
				return 0, lerr
			case plugin.IsNotFound(lerr):
				entries = nil
			default:
				s.log.Warnf("listing %q on %s: %v", dir, target.Name, lerr)
				entries = nil
			}
			listings[dir] = entries
		}
		s.stampChecked(target, rel)
		remote, found := entryNamed(entries, path.Base(rel))
		if !found || remote.IsDir {
			continue
		}
		if s.remoteNewer(remote, rel) {
			candidates = append(candidates, rel)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	s.printer.Printf("🔄 %s: %s newer on %s, pulling\n",
		pkg.Name, util.Plural(len(candidates), "file is", "files are"), target.Name)
	res, err := s.orch.Run(ctx, &transfer.Request{
		Operation: transfer.OpPull,
		Target:    target,
		Package:   pkg,
		Paths:     candidates,
	})
	pulled := 0
	for _, f := range res.Files() {
		if f.Err == nil {
			pulled++
		}
	}
	return pulled, err
}

// dueForCheck consults the persisted stamp so one file is checked at
// most once per window, across processes.
func (s *Syncer) dueForCheck(target *config.Target, rel string, window time.Duration) bool {
	if s.cache == nil || window <= 0 {
		return true
	}
	rec, err := s.cache.Lookup(target.NormalizedName(), rel)
	if err != nil || rec.LastSyncCheck.IsZero() {
		return true
	}
	return time.Since(rec.LastSyncCheck) >= window
}

func (s *Syncer) stampChecked(target *config.Target, rel string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkSyncChecked(target.NormalizedName(), rel); err != nil {
		s.log.Warnf("marking sync check for %s: %v", rel, err)
	}
}

// remoteNewer compares against the local file. A missing local file
// counts as stale so the pull recreates it.
func (s *Syncer) remoteNewer(remote plugin.Entry, rel string) bool {
	abs := filepath.Join(s.cfg.Root, filepath.FromSlash(rel))
	st, err := os.Stat(abs)
	if err != nil {
		return true
	}
	if remote.ModTime.IsZero() {
		return false
	}
	return remote.ModTime.After(st.ModTime().Add(mtimeSlack))
}

func (s *Syncer) window(pkg *config.Package) time.Duration {
	if d := time.Duration(pkg.SyncWhenOpen.Window); d > 0 {
		return d
	}
	return defaultWindow
}

func (s *Syncer) targetsFor(pkg *config.Package) []*config.Target {
	names := pkg.SyncWhenOpen.Targets
	if len(names) == 0 {
		return s.cfg.TargetsFor(pkg)
	}
	out := make([]*config.Target, 0, len(names))
	for _, n := range names {
		if t, ok := s.cfg.TargetByName(n); ok {
			out = append(out, t)
		} else {
			s.log.Warnf("sync_when_open names unknown target %q", n)
		}
	}
	return out
}

func (s *Syncer) pluginContext(t *config.Target) *plugin.Context {
	return &plugin.Context{
		Target:   t,
		Root:     s.cfg.Root,
		Log:      s.log.WithField("target", t.Name),
		Cache:    s.cache,
		Config:   s.cfg,
		Registry: s.registry,
	}
}

func entryNamed(entries []plugin.Entry, name string) (plugin.Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return plugin.Entry{}, false
}
