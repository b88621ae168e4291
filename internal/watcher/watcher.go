// Package watcher turns filesystem events into deploy and delete
// operations according to the packages' auto-trigger settings.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/events"
	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/statecache"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

// debounceWindow folds rapid-fire events into one trigger evaluation.
const debounceWindow = 300 * time.Millisecond

// Watcher owns the notify subscription and the trigger pipeline from
// raw events to orchestrator runs.
type Watcher struct {
	orch    *transfer.Orchestrator
	cache   *statecache.Cache
	log     logging.Interface
	printer *util.SafePrinter

	mu            sync.Mutex
	cfg           *config.Config
	ignores       *config.IgnoreCache
	paused        bool
	pending       map[string]Kind
	statEvents    int64
	statTriggered int64
	statSkipped   int64

	runMu  sync.Mutex
	queued map[string]*coalescedRun

	watchChan chan notify.EventInfo
	wg        sync.WaitGroup

	// OnSync, when set, runs for newly created files of packages with
	// sync_when_open enabled.
	OnSync func(pkg *config.Package, rels []string)
}

func New(cfg *config.Config, orch *transfer.Orchestrator, cache *statecache.Cache, log logging.Interface) *Watcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Watcher{
		orch:      orch,
		cache:     cache,
		log:       log,
		printer:   util.Default,
		cfg:       cfg,
		ignores:   config.NewIgnoreCache(cfg.Root),
		pending:   map[string]Kind{},
		queued:    map[string]*coalescedRun{},
		watchChan: make(chan notify.EventInfo, 100),
	}
}

// SetPrinter redirects console output, used by the watch view and by
// tests.
func (w *Watcher) SetPrinter(p *util.SafePrinter) { w.printer = p }

// Run watches the workspace until ctx ends. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	cfg, _ := w.snapshot()
	pattern := filepath.Join(cfg.Root, "...")
	if err := notify.Watch(pattern, w.watchChan, notify.All); err != nil {
		return fmt.Errorf("starting filesystem watch on %s: %w", cfg.Root, err)
	}
	defer notify.Stop(w.watchChan)

	events.GlobalBus.Publish(events.EventWatcherStarted, cfg.Root)
	defer events.GlobalBus.Publish(events.EventWatcherStopped, cfg.Root)
	w.printer.Printf("👀 watching %s\n", cfg.Root)

	var flushTimer *time.Timer
	var flushC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			w.wg.Wait()
			return nil
		case ev := <-w.watchChan:
			if w.ingest(ev) && flushC == nil {
				flushTimer = time.NewTimer(debounceWindow)
				flushC = flushTimer.C
			}
		case <-flushC:
			flushTimer = nil
			flushC = nil
			w.flushPending(ctx)
		}
	}
}

// ingest folds one raw event into the pending burst. It reports
// whether a flush should be scheduled.
func (w *Watcher) ingest(ev notify.EventInfo) bool {
	cfg, ign := w.snapshot()
	abs := ev.Path()
	rel, err := filepath.Rel(cfg.Root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	// An edited ignore file changes what everything below it means.
	if filepath.Base(abs) == config.IgnoreFileName {
		ign.Reset()
	}

	if w.isPaused() {
		return false
	}
	kind, ok := w.classify(abs, ev.Event())
	if !ok {
		return false
	}
	if ign.Match(rel, false) {
		return false
	}

	w.mu.Lock()
	w.statEvents++
	// later kinds win: a write followed by a remove is a remove
	w.pending[rel] = kind
	w.mu.Unlock()
	return true
}

// classify maps notify's event bits onto trigger kinds. A rename whose
// path still exists is the new name, which is a fresh write.
func (w *Watcher) classify(abs string, e notify.Event) (Kind, bool) {
	switch {
	case e&notify.Remove != 0 || e&notify.Rename != 0:
		if _, err := os.Stat(abs); err == nil {
			return KindWrite, true
		}
		return KindRemove, true
	case e&notify.Create != 0:
		if isDir(abs) {
			return 0, false
		}
		return KindCreate, true
	case e&notify.Write != 0:
		if isDir(abs) {
			return 0, false
		}
		return KindWrite, true
	default:
		return 0, false
	}
}

// flushPending evaluates the collected burst and dispatches the
// resulting actions.
func (w *Watcher) flushPending(ctx context.Context) {
	w.mu.Lock()
	burst := w.pending
	w.pending = map[string]Kind{}
	cfg, ign := w.cfg, w.ignores
	paused := w.paused
	w.mu.Unlock()
	if paused || len(burst) == 0 {
		return
	}

	w.syncPass(cfg, ign, burst)
	for _, a := range Evaluate(cfg, ign, burst, w.log) {
		w.enqueue(ctx, a)
	}
}

// syncPass hands newly created files of sync_when_open packages to the
// sync callback.
func (w *Watcher) syncPass(cfg *config.Config, ign *config.IgnoreCache, burst map[string]Kind) {
	if w.OnSync == nil {
		return
	}
	for _, pkg := range cfg.Packages {
		if !pkg.SyncWhenOpen.Enabled {
			continue
		}
		var rels []string
		for rel, kind := range burst {
			if kind != KindCreate {
				continue
			}
			hit, err := matches(cfg, ign, pkg, pkg.SyncWhenOpen, rel, kind)
			if err != nil || !hit {
				continue
			}
			rels = append(rels, rel)
		}
		if len(rels) > 0 {
			sort.Strings(rels)
			w.OnSync(pkg, rels)
		}
	}
}

// coalescedRun folds repeat triggers for one (package, target, op)
// into the run that is already queued or running.
type coalescedRun struct {
	action Action
	rels   map[string]bool
}

func (w *Watcher) enqueue(ctx context.Context, a Action) {
	key := a.Package.NormalizedName() + "|" + a.Target.NormalizedName() + "|" + string(a.Op)
	w.runMu.Lock()
	if q, ok := w.queued[key]; ok {
		for _, r := range a.Rels {
			q.rels[r] = true
		}
		w.runMu.Unlock()
		w.log.Debugf("folded %d files into the pending %s of %s to %s",
			len(a.Rels), a.Op, a.Package.Name, a.Target.Name)
		return
	}
	q := &coalescedRun{action: a, rels: map[string]bool{}}
	for _, r := range a.Rels {
		q.rels[r] = true
	}
	w.queued[key] = q
	w.runMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.drain(ctx, key, q)
	}()
}

// drain runs the coalesced action, folding in files that arrived while
// it was running, until nothing is left.
func (w *Watcher) drain(ctx context.Context, key string, q *coalescedRun) {
	for {
		w.runMu.Lock()
		if len(q.rels) == 0 || ctx.Err() != nil {
			delete(w.queued, key)
			w.runMu.Unlock()
			return
		}
		rels := make([]string, 0, len(q.rels))
		for r := range q.rels {
			rels = append(rels, r)
		}
		q.rels = map[string]bool{}
		w.runMu.Unlock()

		sort.Strings(rels)
		w.runAction(ctx, q.action, rels)
	}
}

func (w *Watcher) runAction(ctx context.Context, a Action, rels []string) {
	cfg, _ := w.snapshot()
	events.GlobalBus.Publish(events.EventWatcherTriggered,
		a.Package.Name, a.Target.Name, string(a.Op), len(rels))

	req := &transfer.Request{Operation: a.Op, Target: a.Target, Package: a.Package}
	switch a.Op {
	case transfer.OpDeploy:
		files := w.deployables(cfg, a.Target, rels)
		if len(files) == 0 {
			w.log.Debugf("%d changed files already on %s by hash, nothing to deploy",
				len(rels), a.Target.Name)
			w.bump(&w.statSkipped)
			return
		}
		req.Files = files
	case transfer.OpDelete:
		req.Paths = rels
	default:
		return
	}

	w.printer.Printf("👀 %s: %s %s → %s\n",
		a.Package.Name, a.Op, util.Plural(len(rels), "file", "files"), a.Target.Name)
	w.bump(&w.statTriggered)
	if _, err := w.orch.Run(ctx, req); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Warnf("auto-%s of package %s to %s finished with errors",
			a.Op, a.Package.Name, a.Target.Name)
	}
}

// deployables stats the changed paths and drops the ones whose content
// hash says the target already has them.
func (w *Watcher) deployables(cfg *config.Config, target *config.Target, rels []string) []fileset.FileInfo {
	out := make([]fileset.FileInfo, 0, len(rels))
	for _, rel := range rels {
		fi, err := fileset.Stat(cfg.Root, rel)
		if err != nil {
			continue // gone again already
		}
		if w.cache != nil {
			should, cerr := w.cache.ShouldDeploy(target.NormalizedName(), fi.Abs)
			if cerr == nil && !should {
				w.log.Debugf("%s unchanged for %s, skipping", rel, target.Name)
				continue
			}
		}
		out = append(out, fi)
	}
	return out
}

// Pause drops events until Resume. Pending and queued work is cleared.
func (w *Watcher) Pause() {
	w.mu.Lock()
	w.paused = true
	w.pending = map[string]Kind{}
	w.mu.Unlock()
	events.GlobalBus.Publish(events.EventWatcherPaused)
	w.printer.Warnf("watcher paused")
}

func (w *Watcher) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	events.GlobalBus.Publish(events.EventWatcherResumed)
	w.printer.Successf("watcher resumed")
}

// TogglePause flips the pause state and reports whether the watcher is
// now paused.
func (w *Watcher) TogglePause() bool {
	if w.isPaused() {
		w.Resume()
		return false
	}
	w.Pause()
	return true
}

// UpdateConfig swaps in a reloaded workspace config. The ignore cache
// is rebuilt from scratch.
func (w *Watcher) UpdateConfig(cfg *config.Config) {
	w.mu.Lock()
	w.cfg = cfg
	w.ignores = config.NewIgnoreCache(cfg.Root)
	w.mu.Unlock()
	w.printer.Successf("configuration reloaded")
}

// Stats is a snapshot of the watcher counters for the status view.
type Stats struct {
	Events    int64
	Triggered int64
	Skipped   int64
	Pending   int
	Paused    bool
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Events:    w.statEvents,
		Triggered: w.statTriggered,
		Skipped:   w.statSkipped,
		Pending:   len(w.pending),
		Paused:    w.paused,
	}
}

func (w *Watcher) snapshot() (*config.Config, *config.IgnoreCache) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg, w.ignores
}

func (w *Watcher) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Watcher) bump(counter *int64) {
	w.mu.Lock()
	*counter++
	w.mu.Unlock()
}

func isDir(abs string) bool {
	st, err := os.Stat(abs)
	return err == nil && st.IsDir()
}
