package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/manifoldco/promptui"
	"golang.org/x/term"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/gitfiles"
	"deploy-reloaded/internal/history"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/plugin/builtin"
	"deploy-reloaded/internal/statecache"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

// Exit codes surfaced to main. Cobra/config problems are 1, an
// operation that ran but left failures behind is 2, a cancelled
// operation is 3.
const (
	ExitOK        = 0
	ExitUsage     = 1
	ExitFailed    = 2
	ExitCancelled = 3
)

type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }
func (e *exitCoder) Unwrap() error { return e.err }

// ExitCode maps the error returned by ExecuteContext to a process exit
// code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec *exitCoder
	if errors.As(err, &ec) {
		return ec.code
	}
	if errors.Is(err, context.Canceled) {
		return ExitCancelled
	}
	return ExitUsage
}

// app bundles everything a command needs once the workspace is loaded.
type app struct {
	cfg      *config.Config
	log      logging.Interface
	cache    *statecache.Cache
	registry *plugin.Registry
	orch     *transfer.Orchestrator
	printer  *util.SafePrinter
	state    *config.LocalState
}

// loadApp locates the workspace from the current directory, loads and
// validates the config and wires the shared services.
func loadApp() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := config.FindWorkspaceRoot(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadAndValidateConfig(root)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", config.ConfigFileName, err)
	}
	_ = history.Touch(root)

	level := logging.LevelInfo
	if cfg.Log.Level != "" {
		if l, perr := logging.ParseLevel(cfg.Log.Level); perr == nil {
			level = l
		}
	}
	log, err := logging.New(logging.Config{
		Level:   level,
		File:    cfg.LogFile(),
		Console: cfg.Log.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	cache, err := statecache.Open(filepath.Join(cfg.StateDir(), "state.db"), cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("opening state cache: %w", err)
	}
	if cfg.ResetCache || flagResetCache {
		if err := cache.Reset(); err != nil {
			return nil, fmt.Errorf("resetting state cache: %w", err)
		}
		util.Default.Warnf("state cache reset")
	}

	reg := builtin.NewRegistry()
	orch := transfer.New(cfg, reg, cache, log)

	state, err := config.LoadLocalState(cfg.Root)
	if err != nil {
		log.WithError(err).Warn("local state unreadable, starting fresh")
		state = &config.LocalState{}
	}

	return &app{
		cfg:      cfg,
		log:      log,
		cache:    cache,
		registry: reg,
		orch:     orch,
		printer:  util.Default,
		state:    state,
	}, nil
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
}

// reload re-reads the workspace file and swaps the config-dependent
// services. The cache keeps its handle, rows are keyed by target name.
func (a *app) reload() error {
	cfg, err := config.LoadAndValidateConfig(a.cfg.Root)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.orch = transfer.New(cfg, a.registry, a.cache, a.log)
	return nil
}

// rememberPicks persists the last interactive choices so the menu can
// preselect them next time. Failures only get logged.
func (a *app) rememberPicks(op string, pkg *config.Package, targets []*config.Target) {
	a.state.LastOperation = op
	if pkg != nil {
		a.state.LastPackage = pkg.Name
	}
	if len(targets) == 1 {
		a.state.LastTarget = targets[0].Name
	}
	if err := a.state.Save(a.cfg.Root); err != nil {
		a.log.WithError(err).Debug("saving local state")
	}
}

func (a *app) packageNames() []string {
	names := make([]string, len(a.cfg.Packages))
	for i, p := range a.cfg.Packages {
		names[i] = p.Name
	}
	return names
}

func (a *app) targetNames() []string {
	names := make([]string, len(a.cfg.Targets))
	for i, t := range a.cfg.Targets {
		names[i] = t.Name
	}
	return names
}

// resolvePackage turns the optional positional argument into a package:
// named lookup, the only package when there is just one, otherwise an
// interactive pick.
func (a *app) resolvePackage(name string) (*config.Package, error) {
	if name != "" {
		pkg, ok := a.cfg.PackageByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown package %q (configured: %s)",
				name, strings.Join(a.packageNames(), ", "))
		}
		return pkg, nil
	}
	switch len(a.cfg.Packages) {
	case 0:
		return nil, errors.New("no packages configured, add a packages: section first")
	case 1:
		return a.cfg.Packages[0], nil
	}
	if !stdinIsTerminal() {
		return nil, fmt.Errorf("several packages configured, name one of: %s",
			strings.Join(a.packageNames(), ", "))
	}
	return a.pickPackage()
}

// resolveTargets applies --target flags, falling back to the package's
// configured target list.
func (a *app) resolveTargets(pkg *config.Package, names []string) ([]*config.Target, error) {
	if len(names) > 0 {
		out := make([]*config.Target, 0, len(names))
		for _, n := range names {
			t, ok := a.cfg.TargetByName(n)
			if !ok {
				return nil, fmt.Errorf("unknown target %q (configured: %s)",
					n, strings.Join(a.targetNames(), ", "))
			}
			out = append(out, t)
		}
		return out, nil
	}
	targets := a.cfg.TargetsFor(pkg)
	if len(targets) == 0 {
		return nil, fmt.Errorf("package %s names no targets, set targets: or pass --target", pkg.Name)
	}
	return targets, nil
}

// packageFiles globs the package's files under the workspace root.
func (a *app) packageFiles(pkg *config.Package) ([]fileset.FileInfo, error) {
	m := fileset.NewMatcher(pkg.FilePatterns(), pkg.Exclude)
	ign := config.NewIgnoreCache(a.cfg.Root)
	return fileset.List(a.cfg.Root, m, ign)
}

// gitChangedFiles selects from git's changed set instead of the
// package globs. The package excludes and the ignore file still apply.
func (a *app) gitChangedFiles(ctx context.Context, pkg *config.Package, ref string) ([]fileset.FileInfo, error) {
	m := fileset.NewMatcher([]string{"**"}, pkg.Exclude)
	ign := config.NewIgnoreCache(a.cfg.Root)
	return gitfiles.Select(ctx, a.cfg.Root, ref, m, ign)
}

// runSpec is one operation fanned out over a target list.
type runSpec struct {
	op          transfer.Operation
	pkg         *config.Package
	targets     []*config.Target
	files       []fileset.FileInfo
	paths       []string
	changedOnly bool
}

// run fans the operation out target by target, aggregating failures. A
// cancelled operation stops the remaining targets.
func (a *app) run(ctx context.Context, sp runSpec) error {
	var merr *multierror.Error
	for _, t := range sp.targets {
		req := &transfer.Request{
			Operation: sp.op,
			Target:    t,
			Package:   sp.pkg,
			Files:     sp.files,
			Paths:     sp.paths,
		}
		if sp.op == transfer.OpDeploy {
			if sp.changedOnly {
				req.Files = a.changedFor(t, sp.files)
				if len(req.Files) == 0 {
					a.printer.Warnf("%s: everything already deployed, skipping", t.Name)
					continue
				}
			}
			pkg := sp.pkg
			req.Reload = func() ([]fileset.FileInfo, error) {
				if pkg == nil {
					return req.Files, nil
				}
				return a.packageFiles(pkg)
			}
		}
		_, err := a.orch.Run(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				a.rememberPicks(string(sp.op), sp.pkg, sp.targets)
				return &exitCoder{ExitCancelled, errors.New("operation cancelled")}
			}
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", t.Name, err))
		}
	}
	a.rememberPicks(string(sp.op), sp.pkg, sp.targets)
	if err := merr.ErrorOrNil(); err != nil {
		return &exitCoder{ExitFailed, err}
	}
	return nil
}

// changedFor drops files whose cached hash says the target already has
// them.
func (a *app) changedFor(t *config.Target, files []fileset.FileInfo) []fileset.FileInfo {
	out := make([]fileset.FileInfo, 0, len(files))
	for _, f := range files {
		deploy, err := a.cache.ShouldDeploy(t.NormalizedName(), f.Abs)
		if err != nil || deploy {
			out = append(out, f)
		}
	}
	return out
}

// dryRun prints what would happen without touching any target.
func (a *app) dryRun(sp runSpec) {
	rels := sp.paths
	if sp.op == transfer.OpDeploy {
		rels = make([]string, len(sp.files))
		for i, f := range sp.files {
			rels[i] = f.Rel
		}
	}
	names := make([]string, len(sp.targets))
	for i, t := range sp.targets {
		names[i] = t.Name
	}
	a.printer.Printf("dry run: %s %s → %s\n",
		sp.op, util.Plural(len(rels), "file", "files"), strings.Join(names, ", "))
	sort.Strings(rels)
	for _, rel := range rels {
		a.printer.Printf("  %s\n", rel)
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a y/N question. Non-interactive runs and --yes answer
// yes.
func confirm(label string, assumeYes bool) bool {
	if assumeYes || !stdinIsTerminal() {
		return true
	}
	prompt := promptui.Prompt{Label: label + " (y/N)"}
	answer, err := prompt.Run()
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// pickPackage shows a promptui select over the configured packages,
// preselecting the previous choice.
func (a *app) pickPackage() (*config.Package, error) {
	items := make([]string, len(a.cfg.Packages))
	cursor := 0
	for i, p := range a.cfg.Packages {
		label := p.Name
		if p.Description != "" {
			label = fmt.Sprintf("%s :: %s", p.Name, p.Description)
		}
		items[i] = label
		if config.NormalizeName(p.Name) == config.NormalizeName(a.state.LastPackage) {
			cursor = i
		}
	}
	prompt := promptui.Select{
		Label:     "Select a package",
		Items:     items,
		CursorPos: cursor,
		Size:      10,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return nil, err
	}
	return a.cfg.Packages[idx], nil
}

// pickTargets offers the package's targets plus an "all of them" entry
// when the package deploys to more than one.
func (a *app) pickTargets(pkg *config.Package) ([]*config.Target, error) {
	targets := a.cfg.TargetsFor(pkg)
	if len(targets) == 0 {
		targets = a.cfg.Targets
	}
	if len(targets) == 1 {
		return targets, nil
	}

	items := make([]string, 0, len(targets)+1)
	items = append(items, fmt.Sprintf("all %d targets", len(targets)))
	cursor := 0
	for i, t := range targets {
		items = append(items, fmt.Sprintf("%s (%s)", t.Name, t.NormalizedType()))
		if config.NormalizeName(t.Name) == config.NormalizeName(a.state.LastTarget) {
			cursor = i + 1
		}
	}
	prompt := promptui.Select{
		Label:     "Select a target",
		Items:     items,
		CursorPos: cursor,
		Size:      10,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return nil, err
	}
	if idx == 0 {
		return targets, nil
	}
	return []*config.Target{targets[idx-1]}, nil
}

// pickTarget selects a single target from the whole config.
func (a *app) pickTarget() (*config.Target, error) {
	items := make([]string, len(a.cfg.Targets))
	cursor := 0
	for i, t := range a.cfg.Targets {
		label := fmt.Sprintf("%s (%s)", t.Name, t.NormalizedType())
		if t.Description != "" {
			label += " :: " + t.Description
		}
		items[i] = label
		if config.NormalizeName(t.Name) == config.NormalizeName(a.state.LastTarget) {
			cursor = i
		}
	}
	prompt := promptui.Select{
		Label:     "Select a target",
		Items:     items,
		CursorPos: cursor,
		Size:      10,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return nil, err
	}
	return a.cfg.Targets[idx], nil
}
