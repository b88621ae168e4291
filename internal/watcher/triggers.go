package watcher

import (
	"sort"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/logging"
	"deploy-reloaded/internal/transfer"
)

// Kind classifies a filesystem event for trigger evaluation.
type Kind int

const (
	KindCreate Kind = iota
	KindWrite
	KindRemove
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindWrite:
		return "write"
	case KindRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Action is one (package, target, operation) run the watcher decided
// on, with the files that caused it.
type Action struct {
	Package *config.Package
	Target  *config.Target
	Op      transfer.Operation
	Rels    []string
}

// Evaluate maps one event burst onto deduplicated actions. Create and
// write events feed deploy_on_save and deploy_on_change, removes feed
// remove_on_change. A path fires a trigger when it matches the
// trigger's globs (fast check) or the re-globbed package contains it
// (full check). A file hit by both deploy settings, or by several
// paths of the same burst, still yields one action per target.
func Evaluate(cfg *config.Config, ign *config.IgnoreCache, burst map[string]Kind, log logging.Interface) []Action {
	type actionKey struct {
		pkg, target string
		op          transfer.Operation
	}
	merged := map[actionKey]*Action{}

	add := func(pkg *config.Package, target *config.Target, op transfer.Operation, rel string) {
		k := actionKey{pkg.NormalizedName(), target.NormalizedName(), op}
		a, ok := merged[k]
		if !ok {
			a = &Action{Package: pkg, Target: target, Op: op}
			merged[k] = a
		}
		for _, r := range a.Rels {
			if r == rel {
				return
			}
		}
		a.Rels = append(a.Rels, rel)
	}

	for _, pkg := range cfg.Packages {
		for rel, kind := range burst {
			var op transfer.Operation
			var triggers []config.TriggerSetting
			switch kind {
			case KindCreate, KindWrite:
				op = transfer.OpDeploy
				triggers = []config.TriggerSetting{pkg.DeployOnSave, pkg.DeployOnChange}
			case KindRemove:
				op = transfer.OpDelete
				triggers = []config.TriggerSetting{pkg.RemoveOnChange}
			default:
				continue
			}
			for _, tr := range triggers {
				if !tr.Enabled {
					continue
				}
				hit, err := matches(cfg, ign, pkg, tr, rel, kind)
				if err != nil {
					log.Warnf("trigger check for %s in package %s: %v", rel, pkg.Name, err)
					continue
				}
				if !hit {
					continue
				}
				for _, target := range triggerTargets(cfg, pkg, tr, log) {
					add(pkg, target, op, rel)
				}
			}
		}
	}

	actions := make([]Action, 0, len(merged))
	for _, a := range merged {
		sort.Strings(a.Rels)
		actions = append(actions, *a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Package.Name != actions[j].Package.Name {
			return actions[i].Package.Name < actions[j].Package.Name
		}
		if actions[i].Target.Name != actions[j].Target.Name {
			return actions[i].Target.Name < actions[j].Target.Name
		}
		return actions[i].Op < actions[j].Op
	})
	return actions
}

// matches runs the trigger's membership check for one path. Removed
// files cannot be found by re-globbing the workspace, so removes always
// take the direct glob match.
func matches(cfg *config.Config, ign *config.IgnoreCache, pkg *config.Package, tr config.TriggerSetting, rel string, kind Kind) (bool, error) {
	includes := tr.Files
	if len(includes) == 0 {
		includes = pkg.FilePatterns()
	}
	excludes := append(append([]string{}, pkg.Exclude...), tr.Exclude...)
	m := fileset.NewMatcher(includes, excludes)
	if tr.UseFastCheck() || kind == KindRemove {
		return m.Match(rel), nil
	}
	return fileset.Contains(cfg.Root, m, ign, rel)
}

func triggerTargets(cfg *config.Config, pkg *config.Package, tr config.TriggerSetting, log logging.Interface) []*config.Target {
	names := tr.Targets
	if len(names) == 0 {
		return cfg.TargetsFor(pkg)
	}
	out := make([]*config.Target, 0, len(names))
	for _, n := range names {
		t, ok := cfg.TargetByName(n)
		if !ok {
			log.Warnf("trigger names unknown target %q", n)
			continue
		}
		out = append(out, t)
	}
	return out
}
