package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/events"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

// menuEntry binds a menu line to its action. Quick entries from
// package buttons run a preconfigured deploy, the rest map to the
// subcommand surface.
type menuEntry struct {
	label string
	op    string
	run   func(ctx context.Context, a *app) (bool, error)
}

func menuEntries(a *app) []menuEntry {
	var entries []menuEntry

	for _, pkg := range a.cfg.Packages {
		if pkg.Button == nil {
			continue
		}
		pkg := pkg
		label := pkg.Button.Label
		if label == "" {
			label = "Deploy " + pkg.Name
		}
		entries = append(entries, menuEntry{
			label: "🔘 " + label,
			run: func(ctx context.Context, a *app) (bool, error) {
				menuButtonDeploy(ctx, a, pkg)
				return true, nil
			},
		})
	}

	entries = append(entries,
		menuEntry{"deploy :: Deploy a package", "deploy", menuDeploy},
		menuEntry{"pull :: Pull files back from a target", "pull", menuPull},
		menuEntry{"delete :: Delete deployed files on a target", "delete", menuDelete},
		menuEntry{"git :: Deploy files changed in git", "git", menuGitDeploy},
		menuEntry{"sync :: Run sync-when-open checks", "sync", menuSync},
		menuEntry{"watch :: Watch files and deploy on change", "watch", menuWatch},
		menuEntry{"list :: Browse a target's directory", "list", menuList},
		menuEntry{"status :: Show targets and packages", "", menuStatus},
		menuEntry{"reload :: Reload configuration", "", menuReload},
		menuEntry{"exit :: Quit", "", func(context.Context, *app) (bool, error) {
			fmt.Println("Exiting...")
			events.GlobalBus.Publish(events.EventShutdownRequested, "menu exit")
			return false, nil
		}},
	)
	return entries
}

func showMainMenu(ctx context.Context, a *app) (bool, error) {
	entries := menuEntries(a)

	items := make([]string, len(entries))
	cursor := 0
	for i, e := range entries {
		items[i] = e.label
		if e.op != "" && e.op == a.state.LastOperation {
			cursor = i
		}
	}

	prompt := promptui.Select{
		Label:     "Select an option",
		Items:     items,
		CursorPos: cursor,
		Size:      len(items),
	}
	idx, _, err := prompt.Run()
	if err != nil {
		// Ctrl+C inside the prompt ends the menu, not the process
		// with an error.
		fmt.Printf("Prompt failed %v\n", err)
		return false, nil
	}
	return entries[idx].run(ctx, a)
}

// menuButtonDeploy runs a package button: deploy the package to its
// button target, falling back to the package's target list.
func menuButtonDeploy(ctx context.Context, a *app, pkg *config.Package) {
	var names []string
	if pkg.Button.Target != "" {
		names = []string{pkg.Button.Target}
	}
	targets, err := a.resolveTargets(pkg, names)
	if err != nil {
		a.printer.Errorf("%v", err)
		return
	}
	files, err := a.packageFiles(pkg)
	if err != nil {
		a.printer.Errorf("%v", err)
		return
	}
	reportMenuRun(a, a.run(ctx, runSpec{
		op:      transfer.OpDeploy,
		pkg:     pkg,
		targets: targets,
		files:   files,
	}))
}

func menuDeploy(ctx context.Context, a *app) (bool, error) {
	pkg, targets, ok := pickPackageAndTargets(a)
	if !ok {
		return true, nil
	}
	files, err := a.packageFiles(pkg)
	if err != nil {
		a.printer.Errorf("%v", err)
		return true, nil
	}
	reportMenuRun(a, a.run(ctx, runSpec{
		op:      transfer.OpDeploy,
		pkg:     pkg,
		targets: targets,
		files:   files,
	}))
	return true, nil
}

func menuPull(ctx context.Context, a *app) (bool, error) {
	pkg, targets, ok := pickPackageAndTargets(a)
	if !ok {
		return true, nil
	}
	files, err := a.packageFiles(pkg)
	if err != nil {
		a.printer.Errorf("%v", err)
		return true, nil
	}
	reportMenuRun(a, a.run(ctx, runSpec{
		op:      transfer.OpPull,
		pkg:     pkg,
		targets: targets,
		paths:   relsOf(files),
	}))
	return true, nil
}

func menuDelete(ctx context.Context, a *app) (bool, error) {
	pkg, targets, ok := pickPackageAndTargets(a)
	if !ok {
		return true, nil
	}
	files, err := a.packageFiles(pkg)
	if err != nil {
		a.printer.Errorf("%v", err)
		return true, nil
	}
	if !confirm(fmt.Sprintf("Delete %s on %s?",
		util.Plural(len(files), "file", "files"), targetList(targets)), false) {
		fmt.Println("Deletion cancelled")
		return true, nil
	}
	reportMenuRun(a, a.run(ctx, runSpec{
		op:      transfer.OpDelete,
		pkg:     pkg,
		targets: targets,
		paths:   relsOf(files),
	}))
	return true, nil
}

func menuGitDeploy(ctx context.Context, a *app) (bool, error) {
	pkg, targets, ok := pickPackageAndTargets(a)
	if !ok {
		return true, nil
	}
	refPrompt := promptui.Prompt{Label: "Git ref (empty = working tree changes)"}
	ref, err := refPrompt.Run()
	if err != nil {
		return true, nil
	}
	files, err := a.gitChangedFiles(ctx, pkg, strings.TrimSpace(ref))
	if err != nil {
		a.printer.Errorf("%v", err)
		return true, nil
	}
	if len(files) == 0 {
		a.printer.Warnf("git reports no changed files for %s", pkg.Name)
		return true, nil
	}
	reportMenuRun(a, a.run(ctx, runSpec{
		op:      transfer.OpDeploy,
		pkg:     pkg,
		targets: targets,
		files:   files,
	}))
	return true, nil
}

func menuSync(ctx context.Context, a *app) (bool, error) {
	pulled, err := a.syncer().SyncAll(ctx)
	if err != nil {
		a.printer.Errorf("sync: %v", err)
		return true, nil
	}
	a.printer.Successf("sync done, pulled %s", util.Plural(pulled, "file", "files"))
	return true, nil
}

func menuWatch(ctx context.Context, a *app) (bool, error) {
	if err := runWatchMode(ctx, a, stdinIsTerminal()); err != nil && ctx.Err() == nil {
		a.printer.Errorf("watch: %v", err)
	}
	return true, nil
}

func menuList(ctx context.Context, a *app) (bool, error) {
	target, err := a.pickTarget()
	if err != nil {
		return true, nil
	}
	dirPrompt := promptui.Prompt{Label: "Directory", Default: "/"}
	dir, err := dirPrompt.Run()
	if err != nil {
		return true, nil
	}
	entries, err := a.orch.List(ctx, target, strings.TrimSpace(dir))
	if err != nil {
		a.printer.Errorf("list %s: %v", target.Name, err)
		return true, nil
	}
	printEntries(a, target.Name, dir, entries)
	return true, nil
}

func menuStatus(_ context.Context, a *app) (bool, error) {
	printTargets(a)
	fmt.Println()
	printPackages(a)
	return true, nil
}

func menuReload(_ context.Context, a *app) (bool, error) {
	fmt.Println("🔄 Reloading configuration...")
	if err := a.reload(); err != nil {
		a.printer.Errorf("reload failed: %v", err)
		fmt.Println("💡 Continuing with the current configuration")
		return true, nil
	}
	a.printer.Successf("configuration reloaded")
	return true, nil
}

// pickPackageAndTargets chains the two prompts. A prompt abort (Ctrl+C,
// esc) just returns to the menu.
func pickPackageAndTargets(a *app) (*config.Package, []*config.Target, bool) {
	pkg, err := a.pickPackage()
	if err != nil {
		return nil, nil, false
	}
	targets, err := a.pickTargets(pkg)
	if err != nil {
		return nil, nil, false
	}
	return pkg, targets, true
}

// reportMenuRun prints run failures instead of ending the menu loop.
func reportMenuRun(a *app, err error) {
	if err == nil {
		return
	}
	a.printer.Errorf("%v", err)
}

func targetList(targets []*config.Target) string {
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}
