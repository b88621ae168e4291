package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/tui"
	"deploy-reloaded/internal/watcher"
)

var flagNoTUI bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the workspace and deploy on change",
	Long: `Watches the workspace recursively and runs the configured auto
triggers: writes feed deploy_on_save / deploy_on_change, removals feed
remove_on_change, and new files of sync_when_open packages get a sync
check. Events are debounced per burst and each (package, target) pair
runs at most once per burst, serialized per target.

By default a status view renders activity; keys: p pause, r reload the
configuration, s toggle stats, q quit. With --no-tui plain status lines
are printed instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		useTUI := !flagNoTUI && stdinIsTerminal()
		if err := runWatchMode(cmd.Context(), a, useTUI); err != nil && cmd.Context().Err() == nil {
			return &exitCoder{ExitFailed, err}
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&flagNoTUI, "no-tui", false,
		"print plain status lines instead of the status view")
}

func runWatchMode(ctx context.Context, a *app, useTUI bool) error {
	w := watcher.New(a.cfg, a.orch, a.cache, a.log)

	s := a.syncer()
	w.OnSync = func(pkg *config.Package, rels []string) {
		if _, err := s.SyncPaths(ctx, pkg, rels); err != nil && ctx.Err() == nil {
			a.log.WithError(err).Warn("sync pass failed")
		}
	}

	if !hasTriggers(a.cfg) {
		a.printer.Warnf("no package enables deploy_on_save, deploy_on_change or remove_on_change, watching anyway")
	}

	if !useTUI {
		return w.Run(ctx)
	}
	return tui.RunWatch(ctx, tui.WatchOptions{
		Watcher:   w,
		Workspace: a.cfg.Root,
		Targets:   len(a.cfg.Targets),
		Packages:  len(a.cfg.Packages),
		Reload: func() error {
			if err := a.reload(); err != nil {
				return err
			}
			w.UpdateConfig(a.cfg)
			return nil
		},
	})
}

func hasTriggers(cfg *config.Config) bool {
	for _, p := range cfg.Packages {
		if p.DeployOnSave.Enabled || p.DeployOnChange.Enabled || p.RemoveOnChange.Enabled {
			return true
		}
	}
	return false
}
