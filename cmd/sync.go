package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/syncer"
	"deploy-reloaded/internal/util"
)

var syncCmd = &cobra.Command{
	Use:   "sync [package]",
	Short: "Pull remotely newer files for sync-when-open packages",
	Long: `Walks the packages with sync_when_open enabled, lists their files on
each target and downloads the ones whose remote copy is newer than the
local file. A per-file check stamp in the state cache keeps repeat runs
inside the configured window cheap.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		s := a.syncer()

		var pulled int
		if len(args) == 1 {
			pkg, rerr := a.resolvePackage(args[0])
			if rerr != nil {
				return rerr
			}
			pulled, err = s.SyncPackage(ctx, pkg)
		} else {
			pulled, err = s.SyncAll(ctx)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return &exitCoder{ExitCancelled, errors.New("sync cancelled")}
			}
			return &exitCoder{ExitFailed, err}
		}
		a.printer.Successf("sync done, pulled %s", util.Plural(pulled, "file", "files"))
		a.rememberPicks("sync", nil, nil)
		return nil
	},
}

// syncer builds the sync pass on the app's shared services.
func (a *app) syncer() *syncer.Syncer {
	return syncer.New(a.cfg, a.orch, a.registry, a.cache, a.log)
}
