package cmd

import (
	"github.com/spf13/cobra"

	"deploy-reloaded/internal/transfer"
)

var (
	flagPullTargets []string
	flagPullDryRun  bool
)

var pullCmd = &cobra.Command{
	Use:   "pull [package]",
	Short: "Pull a package's files back from a target",
	Long: `Downloads the package's files from the target into the workspace,
overwriting the local copies. The file list is the package's globs
matched against the workspace, so only files that exist locally are
fetched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		pkg, err := a.resolvePackage(name)
		if err != nil {
			return err
		}
		targets, err := a.resolveTargets(pkg, flagPullTargets)
		if err != nil {
			return err
		}
		files, err := a.packageFiles(pkg)
		if err != nil {
			return err
		}

		sp := runSpec{
			op:      transfer.OpPull,
			pkg:     pkg,
			targets: targets,
			paths:   relsOf(files),
		}
		if flagPullDryRun {
			a.dryRun(sp)
			return nil
		}
		return a.run(cmd.Context(), sp)
	},
}

func init() {
	f := pullCmd.Flags()
	f.StringArrayVarP(&flagPullTargets, "target", "t", nil,
		"pull from this target instead of the package's list (repeatable)")
	f.BoolVar(&flagPullDryRun, "dry-run", false,
		"print the selection without pulling")
}
