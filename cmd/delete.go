package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

var (
	flagDeleteTargets []string
	flagDeleteYes     bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete [package]",
	Short: "Delete a package's deployed files on a target",
	Long: `Removes the package's files on the target. The local workspace is
never touched. Asks for confirmation unless --yes is given or stdin is
not a terminal.`,
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
		targets, err := a.resolveTargets(pkg, flagDeleteTargets)
		if err != nil {
			return err
		}
		files, err := a.packageFiles(pkg)
		if err != nil {
			return err
		}

		if !confirm(fmt.Sprintf("Delete %s on %s?",
			util.Plural(len(files), "file", "files"), targetList(targets)), flagDeleteYes) {
			fmt.Println("Deletion cancelled")
			return nil
		}

		return a.run(cmd.Context(), runSpec{
			op:      transfer.OpDelete,
			pkg:     pkg,
			targets: targets,
			paths:   relsOf(files),
		})
	},
}

func init() {
	f := deleteCmd.Flags()
	f.StringArrayVarP(&flagDeleteTargets, "target", "t", nil,
		"delete on this target instead of the package's list (repeatable)")
	f.BoolVarP(&flagDeleteYes, "yes", "y", false, "skip the confirmation prompt")
}
