package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/fileset"
	"deploy-reloaded/internal/transfer"
	"deploy-reloaded/internal/util"
)

// gitWorktree is the sentinel NoOptDefVal for a bare --git: select the
// working tree changes instead of diffing against a ref.
const gitWorktree = "@worktree"

var (
	flagDeployTargets []string
	flagDeployGit     string
	flagChangedOnly   bool
	flagDeployDryRun  bool
	flagDeployYes     bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy [package]",
	Short: "Deploy a package's files to its targets",
	Long: `Globs the package's files under the workspace root and uploads them to
every target the package names (or the ones given with --target).

With --git the selection comes from git instead: the staged and
unstaged changes of the working tree, or with --git=<ref> the files
that differ from that ref. Package excludes and .deployignore still
apply.`,
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
		targets, err := a.resolveTargets(pkg, flagDeployTargets)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		var files []fileset.FileInfo
		if cmd.Flags().Changed("git") {
			ref := flagDeployGit
			if ref == gitWorktree {
				ref = ""
			}
			files, err = a.gitChangedFiles(ctx, pkg, ref)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				a.printer.Warnf("git reports no changed files for %s", pkg.Name)
				return nil
			}
			if !flagDeployDryRun && !confirm(fmt.Sprintf("Deploy %s to %s?",
				util.Plural(len(files), "changed file", "changed files"), targetList(targets)), flagDeployYes) {
				fmt.Println("Deploy cancelled")
				return nil
			}
		} else {
			files, err = a.packageFiles(pkg)
			if err != nil {
				return err
			}
		}

		sp := runSpec{
			op:          transfer.OpDeploy,
			pkg:         pkg,
			targets:     targets,
			files:       files,
			changedOnly: flagChangedOnly,
		}
		if flagDeployDryRun {
			a.dryRun(sp)
			return nil
		}
		return a.run(ctx, sp)
	},
}

func init() {
	f := deployCmd.Flags()
	f.StringArrayVarP(&flagDeployTargets, "target", "t", nil,
		"deploy to this target instead of the package's list (repeatable)")
	f.StringVar(&flagDeployGit, "git", "",
		"select git-changed files instead of the package globs, optionally against a ref")
	f.Lookup("git").NoOptDefVal = gitWorktree
	f.BoolVar(&flagChangedOnly, "changed-only", false,
		"skip files whose cached hash matches the last deploy")
	f.BoolVar(&flagDeployDryRun, "dry-run", false,
		"print the selection without deploying")
	f.BoolVarP(&flagDeployYes, "yes", "y", false, "answer prompts with yes")
}

// relsOf projects the slash-relative names out of a file selection.
func relsOf(files []fileset.FileInfo) []string {
	rels := make([]string, len(files))
	for i, f := range files {
		rels[i] = f.Rel
	}
	return rels
}
