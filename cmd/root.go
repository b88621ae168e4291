package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/history"
)

var flagResetCache bool

var rootCmd = &cobra.Command{
	Use:   "deploy-reloaded",
	Short: "Deploy workspace files to configured targets",
	Long: `A CLI tool that deploys, pulls, deletes and synchronizes glob-selected
workspace files against named targets (sftp, ftp, s3, azure, local
folders and more), with per-target serialization, hook operations and
a watch mode that deploys on change.

Run it without arguments inside a workspace for the interactive menu.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cwd, _ := os.Getwd()
		if _, err := config.FindWorkspaceRoot(cwd); err != nil {
			fmt.Printf("No %s found in %s or any parent.\n", config.ConfigFileName, cwd)
			fmt.Println("USAGE:")
			fmt.Println("Create a workspace first by running.")
			fmt.Println("deploy-reloaded init")
			fmt.Println("------------------------------")

			picked := ""
			if stdinIsTerminal() {
				picked = pickRecentWorkspace()
			}
			if picked == "" {
				return &exitCoder{ExitUsage, err}
			}
			if err := os.Chdir(picked); err != nil {
				return &exitCoder{ExitFailed, fmt.Errorf("failed to open %s: %w", picked, err)}
			}
			fmt.Printf("📂 Switched to %s\n", picked)
		}

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// Menu loop, back to the top after every finished action.
		for {
			select {
			case <-ctx.Done():
				fmt.Println("⏹ Cancelled")
				return nil
			default:
			}
			cont, err := showMainMenu(ctx, a)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagResetCache, "reset-cache", false,
		"clear the deploy state cache before running")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(packagesCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(ExitCode(err))
	}
}

// ExecuteContext runs the root command with a supplied context for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// pickRecentWorkspace offers previously used workspaces and returns the
// chosen path, or "" when none are recorded or the user backs out.
func pickRecentWorkspace() string {
	for {
		paths := history.Recent()
		if len(paths) == 0 {
			return ""
		}

		prompt := promptui.SelectWithAdd{
			Label:    "Recent workspaces (type to search)",
			Items:    paths,
			AddLabel: "Search",
		}
		idx, result, err := prompt.Run()
		if err != nil {
			return ""
		}

		if idx == -1 {
			hits := history.Search(result)
			if len(hits) == 0 {
				fmt.Printf("No workspaces match %q\n", result)
				continue
			}
			sel := promptui.Select{Label: "Search results", Items: hits, Size: 10}
			if _, result, err = sel.Run(); err != nil {
				return ""
			}
		}

		switch recentWorkspaceAction(result) {
		case "open":
			return result
		case "remove":
			if err := history.Remove(result); err != nil {
				fmt.Printf("⚠️  %v\n", err)
			}
		}
	}
}

func recentWorkspaceAction(path string) string {
	sel := promptui.Select{
		Label: fmt.Sprintf("Selected: %s", path),
		Items: []string{"Open workspace", "Remove from history", "Back"},
	}
	_, choice, err := sel.Run()
	if err != nil {
		return "back"
	}
	switch choice {
	case "Open workspace":
		return "open"
	case "Remove from history":
		return "remove"
	}
	return "back"
}
