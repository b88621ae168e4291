package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/util"
)

var listCmd = &cobra.Command{
	Use:   "list <target> [dir]",
	Short: "List a directory on a target",
	Long: `Asks the target's plugin for a directory listing and prints it,
directories first. The directory defaults to the target's root.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		target, ok := a.cfg.TargetByName(args[0])
		if !ok {
			return fmt.Errorf("unknown target %q", args[0])
		}
		dir := ""
		if len(args) == 2 {
			dir = args[1]
		}

		entries, err := a.orch.List(cmd.Context(), target, dir)
		if err != nil {
			return &exitCoder{ExitFailed, fmt.Errorf("list %s: %w", target.Name, err)}
		}
		printEntries(a, target.Name, dir, entries)
		return nil
	},
}

func printEntries(a *app, target, dir string, entries []plugin.Entry) {
	if dir == "" {
		dir = "/"
	}
	a.printer.Printf("📂 %s:%s (%s)\n", target, dir,
		util.Plural(len(entries), "entry", "entries"))

	sorted := make([]plugin.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].IsDir != sorted[j].IsDir {
			return sorted[i].IsDir
		}
		return sorted[i].Name < sorted[j].Name
	})

	for _, e := range sorted {
		if e.IsDir {
			a.printer.Printf("  %10s  %16s  📁 %s/\n", "", modtime(e), e.Name)
			continue
		}
		a.printer.Printf("  %10s  %16s  %s\n", util.FormatBytes(e.Size), modtime(e), e.Name)
	}
}

func modtime(e plugin.Entry) string {
	if e.ModTime.IsZero() {
		return ""
	}
	return e.ModTime.Format("2006-01-02 15:04")
}
