package cmd

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/plugin/builtin"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Show the configured targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		printTargets(a)
		return nil
	},
}

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Show the configured packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()
		printPackages(a)
		return nil
	},
}

func printTargets(a *app) {
	known := map[string]bool{}
	for _, t := range builtin.NewRegistry().Types() {
		known[t] = true
	}

	a.printer.Printf("🎯 targets (%d)\n", len(a.cfg.Targets))
	for _, t := range a.cfg.Targets {
		line := "  " + t.Name + " (" + t.NormalizedType() + ")"
		if !known[t.NormalizedType()] {
			line += " ⚠️ no plugin for this type"
		}
		if t.Description != "" {
			line += " :: " + t.Description
		}
		if a.orch.Sessions().Busy(t.NormalizedName()) {
			line += " [busy]"
		}
		a.printer.Println(line)
		if hooks := hookSummary(t); hooks != "" {
			a.printer.Printf("      hooks: %s\n", hooks)
		}
	}
}

func printPackages(a *app) {
	a.printer.Printf("📦 packages (%d)\n", len(a.cfg.Packages))
	for _, p := range a.cfg.Packages {
		line := "  " + p.Name
		if p.Description != "" {
			line += " :: " + p.Description
		}
		a.printer.Println(line)
		a.printer.Printf("      files: %s", strings.Join(p.FilePatterns(), ", "))
		if len(p.Exclude) > 0 {
			a.printer.Printf("  exclude: %s", strings.Join(p.Exclude, ", "))
		}
		a.printer.Println()
		if len(p.Targets) > 0 {
			a.printer.Printf("      targets: %s\n", strings.Join(p.Targets, ", "))
		}
		if triggers := triggerSummary(p); triggers != "" {
			a.printer.Printf("      triggers: %s\n", triggers)
		}
	}
}

func hookSummary(t *config.Target) string {
	var parts []string
	if n := len(t.Prepare); n > 0 {
		parts = append(parts, "prepare x"+strconv.Itoa(n))
	}
	if n := len(t.Before); n > 0 {
		parts = append(parts, "before x"+strconv.Itoa(n))
	}
	if n := len(t.After); n > 0 {
		parts = append(parts, "after x"+strconv.Itoa(n))
	}
	return strings.Join(parts, ", ")
}

func triggerSummary(p *config.Package) string {
	var parts []string
	if p.DeployOnSave.Enabled {
		parts = append(parts, "deploy_on_save")
	}
	if p.DeployOnChange.Enabled {
		parts = append(parts, "deploy_on_change")
	}
	if p.RemoveOnChange.Enabled {
		parts = append(parts, "remove_on_change")
	}
	if p.SyncWhenOpen.Enabled {
		parts = append(parts, "sync_when_open")
	}
	return strings.Join(parts, ", ")
}
