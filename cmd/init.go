package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"deploy-reloaded/internal/config"
	"deploy-reloaded/internal/history"
)

const starterConfig = `# deploy-reloaded workspace configuration
# Targets are named destinations, packages select which files go where.

vars:
  app_name: my-app

targets:
  - name: dist
    type: local
    description: Local build mirror
    dir: ./.deploy_out

  # - name: staging
  #   type: sftp
  #   host: staging.example.com
  #   port: 22
  #   user: deploy
  #   private_key: ~/.ssh/id_ed25519
  #   dir: /srv/${app_name}
  #   prepare:
  #     - type: script
  #       command: npm run build
  #       reload_files: true
  #   after:
  #     - type: http
  #       url: https://staging.example.com/internal/reload
  #       method: POST

packages:
  - name: app
    description: Everything except local scratch
    files:
      - "**"
    exclude:
      - "*.log"
    targets:
      - dist
    deploy_on_change: true
    button:
      label: Deploy ${app_name}
`

const starterIgnore = `# Development files
.git
.DS_Store
Thumbs.db

# Dependencies
node_modules

# IDE files
.vscode
.idea

# Log files
*.log

# Temporary files
*.tmp
*.swp
*.bak
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a workspace",
	Long:  `Generate a starter ` + config.ConfigFileName + ` and ` + config.IgnoreFileName + ` in the current directory.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		fmt.Printf("You are in: %s\n", cwd)

		cfgPath := filepath.Join(cwd, config.ConfigFileName)
		if _, err := os.Stat(cfgPath); err == nil {
			fmt.Println("Config file already exists.")
			return nil
		}

		if err := os.WriteFile(cfgPath, []byte(starterConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", config.ConfigFileName, err)
		}
		fmt.Printf("✅ Created %s\n", config.ConfigFileName)

		ignPath := filepath.Join(cwd, config.IgnoreFileName)
		if _, err := os.Stat(ignPath); os.IsNotExist(err) {
			if werr := os.WriteFile(ignPath, []byte(starterIgnore), 0o644); werr != nil {
				fmt.Printf("⚠️  Failed to create %s: %v\n", config.IgnoreFileName, werr)
			} else {
				fmt.Printf("✅ Created %s with default ignore patterns\n", config.IgnoreFileName)
			}
		}

		_ = history.Touch(cwd)

		fmt.Println("💡 Edit the targets section, then run 'deploy-reloaded' for the menu")
		return nil
	},
}
