package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/capacitor-hq/capd/internal/hooks"
)

var hooksCmd = &cobra.Command{
	Use:     "hooks",
	Short:   "Manage the assistant CLI's settings.json hook wiring",
	GroupID: GroupHooks,
	RunE:    requireSubcommand,
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install capd's hook-forward entries into settings.json",
	RunE:  runHooksInstall,
}

func init() {
	hooksCmd.AddCommand(hooksInstallCmd)
	rootCmd.AddCommand(hooksCmd)
}

func runHooksInstall(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	settingsPath := filepath.Join(home, ".claude", "settings.json")

	changed, err := hooks.Install(settingsPath)
	if err != nil {
		return fmt.Errorf("installing hooks: %w", err)
	}
	if changed {
		fmt.Printf("installed capd hooks into %s\n", settingsPath)
	} else {
		fmt.Printf("%s already has capd's hooks installed\n", settingsPath)
	}
	return nil
}
