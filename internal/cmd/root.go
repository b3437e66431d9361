// Package cmd wires the capd CLI's command tree: daemon lifecycle,
// diagnostics, hook installation, and the bundled ops dashboard. The
// group-tagged subcommand layout is grounded on the gastown CLI's
// GroupID-tagged command groups.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	GroupDaemon = "daemon"
	GroupDiag   = "diag"
	GroupHooks  = "hooks"
)

var rootCmd = &cobra.Command{
	Use:   "capd",
	Short: "Capacitor daemon: observes assistant CLI sessions over a local socket",
	Long: `capd is a single-writer background daemon that observes hook events from
locally running AI assistant CLI sessions, maintains durable session and
shell state, and answers read-only status queries over a Unix domain
socket.`,
	RunE: requireSubcommand,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupDaemon, Title: "Daemon Commands:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostic Commands:"},
		&cobra.Group{ID: GroupHooks, Title: "Hook Commands:"},
	)
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

// Execute runs the CLI and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "capd:", err)
		return 1
	}
	return 0
}
