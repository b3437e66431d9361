package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/capacitor-hq/capd/internal/doctor"
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	Short:   "Run local diagnostics against the daemon, store, and hook setup",
	GroupID: GroupDiag,
	RunE:    runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	paths, err := resolveRuntimePaths()
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	env := doctor.Env{
		SocketPath:   paths.socket,
		DBPath:       paths.db,
		HomeDir:      home,
		SettingsPath: filepath.Join(home, ".claude", "settings.json"),
	}

	results := doctor.NewRegistry().RunAll(context.Background(), env)

	failed := 0
	for _, r := range results {
		if r.Status == doctor.StatusFail {
			failed++
		}
	}

	fmt.Print(renderDoctorReport(results))
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

// renderDoctorReport formats the check results as Markdown, rendered
// through glamour when stdout is a terminal; otherwise it falls back to
// the plain Markdown source so piped output (e.g. to a file or CI log)
// stays readable without ANSI escapes.
func renderDoctorReport(results []doctor.Result) string {
	var md strings.Builder
	md.WriteString("# capd doctor\n\n")

	byCategory := map[doctor.Category][]doctor.Result{}
	var order []doctor.Category
	for _, r := range results {
		if _, seen := byCategory[r.Category]; !seen {
			order = append(order, r.Category)
		}
		byCategory[r.Category] = append(byCategory[r.Category], r)
	}

	for _, cat := range order {
		md.WriteString(fmt.Sprintf("## %s\n\n", cat))
		for _, r := range byCategory[cat] {
			md.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", r.Name, r.Status, r.Detail))
		}
		md.WriteString("\n")
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return md.String()
	}

	rendered, err := glamour.Render(md.String(), "dark")
	if err != nil {
		return md.String()
	}
	return rendered
}
