package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/store"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Live dashboard of project and session state (press q to quit)",
	GroupID: GroupDiag,
	RunE:    runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	paths, err := resolveRuntimePaths()
	if err != nil {
		return err
	}
	if !isDaemonHealthy(paths.socket) {
		return fmt.Errorf("capd is not running; try `capd daemon start`")
	}

	m := newWatchModel(paths.socket)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

var (
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62")).Padding(0, 1)
	watchStateColor  = map[store.SessionState]string{
		store.StateReady:      "42",
		store.StateWorking:    "214",
		store.StateWaiting:    "203",
		store.StateCompacting: "105",
		store.StateIdle:       "244",
		store.StateEnded:      "238",
	}
	watchDimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

type watchTickMsg time.Time

type watchDataMsg struct {
	projects []store.ProjectState
	err      error
}

type watchModel struct {
	socketPath string
	table      table.Model
	err        error
	lastPoll   time.Time
}

func newWatchModel(socketPath string) watchModel {
	columns := []table.Column{
		{Title: "State", Width: 12},
		{Title: "Project", Width: 44},
		{Title: "Working On", Width: 30},
		{Title: "Session", Width: 10},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(20))
	st := table.DefaultStyles()
	st.Header = st.Header.Bold(true).Foreground(lipgloss.Color("229"))
	st.Selected = lipgloss.NewStyle()
	t.SetStyles(st)

	return watchModel{socketPath: socketPath, table: t}
}

func (m watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		data, err := callDaemon(m.socketPath, protocol.MethodGetProjectStates, nil)
		if err != nil {
			return watchDataMsg{err: err}
		}
		var projects []store.ProjectState
		if err := json.Unmarshal(data, &projects); err != nil {
			return watchDataMsg{err: err}
		}
		return watchDataMsg{projects: projects}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.poll(), tea.Tick(time.Second, func(t time.Time) tea.Msg { return watchTickMsg(t) }))
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case watchTickMsg:
		return m, tea.Batch(m.poll(), tea.Tick(time.Second, func(t time.Time) tea.Msg { return watchTickMsg(t) }))
	case watchDataMsg:
		m.lastPoll = time.Now()
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		rows := make([]table.Row, 0, len(msg.projects))
		for _, p := range msg.projects {
			color, ok := watchStateColor[p.State]
			if !ok {
				color = "244"
			}
			state := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(string(p.State))
			rows = append(rows, table.Row{state, p.ProjectPath, p.WorkingOn, p.LatestSessionID})
		}
		m.table.SetRows(rows)
	}
	return m, nil
}

func (m watchModel) View() string {
	header := watchHeaderStyle.Render(fmt.Sprintf("capd watch — %d project(s) — q to quit", len(m.table.Rows())))
	if m.err != nil {
		return header + "\n\nerror polling daemon: " + m.err.Error() + "\n"
	}
	if len(m.table.Rows()) == 0 {
		return header + "\n\n" + watchDimStyle.Render("no active projects") + "\n"
	}
	footer := watchDimStyle.Render(fmt.Sprintf("last poll: %s", m.lastPoll.Format(time.Kitchen)))
	return header + "\n\n" + m.table.View() + "\n\n" + footer
}
