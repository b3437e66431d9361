// Package tmux provides a read-only subprocess wrapper for sampling tmux
// state. Capacitor never mutates tmux sessions — it only polls them for
// ambient routing signals — so this package keeps just the run/error
// wrapping plumbing and the listing methods, trimmed from a fuller tmux
// control wrapper down to what a passive poller needs.
package tmux

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
)

var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionNotFound = errors.New("session not found")
)

// Tmux wraps tmux(1) invocations.
type Tmux struct{}

// NewTmux creates a new Tmux wrapper.
func NewTmux() *Tmux {
	return &Tmux{}
}

// run executes a tmux command and returns stdout, trimmed.
func (t *Tmux) run(args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapError(err, stderr.String(), args)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)
	if strings.Contains(stderr, "no server running") || strings.Contains(stderr, "error connecting to") {
		return ErrNoServer
	}
	if strings.Contains(stderr, "session not found") || strings.Contains(stderr, "can't find session") {
		return ErrSessionNotFound
	}
	if stderr != "" {
		return errors.New("tmux " + args[0] + ": " + stderr)
	}
	return err
}

// IsAvailable reports whether tmux is installed and invocable. The poller
// degrades to reporting zero tmux signals (never errors the daemon) when
// this is false (§4.E).
func (t *Tmux) IsAvailable() bool {
	return exec.Command("tmux", "-V").Run() == nil
}

// Session is one tmux session's read-only state relevant to routing.
type Session struct {
	Name     string
	Attached bool
}

// ListSessions returns every tmux session with whether it has at least
// one attached client.
func (t *Tmux) ListSessions() ([]Session, error) {
	out, err := t.run("list-sessions", "-F", "#{session_name}:#{session_attached}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var sessions []Session
	for _, line := range strings.Split(out, "\n") {
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		sessions = append(sessions, Session{
			Name:     line[:idx],
			Attached: line[idx+1:] != "0",
		})
	}
	return sessions, nil
}

// Pane is one tmux pane's read-only state relevant to routing: which
// session it belongs to and what working directory its process reports.
type Pane struct {
	SessionName string
	WorkDir     string
	TTY         string
}

// ListPanes returns every pane across every session with its current
// working directory and controlling TTY, for matching against shell
// telemetry (§4.E, §4.G scoped-shell signal).
func (t *Tmux) ListPanes() ([]Pane, error) {
	out, err := t.run("list-panes", "-a", "-F", "#{session_name}\t#{pane_current_path}\t#{pane_tty}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			continue
		}
		panes = append(panes, Pane{SessionName: fields[0], WorkDir: fields[1], TTY: fields[2]})
	}
	return panes, nil
}

// ListClients returns every tmux client's TTY and the session it's
// attached to — the strongest routing signal (§4.G: attached-client
// trust tier).
func (t *Tmux) ListClients() (map[string]string, error) {
	out, err := t.run("list-clients", "-F", "#{client_tty}:#{client_session}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	clients := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		clients[line[:idx]] = line[idx+1:]
	}
	return clients, nil
}
