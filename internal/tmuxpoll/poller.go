// Package tmuxpoll periodically samples tmux and keeps an in-memory,
// freshness-stamped registry of the signals it saw — the Tmux Poller
// (§4.E). It never touches the durable store: tmux state is inherently
// transient and reconstructible from a live tmux server, so there is
// nothing here worth persisting across a restart.
package tmuxpoll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/capacitor-hq/capd/internal/routing"
	"github.com/capacitor-hq/capd/internal/tmux"
)

// Poller periodically samples tmux sessions, panes, and clients and
// caches the derived routing signals, stamped with the time they were
// observed, for the Ambient Routing Engine to consume.
type Poller struct {
	Tmux     *tmux.Tmux
	Interval time.Duration
	Fresh    time.Duration
	Logger   *slog.Logger

	mu       sync.RWMutex
	signals  []routing.Signal
	lastPoll time.Time
	available bool
}

// New constructs a Poller with the given sampling interval and freshness
// window (§6: tmux_poll_interval_ms, tmux_signal_fresh_ms).
func New(t *tmux.Tmux, interval, fresh time.Duration, logger *slog.Logger) *Poller {
	return &Poller{Tmux: t, Interval: interval, Fresh: fresh, Logger: logger}
}

// Run blocks, polling every p.Interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.poll()
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	if !p.Tmux.IsAvailable() {
		p.mu.Lock()
		p.available = false
		p.signals = nil
		p.lastPoll = time.Now()
		p.mu.Unlock()
		return
	}

	sessions, err := p.Tmux.ListSessions()
	if err != nil {
		p.logger().Warn("tmuxpoll: list-sessions failed", "error", err)
	}
	panes, err := p.Tmux.ListPanes()
	if err != nil {
		p.logger().Warn("tmuxpoll: list-panes failed", "error", err)
	}
	clients, clientsErr := p.Tmux.ListClients()
	if clientsErr != nil {
		p.logger().Warn("tmuxpoll: list-clients failed", "error", clientsErr)
	}

	attached := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		attached[s.Name] = s.Attached
	}
	// A session can report session_attached>0 while having zero clients
	// if tmux's own accounting lags; trust the client list directly when
	// we have one, since it's the authoritative attached-client signal. The
	// raw flag is used only when list-clients failed.
	attachedBySession := make(map[string]bool, len(clients))
	ttyBySession := make(map[string]string, len(clients))
	for tty, sessionName := range clients {
		attachedBySession[sessionName] = true
		if _, ok := ttyBySession[sessionName]; !ok {
			ttyBySession[sessionName] = tty
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	signals := make([]routing.Signal, 0, len(panes)+len(sessions))
	for _, pane := range panes {
		kind := routing.SignalTmuxUnattachedSession
		clientTTY := ""
		isAttached := attachedBySession[pane.SessionName]
		if clientsErr != nil {
			isAttached = attached[pane.SessionName]
		}
		if isAttached {
			kind = routing.SignalTmuxAttachedClient
			clientTTY = ttyBySession[pane.SessionName]
			if clientTTY == "" {
				clientTTY = pane.TTY
			}
		}
		signals = append(signals, routing.Signal{
			Kind:        kind,
			ProjectPath: pane.WorkDir,
			TmuxSession: pane.SessionName,
			ClientTTY:   clientTTY,
			RecordedAt:  now,
		})
	}
	// Also emit a bare session-name signal per tmux session, independent
	// of pane working directories — the last-resort "slug equals session
	// name" fallback (§4.G rule 3) has no path of its own to match.
	for _, sess := range sessions {
		signals = append(signals, routing.Signal{
			Kind:        routing.SignalSessionNameMatch,
			TmuxSession: sess.Name,
			RecordedAt:  now,
		})
	}

	p.mu.Lock()
	p.available = true
	p.signals = signals
	p.lastPoll = time.Now()
	p.mu.Unlock()
}

// Signals returns the most recently polled signals, or nil if the last
// sample is older than the configured freshness window (§4.E: stale tmux
// data must not silently masquerade as current).
func (p *Poller) Signals() []routing.Signal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.available || time.Since(p.lastPoll) > p.Fresh {
		return nil
	}
	out := make([]routing.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}

// Available reports whether tmux was reachable on the last poll.
func (p *Poller) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

func (p *Poller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
