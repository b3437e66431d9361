// Package store owns Capacitor's single embedded relational database: the
// append-only event log and the materialized sessions/shells/tombstones
// tables described in spec.md §3/§4.B. The store is intentionally the
// only package in this module that imports a SQL driver — every other
// package talks to it through the narrow Go types and interfaces defined
// here.
package store

import "time"

// SessionState is the closed set of session lifecycle states (§3).
type SessionState string

const (
	StateReady       SessionState = "ready"
	StateWorking     SessionState = "working"
	StateWaiting     SessionState = "waiting"
	StateCompacting  SessionState = "compacting"
	StateIdle        SessionState = "idle"
	StateEnded       SessionState = "ended"
)

// Session is the materialized view of one live (non-ended) session (§3).
type Session struct {
	SessionID        string       `json:"session_id"`
	PID              int          `json:"pid"`
	PIDStartTime     string       `json:"pid_start_time,omitempty"`
	ProjectPath      string       `json:"project_path"`
	CWD              string       `json:"cwd"`
	State            SessionState `json:"state"`
	LastEventAt      string       `json:"last_event_at"`
	LastTransitionAt string       `json:"last_transition_at"`
	WorkingOn        string       `json:"working_on,omitempty"`
	IsLive           bool         `json:"-"`
}

// Tombstone prevents a late in-flight event from resurrecting an ended
// session for a bounded TTL (§3).
type Tombstone struct {
	SessionID string `json:"session_id"`
	EndedAt   string `json:"ended_at"`
}

// ShellKey is the composite identity of a live shell (§3): pid plus the
// process's start time, so PID reuse never aliases two unrelated shells.
type ShellKey struct {
	PID          int    `json:"pid"`
	PIDStartTime string `json:"pid_start_time,omitempty"`
}

// Shell is one row of the shells table: the most recent CWD telemetry
// reported by a live shell process (§3).
type Shell struct {
	Key           ShellKey `json:"key"`
	CWD           string   `json:"cwd"`
	TTY           string   `json:"tty"`
	ParentApp     string   `json:"parent_app,omitempty"`
	TmuxSession   string   `json:"tmux_session,omitempty"`
	TmuxClientTTY string   `json:"tmux_client_tty,omitempty"`
	RecordedAt    string   `json:"recorded_at"`
}

// EventRecord is one immutable row of the append-only events table (§3).
type EventRecord struct {
	RowID      int64  `json:"rowid"`
	EventID    string `json:"event_id"`
	RecordedAt string `json:"recorded_at"`
	EventType  string `json:"event_type"`
	Payload    []byte `json:"payload"` // the validated protocol.Event, JSON-encoded
}

// ProjectState is the derived per-project aggregate used by status-row
// clients (§3).
type ProjectState struct {
	ProjectPath     string       `json:"project_path"`
	State           SessionState `json:"state"`
	LatestSessionID string       `json:"latest_session_id"`
	WorkingOn       string       `json:"working_on,omitempty"`
	LastEventAt     string       `json:"last_event_at"`
}

// Now is a swappable wall-clock source; no function in this package reads
// it. Reducer state transitions never use wall-clock time (§4.C: "no time
// source other than recorded_at").
var Now = time.Now
