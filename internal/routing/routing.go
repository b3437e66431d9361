// Package routing implements the Ambient Routing Engine (§4.G): a pure
// resolver that turns the daemon's current signals (tmux panes/clients,
// shell telemetry, live sessions) into a RoutingSnapshot answering one
// question — for this project_path, where should a caller activate?
//
// The engine is read-only and has no state of its own — every call to
// Resolve takes a fresh snapshot of signals plus the target project and
// returns a fresh RoutingSnapshot, so it is exhaustively unit-testable
// without a running tmux or database. Evidence trust ordering is
// grounded on the spec's own signal hierarchy; the scope/freshness/
// tie-break precedence chain is implemented as a single deterministic
// sort so "ambiguity resolved by ordering, not randomness" holds by
// construction.
package routing

import (
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/capacitor-hq/capd/internal/store"
)

// SignalKind is the closed set of routing signal sources, ordered here by
// descending trust per §4.G: an attached tmux client is the strongest
// evidence a human is looking at a project right now; a bare
// session-name match is the weakest.
type SignalKind int

const (
	SignalTmuxAttachedClient SignalKind = iota
	SignalTmuxUnattachedSession
	SignalScopedShell
	SignalSessionNameMatch
)

// String returns the wire evidence_type name for this signal kind (§4.G
// evidence.evidence_type).
func (k SignalKind) String() string {
	switch k {
	case SignalTmuxAttachedClient:
		return "tmux_client"
	case SignalTmuxUnattachedSession:
		return "tmux_session"
	case SignalScopedShell:
		return "scoped_shell"
	case SignalSessionNameMatch:
		return "session_name_match"
	}
	return "unknown"
}

// Signal is one piece of routing evidence gathered from a live source
// (tmux poll, shell table, or an explicit workspace binding).
type Signal struct {
	Kind        SignalKind
	ProjectPath string // canonical cwd this signal is evidence for; empty for a bare session-name signal
	WorkspaceID string // explicit workspace binding this signal carries, if any
	TmuxSession string // tmux session name, for tmux-kind and session-name signals
	ClientTTY   string // controlling tty of an attached tmux client
	ParentApp   string // known terminal application, for a scoped shell
	SessionState store.SessionState // activity state of a session tied to this signal's project, if known
	RecordedAt  string // RFC3339; the time this evidence was captured
}

// Evidence is one stamped signal contributing to a RoutingSnapshot
// (§4.G, GLOSSARY: "a stamped signal ... with type, value, age, and
// trust rank").
type Evidence struct {
	EvidenceType string `json:"evidence_type"`
	Value        string `json:"value"`
	AgeMS        int64  `json:"age_ms"`
	TrustRank    int    `json:"trust_rank"`
}

// Target names what a caller should activate (§4.G).
type Target struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// Closed reason_code enum (§4.G, §7 "operational" tolerance list).
const (
	ReasonTmuxClientAttached  = "TMUX_CLIENT_ATTACHED"
	ReasonTmuxSessionDetached = "TMUX_SESSION_DETACHED"
	ReasonScopedShellTerminal = "SCOPED_SHELL_TERMINAL"
	ReasonSessionNameFallback = "SESSION_NAME_FALLBACK"
	ReasonNoTrustedEvidence   = "NO_TRUSTED_EVIDENCE"
)

// RoutingSnapshot is the immutable value describing where to activate for
// a given project at a point in time (§4.G, GLOSSARY), returned by
// get_routing_snapshot (§4.D).
type RoutingSnapshot struct {
	Version     int        `json:"version"`
	WorkspaceID string     `json:"workspace_id,omitempty"`
	ProjectPath string     `json:"project_path"`
	Status      string     `json:"status"`
	Target      Target     `json:"target"`
	Confidence  string     `json:"confidence"`
	ReasonCode  string     `json:"reason_code"`
	Reason      string     `json:"reason"`
	Evidence    []Evidence `json:"evidence"`
	UpdatedAt   string     `json:"updated_at"`
}

// CandidateInfo is one signal's full evaluation, for get_routing_diagnostics:
// every signal considered, not just the winner, with why it was or was
// not accepted.
type CandidateInfo struct {
	EvidenceType string `json:"evidence_type"`
	Value        string `json:"value"`
	AgeMS        int64  `json:"age_ms"`
	TrustRank    int    `json:"trust_rank"`
	ScopeLabel   string `json:"scope_label"`
	Accepted     bool   `json:"accepted"`
}

// Diagnostic is the full candidate breakdown for one project, returned by
// get_routing_diagnostics (§4.D, §4.G "Diagnostics").
type Diagnostic struct {
	ProjectPath string          `json:"project_path"`
	Snapshot    RoutingSnapshot `json:"snapshot"`
	Candidates  []CandidateInfo `json:"candidates"`
}

// Options carries the per-call inputs Resolve/Diagnose need beyond the
// signal set itself: the requested scope and the freshness windows that
// gate stale evidence out of routing decisions (§6).
type Options struct {
	ProjectPath string
	WorkspaceID string
	HomeDir     string
	Now         time.Time
	TmuxFresh   time.Duration
	ShellFresh  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.TmuxFresh <= 0 {
		o.TmuxFresh = 5 * time.Second
	}
	if o.ShellFresh <= 0 {
		o.ShellFresh = 10 * time.Minute
	}
	return o
}

var caseFold = cases.Fold()

// scopeClass ranks how a signal's scope relates to the requested project,
// highest first (§4.G "Precedence for final selection", rule 1).
type scopeClass int

const (
	scopeRejected scopeClass = iota
	scopeSessionName
	scopeChildOfProject
	scopeExactPath
	scopeWorkspace
)

func (c scopeClass) label() string {
	switch c {
	case scopeWorkspace:
		return "workspace"
	case scopeExactPath:
		return "exact_path"
	case scopeChildOfProject:
		return "child_of_project"
	case scopeSessionName:
		return "session_name"
	}
	return "rejected"
}

// candidate is one signal plus its derived scope/age, before and after
// the session-name fallback gate has been applied.
type candidate struct {
	sig      Signal
	scope    scopeClass
	ageMS    int64
	accepted bool
}

// Resolve deterministically answers where to activate for opt.ProjectPath
// given signals (§4.G). Two calls with identical inputs always return a
// byte-identical snapshot (§4.G determinism guarantee, §8 invariant 5).
func Resolve(signals []Signal, opt Options) RoutingSnapshot {
	opt = opt.withDefaults()
	cands := evaluate(signals, opt)
	return snapshotFrom(opt, acceptedOnly(cands))
}

// Diagnose returns every candidate considered for opt.ProjectPath — not
// just the winner — for get_routing_diagnostics debug UIs (§4.G).
func Diagnose(signals []Signal, opt Options) Diagnostic {
	opt = opt.withDefaults()
	cands := evaluate(signals, opt)

	infos := make([]CandidateInfo, 0, len(cands))
	for _, c := range cands {
		infos = append(infos, CandidateInfo{
			EvidenceType: c.sig.Kind.String(),
			Value:        evidenceValue(c.sig),
			AgeMS:        c.ageMS,
			TrustRank:    int(c.sig.Kind),
			ScopeLabel:   c.scope.label(),
			Accepted:     c.accepted,
		})
	}
	return Diagnostic{
		ProjectPath: opt.ProjectPath,
		Snapshot:    snapshotFrom(opt, acceptedOnly(cands)),
		Candidates:  infos,
	}
}

// evaluate classifies every signal's scope and freshness against opt, then
// applies the session-name fallback gate (rule 3: only a candidate when
// no project-path-scoped evidence exists anywhere in the set), and
// finally sorts everything by final selection precedence (§4.G rules
// 1-5). snapshotFrom then takes the first accepted entry of the most
// trusted signal kind present, so an attached-client candidate wins over
// a better-scoped candidate of a lower-trust kind.
func evaluate(signals []Signal, opt Options) []candidate {
	cands := make([]candidate, 0, len(signals))
	hasPathScoped := false
	for _, s := range signals {
		scope := classifyScope(s, opt)
		age := ageMS(s.RecordedAt, opt.Now)
		fresh := scope != scopeRejected && freshnessOK(s, opt, age)
		if fresh && (scope == scopeExactPath || scope == scopeChildOfProject) {
			hasPathScoped = true
		}
		cands = append(cands, candidate{sig: s, scope: scope, ageMS: age, accepted: fresh})
	}
	for i := range cands {
		if cands[i].accepted && cands[i].scope == scopeSessionName && hasPathScoped {
			cands[i].accepted = false
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return lessCandidate(cands[i], cands[j]) })
	return cands
}

func acceptedOnly(cands []candidate) []candidate {
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.accepted {
			out = append(out, c)
		}
	}
	return out
}

// classifyScope applies the scope-acceptance rules (§4.G):
//  1. workspace-scoped match (an explicit binding of project to signal).
//  2. project-path-scoped: the signal's path is exactly project_path or a
//     descendant of it. Parent-directory-only evidence, unrelated paths,
//     and the HOME directory itself are all rejected (cross-project
//     safety, §8 invariant 6).
//  3. tmux session-name exactly equals the project slug — classified
//     here, but only promoted to "accepted" by evaluate when no
//     path-scoped candidate exists anywhere in the set.
func classifyScope(s Signal, opt Options) scopeClass {
	if opt.WorkspaceID != "" && s.WorkspaceID != "" &&
		caseFold.String(s.WorkspaceID) == caseFold.String(opt.WorkspaceID) {
		return scopeWorkspace
	}

	if s.Kind == SignalSessionNameMatch {
		if s.TmuxSession == "" {
			return scopeRejected
		}
		if caseFold.String(s.TmuxSession) != caseFold.String(projectSlug(opt.ProjectPath)) {
			return scopeRejected
		}
		return scopeSessionName
	}

	if s.ProjectPath == "" {
		return scopeRejected
	}
	norm := NormalizeProjectPath(s.ProjectPath)
	target := NormalizeProjectPath(opt.ProjectPath)
	if opt.HomeDir != "" && norm == NormalizeProjectPath(opt.HomeDir) {
		return scopeRejected
	}
	if norm == target {
		return scopeExactPath
	}
	if strings.HasPrefix(norm, target+"/") {
		return scopeChildOfProject
	}
	return scopeRejected
}

// freshnessOK gates a signal by the configured freshness window for its
// kind: tmux-derived signals use TmuxFresh, shell telemetry uses the
// (much longer) ShellFresh (§6).
func freshnessOK(s Signal, opt Options, age int64) bool {
	window := opt.TmuxFresh
	if s.Kind == SignalScopedShell {
		window = opt.ShellFresh
	}
	return age <= window.Milliseconds()
}

func ageMS(recordedAt string, now time.Time) int64 {
	t, err := time.Parse(time.RFC3339, recordedAt)
	if err != nil {
		return math.MaxInt64
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	return d.Milliseconds()
}

// lessCandidate orders candidates by the final-selection precedence
// (§4.G): accepted before rejected, then scope quality, signal class,
// activity class, freshness, and a lexicographic tie-break last.
func lessCandidate(a, b candidate) bool {
	if a.accepted != b.accepted {
		return a.accepted
	}
	if a.scope != b.scope {
		return a.scope > b.scope
	}
	if a.sig.Kind != b.sig.Kind {
		return a.sig.Kind < b.sig.Kind
	}
	if ra, rb := ActivityRank(a.sig.SessionState), ActivityRank(b.sig.SessionState); ra != rb {
		return ra > rb
	}
	if a.ageMS != b.ageMS {
		return a.ageMS < b.ageMS
	}
	return lexKey(a.sig) < lexKey(b.sig)
}

// ActivityRank ranks a session's activity class for routing precedence
// rule 3 (§4.G): an actively-working session outranks a merely-ready one,
// which outranks an idle one. Unknown/absent state ranks lowest.
func ActivityRank(state store.SessionState) int {
	switch state {
	case store.StateWorking, store.StateWaiting, store.StateCompacting:
		return 2
	case store.StateReady:
		return 1
	case store.StateIdle:
		return 0
	}
	return -1
}

func lexKey(s Signal) string {
	return s.TmuxSession + "\x00" + s.ProjectPath + "\x00" + s.ClientTTY
}

// evidenceValue picks the wire-facing value for one signal's evidence
// entry — the thing a human debugging routing would want to see.
func evidenceValue(s Signal) string {
	switch s.Kind {
	case SignalTmuxAttachedClient:
		if s.ClientTTY != "" {
			return s.ClientTTY
		}
		return s.TmuxSession
	case SignalTmuxUnattachedSession, SignalSessionNameMatch:
		return s.TmuxSession
	case SignalScopedShell:
		return s.ProjectPath
	}
	return ""
}

// snapshotFrom derives status/target/confidence/reason_code from the
// accepted candidate set per §4.G's "Mapping to status/target" table.
// accepted is already sorted by final precedence, so the first match of
// each kind is the deterministic winner.
func snapshotFrom(opt Options, accepted []candidate) RoutingSnapshot {
	snap := RoutingSnapshot{
		Version:     1,
		WorkspaceID: opt.WorkspaceID,
		ProjectPath: opt.ProjectPath,
		UpdatedAt:   opt.Now.UTC().Format(time.RFC3339),
	}

	var attached, unattached, scopedApp, sessionName *Signal
	for i := range accepted {
		sig := &accepted[i].sig
		switch sig.Kind {
		case SignalTmuxAttachedClient:
			if attached == nil {
				attached = sig
			}
		case SignalTmuxUnattachedSession:
			if unattached == nil {
				unattached = sig
			}
		case SignalScopedShell:
			if scopedApp == nil && sig.ParentApp != "" {
				scopedApp = sig
			}
		case SignalSessionNameMatch:
			if sessionName == nil {
				sessionName = sig
			}
		}
	}

	switch {
	case attached != nil:
		snap.Status = "attached"
		snap.Target = Target{Kind: "tmux_session", Value: attached.TmuxSession}
		snap.Confidence = "high"
		snap.ReasonCode = ReasonTmuxClientAttached
		snap.Reason = "an attached tmux client is viewing this project"
	case unattached != nil:
		snap.Status = "detached"
		snap.Target = Target{Kind: "tmux_session", Value: unattached.TmuxSession}
		snap.Confidence = "medium"
		snap.ReasonCode = ReasonTmuxSessionDetached
		snap.Reason = "a tmux session for this project exists with no attached client"
	case scopedApp != nil:
		snap.Status = "detached"
		snap.Target = Target{Kind: "terminal_app", Value: scopedApp.ParentApp}
		snap.Confidence = "medium"
		snap.ReasonCode = ReasonScopedShellTerminal
		snap.Reason = "a scoped shell is active under a known terminal application"
	case sessionName != nil:
		snap.Status = "detached"
		snap.Target = Target{Kind: "tmux_session", Value: sessionName.TmuxSession}
		snap.Confidence = "low"
		snap.ReasonCode = ReasonSessionNameFallback
		snap.Reason = "a tmux session name matches this project's slug but carries no scoped path evidence"
	default:
		snap.Status = "unavailable"
		snap.Target = Target{Kind: "none"}
		snap.Confidence = "low"
		snap.ReasonCode = ReasonNoTrustedEvidence
		snap.Reason = "no trusted evidence places an active session at this project"
	}

	snap.Evidence = make([]Evidence, 0, len(accepted))
	for _, c := range accepted {
		snap.Evidence = append(snap.Evidence, Evidence{
			EvidenceType: c.sig.Kind.String(),
			Value:        evidenceValue(c.sig),
			AgeMS:        c.ageMS,
			TrustRank:    int(c.sig.Kind),
		})
	}
	return snap
}

// NormalizeProjectPath case-folds a project path for matching purposes so
// routing is stable across filesystems that differ only in case
// sensitivity, without altering the canonical path stored elsewhere.
func NormalizeProjectPath(path string) string {
	return caseFold.String(strings.TrimRight(path, "/"))
}

func projectSlug(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
