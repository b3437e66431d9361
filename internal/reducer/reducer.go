// Package reducer implements the daemon's single pure state-transition
// function (§4.C): given the materialized state relevant to one event's
// session_id and the event itself, it decides what should change. It does
// no I/O and owns no clock other than the event's own recorded_at, so it
// is exhaustively unit-testable and safe to call from both the live event
// path and the liveness reconciler's synthetic session_end path.
package reducer

import (
	"time"

	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/store"
)

// Config carries the reduction-relevant daemon settings (§6). Everything
// else in the runtime config (poll intervals, socket limits) is irrelevant
// to reduce and deliberately excluded from this type.
type Config struct {
	TombstoneTTL time.Duration
}

// Reduce computes the effects one validated event should have against the
// store's current view of that event's session_id. existingSession and
// existingTombstone are nil when no such row exists. Reduce never returns
// an error for well-formed input — protocol.ValidateEvent has already
// rejected malformed events before they reach here (§4.C: "never panics,
// never returns an error for a well-formed event").
func Reduce(cfg Config, existingSession *store.Session, existingTombstone *store.Tombstone, ev protocol.Event) []store.Effect {
	if ev.EventType == protocol.EventShellCwd {
		return []store.Effect{{
			Kind: store.EffectUpsertShell,
			Shell: store.Shell{
				Key:         store.ShellKey{PID: ev.PID, PIDStartTime: ev.PIDStartTime},
				CWD:         ev.CWD,
				TTY:         ev.TTY,
				ParentApp:   ev.ParentApp,
				RecordedAt:  ev.RecordedAt,
			},
		}}
	}

	// PID reuse under the same session_id: the stored identity no longer
	// matches what this event reports, so the prior session is stale and
	// must be ended before anything else is considered (grounded on the
	// pidtrack identity-verification pattern: compare stored vs current
	// process start time before trusting a PID).
	if existingSession != nil && ev.PIDStartTime != "" && existingSession.PIDStartTime != "" &&
		existingSession.PIDStartTime != ev.PIDStartTime {
		effects := endSession(*existingSession, ev.RecordedAt)
		if ev.EventType == protocol.EventSessionStart {
			effects = append(effects, startSession(ev))
		}
		return effects
	}

	if existingTombstone != nil && !store.IsTombstoneExpired(*existingTombstone, parseTime(ev.RecordedAt), cfg.TombstoneTTL) {
		if ev.EventType == protocol.EventSessionStart {
			return []store.Effect{
				{Kind: store.EffectClearTombstone, SessionID: ev.SessionID},
				startSession(ev),
			}
		}
		// Late event for a session that has already ended within the
		// TTL window: accepted, but produces no state change (§3).
		return nil
	}

	switch ev.EventType {
	case protocol.EventSessionStart:
		return []store.Effect{startSession(ev)}

	case protocol.EventSessionEnd:
		if existingSession == nil {
			return nil
		}
		return endSession(*existingSession, ev.RecordedAt)

	case protocol.EventUserPromptSubmit:
		return transition(existingSession, ev, store.StateWorking)

	case protocol.EventPermissionRequest:
		return transition(existingSession, ev, store.StateWaiting)

	case protocol.EventPostToolUse, protocol.EventPostToolUseFailure:
		return transitionWithWorkingOn(existingSession, ev, store.StateWorking)

	case protocol.EventPreCompact:
		if !ev.PreCompactAuto {
			return nil
		}
		return transition(existingSession, ev, store.StateCompacting)

	case protocol.EventStop:
		if ev.StopHookActive != nil && *ev.StopHookActive {
			return nil
		}
		return transition(existingSession, ev, store.StateReady)

	case protocol.EventNotification:
		if ev.NotificationType == "idle_prompt" {
			return transition(existingSession, ev, store.StateReady)
		}
		return heartbeat(existingSession, ev)

	case protocol.EventSubagentStart, protocol.EventSubagentStop,
		protocol.EventTeammateIdle, protocol.EventTaskCompleted, protocol.EventPreToolUse:
		return heartbeat(existingSession, ev)
	}

	return nil
}

// startSession builds the upsert for a brand-new or restarted session.
func startSession(ev protocol.Event) store.Effect {
	return store.Effect{
		Kind: store.EffectUpsertSession,
		Session: store.Session{
			SessionID:        ev.SessionID,
			PID:              ev.PID,
			PIDStartTime:     ev.PIDStartTime,
			ProjectPath:      ev.CWD,
			CWD:              ev.CWD,
			State:            store.StateReady,
			LastEventAt:      ev.RecordedAt,
			LastTransitionAt: ev.RecordedAt,
		},
	}
}

// endSession ends a known session: a tombstone is created so a late event
// can't resurrect it, and the live row is removed (§3, §4.C).
func endSession(sess store.Session, recordedAt string) []store.Effect {
	return []store.Effect{
		{Kind: store.EffectDeleteSession, SessionID: sess.SessionID},
		{Kind: store.EffectCreateTombstone, SessionID: sess.SessionID, EndedAt: recordedAt},
	}
}

// transition applies a state change plus the standard housekeeping
// columns. Events with no matching live session are treated as an
// implicitly-missed session_start and create the session in the target
// state rather than being dropped, since delivery order across
// connections is only "best effort" ordered by recorded_at (§4.D).
func transition(existingSession *store.Session, ev protocol.Event, newState store.SessionState) []store.Effect {
	if existingSession == nil {
		sess := store.Session{
			SessionID:        ev.SessionID,
			PID:              ev.PID,
			PIDStartTime:     ev.PIDStartTime,
			ProjectPath:      ev.CWD,
			CWD:              ev.CWD,
			State:            newState,
			LastEventAt:      ev.RecordedAt,
			LastTransitionAt: ev.RecordedAt,
		}
		return []store.Effect{{Kind: store.EffectUpsertSession, Session: sess}}
	}
	patch := *existingSession
	patch.State = newState
	patch.LastEventAt = ev.RecordedAt
	patch.LastTransitionAt = ev.RecordedAt
	return []store.Effect{{
		Kind:         store.EffectMutateSession,
		SessionID:    existingSession.SessionID,
		Session:      patch,
		MutateFields: []string{"state", "last_event_at", "last_transition_at"},
	}}
}

// transitionWithWorkingOn is transition plus capturing the tool name the
// session is acting on, when the hook reported one.
func transitionWithWorkingOn(existingSession *store.Session, ev protocol.Event, newState store.SessionState) []store.Effect {
	effects := transition(existingSession, ev, newState)
	if ev.WorkingOn == "" || len(effects) == 0 {
		return effects
	}
	eff := &effects[0]
	eff.Session.WorkingOn = ev.WorkingOn
	eff.MutateFields = append(eff.MutateFields, "working_on")
	return effects
}

// heartbeat refreshes last_event_at without any state transition.
func heartbeat(existingSession *store.Session, ev protocol.Event) []store.Effect {
	if existingSession == nil {
		return nil
	}
	patch := *existingSession
	patch.LastEventAt = ev.RecordedAt
	return []store.Effect{{
		Kind:         store.EffectMutateSession,
		SessionID:    existingSession.SessionID,
		Session:      patch,
		MutateFields: []string{"last_event_at"},
	}}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
