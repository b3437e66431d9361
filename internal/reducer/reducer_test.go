package reducer

import (
	"testing"
	"time"

	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/store"
)

var testCfg = Config{TombstoneTTL: 60 * time.Second}

func sessionStartEvent() protocol.Event {
	return protocol.Event{
		EventID:    "e1",
		RecordedAt: "2026-07-29T10:00:00Z",
		EventType:  protocol.EventSessionStart,
		SessionID:  "S1",
		PID:        100,
		PIDStartTime: "Mon Jul 29 09:59:00 2026",
		CWD:        "/home/dev/p/repo",
	}
}

func TestReduce_SessionStart_NoPriorState(t *testing.T) {
	effects := Reduce(testCfg, nil, nil, sessionStartEvent())
	if len(effects) != 1 || effects[0].Kind != store.EffectUpsertSession {
		t.Fatalf("effects = %+v", effects)
	}
	if effects[0].Session.State != store.StateReady {
		t.Errorf("state = %v", effects[0].Session.State)
	}
}

func TestReduce_TombstoneWithinTTL_SwallowsNonStart(t *testing.T) {
	ts := &store.Tombstone{SessionID: "S1", EndedAt: "2026-07-29T09:59:30Z"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventUserPromptSubmit
	effects := Reduce(testCfg, nil, ts, ev)
	if effects != nil {
		t.Fatalf("expected no-op swallow, got %+v", effects)
	}
}

func TestReduce_TombstoneWithinTTL_SessionStartClearsIt(t *testing.T) {
	ts := &store.Tombstone{SessionID: "S1", EndedAt: "2026-07-29T09:59:30Z"}
	effects := Reduce(testCfg, nil, ts, sessionStartEvent())
	if len(effects) != 2 {
		t.Fatalf("effects = %+v", effects)
	}
	if effects[0].Kind != store.EffectClearTombstone {
		t.Errorf("effects[0].Kind = %v", effects[0].Kind)
	}
	if effects[1].Kind != store.EffectUpsertSession {
		t.Errorf("effects[1].Kind = %v", effects[1].Kind)
	}
}

func TestReduce_TombstoneExpired_TreatedAsFresh(t *testing.T) {
	ts := &store.Tombstone{SessionID: "S1", EndedAt: "2026-07-29T09:00:00Z"} // 1hr before recorded_at
	ev := sessionStartEvent()
	ev.EventType = protocol.EventUserPromptSubmit
	effects := Reduce(testCfg, nil, ts, ev)
	if len(effects) != 1 || effects[0].Kind != store.EffectUpsertSession {
		t.Fatalf("expected implicit session creation, got %+v", effects)
	}
}

func TestReduce_PIDReuse_EndsStaleSessionFirst(t *testing.T) {
	existing := &store.Session{
		SessionID:    "S1",
		PID:          100,
		PIDStartTime: "Mon Jul 29 01:00:00 2026",
		State:        store.StateWorking,
	}
	ev := sessionStartEvent() // carries a different pid_start_time
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 3 {
		t.Fatalf("effects = %+v", effects)
	}
	if effects[0].Kind != store.EffectDeleteSession || effects[1].Kind != store.EffectCreateTombstone {
		t.Errorf("unexpected end-session effects: %+v", effects[:2])
	}
	if effects[2].Kind != store.EffectUpsertSession {
		t.Errorf("expected fresh session creation, got %+v", effects[2])
	}
}

func TestReduce_UserPromptSubmit_TransitionsToWorking(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateReady, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventUserPromptSubmit
	ev.PIDStartTime = "x"
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 1 || effects[0].Kind != store.EffectMutateSession {
		t.Fatalf("effects = %+v", effects)
	}
	if effects[0].Session.State != store.StateWorking {
		t.Errorf("state = %v", effects[0].Session.State)
	}
}

func TestReduce_PreCompact_NonAutoIsNoop(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventPreCompact
	ev.PIDStartTime = "x"
	ev.PreCompactAuto = false
	if effects := Reduce(testCfg, existing, nil, ev); effects != nil {
		t.Fatalf("expected strict no-op, got %+v", effects)
	}
}

func TestReduce_PreCompact_AutoTransitions(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventPreCompact
	ev.PIDStartTime = "x"
	ev.PreCompactAuto = true
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 1 || effects[0].Session.State != store.StateCompacting {
		t.Fatalf("effects = %+v", effects)
	}
}

func TestReduce_Stop_HookActiveIsNoop(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventStop
	ev.PIDStartTime = "x"
	active := true
	ev.StopHookActive = &active
	if effects := Reduce(testCfg, existing, nil, ev); effects != nil {
		t.Fatalf("expected no-op, got %+v", effects)
	}
}

func TestReduce_Stop_HookInactiveGoesReady(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventStop
	ev.PIDStartTime = "x"
	active := false
	ev.StopHookActive = &active
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 1 || effects[0].Session.State != store.StateReady {
		t.Fatalf("effects = %+v", effects)
	}
}

func TestReduce_SessionEnd_DeletesAndTombstones(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventSessionEnd
	ev.PIDStartTime = "x"
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 2 || effects[0].Kind != store.EffectDeleteSession || effects[1].Kind != store.EffectCreateTombstone {
		t.Fatalf("effects = %+v", effects)
	}
	if effects[1].EndedAt != ev.RecordedAt {
		t.Errorf("EndedAt = %q", effects[1].EndedAt)
	}
}

func TestReduce_SessionEnd_UnknownSessionIsNoop(t *testing.T) {
	ev := sessionStartEvent()
	ev.EventType = protocol.EventSessionEnd
	if effects := Reduce(testCfg, nil, nil, ev); effects != nil {
		t.Fatalf("expected no-op, got %+v", effects)
	}
}

func TestReduce_ShellCwd_AlwaysUpsertsShellRegardlessOfSession(t *testing.T) {
	ev := protocol.Event{
		EventID:    "e2",
		RecordedAt: "2026-07-29T10:00:00Z",
		EventType:  protocol.EventShellCwd,
		PID:        500,
		CWD:        "/home/dev/p/other",
		TTY:        "/dev/ttys003",
	}
	effects := Reduce(testCfg, nil, nil, ev)
	if len(effects) != 1 || effects[0].Kind != store.EffectUpsertShell {
		t.Fatalf("effects = %+v", effects)
	}
	if effects[0].Shell.Key.PID != 500 {
		t.Errorf("PID = %d", effects[0].Shell.Key.PID)
	}
}

func TestReduce_Notification_IdlePromptGoesReady(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventNotification
	ev.PIDStartTime = "x"
	ev.NotificationType = "idle_prompt"
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 1 || effects[0].Session.State != store.StateReady {
		t.Fatalf("effects = %+v", effects)
	}
}

func TestReduce_Notification_OtherIsHeartbeatOnly(t *testing.T) {
	existing := &store.Session{SessionID: "S1", State: store.StateWorking, PIDStartTime: "x"}
	ev := sessionStartEvent()
	ev.EventType = protocol.EventNotification
	ev.PIDStartTime = "x"
	ev.NotificationType = "permission_prompt"
	effects := Reduce(testCfg, existing, nil, ev)
	if len(effects) != 1 || effects[0].Kind != store.EffectMutateSession {
		t.Fatalf("effects = %+v", effects)
	}
	if len(effects[0].MutateFields) != 1 || effects[0].MutateFields[0] != "last_event_at" {
		t.Errorf("expected heartbeat-only mutation, got fields %+v", effects[0].MutateFields)
	}
}
