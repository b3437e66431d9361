package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "capd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMutate_CreatesSessionAndAdvancesCursor(t *testing.T) {
	s := openTestStore(t)

	err := s.Mutate("e1", "2026-07-29T10:00:00Z", "session_start", []byte(`{}`), "S1",
		func(existingSession *Session, existingTombstone *Tombstone) ([]Effect, error) {
			if existingSession != nil || existingTombstone != nil {
				t.Fatalf("expected no prior state")
			}
			return []Effect{{
				Kind: EffectUpsertSession,
				Session: Session{
					SessionID:        "S1",
					PID:              100,
					ProjectPath:      "/home/dev/p",
					CWD:              "/home/dev/p",
					State:            StateReady,
					LastEventAt:      "2026-07-29T10:00:00Z",
					LastTransitionAt: "2026-07-29T10:00:00Z",
				},
			}}, nil
		})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	sess, err := s.GetSession("S1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil || sess.State != StateReady {
		t.Fatalf("sess = %+v", sess)
	}

	cursor, err := s.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != 1 {
		t.Errorf("cursor = %d, want 1", cursor)
	}
}

func TestMutate_DuplicateEventIDIsRejected(t *testing.T) {
	s := openTestStore(t)
	reduce := func(*Session, *Tombstone) ([]Effect, error) { return nil, nil }

	if err := s.Mutate("e1", "2026-07-29T10:00:00Z", "shell_cwd", []byte(`{}`), "", reduce); err != nil {
		t.Fatalf("first Mutate: %v", err)
	}
	err := s.Mutate("e1", "2026-07-29T10:00:01Z", "shell_cwd", []byte(`{}`), "", reduce)
	if !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("err = %v, want ErrDuplicateEvent", err)
	}
}

func TestMutate_SessionEndDeletesAndTombstones(t *testing.T) {
	s := openTestStore(t)
	upsert := func(*Session, *Tombstone) ([]Effect, error) {
		return []Effect{{Kind: EffectUpsertSession, Session: Session{
			SessionID: "S1", State: StateReady, LastEventAt: "t0", LastTransitionAt: "t0",
		}}}, nil
	}
	if err := s.Mutate("e1", "t0", "session_start", []byte(`{}`), "S1", upsert); err != nil {
		t.Fatalf("Mutate start: %v", err)
	}

	end := func(existingSession *Session, existingTombstone *Tombstone) ([]Effect, error) {
		if existingSession == nil {
			t.Fatalf("expected existing session")
		}
		return []Effect{
			{Kind: EffectDeleteSession, SessionID: "S1"},
			{Kind: EffectCreateTombstone, SessionID: "S1", EndedAt: "t1"},
		}, nil
	}
	if err := s.Mutate("e2", "t1", "session_end", []byte(`{}`), "S1", end); err != nil {
		t.Fatalf("Mutate end: %v", err)
	}

	sess, err := s.GetSession("S1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess != nil {
		t.Errorf("expected session deleted, got %+v", sess)
	}

	ts, err := s.GetTombstone("S1")
	if err != nil {
		t.Fatalf("GetTombstone: %v", err)
	}
	if ts == nil || ts.EndedAt != "t1" {
		t.Fatalf("ts = %+v", ts)
	}
}

func TestGetProjectStates_PicksMostRecentSessionPerProject(t *testing.T) {
	s := openTestStore(t)
	mk := func(id, project, lastEvent string) ReduceFunc {
		return func(*Session, *Tombstone) ([]Effect, error) {
			return []Effect{{Kind: EffectUpsertSession, Session: Session{
				SessionID: id, ProjectPath: project, CWD: project, State: StateWorking,
				LastEventAt: lastEvent, LastTransitionAt: lastEvent,
			}}}, nil
		}
	}
	if err := s.Mutate("e1", "t0", "session_start", []byte(`{}`), "S1", mk("S1", "/home/dev/p", "2026-07-29T10:00:00Z")); err != nil {
		t.Fatal(err)
	}
	if err := s.Mutate("e2", "t1", "session_start", []byte(`{}`), "S2", mk("S2", "/home/dev/p", "2026-07-29T11:00:00Z")); err != nil {
		t.Fatal(err)
	}

	states, err := s.GetProjectStates()
	if err != nil {
		t.Fatalf("GetProjectStates: %v", err)
	}
	if len(states) != 1 {
		t.Fatalf("states = %+v", states)
	}
	if states[0].LatestSessionID != "S2" {
		t.Errorf("LatestSessionID = %q, want S2", states[0].LatestSessionID)
	}
}

func TestPruneStaleShells(t *testing.T) {
	s := openTestStore(t)
	upsertShell := func(*Session, *Tombstone) ([]Effect, error) {
		return []Effect{{Kind: EffectUpsertShell, Shell: Shell{
			Key: ShellKey{PID: 1, PIDStartTime: "x"}, CWD: "/tmp", TTY: "/dev/ttys000", RecordedAt: "2020-01-01T00:00:00Z",
		}}}, nil
	}
	if err := s.Mutate("e1", "2020-01-01T00:00:00Z", "shell_cwd", []byte(`{}`), "", upsertShell); err != nil {
		t.Fatal(err)
	}
	n, err := s.PruneStaleShells("2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("PruneStaleShells: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}
