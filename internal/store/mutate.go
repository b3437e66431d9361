package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ReduceFunc is supplied by the caller (the reducer package, via a thin
// orchestrator) and must be pure: given the current materialized state for
// the event's session_id, it returns the effects to apply. It must not do
// its own I/O — Mutate is the only place state is read and written, inside
// one serialized transaction, so the reducer never observes a racing
// writer (§4.C).
type ReduceFunc func(existingSession *Session, existingTombstone *Tombstone) ([]Effect, error)

// ErrDuplicateEvent is returned by Mutate (check with errors.Is)
// when event_id was already applied; the caller should treat this as a
// successful no-op replay, not a failure (§4.A idempotency).
var ErrDuplicateEvent = errors.New("event_id already applied")

// Mutate appends one event and folds it into the materialized tables as a
// single atomic transaction under the mutator lock (the shell/tombstone
// deletion helpers in queries.go take the same lock). Every event — live
// RPC or reducer-driven synthetic event from the liveness reconciler —
// flows through here (§4.B, §4.D, §4.F).
func (s *Store) Mutate(eventID, recordedAt, eventType string, payload []byte, sessionID string, reduce ReduceFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writeDB.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&exists); err == nil {
		return ErrDuplicateEvent
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("check duplicate: %w", err)
	}

	existingSession, err := querySession(tx, sessionID)
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	existingTombstone, err := queryTombstone(tx, sessionID)
	if err != nil {
		return fmt.Errorf("lookup tombstone: %w", err)
	}

	effects, err := reduce(existingSession, existingTombstone)
	if err != nil {
		return fmt.Errorf("reduce: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO events (event_id, recorded_at, event_type, payload) VALUES (?, ?, ?, ?)`,
		eventID, recordedAt, eventType, payload)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	rowid, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, eff := range effects {
		if err := applyEffect(tx, eff); err != nil {
			return fmt.Errorf("apply effect %s: %w", eff.Kind, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO daemon_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, cursorKey, fmt.Sprintf("%d", rowid)); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	return tx.Commit()
}

func applyEffect(tx *sql.Tx, eff Effect) error {
	switch eff.Kind {
	case EffectUpsertSession:
		sess := eff.Session
		_, err := tx.Exec(`INSERT INTO sessions
			(session_id, pid, pid_start_time, project_path, cwd, state, last_event_at, last_transition_at, working_on)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				pid = excluded.pid,
				pid_start_time = excluded.pid_start_time,
				project_path = excluded.project_path,
				cwd = excluded.cwd,
				state = excluded.state,
				last_event_at = excluded.last_event_at,
				last_transition_at = excluded.last_transition_at,
				working_on = excluded.working_on`,
			sess.SessionID, sess.PID, sess.PIDStartTime, sess.ProjectPath, sess.CWD,
			string(sess.State), sess.LastEventAt, sess.LastTransitionAt, sess.WorkingOn)
		return err

	case EffectMutateSession:
		return mutateSessionFields(tx, eff.SessionID, eff.Session, eff.MutateFields)

	case EffectDeleteSession:
		_, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, eff.SessionID)
		return err

	case EffectCreateTombstone:
		_, err := tx.Exec(`INSERT INTO tombstones (session_id, ended_at) VALUES (?, ?)
			ON CONFLICT(session_id) DO UPDATE SET ended_at = excluded.ended_at`, eff.SessionID, eff.EndedAt)
		return err

	case EffectClearTombstone:
		_, err := tx.Exec(`DELETE FROM tombstones WHERE session_id = ?`, eff.SessionID)
		return err

	case EffectUpsertShell:
		sh := eff.Shell
		_, err := tx.Exec(`INSERT INTO shells
			(pid, pid_start_time, cwd, tty, parent_app, tmux_session, tmux_client_tty, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(pid, pid_start_time) DO UPDATE SET
				cwd = excluded.cwd,
				tty = excluded.tty,
				parent_app = excluded.parent_app,
				tmux_session = excluded.tmux_session,
				tmux_client_tty = excluded.tmux_client_tty,
				recorded_at = excluded.recorded_at`,
			sh.Key.PID, sh.Key.PIDStartTime, sh.CWD, sh.TTY, sh.ParentApp,
			sh.TmuxSession, sh.TmuxClientTTY, sh.RecordedAt)
		return err

	default:
		return fmt.Errorf("unknown effect kind %q", eff.Kind)
	}
}

// mutateSessionFields applies a partial update so a heartbeat effect
// cannot overwrite columns it didn't intend to touch.
func mutateSessionFields(tx *sql.Tx, sessionID string, patch Session, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	set := ""
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		if i > 0 {
			set += ", "
		}
		switch f {
		case "state":
			set += "state = ?"
			args = append(args, string(patch.State))
		case "last_event_at":
			set += "last_event_at = ?"
			args = append(args, patch.LastEventAt)
		case "last_transition_at":
			set += "last_transition_at = ?"
			args = append(args, patch.LastTransitionAt)
		case "working_on":
			set += "working_on = ?"
			args = append(args, patch.WorkingOn)
		case "pid_start_time":
			set += "pid_start_time = ?"
			args = append(args, patch.PIDStartTime)
		case "cwd":
			set += "cwd = ?"
			args = append(args, patch.CWD)
		default:
			return fmt.Errorf("unmutable field %q", f)
		}
	}
	args = append(args, sessionID)
	_, err := tx.Exec(`UPDATE sessions SET `+set+` WHERE session_id = ?`, args...)
	return err
}

func querySession(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	var s Session
	var state string
	err := q.QueryRow(`SELECT session_id, pid, pid_start_time, project_path, cwd, state, last_event_at, last_transition_at, working_on
		FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&s.SessionID, &s.PID, &s.PIDStartTime, &s.ProjectPath, &s.CWD, &state, &s.LastEventAt, &s.LastTransitionAt, &s.WorkingOn)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.State = SessionState(state)
	s.IsLive = true
	return &s, nil
}

func queryTombstone(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, sessionID string) (*Tombstone, error) {
	if sessionID == "" {
		return nil, nil
	}
	var t Tombstone
	err := q.QueryRow(`SELECT session_id, ended_at FROM tombstones WHERE session_id = ?`, sessionID).Scan(&t.SessionID, &t.EndedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
