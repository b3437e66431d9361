package store

import "time"

// GetSession returns the live session row, or nil if none exists.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	return querySession(s.readDB, sessionID)
}

// GetSessions returns every live (non-ended) session, newest-first by
// last_event_at, for the get_sessions RPC (§4.D).
func (s *Store) GetSessions() ([]Session, error) {
	rows, err := s.readDB.Query(`SELECT session_id, pid, pid_start_time, project_path, cwd, state, last_event_at, last_transition_at, working_on
		FROM sessions ORDER BY last_event_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var state string
		if err := rows.Scan(&sess.SessionID, &sess.PID, &sess.PIDStartTime, &sess.ProjectPath, &sess.CWD,
			&state, &sess.LastEventAt, &sess.LastTransitionAt, &sess.WorkingOn); err != nil {
			return nil, err
		}
		sess.State = SessionState(state)
		sess.IsLive = true
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetTombstone returns the tombstone for sessionID, or nil if absent.
func (s *Store) GetTombstone(sessionID string) (*Tombstone, error) {
	return queryTombstone(s.readDB, sessionID)
}

// GetTombstones returns every tombstone currently on record, for the
// get_tombstones diagnostic RPC (§4.D).
func (s *Store) GetTombstones() ([]Tombstone, error) {
	rows, err := s.readDB.Query(`SELECT session_id, ended_at FROM tombstones ORDER BY ended_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var t Tombstone
		if err := rows.Scan(&t.SessionID, &t.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetShells returns every shell row, for the get_shell_state RPC (§4.D).
func (s *Store) GetShells() ([]Shell, error) {
	rows, err := s.readDB.Query(`SELECT pid, pid_start_time, cwd, tty, parent_app, tmux_session, tmux_client_tty, recorded_at
		FROM shells ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Shell
	for rows.Next() {
		var sh Shell
		if err := rows.Scan(&sh.Key.PID, &sh.Key.PIDStartTime, &sh.CWD, &sh.TTY, &sh.ParentApp,
			&sh.TmuxSession, &sh.TmuxClientTTY, &sh.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// DeleteShell removes a shell row outright. Nothing in the daemon calls
// it: shell rows are not removed when their process exits, and
// shell_retention_hours (§6) is reported by get_config but not applied.
func (s *Store) DeleteShell(key ShellKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.writeDB.Exec(`DELETE FROM shells WHERE pid = ? AND pid_start_time = ?`, key.PID, key.PIDStartTime)
	return err
}

// PruneStaleShells deletes shell rows whose recorded_at is older than
// olderThan (an RFC3339 cutoff timestamp), returning the count removed.
func (s *Store) PruneStaleShells(olderThan string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.writeDB.Exec(`DELETE FROM shells WHERE recorded_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneExpiredTombstones deletes tombstones whose ended_at is older than
// olderThan, returning the count removed (§4.C tombstone TTL enforcement
// happens lazily on read via IsTombstoneExpired). No daemon task calls
// it, so expired tombstone rows stay in the table.
func (s *Store) PruneExpiredTombstones(olderThan string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.writeDB.Exec(`DELETE FROM tombstones WHERE ended_at < ?`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetProjectStates aggregates live sessions by project_path: the most
// recently active session's state represents the whole project, for
// status-row clients (§4.D get_project_states). Projects with no live
// session are omitted; callers wanting ended projects use get_sessions
// history via get_activity instead.
func (s *Store) GetProjectStates() ([]ProjectState, error) {
	rows, err := s.readDB.Query(`
		SELECT project_path, session_id, state, working_on, last_event_at
		FROM sessions
		WHERE last_event_at = (
			SELECT MAX(s2.last_event_at) FROM sessions s2 WHERE s2.project_path = sessions.project_path
		)
		ORDER BY project_path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectState
	for rows.Next() {
		var ps ProjectState
		var state string
		if err := rows.Scan(&ps.ProjectPath, &ps.LatestSessionID, &state, &ps.WorkingOn, &ps.LastEventAt); err != nil {
			return nil, err
		}
		ps.State = SessionState(state)
		out = append(out, ps)
	}
	return out, rows.Err()
}

// GetActivity returns the most recent events (newest first), capped at
// limit, for the get_activity diagnostic RPC (§4.D). limit <= 0 defaults
// to 100.
func (s *Store) GetActivity(limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.readDB.Query(`SELECT rowid, event_id, recorded_at, event_type, payload
		FROM events ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.RowID, &ev.EventID, &ev.RecordedAt, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReplayFrom streams every event with rowid > afterRowid, in order, for
// startup replay into an in-memory consumer (daemon run uses it only to
// count the log) — not used for the materialized tables, which are
// already durable (§4.B, §4.D).
func (s *Store) ReplayFrom(afterRowid int64, fn func(EventRecord) error) error {
	rows, err := s.readDB.Query(`SELECT rowid, event_id, recorded_at, event_type, payload
		FROM events WHERE rowid > ? ORDER BY rowid ASC`, afterRowid)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.RowID, &ev.EventID, &ev.RecordedAt, &ev.EventType, &ev.Payload); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

// IsTombstoneExpired reports whether a tombstone's TTL, measured from its
// ended_at against referenceTime, has elapsed (§3).
func IsTombstoneExpired(t Tombstone, referenceTime time.Time, ttl time.Duration) bool {
	ended, err := time.Parse(time.RFC3339, t.EndedAt)
	if err != nil {
		return true
	}
	return referenceTime.Sub(ended) >= ttl
}
