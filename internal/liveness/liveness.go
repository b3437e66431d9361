// Package liveness implements the Liveness Reconciler (§4.F): a periodic
// sweep that catches sessions whose process died without the daemon ever
// observing a stop/session_end hook — a crashed CLI, a killed terminal, a
// SIGKILL'd process tree. It is the only component allowed to synthesize
// events on another process's behalf, and it does so through the same
// store.Mutate/reducer.Reduce path as every real hook-reported event, so a
// synthetic end is indistinguishable downstream from a real one.
//
// The identity check (PID alive, and if so, is it still the same process)
// is grounded on the pidtrack package's ps(1)-based start-time comparison:
// PIDs get reused by the OS, so liveness must never trust a bare PID.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/reducer"
	"github.com/capacitor-hq/capd/internal/store"
)

// processStartTimeFunc is swappable in tests.
var processStartTimeFunc = processStartTime

// Reconciler periodically checks every live session's process identity
// against the OS and ends any session whose process is gone or has been
// replaced by an unrelated process under the same PID (§4.F).
type Reconciler struct {
	Store    *store.Store
	Reduce   reducer.Config
	Interval time.Duration
	Logger   *slog.Logger

	repaired atomic.Int64
}

// RepairedSessions returns the count of sessions the reconciler has ended
// since startup — surfaced in get_health's dead_session_reconcile block
// (§6).
func (r *Reconciler) RepairedSessions() int64 { return r.repaired.Load() }

// Run blocks, ticking every r.Interval until ctx is cancelled. An initial
// sweep runs immediately so a daemon restart cleans up orphans left by the
// previous process before anything else observes stale state (§4.F
// "startup orphan sweep").
func (r *Reconciler) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	sessions, err := r.Store.GetSessions()
	if err != nil {
		r.logger().Error("liveness: list sessions failed", "error", err)
		return
	}

	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		if r.isAlive(sess) {
			continue
		}
		r.endSession(sess)
	}
}

// isAlive reports whether sess's process is still running and still the
// same process that started the session (not a PID-reused impostor).
func (r *Reconciler) isAlive(sess store.Session) bool {
	return CheckAlive(sess.PID, sess.PIDStartTime)
}

// CheckAlive reports whether pid is still running and, if pidStartTime is
// known, whether it's still the same process (not a PID-reused
// impostor). It is the single identity check used by both the periodic
// reconciler sweep and the get_process_liveness RPC (§4.F, §4.D).
func CheckAlive(pid int, pidStartTime string) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if pidStartTime == "" {
		// No identity stamp available — degrade to PID-only liveness
		// rather than falsely reporting a live process as dead.
		return true
	}
	current, err := processStartTimeFunc(pid)
	if err != nil {
		// ps unavailable: can't verify identity, don't guess either way.
		return true
	}
	return current == pidStartTime
}

func (r *Reconciler) endSession(sess store.Session) {
	now := time.Now().UTC().Format(time.RFC3339)
	ev := protocol.Event{
		EventID:      "liveness-" + uuid.NewString(),
		RecordedAt:   now,
		EventType:    protocol.EventSessionEnd,
		SessionID:    sess.SessionID,
		PID:          sess.PID,
		PIDStartTime: sess.PIDStartTime,
		CWD:          sess.CWD,
	}
	payload := fmt.Sprintf(`{"synthetic":"liveness_reconciler","session_id":%q}`, sess.SessionID)

	err := r.Store.Mutate(ev.EventID, ev.RecordedAt, string(ev.EventType), []byte(payload), sess.SessionID,
		func(existingSession *store.Session, existingTombstone *store.Tombstone) ([]store.Effect, error) {
			return reducer.Reduce(r.Reduce, existingSession, existingTombstone, ev), nil
		})
	if err != nil {
		r.logger().Warn("liveness: failed to end stale session", "session_id", sess.SessionID, "error", err)
		return
	}
	r.repaired.Add(1)
	r.logger().Info("liveness: ended session with dead process", "session_id", sess.SessionID, "pid", sess.PID)
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// processStartTime returns the process start time via ps(1), the same
// technique pidtrack uses to guard against PID reuse.
func processStartTime(pid int) (string, error) {
	cmd := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid))
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
