package liveness

import (
	"os"
	"testing"

	"github.com/capacitor-hq/capd/internal/store"
)

func TestIsAlive_LiveProcessNoIdentityStamp(t *testing.T) {
	r := &Reconciler{}
	sess := store.Session{PID: os.Getpid()}
	if !r.isAlive(sess) {
		t.Fatal("expected current process to be considered alive")
	}
}

func TestIsAlive_DeadPID(t *testing.T) {
	r := &Reconciler{}
	// A PID astronomically unlikely to be in use.
	sess := store.Session{PID: 1 << 30}
	if r.isAlive(sess) {
		t.Fatal("expected nonexistent PID to be considered dead")
	}
}

func TestIsAlive_IdentityMismatchIsDead(t *testing.T) {
	original := processStartTimeFunc
	t.Cleanup(func() { processStartTimeFunc = original })
	processStartTimeFunc = func(pid int) (string, error) {
		return "some-other-start-time", nil
	}

	r := &Reconciler{}
	sess := store.Session{PID: os.Getpid(), PIDStartTime: "original-start-time"}
	if r.isAlive(sess) {
		t.Fatal("expected PID-reuse identity mismatch to be considered dead")
	}
}

func TestIsAlive_IdentityMatchIsAlive(t *testing.T) {
	original := processStartTimeFunc
	t.Cleanup(func() { processStartTimeFunc = original })
	processStartTimeFunc = func(pid int) (string, error) {
		return "same-start-time", nil
	}

	r := &Reconciler{}
	sess := store.Session{PID: os.Getpid(), PIDStartTime: "same-start-time"}
	if !r.isAlive(sess) {
		t.Fatal("expected matching identity stamp to be considered alive")
	}
}
