package doctor

import (
	"context"
	"path/filepath"
	"testing"
)

func TestRunAll_DatabaseMissingFails(t *testing.T) {
	r := &Registry{}
	r.Register(checkDatabaseFile)
	results := r.RunAll(context.Background(), Env{DBPath: filepath.Join(t.TempDir(), "missing.db")})
	if len(results) != 1 || results[0].Status != StatusFail {
		t.Fatalf("results = %+v", results)
	}
}

func TestRunAll_SocketPathEmptyFails(t *testing.T) {
	r := &Registry{}
	r.Register(checkDaemonSocket)
	results := r.RunAll(context.Background(), Env{})
	if len(results) != 1 || results[0].Status != StatusFail {
		t.Fatalf("results = %+v", results)
	}
}

func TestNewRegistry_RunsAllBuiltins(t *testing.T) {
	r := NewRegistry()
	results := r.RunAll(context.Background(), Env{})
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
}
