package tmuxpoll

import (
	"testing"
	"time"

	"github.com/capacitor-hq/capd/internal/routing"
)

func TestSignals_StaleSampleReturnsNil(t *testing.T) {
	p := &Poller{Fresh: 5 * time.Second}
	p.mu.Lock()
	p.available = true
	p.signals = []routing.Signal{{Kind: routing.SignalScopedShell, ProjectPath: "/p"}}
	p.lastPoll = time.Now().Add(-10 * time.Second)
	p.mu.Unlock()

	if got := p.Signals(); got != nil {
		t.Fatalf("expected nil for stale sample, got %+v", got)
	}
}

func TestSignals_FreshSampleReturnsCopy(t *testing.T) {
	p := &Poller{Fresh: 5 * time.Second}
	p.mu.Lock()
	p.available = true
	p.signals = []routing.Signal{{Kind: routing.SignalScopedShell, ProjectPath: "/p"}}
	p.lastPoll = time.Now()
	p.mu.Unlock()

	got := p.Signals()
	if len(got) != 1 || got[0].ProjectPath != "/p" {
		t.Fatalf("got %+v", got)
	}
	got[0].ProjectPath = "/mutated"
	if p.signals[0].ProjectPath != "/p" {
		t.Fatal("Signals() must return a defensive copy")
	}
}

func TestSignals_UnavailableReturnsNil(t *testing.T) {
	p := &Poller{Fresh: 5 * time.Second}
	p.mu.Lock()
	p.available = false
	p.lastPoll = time.Now()
	p.mu.Unlock()

	if got := p.Signals(); got != nil {
		t.Fatalf("expected nil when tmux unavailable, got %+v", got)
	}
}
