package ipcserver

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/capacitor-hq/capd/internal/config"
	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/reducer"
	"github.com/capacitor-hq/capd/internal/store"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "capd.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	socketPath := filepath.Join(dir, "daemon.sock")
	s := &Server{
		SocketPath: socketPath,
		Store:      st,
		ReduceCfg:  reducer.Config{TombstoneTTL: 60 * time.Second},
		Runtime:    config.Default(socketPath, "", ""),
		HomeDir:    "/home/dev",
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ready := make(chan struct{})
	go func() {
		ln, err := net.Listen("unix", socketPath)
		if err != nil {
			t.Errorf("listen: %v", err)
			close(ready)
			return
		}
		s.listener = ln
		close(ready)
		go func() {
			<-ctx.Done()
			ln.Close()
		}()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			uc := conn.(*net.UnixConn)
			go s.handleConn(uc)
		}
	}()
	<-ready
	return s, socketPath
}

func call(t *testing.T, socketPath string, req protocol.Request) protocol.Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestGetHealth_ReturnsOK(t *testing.T) {
	_, sock := startTestServer(t)
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetHealth), ID: "1"})
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ID != "1" {
		t.Errorf("ID = %q", resp.ID)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	_, sock := startTestServer(t)
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: "bogus_method"})
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrUnknownMethod {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestDispatch_ProtocolMismatch(t *testing.T) {
	_, sock := startTestServer(t)
	resp := call(t, sock, protocol.Request{ProtocolVersion: 99, Method: string(protocol.MethodGetHealth)})
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrProtocolMismatch {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestEvent_ThenGetSessions_RoundTrips(t *testing.T) {
	_, sock := startTestServer(t)

	ev := protocol.Event{
		EventID:    "e1",
		RecordedAt: "2026-07-29T10:00:00Z",
		EventType:  protocol.EventSessionStart,
		SessionID:  "S1",
		PID:        100,
		CWD:        "/home/dev/p",
	}
	params, _ := json.Marshal(ev)
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodEvent), Params: params})
	if !resp.OK {
		t.Fatalf("event call failed: %+v", resp)
	}

	resp = call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetSessions)})
	if !resp.OK {
		t.Fatalf("get_sessions failed: %+v", resp)
	}
	var sessions []store.Session
	if err := json.Unmarshal(resp.Data, &sessions); err != nil {
		t.Fatalf("unmarshal sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "S1" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestEvent_DuplicateIsReportedNotErrored(t *testing.T) {
	_, sock := startTestServer(t)
	ev := protocol.Event{
		EventID:    "e1",
		RecordedAt: "2026-07-29T10:00:00Z",
		EventType:  protocol.EventSessionStart,
		SessionID:  "S1",
		PID:        100,
		CWD:        "/home/dev/p",
	}
	params, _ := json.Marshal(ev)
	req := protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodEvent), Params: params}

	if resp := call(t, sock, req); !resp.OK {
		t.Fatalf("first call failed: %+v", resp)
	}
	resp := call(t, sock, req)
	if !resp.OK {
		t.Fatalf("duplicate call should not error: %+v", resp)
	}
	var body map[string]bool
	json.Unmarshal(resp.Data, &body)
	if body["duplicate"] != true {
		t.Errorf("body = %+v, want duplicate=true", body)
	}
}

func TestGetProcessLiveness_UntrackedPIDIsNotTracked(t *testing.T) {
	_, sock := startTestServer(t)
	params, _ := json.Marshal(map[string]int{"pid": 999999})
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetProcessLiveness), Params: params})
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	var result struct {
		Tracked bool `json:"tracked"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Tracked {
		t.Errorf("expected untracked pid, got tracked=true")
	}
}

func TestGetProcessLiveness_RejectsNonPositivePID(t *testing.T) {
	_, sock := startTestServer(t)
	params, _ := json.Marshal(map[string]int{"pid": 0})
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetProcessLiveness), Params: params})
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidPID {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestGetRoutingSnapshot_RequiresProjectPath(t *testing.T) {
	_, sock := startTestServer(t)
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetRoutingSnapshot)})
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidProjectPath {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestGetRoutingSnapshot_NoSignalsIsUnavailable(t *testing.T) {
	_, sock := startTestServer(t)

	reqParams, _ := json.Marshal(map[string]string{"project_path": "/home/dev/p1"})
	resp := call(t, sock, protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetRoutingSnapshot), Params: reqParams})
	if !resp.OK {
		t.Fatalf("resp = %+v", resp)
	}
	var snap struct {
		ProjectPath string `json:"project_path"`
		Status      string `json:"status"`
		ReasonCode  string `json:"reason_code"`
	}
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.ProjectPath != "/home/dev/p1" || snap.Status != "unavailable" || snap.ReasonCode != "NO_TRUSTED_EVIDENCE" {
		t.Fatalf("snap = %+v", snap)
	}
}
