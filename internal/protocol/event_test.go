package protocol

import "testing"

func validEvent() Event {
	return Event{
		EventID:    "evt-1700000000-1",
		RecordedAt: "2026-07-29T10:00:00Z",
		EventType:  EventSessionStart,
		SessionID:  "S1",
		PID:        1111,
		CWD:        "/home/dev/p/repo",
	}
}

func TestValidateEvent_OK(t *testing.T) {
	e, err := ValidateEvent(validEvent(), "/home/dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.CWD != "/home/dev/p/repo" {
		t.Errorf("CWD = %q", e.CWD)
	}
}

func TestValidateEvent_EmptyEventID(t *testing.T) {
	e := validEvent()
	e.EventID = ""
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	} else if pe := err.(*Err); pe.Code != ErrInvalidEventID {
		t.Errorf("code = %v", pe.Code)
	}
}

func TestValidateEvent_TooLongEventID(t *testing.T) {
	e := validEvent()
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	e.EventID = string(long)
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateEvent_BadTimestamp(t *testing.T) {
	e := validEvent()
	e.RecordedAt = "not-a-time"
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	} else if pe := err.(*Err); pe.Code != ErrInvalidTimestamp {
		t.Errorf("code = %v", pe.Code)
	}
}

func TestValidateEvent_MissingSessionID(t *testing.T) {
	e := validEvent()
	e.SessionID = ""
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateEvent_MissingPID(t *testing.T) {
	e := validEvent()
	e.PID = 0
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	} else if pe := err.(*Err); pe.Code != ErrInvalidPID {
		t.Errorf("code = %v", pe.Code)
	}
}

func TestValidateEvent_ShellCwdRequiresTTY(t *testing.T) {
	e := Event{
		EventID:    "evt-1",
		RecordedAt: "2026-07-29T10:00:00Z",
		EventType:  EventShellCwd,
		PID:        2222,
		CWD:        "/home/dev/p/repo",
	}
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error for missing tty")
	}
	e.TTY = "/dev/ttys001"
	if _, err := ValidateEvent(e, "/home/dev"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEvent_NotificationRequiresType(t *testing.T) {
	e := validEvent()
	e.EventType = EventNotification
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	}
	e.NotificationType = "idle_prompt"
	if _, err := ValidateEvent(e, "/home/dev"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEvent_StopRequiresStopHookActive(t *testing.T) {
	e := validEvent()
	e.EventType = EventStop
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error")
	}
	active := false
	e.StopHookActive = &active
	if _, err := ValidateEvent(e, "/home/dev"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEvent_SessionEndRequiresCWD(t *testing.T) {
	e := validEvent()
	e.EventType = EventSessionEnd
	e.CWD = ""
	if _, err := ValidateEvent(e, "/home/dev"); err == nil {
		t.Fatal("expected error: session_end with missing cwd must be rejected, not silently accepted")
	}
}

func TestCanonicalizeProjectPath_RejectsRoot(t *testing.T) {
	if _, err := CanonicalizeProjectPath("/", "/home/dev"); err == nil {
		t.Fatal("expected error for root path")
	}
}

func TestCanonicalizeProjectPath_RejectsOutOfHome(t *testing.T) {
	if _, err := CanonicalizeProjectPath("/etc/passwd", "/home/dev"); err == nil {
		t.Fatal("expected error for out-of-home path")
	}
}

func TestCanonicalizeProjectPath_CleansDotDot(t *testing.T) {
	got, err := CanonicalizeProjectPath("/home/dev/p/../p/repo", "/home/dev")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/home/dev/p/repo" {
		t.Errorf("got %q", got)
	}
}
