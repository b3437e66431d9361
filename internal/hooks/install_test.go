package hooks

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestInstall_CreatesSettingsFileWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	changed, err := Install(path)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true on first install")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings.json not created: %v", err)
	}
}

func TestInstall_PreservesUnrelatedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte(`{"editorMode":"vim","enabledPlugins":["foo"]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Install(path); err != nil {
		t.Fatalf("Install: %v", err)
	}

	settings, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if string(settings.Extra["editorMode"]) != `"vim"` {
		t.Errorf("editorMode = %s", settings.Extra["editorMode"])
	}
	// MarshalSettings pretty-prints the file, so compare the value with
	// insignificant whitespace removed.
	var plugins bytes.Buffer
	if err := json.Compact(&plugins, settings.Extra["enabledPlugins"]); err != nil || plugins.String() != `["foo"]` {
		t.Errorf("enabledPlugins = %s", settings.Extra["enabledPlugins"])
	}
}

func TestInstall_SecondCallIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if _, err := Install(path); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	changed, err := Install(path)
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if changed {
		t.Error("expected changed=false when hooks already match")
	}
}
