package hooks

import (
	"fmt"
	"os"
	"path/filepath"
)

// forwardCommandFmt formats the command every installed hook entry runs: a thin
// stdin-relay stub (capd hook-forward) that reads the assistant CLI's
// hook JSON from stdin, tags it with the triggering event type, and
// posts it to the daemon socket as an event(...) call.
const forwardCommandFmt = "capd hook-forward --event=%s"

// DefaultHooksConfig builds the HooksConfig Capacitor wants installed: one
// hook-forward entry per event type, with no matcher restriction (every
// tool use is observed).
func DefaultHooksConfig() HooksConfig {
	entry := func(eventType string) []HookEntry {
		return []HookEntry{{
			Hooks: []Hook{{Type: "command", Command: fmt.Sprintf(forwardCommandFmt, eventType)}},
		}}
	}
	return HooksConfig{
		SessionStart:      entry("session_start"),
		UserPromptSubmit:  entry("user_prompt_submit"),
		PreToolUse:        entry("pre_tool_use"),
		PostToolUse:       entry("post_tool_use"),
		PermissionRequest: entry("permission_request"),
		PreCompact:        entry("pre_compact"),
		Notification:      entry("notification"),
		Stop:              entry("stop"),
		SessionEnd:        entry("session_end"),
	}
}

// Install merges Capacitor's hook entries into the settings.json at path,
// preserving every other field, and reports whether the file changed.
func Install(path string) (changed bool, err error) {
	settings, err := LoadSettings(path)
	if err != nil {
		return false, fmt.Errorf("loading %s: %w", path, err)
	}

	want := DefaultHooksConfig()
	same, err := HooksEqual(settings.Hooks, want)
	if err != nil {
		return false, err
	}
	if same {
		return false, nil
	}

	settings.Hooks = want
	out, err := MarshalSettings(settings)
	if err != nil {
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating settings directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}
