// Package hooks manages the assistant CLI's settings.json hook wiring:
// reading an existing settings file without disturbing fields Capacitor
// doesn't understand, and merging in the hook-forward entries the daemon
// needs to receive events. The round-trip-preserving Extra map pattern is
// grounded on the gastown hooks config loader.
package hooks

import (
	"encoding/json"
	"os"
)

// Hook is one entry in a hook matcher's command list.
type Hook struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// HookEntry pairs a tool-name matcher with the hooks that fire for it.
type HookEntry struct {
	Matcher string `json:"matcher,omitempty"`
	Hooks   []Hook `json:"hooks"`
}

// HooksConfig is the subset of settings.json's "hooks" object Capacitor
// cares about: the nine hook groups below. The protocol's other event
// types (post_tool_use_failure, subagent_start, subagent_stop,
// teammate_idle, task_completed, shell_cwd) have no group here.
type HooksConfig struct {
	SessionStart      []HookEntry `json:"SessionStart,omitempty"`
	UserPromptSubmit  []HookEntry `json:"UserPromptSubmit,omitempty"`
	PreToolUse        []HookEntry `json:"PreToolUse,omitempty"`
	PostToolUse       []HookEntry `json:"PostToolUse,omitempty"`
	PermissionRequest []HookEntry `json:"PermissionRequest,omitempty"`
	PreCompact        []HookEntry `json:"PreCompact,omitempty"`
	Notification      []HookEntry `json:"Notification,omitempty"`
	Stop              []HookEntry `json:"Stop,omitempty"`
	SessionEnd        []HookEntry `json:"SessionEnd,omitempty"`
}

// SettingsJSON is the top-level settings.json document. Extra preserves
// every field Capacitor doesn't model so installing hooks never clobbers
// unrelated user configuration (e.g. editorMode, enabledPlugins) — the
// same round-trip technique the gastown hooks loader uses.
type SettingsJSON struct {
	Hooks HooksConfig
	Extra map[string]json.RawMessage
}

// UnmarshalSettings parses settings.json bytes into a SettingsJSON,
// stashing every top-level key besides "hooks" into Extra verbatim.
func UnmarshalSettings(data []byte) (SettingsJSON, error) {
	var raw map[string]json.RawMessage
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return SettingsJSON{}, err
		}
	}
	if raw == nil {
		raw = map[string]json.RawMessage{}
	}

	var s SettingsJSON
	if hooksRaw, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &s.Hooks); err != nil {
			return SettingsJSON{}, err
		}
	}
	delete(raw, "hooks")
	s.Extra = raw
	return s, nil
}

// MarshalSettings serializes a SettingsJSON back to bytes, re-inserting
// Extra's fields alongside the (possibly modified) hooks object.
func MarshalSettings(s SettingsJSON) ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range s.Extra {
		out[k] = v
	}
	hooksRaw, err := json.Marshal(s.Hooks)
	if err != nil {
		return nil, err
	}
	out["hooks"] = hooksRaw
	return json.MarshalIndent(out, "", "  ")
}

// LoadSettings reads and parses settings.json at path. A missing file is
// treated as an empty document, not an error — hooks install should work
// on a project that has never had a settings.json before.
func LoadSettings(path string) (SettingsJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return UnmarshalSettings(nil)
		}
		return SettingsJSON{}, err
	}
	return UnmarshalSettings(data)
}

// HooksEqual compares two HooksConfig values structurally, by re-marshaling
// both to a canonical form — simpler and less error-prone than a
// field-by-field comparison across every event type.
func HooksEqual(a, b HooksConfig) (bool, error) {
	aj, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return string(aj) == string(bj), nil
}
