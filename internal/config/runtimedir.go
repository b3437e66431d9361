package config

import (
	"os"
	"path/filepath"
)

// RuntimeDir returns the directory the daemon uses for its socket, lock
// file, database, and log file: $XDG_RUNTIME_DIR/capd if set, otherwise
// $HOME/.capd (grounded on the gastown CLI's os.TempDir()-based fallback
// pattern for when no better-scoped directory is available).
func RuntimeDir() (string, error) {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "capd"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".capd"), nil
}

// EnsureRuntimeDir creates the runtime directory (mode 0700, single-user
// local fleet per §1) if it doesn't already exist and returns its path.
func EnsureRuntimeDir() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
