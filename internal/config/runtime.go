// Package config holds the daemon's compiled-in Runtime defaults. There is
// deliberately no config file and no environment-variable surface — the
// wire/RPC contract in internal/protocol is the only thing external tools
// may depend on, so tuning knobs stay internal rather than becoming part
// of that contract.
package config

import "time"

// Runtime is the daemon's tunable knobs (§6). All fields have the spec's
// defaults baked in via Default(); nothing reads these from a file or the
// environment.
type Runtime struct {
	TmuxSignalFresh    time.Duration
	ShellSignalFresh   time.Duration
	ShellRetention      time.Duration
	TmuxPollInterval    time.Duration
	LivenessInterval    time.Duration
	TombstoneTTL        time.Duration

	MaxConnections int
	ReadTimeout    time.Duration

	SocketPath string
	DBPath     string
	LogPath    string
}

// Default returns the daemon's baked-in runtime configuration. socketPath,
// dbPath, and logPath are derived from the runtime directory at startup
// (cmd/capd), not hardcoded here.
func Default(socketPath, dbPath, logPath string) Runtime {
	return Runtime{
		TmuxSignalFresh:  5 * time.Second,
		ShellSignalFresh: 10 * time.Minute,
		ShellRetention:   24 * time.Hour,
		TmuxPollInterval: 1 * time.Second,
		LivenessInterval: 15 * time.Second,
		TombstoneTTL:     60 * time.Second,

		MaxConnections: 64,
		ReadTimeout:    500 * time.Millisecond,

		SocketPath: socketPath,
		DBPath:     dbPath,
		LogPath:    logPath,
	}
}
