package doctor

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/capacitor-hq/capd/internal/protocol"
)

var checkDaemonSocket = Check{
	Name:     "daemon_socket",
	Category: CategoryDaemon,
	Run: func(ctx context.Context, env Env) Result {
		if env.SocketPath == "" {
			return fail("daemon_socket", CategoryDaemon, "no socket path configured")
		}
		conn, err := net.DialTimeout("unix", env.SocketPath, 500*time.Millisecond)
		if err != nil {
			return fail("daemon_socket", CategoryDaemon, "cannot connect to %s: %v", env.SocketPath, err)
		}
		defer conn.Close()

		req := protocol.Request{ProtocolVersion: protocol.Version, Method: string(protocol.MethodGetHealth), ID: "doctor"}
		conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
		if err := jsonEncode(conn, req); err != nil {
			return fail("daemon_socket", CategoryDaemon, "writing request failed: %v", err)
		}
		var resp protocol.Response
		if err := jsonDecode(conn, &resp); err != nil {
			return fail("daemon_socket", CategoryDaemon, "reading response failed: %v", err)
		}
		if !resp.OK {
			return fail("daemon_socket", CategoryDaemon, "get_health returned an error: %v", resp.Error)
		}
		return ok("daemon_socket", CategoryDaemon, "daemon responded to get_health")
	},
}

var checkDatabaseFile = Check{
	Name:     "database_file",
	Category: CategoryStore,
	Run: func(ctx context.Context, env Env) Result {
		if env.DBPath == "" {
			return warn("database_file", CategoryStore, "no database path configured")
		}
		info, err := os.Stat(env.DBPath)
		if err != nil {
			return fail("database_file", CategoryStore, "database file missing: %v", err)
		}
		if info.Size() == 0 {
			return warn("database_file", CategoryStore, "database file is empty")
		}
		return ok("database_file", CategoryStore, "database file present (%d bytes)", info.Size())
	},
}

var checkTmuxAvailable = Check{
	Name:     "tmux_available",
	Category: CategoryTmux,
	Run: func(ctx context.Context, env Env) Result {
		if path, err := execLookPath("tmux"); err == nil {
			return ok("tmux_available", CategoryTmux, "tmux found at %s", path)
		}
		return warn("tmux_available", CategoryTmux, "tmux not found on PATH; routing will have no tmux signals")
	},
}

var checkHooksInstalled = Check{
	Name:     "hooks_installed",
	Category: CategoryHooks,
	Run: func(ctx context.Context, env Env) Result {
		if env.SettingsPath == "" {
			return warn("hooks_installed", CategoryHooks, "no settings.json path configured")
		}
		if _, err := os.Stat(env.SettingsPath); err != nil {
			return warn("hooks_installed", CategoryHooks, "settings.json not found at %s; run capd hooks install", env.SettingsPath)
		}
		return ok("hooks_installed", CategoryHooks, "settings.json present at %s", env.SettingsPath)
	},
}
