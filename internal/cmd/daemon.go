package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/capacitor-hq/capd/internal/config"
	"github.com/capacitor-hq/capd/internal/ipcserver"
	"github.com/capacitor-hq/capd/internal/liveness"
	"github.com/capacitor-hq/capd/internal/protocol"
	"github.com/capacitor-hq/capd/internal/reducer"
	"github.com/capacitor-hq/capd/internal/store"
	"github.com/capacitor-hq/capd/internal/tmux"
	"github.com/capacitor-hq/capd/internal/tmuxpoll"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Start, stop, and inspect the capd daemon",
	GroupID: GroupDaemon,
	RunE:    requireSubcommand,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal; used by `daemon start`)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running and healthy",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd, daemonStartCmd, daemonStopCmd, daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// runtimePaths resolves the socket, database, log, lock, and PID file
// paths under the runtime directory.
type runtimePaths struct {
	dir      string
	socket   string
	db       string
	log      string
	lockFile string
	pidFile  string
}

func resolveRuntimePaths() (runtimePaths, error) {
	dir, err := config.EnsureRuntimeDir()
	if err != nil {
		return runtimePaths{}, fmt.Errorf("resolving runtime dir: %w", err)
	}
	return runtimePaths{
		dir:      dir,
		socket:   filepath.Join(dir, "capd.sock"),
		db:       filepath.Join(dir, "capd.db"),
		log:      filepath.Join(dir, "capd.log"),
		lockFile: filepath.Join(dir, "capd.lock"),
		pidFile:  filepath.Join(dir, "capd.pid"),
	}, nil
}

// runDaemonRun is the actual daemon process body: it acquires the
// single-instance lock, opens the store, and serves the socket until
// signaled. `daemon start` execs this as a detached child.
func runDaemonRun(cmd *cobra.Command, args []string) error {
	paths, err := resolveRuntimePaths()
	if err != nil {
		return err
	}

	fl := flock.New(paths.lockFile)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring daemon lock: %w", err)
	}
	if !locked {
		return errors.New("another capd daemon instance already holds the lock")
	}
	defer fl.Unlock()

	if err := os.WriteFile(paths.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer os.Remove(paths.pidFile)

	logFile, err := os.OpenFile(paths.log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewJSONHandler(logFile, nil))
	slog.SetDefault(logger)

	st, err := store.Open(paths.db)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	rt := config.Default(paths.socket, paths.db, paths.log)
	reduceCfg := reducer.Config{TombstoneTTL: rt.TombstoneTTL}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	poller := tmuxpoll.New(tmux.NewTmux(), rt.TmuxPollInterval, rt.TmuxSignalFresh, logger)
	reconciler := &liveness.Reconciler{
		Store:    st,
		Reduce:   reduceCfg,
		Interval: rt.LivenessInterval,
		Logger:   logger,
	}

	srv := &ipcserver.Server{
		SocketPath: paths.socket,
		Store:      st,
		ReduceCfg:  reduceCfg,
		Runtime:    rt,
		HomeDir:    home,
		Version:    daemonVersion,
		Logger:     logger,
		Poller:     poller,
		Reconciler: reconciler,
		StartedAt:  time.Now(),
	}

	// Warm any in-memory component that needs the full event history (none
	// yet depend on it, but the reconciler/poller/router are all rebuilt
	// from current store state rather than incremental event replay) by
	// walking the log once at startup.
	replayed := 0
	if err := st.ReplayFrom(0, func(store.EventRecord) error {
		replayed++
		return nil
	}); err != nil {
		logger.Warn("replay on startup failed", "error", err)
	} else {
		logger.Info("replayed event log on startup", "events", replayed)
	}

	go poller.Run(ctx)
	go reconciler.Run(ctx)

	logger.Info("capd starting", "socket", paths.socket, "db", paths.db, "pid", os.Getpid())
	err = srv.ListenAndServe(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("capd stopped")
	return nil
}

// runDaemonStart launches `capd daemon run` as a detached background
// process and waits briefly to confirm it came up healthy.
func runDaemonStart(cmd *cobra.Command, args []string) error {
	paths, err := resolveRuntimePaths()
	if err != nil {
		return err
	}
	if isDaemonHealthy(paths.socket) {
		fmt.Println("capd is already running")
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}
	logFile, err := os.OpenFile(paths.log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	proc, err := os.StartProcess(exe, []string{exe, "daemon", "run"}, &os.ProcAttr{
		Files: []*os.File{nil, logFile, logFile},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	})
	if err != nil {
		return fmt.Errorf("starting daemon process: %w", err)
	}

	for i := 0; i < 20; i++ {
		if isDaemonHealthy(paths.socket) {
			fmt.Printf("capd started (pid %d)\n", proc.Pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("capd did not become healthy within 2s; check %s", paths.log)
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	paths, err := resolveRuntimePaths()
	if err != nil {
		return err
	}
	pidBytes, err := os.ReadFile(paths.pidFile)
	if err != nil {
		fmt.Println("capd is not running")
		return nil
	}
	pid, err := strconv.Atoi(string(pidBytes))
	if err != nil {
		return fmt.Errorf("corrupt pid file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}
	for i := 0; i < 30; i++ {
		if !isDaemonHealthy(paths.socket) {
			fmt.Println("capd stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("capd did not stop within 3s")
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	paths, err := resolveRuntimePaths()
	if err != nil {
		return err
	}
	if !isDaemonHealthy(paths.socket) {
		fmt.Println("capd: not running")
		return nil
	}
	resp, err := callDaemon(paths.socket, protocol.MethodGetHealth, nil)
	if err != nil {
		return err
	}
	fmt.Printf("capd: running\n%s\n", string(resp))
	return nil
}
