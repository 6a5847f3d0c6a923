package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"telescribe/internal/config"
	"telescribe/internal/logging"
	"telescribe/internal/run"

	"github.com/spf13/cobra"
)

const (
	startTimeout = 5 * time.Second
	stopTimeout  = 5 * time.Second
)

var errNotRunning = errors.New("daemon is not running")

// NewStartCmd spawns serve in the background and waits for its control socket.
func NewStartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start telescribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(cmd, *cfgPath)
		},
	}
	addRuntimeFlags(cmd)
	return cmd
}

func start(cmd *cobra.Command, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if pid, ok := runningPID(cfg.Paths.PidPath); ok {
		return fmt.Errorf("already running with pid %d", pid)
	}
	if err := config.MustStatePaths(cfg); err != nil {
		return err
	}
	self, err := os.Executable()
	if err != nil {
		return err
	}
	child := exec.Command(self, "serve", "--config", cfg.Paths.ConfigPath)
	child.Env = append(os.Environ(), runtimeEnv(cmd)...)
	// Detach from the terminal's process group so ^C in the shell does not
	// reach the daemon. Output goes to the rotating log.
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return err
	}
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()
	if err := waitForSocket(cfg.Paths.SocketPath, exited, startTimeout); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "telescribe started (pid %d)\n", child.Process.Pid)
	return nil
}

// NewServeCmd runs the daemon in the foreground; start spawns it and
// service units call it directly.
func NewServeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run telescribe daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kv := range runtimeEnv(cmd) {
				k, v, _ := strings.Cut(kv, "=")
				if err := os.Setenv(k, v); err != nil {
					return fmt.Errorf("set %s: %w", k, err)
				}
			}
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if pid, ok := runningPID(cfg.Paths.PidPath); ok && pid != os.Getpid() {
				return fmt.Errorf("already running with pid %d", pid)
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			return run.Serve(cfg, logger)
		},
	}
	addRuntimeFlags(cmd)
	return cmd
}

// NewStopCmd sends SIGTERM and waits for the daemon to exit.
func NewStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop telescribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stop(*cfgPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "telescribe stopped")
			return nil
		},
	}
}

func stop(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	pid, ok := runningPID(cfg.Paths.PidPath)
	if !ok {
		return errNotRunning
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return err
	}
	return waitForExit(cfg.Paths.PidPath, stopTimeout)
}

// NewRestartCmd stops a running daemon, if any, then starts a new one.
func NewRestartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart telescribe daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stop(*cfgPath); err != nil && !errors.Is(err, errNotRunning) {
				return fmt.Errorf("restart: %w", err)
			}
			return start(cmd, *cfgPath)
		},
	}
	addRuntimeFlags(cmd)
	return cmd
}

func addRuntimeFlags(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "enable metrics at address (e.g., 127.0.0.1:9327) for this run")
	cmd.Flags().String("log-level", "", "override logging.level for this run")
	cmd.Flags().StringSlice("transport", nil, "override transports.order for this run")
}

// runtimeEnv maps per-run flags onto the env overrides config.Load reads.
func runtimeEnv(cmd *cobra.Command) []string {
	var env []string
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		env = append(env, "TELESCRIBE_METRICS_ADDR="+addr)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		env = append(env, "TELESCRIBE_LOG_LEVEL="+lvl)
	}
	if order, _ := cmd.Flags().GetStringSlice("transport"); len(order) > 0 {
		env = append(env, "TELESCRIBE_TRANSPORTS="+strings.Join(order, ","))
	}
	return env
}
