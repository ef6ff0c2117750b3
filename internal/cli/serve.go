package cli

import (
	"fmt"

	"github.com/harun/umile/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the umile daemon in the foreground",
	Long: `Run the umile daemon: the worker pool, the collector and every enabled
channel (gateway, telegram). Stops on SIGINT or SIGTERM, flushing the
collector according to collector.shutdown_policy.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if pid, running := isRunning(pidFile); running {
		return fmt.Errorf("daemon is already running (pid %d, PID file: %s)", pid, pidFile)
	}

	log, err := newLogger(cmd, cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.WithConfigPath(loader.GetConfigPath()))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	return d.Wait(cmd.Context())
}

// isRunning reports the PID recorded in pidFile and whether it is alive.
func isRunning(pidFile string) (int, bool) {
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return 0, false
	}
	return pid, daemon.ProcessAlive(pid)
}
