package commands

import (
	"fmt"
	"os"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/daemon"
	"github.com/browserbridge/bridge/internal/telemetry"
	"github.com/spf13/cobra"
)

// DaemonCmd runs the Router Daemon in the foreground. It is hidden
// because operators reach it indirectly: the Helper self-spawns it
// (spec §4.4 step 2) and `bbridge daemon status`/`stop` manage it.
var DaemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the router daemon",
	Hidden: true,
	RunE:   runDaemon,
}

var DaemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running router daemon",
	RunE:  stopDaemon,
}

var DaemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show router daemon status",
	RunE:  daemonStatusCmd,
}

func init() {
	DaemonCmd.AddCommand(DaemonStopCmd)
	DaemonCmd.AddCommand(DaemonStatusCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if daemon.IsRunning(cfg) {
		return fmt.Errorf("daemon is already running")
	}

	log := telemetry.New("daemon", cfg.LogFile, cfg.Debug)
	d := daemon.New(cfg, log)
	return d.Run()
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !daemon.IsRunning(cfg) {
		fmt.Println("daemon is not running")
		return nil
	}

	pidData, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		return fmt.Errorf("daemon appears to be running but its PID file is missing: %w", err)
	}
	var pid int
	if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err != nil {
		return fmt.Errorf("malformed PID file: %w", err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to locate daemon process: %w", err)
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("failed to signal daemon: %w", err)
	}

	fmt.Println("daemon stopped")
	return nil
}

func daemonStatusCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !daemon.IsRunning(cfg) {
		fmt.Println("daemon is not running")
		return nil
	}
	fmt.Println("daemon is running")
	fmt.Printf("socket: %s\n", cfg.SocketPath())
	fmt.Printf("extension uplink: %s\n", cfg.WSAddr())
	return nil
}

