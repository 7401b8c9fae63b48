package commands

import (
	"fmt"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/daemon"
	"github.com/spf13/cobra"
)

// StatusCmd reports the ambient configuration and whether a router
// daemon is currently reachable, independent of any particular helper
// session (spec §7's connectivity observability, from the operator's
// side rather than an agent host's).
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show router daemon and configuration status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Browser-Bridge status")
	fmt.Println()

	if daemon.IsRunning(cfg) {
		fmt.Println("router daemon: running")
		fmt.Printf("  socket:           %s\n", cfg.SocketPath())
		fmt.Printf("  extension uplink: %s\n", cfg.WSAddr())
	} else {
		fmt.Println("router daemon: not running")
		fmt.Println("  (a helper will self-spawn one on its next connection attempt)")
	}
	fmt.Println()

	fmt.Printf("config file: %s\n", config.GetConfigPath())
	fmt.Printf("max sessions: %d\n", cfg.MaxSessions)
	fmt.Printf("idle timeout: %s\n", cfg.IdleTimeout)

	return nil
}
