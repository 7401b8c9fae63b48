package main

import (
	"fmt"
	"os"

	"github.com/browserbridge/bridge/internal/commands"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bbridge",
	Short: "Browser-Bridge - MCP browser automation router",
	Long: `Browser-Bridge lets any number of MCP agent hosts share one browser,
each seeing only the tabs bound to its own session.

Quick Start:
  bbridge                    Run as an MCP helper over stdio (default)
  bbridge daemon             Run the router daemon in the foreground
  bbridge sidepanel          Run the extension side panel companion
  bbridge status             Show router daemon and config status

Commands:
  serve                      Run as an MCP helper over stdio (default)
  daemon                     Run the router daemon
  daemon stop/status         Manage a running daemon
  sidepanel                  Run the extension side panel companion
  status                     Show connectivity and config status
  version                    Print the running version

Config: ~/.config/browserbridge/config.yaml
Logs:   stderr, plus the file named by log_file in the config or BROWSER_AGENT_LOG_FILE`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return commands.ServeCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Ignored; the log level follows the config file's debug setting")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.SidepanelCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	commands.AppVersion = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
