package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/helper"
	"github.com/browserbridge/bridge/internal/telemetry"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

// ServeCmd is the default command: run as the MCP Helper over stdio.
// This is what an agent host launches to get browser_* tools.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as an MCP helper over stdio",
	Long: `Starts the MCP Helper: it connects to the Router Daemon (spawning one
if none is running), registers the browser_* tool catalog, and serves
MCP over stdio to whichever agent host launched it.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := telemetry.New("helper", cfg.LogFile, cfg.Debug)

	h, err := helper.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start helper: %w", err)
	}
	defer h.Close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "browserbridge",
		Version: AppVersion,
	}, nil)
	h.RegisterTools(server)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}
