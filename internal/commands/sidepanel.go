package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/browserbridge/bridge/internal/config"
	"github.com/browserbridge/bridge/internal/executor"
	"github.com/browserbridge/bridge/internal/sidepanel"
	"github.com/browserbridge/bridge/internal/telemetry"
	"github.com/spf13/cobra"
)

// SidepanelCmd runs the Extension Side Panel companion process
// standalone, for the case where it isn't hosted inside an actual
// browser extension (spec §4.5, component C5): it dials the daemon's
// extension endpoint, owns the tab bindings, and dispatches actions to
// a real Chrome instance via internal/executor.
var SidepanelCmd = &cobra.Command{
	Use:   "sidepanel",
	Short: "Run the extension side panel companion process",
	Long: `Dials the router daemon's extension endpoint, binds sessions to
browser tabs, and dispatches actions to a locally driven Chrome
instance. This is the standalone stand-in for the browser extension's
side panel.`,
	RunE: runSidepanel,
}

func runSidepanel(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := telemetry.New("sidepanel", cfg.LogFile, cfg.Debug)

	exec, err := executor.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer exec.Close()

	panel := sidepanel.New(cfg, log, exec)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	if err := panel.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("side panel stopped: %w", err)
	}
	return nil
}
