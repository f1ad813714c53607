package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kayz/tavern/internal/logger"
	"github.com/kayz/tavern/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve generation over the configured transport (stdio MCP or WebSocket)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	switch cfg.Transport {
	case "ws":
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("serving websocket on %s", addr)
		return transport.NewWSServer(rt.exec).ListenAndServe(ctx, addr)
	case "stdio", "":
		logger.Info("serving mcp over stdio")
		return transport.NewMCPServer(rt.exec, build).Serve()
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
