package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greenhouse-systems/fog-gateway/internal/config"
	"github.com/greenhouse-systems/fog-gateway/internal/gateway"
	"github.com/greenhouse-systems/fog-gateway/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fog gateway daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flagConfig != "" {
		if err := cfg.ApplyOverlay(flagConfig); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	level := resolveLogLevel()
	if level == "" {
		level = cfg.LogLevel
	}
	logger := logging.Setup(level)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("fog gateway starting", "host", cfg.Host, "port", cfg.Port, "mqtt_host", cfg.MQTT.Host)
	return gw.Run(ctx)
}
