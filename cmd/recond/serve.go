package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/recon/internal/runtime"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the interview HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.Version = version
			logger := newLogger(cfg.Telemetry.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runtime.New(cfg, logger).Start(ctx); err != nil {
				logger.Error("runtime exited with error", slog.String("error", err.Error()))
				return err
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
