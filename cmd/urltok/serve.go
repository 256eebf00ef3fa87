package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/example/go-urltok/internal/engine"
	"github.com/example/go-urltok/internal/metrics"
	"github.com/example/go-urltok/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the urltok HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			logger := slog.Default()
			m := metrics.New()

			coord, err := engine.New(cfg, logger, m)
			if err != nil {
				return err
			}

			srv := server.New(cfg, coord, server.WithLogger(logger), server.WithMetrics(m))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("listening", slog.String("addr", cfg.Server.ListenAddr))
			return srv.Start(ctx)
		},
	}

	return cmd
}
