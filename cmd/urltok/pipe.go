package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/engine"
	"github.com/example/go-urltok/internal/pipe"
	"github.com/spf13/cobra"
)

func newPipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Serve framed tokenize requests on stdin/stdout",
		Long: "Reads length-prefixed request frames from stdin and writes one result frame " +
			"per request to stdout until stdin is closed. Logs go to stderr.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			logger := slog.Default()
			coord, err := engine.New(cfg, logger, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return pipe.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), coord,
				pipe.WithCodec(codec.Codec{MaxFrameBytes: cfg.Codec.MaxFrameBytes}),
				pipe.WithLogger(logger),
			)
		},
	}

	return cmd
}
