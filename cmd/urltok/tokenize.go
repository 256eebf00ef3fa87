package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/example/go-urltok/internal/batch"
	"github.com/example/go-urltok/internal/bench"
	"github.com/example/go-urltok/internal/client"
	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON  = "json"
	formatTerms = "terms"
	formatFrame = "frame"
	formatYAML  = "yaml"
)

type tokenizeOutput struct {
	Items batch.Result `json:"items" yaml:"items"`
}

func newTokenizeCmd() *cobra.Command {
	var (
		format  string
		remote  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "tokenize [url...]",
		Short: "Tokenize URLs from arguments or stdin (one per line)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			switch format {
			case formatJSON, formatTerms, formatFrame, formatYAML:
			default:
				return fmt.Errorf("--format must be one of json|terms|frame|yaml, got %q", format)
			}

			urls := batch.Request(args)
			if len(urls) == 0 {
				urls, err = bench.ReadURLs(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			cd := codec.Codec{MaxFrameBytes: cfg.Codec.MaxFrameBytes}

			var res batch.Result
			if remote != "" {
				c := client.New(remote, client.WithCodec(cd))
				slog.Debug("tokenizing remotely", slog.String("addr", remote), slog.Int("urls", len(urls)))
				res, err = c.Tokenize(ctx, urls)
			} else {
				coord, buildErr := engine.New(cfg, slog.Default(), nil)
				if buildErr != nil {
					return buildErr
				}
				res, err = coord.TokenizeBatch(ctx, urls)
			}
			if err != nil {
				return err
			}

			return writeResult(cmd.OutOrStdout(), format, cd, res)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatJSON, "Output format: json|terms|frame|yaml")
	cmd.Flags().StringVar(&remote, "remote", "", "Address of a running urltok server (empty = tokenize in process)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort after this duration (0 = no limit)")

	return cmd
}

func writeResult(w io.Writer, format string, cd codec.Codec, res batch.Result) error {
	bw := bufio.NewWriter(w)

	var err error
	switch format {
	case formatFrame:
		err = cd.WriteResult(bw, res)
	case formatTerms:
		err = json.NewEncoder(bw).Encode(codec.Terms(res))
	case formatYAML:
		enc := yaml.NewEncoder(bw)
		enc.SetIndent(2)
		if err = enc.Encode(tokenizeOutput{Items: res}); err == nil {
			err = enc.Close()
		}
	default:
		if res == nil {
			res = batch.Result{}
		}
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		err = enc.Encode(tokenizeOutput{Items: res})
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}
