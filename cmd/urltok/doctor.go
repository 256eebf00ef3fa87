package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/example/go-urltok/internal/codec"
	"github.com/example/go-urltok/internal/config"
	"github.com/example/go-urltok/internal/doctor"
	"github.com/example/go-urltok/internal/engine"
	"github.com/example/go-urltok/internal/tokenizer"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var skipListen bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run configuration and engine preflight checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := doctor.Run(doctorConfig(cfg, skipListen), out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().BoolVar(&skipListen, "skip-listen", false, "Skip the listen address check (e.g. while the server is running)")

	return cmd
}

// doctorConfig wires the doctor checks to the loaded configuration.
func doctorConfig(cfg config.Config, skipListen bool) doctor.Config {
	cd := codec.Codec{MaxFrameBytes: cfg.Codec.MaxFrameBytes}

	dcfg := doctor.Config{
		GoVersion: func() (string, error) { return runtime.Version(), nil },
		StopWords: func() (tokenizer.StopWords, error) {
			return engine.LoadStopWords(cfg.Tokenizer)
		},
		StopWordsSource: stopWordsSource(cfg.Tokenizer),
		EngineSelfTest: func() error {
			coord, err := engine.New(cfg, nil, nil)
			if err != nil {
				return err
			}
			return doctor.EngineSelfTest(coord)
		},
		CodecSelfTest: func() error { return doctor.CodecSelfTest(cd) },
	}
	if !skipListen {
		dcfg.ListenAddr = cfg.Server.ListenAddr
	}
	return dcfg
}

func stopWordsSource(tc config.TokenizerConfig) string {
	if tc.StopWordsFile != "" {
		return tc.StopWordsFile
	}
	return tc.StopWords
}
