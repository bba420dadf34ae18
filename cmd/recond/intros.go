package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/loqalabs/recon/internal/intro"
	"github.com/loqalabs/recon/internal/tts"
)

func newIntrosCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intros",
		Short: "Manage the introduction audio library",
	}
	cmd.AddCommand(newIntrosGenerateCmd(opts))
	return cmd
}

func newIntrosGenerateCmd(opts *rootOptions) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize every greeting and prompt in the intro manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cfg.Telemetry.LogLevel)

			// Placeholder tones must not land in the shared library.
			if cfg.TTS.FallbackMode == "auto" {
				cfg.TTS.FallbackMode = "none"
			}
			renderer, err := tts.NewFromConfig(cfg.TTS, cfg.Speech, logger)
			if err != nil {
				return fmt.Errorf("init tts: %w", err)
			}
			lib, err := intro.Open(cfg.Intro.Manifest)
			if err != nil {
				return err
			}

			summary, manifest, err := intro.Generate(cmd.Context(), renderer, lib, concurrency, logger)
			if err != nil {
				return err
			}
			if summary.Succeeded() > 0 {
				if err := intro.Save(cfg.Intro.Manifest, manifest); err != nil {
					return fmt.Errorf("write intro manifest: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "greetings: %d/%d\n", summary.GreetingsOK, summary.Greetings)
			fmt.Fprintf(out, "prompts:   %d/%d\n", summary.PromptsOK, summary.Prompts)
			for _, f := range summary.Failed {
				fmt.Fprintf(out, "failed:    %s\n", f)
			}
			if !summary.OK() {
				logger.Error("intro library incomplete", slog.Int("failed", len(summary.Failed)))
				return fmt.Errorf("%d of %d clips failed", len(summary.Failed), summary.Total())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Clips synthesized in parallel")
	return cmd
}
