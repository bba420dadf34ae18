package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loqalabs/recon/internal/config"
)

const defaultConfigPath = "recon.yaml"

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "recond",
		Short: "Mock-interview practice service",
		Long: `recond prepares practice interviews: it generates questions and model
answers with a language model, speaks them, transcribes the candidate's
spoken answers, scores them and compiles a report.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile, cmd.Flags().Changed("env-file"))
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before configuration")

	cmd.AddCommand(newServeCmd(opts), newIntrosCmd(opts), newVersionCmd())
	return cmd
}

// loadEnvFile loads KEY=VALUE pairs without overriding variables already set.
// A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// loadConfig reads the configuration. When the default file is absent the
// built-in defaults and environment overrides are used.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	path := o.configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
