// Package main is the entry point for the tiermem CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/tiermem"
	"github.com/zero-day-ai/tiermem/config"
)

// Set by ldflags.
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	out        io.Writer
}

func rootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:           "tiermem",
		Short:         "Tiered memory engine for conversational agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to tiermem.yaml or a directory containing it")

	root.AddCommand(
		a.storeCmd(),
		a.contextCmd(),
		a.searchCmd(),
		a.factCmd(),
		a.consolidateCmd(),
		a.statsCmd(),
		a.exportCmd(),
		a.healthCmd(),
		a.runCmd(),
		a.watchCmd(),
	)
	return root
}

// loadConfig loads the configured file, or ./tiermem.yaml when present, or
// the defaults.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		if _, err := os.Stat("tiermem.yaml"); err != nil {
			return &config.Config{}, nil
		}
		path = "tiermem.yaml"
	}
	return config.Load(path)
}

func (a *app) open(ctx context.Context) (*tiermem.Engine, *config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	e, err := tiermem.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

// withEngine opens an engine, runs fn and closes the engine.
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *tiermem.Engine) error) error {
	ctx := cmd.Context()
	e, _, err := a.open(ctx)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, e), e.Close())
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseTime accepts RFC 3339 timestamps or a duration meaning that long ago.
func parseTime(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or a duration such as 24h", s)
	}
	return t, nil
}
