// Package cmd implements the luxbot command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/luxbot/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile   string
	verbose   bool
	sessionID string
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "luxbot",
		Short:         "WhatsApp command bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default $LUXBOT_CONFIG or ~/.luxbot/config.json)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "session id (overrides config)")

	root.AddCommand(runCmd())
	root.AddCommand(pairCmd())
	root.AddCommand(sessionCmd())
	root.AddCommand(commandsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(versionCmd())
	return root
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("luxbot", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return config.ExpandHome(cfgFile)
	}
	if v := os.Getenv("LUXBOT_CONFIG"); v != "" {
		return config.ExpandHome(v)
	}
	return config.ExpandHome(config.DefaultPath)
}

// loadConfig loads the config, applies flag overrides and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		cfg.Session.ID = config.NormalizeSessionID(sessionID)
	}
	setupLogging(cfg.Log, verbose)
	return cfg, nil
}

func setupLogging(lc config.LogConfig, verbose bool) {
	level := slog.LevelInfo
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
