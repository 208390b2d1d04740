// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/SwiftRover/pkg/logging"
	"github.com/AleutianAI/SwiftRover/pkg/secrets"
	"github.com/AleutianAI/SwiftRover/services/swiftrover"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global Command Variables ---
var (
	flagHost        string
	flagPort        int
	flagPublicURL   string
	flagDBPath      string
	flagUploadsDir  string
	flagLogLevel    string
	flagLogJSON     bool
	flagIntentRules string

	rootCmd = &cobra.Command{
		Use:           "swiftrover",
		Short:         "SwiftRover travel assistant backend",
		Long:          `SwiftRover serves the ChatKit protocol for a travel assistant that looks up flights, reads parking signs and reviews expenses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "swiftrover %s\n", version)
		},
	}
)

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd, versionCmd)
}

// addServeFlags defines the serve flags. Each flag overrides the
// environment variable named in its usage.
func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagHost, "host", "", "bind host (SWIFTROVER_HOST)")
	cmd.Flags().IntVar(&flagPort, "port", 0, "bind port (SWIFTROVER_PORT)")
	cmd.Flags().StringVar(&flagPublicURL, "public-url", "", "base URL for upload and preview links (SWIFTROVER_PUBLIC_URL)")
	cmd.Flags().StringVar(&flagDBPath, "db", "", "SQLite database file (SWIFTROVER_DB_PATH)")
	cmd.Flags().StringVar(&flagUploadsDir, "uploads", "", "attachment directory (SWIFTROVER_UPLOADS_DIR)")
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (SWIFTROVER_LOG_LEVEL)")
	cmd.Flags().BoolVar(&flagLogJSON, "log-json", false, "log JSON to stderr (SWIFTROVER_LOG_JSON)")
	cmd.Flags().StringVar(&flagIntentRules, "intent-rules", "", "YAML keyword rule override (SWIFTROVER_INTENT_RULES)")
}

// runServe loads the configuration, sets up logging and runs the service
// until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := swiftrover.LoadConfig()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &cfg)

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "swiftrover",
		JSON:    cfg.LogJSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())
	defer secrets.Purge()

	svc, err := swiftrover.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("SwiftRover starting", "version", version, "addr", cfg.Addr())
	return svc.Run(ctx)
}

// applyFlagOverrides copies explicitly set flags over the environment
// configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *swiftrover.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = flagHost
	}
	if flags.Changed("port") {
		cfg.Port = flagPort
	}
	if flags.Changed("public-url") {
		cfg.PublicURL = flagPublicURL
	}
	if flags.Changed("db") {
		cfg.DBPath = flagDBPath
	}
	if flags.Changed("uploads") {
		cfg.UploadsDir = flagUploadsDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("log-json") {
		cfg.LogJSON = flagLogJSON
	}
	if flags.Changed("intent-rules") {
		cfg.IntentRulesPath = flagIntentRules
	}
}
