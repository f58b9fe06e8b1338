// Package cmd implements the clawlink command line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawlink/internal/config"
)

var (
	flagConfigPath string
	flagLogLevel   string

	// logLevel is a handle shared with the config hot-reload path so a
	// running session can change verbosity without restarting.
	logLevel slog.LevelVar
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clawlink",
		Short: "Terminal client for the Clawlink gateway",
		Long: `clawlink connects to a running gateway over WebSocket, authenticates
with a per-user device identity, and streams agent conversations into
the terminal.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default ~/.clawlink/config.yaml)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(chatCmd())
	cmd.AddCommand(sessionsCmd())
	cmd.AddCommand(skillsCmd())
	cmd.AddCommand(identityCmd())
	cmd.AddCommand(pairCmd())
	cmd.AddCommand(doctorCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	if env := os.Getenv("CLAWLINK_CONFIG"); env != "" {
		return env
	}
	return config.DefaultPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging() {
	level := flagLogLevel
	if level == "" {
		if cfg, err := config.Load(resolveConfigPath()); err == nil {
			level = cfg.LogLevel
		}
	}
	logLevel.Set(parseLogLevel(level))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &logLevel})))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
