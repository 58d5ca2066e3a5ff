// Package cmd implements the gatescan CLI.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hostbooth/gatescan/internal/config"
)

var (
	flagConfig string
	flagDebug  bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatescan",
		Short: "Camera-driven QR check-in scanner for event hosts",
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelInfo
			if flagDebug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultPath(), "path to config file")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	cmd.AddCommand(scanCmd())
	cmd.AddCommand(redeemCmd())
	cmd.AddCommand(badgeCmd())
	cmd.AddCommand(doctorCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
