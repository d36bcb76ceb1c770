// Package cmd implements odcsd's cobra command tree: serve, scheduler,
// expirer, migrate, version. Grounded on the teacher's cmd/root.go — a
// package-level rootCmd, a PersistentPreRunE that sets up slog, and an
// Execute() that wires process signal handling around cobra's own context.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/release-engineering/odcs/internal/odcsconfig"
	"github.com/release-engineering/odcs/internal/ui"
)

var (
	debugFlag  bool
	configFlag string
	logger     *slog.Logger
	cfg        odcsconfig.Config
)

// Version variables injected at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Built   = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "odcsd",
	Short:   "On-Demand Compose Service",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if debugFlag {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					if t, ok := a.Value.Any().(time.Time); ok {
						a.Value = slog.TimeValue(t.UTC())
					}
				}
				return a
			},
		}))

		loaded, err := odcsconfig.Load(configFlag)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		cfg = loaded
		return nil
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to odcs.toml (defaults built in, ODCS_* env vars always apply)")
	rootCmd.SetVersionTemplate(fmt.Sprintf("odcsd version %s\n", Version))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(expirerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command with signal handling for graceful shutdown.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		u := newUI()
		u.Error(err.Error())
		fmt.Fprintf(os.Stderr, "\nodcsd %s (%s)\n", Version, Commit)
		os.Exit(1)
	}
}

func newUI() *ui.UI {
	return ui.New(os.Stdout, os.Stderr)
}
