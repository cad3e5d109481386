// Package cmd implements the pressfleet CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pressfleet/pressfleet/internal/config"
	"github.com/pressfleet/pressfleet/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build-time version metadata. Called from main with
// ldflags-injected values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pressfleet",
	Short: "WordPress fleet maintenance orchestrator",
	Long: `pressfleet orchestrates maintenance operations across a fleet of
WordPress sites: bulk updates, backups, scans and cache maintenance, with
bounded concurrency, confirmation gates for destructive operations, recurring
schedules with maintenance windows, and an append-only audit log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := observability.Init(observability.Config{
			Level:  logLevel,
			Format: logFormat,
		})
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (default: ./pressfleet.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format (json|console)")
}

// loadConfig loads the service configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		observability.CLILogger.Error("command failed", zap.Error(err))
	}
	observability.Sync()
	return exitCode(err)
}
