package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/service/builders"
	"github.com/oshokin/ptah/internal/version"
)

var (
	// configPath to the configuration YAML document.
	configPath string
	// profile limits provisioning to a single profile.
	profile string
	// logLevel overrides PTAH_LOG_LEVEL.
	logLevel string
	// logFile overrides PTAH_LOG_FILE.
	logFile string

	// rootCmd represents the base command for provisioning image builders.
	rootCmd = &cobra.Command{
		Use:   "ptah-builders",
		Short: "Download OpenWrt image builders for the configured profiles.",
		Long: `Downloads and unpacks one OpenWrt image builder per profile into BUILDERS_PATH.

A profile with openwrt_version "latest" gets the newest release listed at OPENWRT_BASE_RELEASES_URL.
Existing builders of a profile are replaced. Run it before starting ptah-server
and again whenever profile versions change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			settings, err := config.LoadSettings()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("log-level") {
				logLevel = settings.LogLevel
			}

			if !cmd.Flags().Changed("log-file") {
				logFile = settings.LogFile
			}

			if err = logger.Setup(logLevel, logFile); err != nil {
				return err
			}

			options := &builders.Options{
				Settings:   settings,
				ConfigPath: configPath,
				Profile:    profile,
			}

			return builders.Run(ctx, options)
		},
	}
)

// Execute runs the ptah-builders CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file (default $PTAH_CONFIG_PATH)")
	rootCmd.Flags().StringVarP(&profile, "profile", "p", "", "provision only this profile")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotated file")
}
