package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/service/server"
	"github.com/oshokin/ptah/internal/version"
)

var (
	// configPath to the configuration YAML document.
	configPath string
	// logLevel overrides PTAH_LOG_LEVEL.
	logLevel string
	// logFile overrides PTAH_LOG_FILE.
	logFile string

	// rootCmd represents the base command for running the build API.
	rootCmd = &cobra.Command{
		Use:   "ptah-server [listen-address]",
		Short: "Run the ptah build staging API.",
		Long: `Starts the HTTP API that stages per-device firmware build inputs and runs image builds.

Settings come from the environment (PTAH_CONFIG_PATH, PTAH_LISTEN_ADDRESS, VAULT_URL and friends).
The listen address argument and the flags below override them (e.g., :9090, 0.0.0.0:8000).
Profiles are read once at startup from the configuration document.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			// Use listen address argument if provided, otherwise rely on settings.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				Settings:      settings,
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the ptah-server CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotated file")
}
