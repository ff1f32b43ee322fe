package builders

import (
	"context"
	"fmt"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/imagebuilder"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/remote"
)

// Options contains inputs for the builders entry point.
type Options struct {
	// Settings overrides the environment; nil means read the environment.
	Settings *config.Settings
	// ConfigPath overrides the configuration document path from the settings.
	ConfigPath string
	// Profile limits provisioning to one profile; empty means all.
	Profile string
}

// Run provisions image builders.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "ptah-builders")

	settings := opts.Settings
	if settings == nil {
		loaded, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		settings = loaded
	}

	configPath := settings.ConfigPath
	if opts.ConfigPath != "" {
		configPath = opts.ConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	provisioner := imagebuilder.NewProvisioner(
		remote.New(settings.BuilderDownloadTimeout, remote.WithMaxElapsed(settings.RetryMaxElapsed)),
		settings.OpenWrtBaseReleasesURL,
		settings.OpenWrtBuilderFileExt,
		settings.BuildersPath,
	)

	logger.InfoKV(ctx, "Provisioning image builders",
		"builders_path", settings.BuildersPath,
		"profile", opts.Profile)

	if err = provisioner.ProvisionAll(ctx, cfg, opts.Profile); err != nil {
		return fmt.Errorf("provision image builders: %w", err)
	}

	logger.Info(ctx, "Image builders provisioned successfully")

	return nil
}
