package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/oshokin/ptah/internal/fault"
)

// Settings are process-level parameters read from the environment.
type Settings struct {
	// DeployEnv names the deployment (local, staging, production).
	DeployEnv string `env:"DEPLOY_ENV" envDefault:"local"`
	// ConfigPath is the YAML configuration document.
	ConfigPath string `env:"PTAH_CONFIG_PATH" envDefault:"/opt/ptah_config.yaml"`
	// ListenAddress is the HTTP API address.
	ListenAddress string `env:"PTAH_LISTEN_ADDRESS" envDefault:":8000"`

	// OpenWrtBaseReleasesURL lists published OpenWrt releases.
	OpenWrtBaseReleasesURL string `env:"OPENWRT_BASE_RELEASES_URL" envDefault:"https://downloads.openwrt.org/releases/"`
	// OpenWrtBuilderFileExt is the suffix of the image builder archives.
	OpenWrtBuilderFileExt string `env:"OPENWRT_BUILDER_FILE_EXT" envDefault:".Linux-x86_64.tar.zst"`

	// BuildersPath holds one unpacked image builder per profile.
	BuildersPath string `env:"BUILDERS_PATH" envDefault:"/opt/builders"`
	// RoutersFilesPath holds the staged tree of every prepared device.
	RoutersFilesPath string `env:"ROUTERS_FILES_PATH" envDefault:"/opt/routers_files"`
	// OutputPath receives the built images.
	OutputPath string `env:"OUTPUT_PATH" envDefault:"/opt/output"`
	// CachePath is the root of the content-addressed download cache.
	CachePath string `env:"GITLAB_RELEASES_OUTPUT_PATH" envDefault:"/opt/gitlab_releases"`
	// RouterTemporaryPath holds per-device secret material during a prepare.
	RouterTemporaryPath string `env:"ROUTER_TEMPORARY_PATH" envDefault:"/opt/temporary"`

	// VaultURL is the secret service used when a source sets no vault_server.
	VaultURL string `env:"VAULT_URL" envDefault:"http://vault:8200"`

	DownloadTimeout      time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"40s"`
	SecretServiceTimeout time.Duration `env:"SECRET_SERVICE_TIMEOUT" envDefault:"15s"`
	// BuilderDownloadTimeout bounds one image builder download, which runs to hundreds of megabytes.
	BuilderDownloadTimeout time.Duration `env:"BUILDER_DOWNLOAD_TIMEOUT" envDefault:"30m"`
	RetryMaxElapsed        time.Duration `env:"RETRY_MAX_ELAPSED" envDefault:"30s"`
	BuildContextTTL        time.Duration `env:"BUILD_CONTEXT_TTL" envDefault:"24h"`
	ShutdownTimeout        time.Duration `env:"PTAH_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel string `env:"PTAH_LOG_LEVEL" envDefault:"info"`
	// LogFile enables a rotated JSON log file next to the console output.
	LogFile string `env:"PTAH_LOG_FILE"`
}

var (
	errFailedToParseSettings = errors.New("failed to parse settings from env")
	errNonPositiveDuration   = errors.New("duration must be positive")
)

// LoadSettings reads settings from the process environment.
func LoadSettings() (*Settings, error) {
	return parseSettings(env.Options{})
}

// SettingsFromMap reads settings from the given variables instead of the process environment.
func SettingsFromMap(vars map[string]string) (*Settings, error) {
	return parseSettings(env.Options{Environment: vars})
}

func parseSettings(opts env.Options) (*Settings, error) {
	var settings Settings
	if err := env.ParseWithOptions(&settings, opts); err != nil {
		return nil, fmt.Errorf("%w: %w: %w", fault.ErrConfiguration, errFailedToParseSettings, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

// Validate checks URLs and durations.
func (s *Settings) Validate() error {
	if err := checkURL(s.VaultURL); err != nil {
		return fmt.Errorf("%w: VAULT_URL: %w", fault.ErrConfiguration, err)
	}

	if err := checkURL(s.OpenWrtBaseReleasesURL); err != nil {
		return fmt.Errorf("%w: OPENWRT_BASE_RELEASES_URL: %w", fault.ErrConfiguration, err)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"DOWNLOAD_TIMEOUT", s.DownloadTimeout},
		{"SECRET_SERVICE_TIMEOUT", s.SecretServiceTimeout},
		{"BUILDER_DOWNLOAD_TIMEOUT", s.BuilderDownloadTimeout},
		{"RETRY_MAX_ELAPSED", s.RetryMaxElapsed},
		{"BUILD_CONTEXT_TTL", s.BuildContextTTL},
		{"PTAH_SHUTDOWN_TIMEOUT", s.ShutdownTimeout},
	}

	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s: %w", fault.ErrConfiguration, d.name, errNonPositiveDuration)
		}
	}

	return nil
}
