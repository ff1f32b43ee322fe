package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/ptah/internal/fault"
)

// Config is the declarative document: credentials and build profiles.
type Config struct {
	// Credentials declares every credential name a source may reference.
	Credentials map[string]*Credential `json:"credentials" yaml:"credentials"`
	// Profiles are the build targets exposed through the API.
	Profiles []*Profile `json:"ptah_profiles" yaml:"ptah_profiles"`
}

// CredentialSource tells where the value of a credential lives.
type CredentialSource string

const (
	// SourceEnviron reads the credential from the environment variable of the same name.
	SourceEnviron CredentialSource = "environ"
	// SourceFile reads the credential from a mounted file.
	SourceFile CredentialSource = "file"
)

// Credential declares how a named secret is looked up. A null declaration means environ.
type Credential struct {
	Source CredentialSource `json:"source,omitempty" yaml:"source,omitempty"`
	// Path is the file holding the value when Source is file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DefaultConfigFilename is used when no path is given.
const DefaultConfigFilename = "/opt/ptah_config.yaml"

var (
	errConfigIsNotSet         = errors.New("configuration is not set")
	errUndeclaredCredential   = errors.New("undeclared credential")
	errUnknownCredentialSrc   = errors.New("unknown credential source")
	errCredentialFileRequired = errors.New("credential file path must be provided")
	errDuplicateProfile       = errors.New("duplicate profile name")
	errNoProfiles             = errors.New("no profiles declared")
	errBadURL                 = errors.New("invalid URL")
)

// Load reads the configuration document from path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", fault.ErrConfiguration, err)
	}

	return Parse(contents)
}

// Parse decodes and validates a configuration document.
func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		if errors.Is(err, fault.ErrConfiguration) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: unmarshal config: %w", fault.ErrConfiguration, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the whole document and reports every violation at once.
// Null credential declarations are normalized to environ.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: %w", fault.ErrConfiguration, errConfigIsNotSet)
	}

	var result *multierror.Error

	for name, credential := range cfg.Credentials {
		if credential == nil {
			cfg.Credentials[name] = &Credential{Source: SourceEnviron}

			continue
		}

		switch credential.Source {
		case "", SourceEnviron:
			credential.Source = SourceEnviron
		case SourceFile:
			if credential.Path == "" {
				result = multierror.Append(result, fmt.Errorf("credential %q: %w", name, errCredentialFileRequired))
			}
		default:
			result = multierror.Append(result,
				fmt.Errorf("credential %q: %w %q", name, errUnknownCredentialSrc, credential.Source))
		}
	}

	if len(cfg.Profiles) == 0 {
		result = multierror.Append(result, errNoProfiles)
	}

	seen := make(map[string]struct{}, len(cfg.Profiles))

	for _, profile := range cfg.Profiles {
		if profile == nil {
			continue
		}

		if _, ok := seen[profile.Name]; ok {
			result = multierror.Append(result, fmt.Errorf("%w %q", errDuplicateProfile, profile.Name))
		}

		seen[profile.Name] = struct{}{}

		result = multierror.Append(result, profile.validate()...)

		for _, name := range profile.CredentialNames() {
			if _, ok := cfg.Credentials[name]; !ok {
				result = multierror.Append(result,
					fmt.Errorf("profile %s: %w %q", profile.Name, errUndeclaredCredential, name))
			}
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %w", fault.ErrConfiguration, err)
	}

	return nil
}

// Profile returns the profile with the given name.
func (c *Config) Profile(name string) (*Profile, error) {
	for _, profile := range c.Profiles {
		if profile != nil && profile.Name == name {
			return profile, nil
		}
	}

	return nil, fmt.Errorf("profile %q: %w", name, fault.ErrNotFound)
}

// ProfileNames lists the declared profile names in document order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))

	for _, profile := range c.Profiles {
		if profile != nil {
			names = append(names, profile.Name)
		}
	}

	return names
}

// CredentialNames returns the sorted declared credential names.
func (c *Config) CredentialNames() []string {
	names := make([]string, 0, len(c.Credentials))
	for name := range c.Credentials {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func checkURL(raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return fmt.Errorf("%w %q: %w", errBadURL, raw, err)
	}

	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w %q: scheme must be http or https", errBadURL, raw)
	}

	return nil
}
