package config

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// LatestVersion lets the builder provisioning pick the newest published release.
const LatestVersion = "latest"

var (
	// commitPattern accepts abbreviated and full commit identifiers.
	commitPattern = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

	errMissingField        = errors.New("required field is empty")
	errRelativeDestination = errors.New("destination must be an absolute path")
	errBadCommit           = errors.New("commit must be 7 to 64 lowercase hex digits")
	errNothingRequested    = errors.New("nothing to fetch")
	errBadVersion          = errors.New("invalid openwrt version")
	errUnsafeEntryName     = errors.New("entry name must be a single path segment")
)

// Profile is a declared build target.
type Profile struct {
	// Name identifies the profile in API requests.
	Name string `json:"name" yaml:"name"`
	// OpenWrt describes the image builder target.
	OpenWrt OpenWrtProfile `json:"openwrt_profile" yaml:"openwrt_profile"`
	// Packages are passed to the image builder as the PACKAGES list.
	Packages []string `json:"packages,omitempty" yaml:"packages,omitempty"`
	// Files lists the sources merged into the staged tree.
	Files Files `json:"files" yaml:"files"`
}

// OpenWrtProfile selects the image builder and the device profile inside it.
type OpenWrtProfile struct {
	Name           string `json:"name" yaml:"name"`
	Target         string `json:"target" yaml:"target"`
	Arch           string `json:"arch" yaml:"arch"`
	OpenWrtVersion string `json:"openwrt_version" yaml:"openwrt_version"`
}

// ImageBuilderArchiveName returns the file name of the image builder archive for the given version.
func (o *OpenWrtProfile) ImageBuilderArchiveName(osVersion, ext string) string {
	return fmt.Sprintf("openwrt-imagebuilder-%s-%s-%s%s", osVersion, o.Target, o.Arch, ext)
}

// BinaryName returns the sysupgrade image produced by an image builder of osVersion for a device token.
func (o *OpenWrtProfile) BinaryName(osVersion, deviceToken string) string {
	return fmt.Sprintf("openwrt-%s-ptah-%s-%s-%s-%s-squashfs-sysupgrade.bin",
		osVersion, deviceToken, o.Target, o.Arch, o.Name)
}

// Files groups the shared and router-specific sources of a profile.
type Files struct {
	Shared         []FileEntry         `json:"profile_shared_files" yaml:"profile_shared_files"`
	RouterSpecific []SpecificFileEntry `json:"router_specific_files" yaml:"router_specific_files"`
}

// CredentialNames returns the sorted set of credential names used by the profile.
func (p *Profile) CredentialNames() []string {
	set := make(map[string]struct{})

	for i := range p.Files.Shared {
		if p.Files.Shared[i].Source != nil {
			set[p.Files.Shared[i].Source.CredentialName()] = struct{}{}
		}
	}

	for i := range p.Files.RouterSpecific {
		if p.Files.RouterSpecific[i].Source != nil {
			set[p.Files.RouterSpecific[i].Source.CredentialName()] = struct{}{}
		}
	}

	names := make([]string, 0, len(set))
	for name := range set {
		if name != "" {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names
}

// validate checks the profile body; source payloads validate themselves.
func (p *Profile) validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, fmt.Errorf("profile name: %w", errMissingField))
	}

	prefix := "profile " + p.Name

	o := p.OpenWrt
	if o.Name == "" || o.Target == "" || o.Arch == "" || o.OpenWrtVersion == "" {
		errs = append(errs, fmt.Errorf("%s: openwrt_profile name, target, arch and openwrt_version: %w",
			prefix, errMissingField))
	} else if o.OpenWrtVersion != LatestVersion {
		if _, err := goversion.NewVersion(o.OpenWrtVersion); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w %q", prefix, errBadVersion, o.OpenWrtVersion))
		}
	}

	seen := make(map[string]struct{})

	for i := range p.Files.Shared {
		entry := &p.Files.Shared[i]
		if err := checkEntryName(seen, entry.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}

		if entry.Source == nil {
			errs = append(errs, fmt.Errorf("%s: shared file %q: %w", prefix, entry.Name, errMissingPayload))
		} else if err := entry.Source.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: shared file %q: %w", prefix, entry.Name, err))
		}
	}

	for i := range p.Files.RouterSpecific {
		entry := &p.Files.RouterSpecific[i]
		if err := checkEntryName(seen, entry.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}

		if entry.Source == nil {
			errs = append(errs, fmt.Errorf("%s: router specific file %q: %w", prefix, entry.Name, errMissingPayload))
		} else if err := entry.Source.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: router specific file %q: %w", prefix, entry.Name, err))
		}
	}

	return errs
}

// checkEntryName enforces non-empty, unique entry names inside a profile.
// Names become directory names in the cache and the per-device temp dir.
func checkEntryName(seen map[string]struct{}, name string) error {
	if name == "" {
		return fmt.Errorf("file entry name: %w", errMissingField)
	}

	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", errUnsafeEntryName, name)
	}

	if _, ok := seen[name]; ok {
		return fmt.Errorf("duplicate file entry name %q", name)
	}

	seen[name] = struct{}{}

	return nil
}

// Asset is a single file placed into the staged tree.
type Asset struct {
	Name        string     `json:"name" yaml:"name"`
	Destination string     `json:"destination" yaml:"destination"`
	Permission  Permission `json:"permission,omitempty" yaml:"permission,omitempty"`
}

func (a *Asset) validate() error {
	if a.Name == "" {
		return fmt.Errorf("asset name: %w", errMissingField)
	}

	return checkDestination(a.Destination)
}

// SourceTree selects directories of an unpacked source archive.
type SourceTree struct {
	// Paths are relative to the archive's top-level directory.
	Paths []string `json:"paths" yaml:"paths"`
	// Destination is where every path is merged; defaults to the staged root.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// Target returns the merge destination of the source paths.
func (s *SourceTree) Target() string {
	if s.Destination == "" {
		return "/"
	}

	return s.Destination
}

func (s *SourceTree) validate() error {
	if len(s.Paths) == 0 {
		return fmt.Errorf("source paths: %w", errMissingField)
	}

	for _, p := range s.Paths {
		if p == "" || path.IsAbs(p) || strings.HasPrefix(path.Clean(p), "..") {
			return fmt.Errorf("source path %q must be relative to the archive root", p)
		}
	}

	if s.Destination != "" {
		return checkDestination(s.Destination)
	}

	return nil
}

// TokenCredentials references a single token credential by name.
type TokenCredentials struct {
	Token string `json:"token" yaml:"token"`
}

// Registry locates a project on the release/package registry.
type Registry struct {
	GitlabURL string `json:"gitlab_url" yaml:"gitlab_url"`
	// ProjectID is the numeric ID or the URL-encoded namespace path of the project.
	ProjectID   string           `json:"project_id" yaml:"project_id"`
	Credentials TokenCredentials `json:"credentials" yaml:"credentials"`
}

func (r *Registry) validate() error {
	if r.GitlabURL == "" || r.ProjectID == "" || r.Credentials.Token == "" {
		return fmt.Errorf("gitlab_url, project_id and credentials.token: %w", errMissingField)
	}

	return checkURL(r.GitlabURL)
}

// GitlabRelease fetches named assets, and optionally the full source, of a release.
type GitlabRelease struct {
	Registry `yaml:",inline"`

	// ReleasePath is the tag (or permalink/latest) appended to the releases endpoint.
	ReleasePath string      `json:"release_path" yaml:"release_path"`
	Assets      []Asset     `json:"assets,omitempty" yaml:"assets,omitempty"`
	Source      *SourceTree `json:"source,omitempty" yaml:"source,omitempty"`
}

// GenericPackage fetches explicitly requested files of generic packages.
type GenericPackage struct {
	Registry `yaml:",inline"`

	Packages []PackageRef `json:"packages" yaml:"packages"`
}

// PackageRef is a package pinned to an exact version.
type PackageRef struct {
	Name    string  `json:"name" yaml:"name"`
	Version string  `json:"version" yaml:"version"`
	Files   []Asset `json:"files" yaml:"files"`
}

// RepositoryArchive fetches a repository archive pinned to a commit.
type RepositoryArchive struct {
	Registry `yaml:",inline"`

	Commit string     `json:"commit" yaml:"commit"`
	Source SourceTree `json:"source" yaml:"source"`
}

// FileSource is the closed set of shared source kinds.
type FileSource interface {
	// CredentialName returns the credential reference used to reach the upstream.
	CredentialName() string

	validate() error
	fileSource()
}

func (*GitlabRelease) fileSource()     {}
func (*GenericPackage) fileSource()    {}
func (*RepositoryArchive) fileSource() {}

// CredentialName implements FileSource.
func (r *Registry) CredentialName() string {
	return r.Credentials.Token
}

func (g *GitlabRelease) validate() error {
	if err := g.Registry.validate(); err != nil {
		return err
	}

	if g.ReleasePath == "" {
		return fmt.Errorf("release_path: %w", errMissingField)
	}

	if len(g.Assets) == 0 && g.Source == nil {
		return fmt.Errorf("assets or source: %w", errNothingRequested)
	}

	for i := range g.Assets {
		if err := g.Assets[i].validate(); err != nil {
			return err
		}
	}

	if g.Source != nil {
		return g.Source.validate()
	}

	return nil
}

func (g *GenericPackage) validate() error {
	if err := g.Registry.validate(); err != nil {
		return err
	}

	if len(g.Packages) == 0 {
		return fmt.Errorf("packages: %w", errNothingRequested)
	}

	for _, pkg := range g.Packages {
		if pkg.Name == "" || pkg.Version == "" {
			return fmt.Errorf("package name and version: %w", errMissingField)
		}

		if len(pkg.Files) == 0 {
			return fmt.Errorf("package %s/%s files: %w", pkg.Name, pkg.Version, errNothingRequested)
		}

		for i := range pkg.Files {
			if err := pkg.Files[i].validate(); err != nil {
				return fmt.Errorf("package %s/%s: %w", pkg.Name, pkg.Version, err)
			}
		}
	}

	return nil
}

func (r *RepositoryArchive) validate() error {
	if err := r.Registry.validate(); err != nil {
		return err
	}

	if !commitPattern.MatchString(r.Commit) {
		return fmt.Errorf("%w: %q", errBadCommit, r.Commit)
	}

	return r.Source.validate()
}

// SecretService optionally overrides the secret service URL from the settings.
type SecretService struct {
	VaultServer string           `json:"vault_server,omitempty" yaml:"vault_server,omitempty"`
	Credentials TokenCredentials `json:"credentials" yaml:"credentials"`
}

// CredentialName implements SecretSource.
func (v *SecretService) CredentialName() string {
	return v.Credentials.Token
}

// ServerOr returns the configured server or fallback.
func (v *SecretService) ServerOr(fallback string) string {
	if v.VaultServer == "" {
		return fallback
	}

	return v.VaultServer
}

func (v *SecretService) validate() error {
	if v.Credentials.Token == "" {
		return fmt.Errorf("credentials.token: %w", errMissingField)
	}

	if v.VaultServer != "" {
		return checkURL(v.VaultServer)
	}

	return nil
}

// Default file names for issued certificates.
const (
	DefaultCertificateName = "cert.pem"
	DefaultKeyName         = "key.pem"
	DefaultCAName          = "ca.pem"
	DefaultKVField         = "jwt_secret"
)

// VaultCertificates issues a device certificate from a PKI mount.
type VaultCertificates struct {
	SecretService `yaml:",inline"`

	PKIMount string `json:"pki_mount" yaml:"pki_mount"`
	PKIRole  string `json:"pki_role" yaml:"pki_role"`
	// CNSuffix is appended to the device token to form the common name.
	CNSuffix string `json:"cn_suffix" yaml:"cn_suffix"`
	// Destination is the directory receiving the certificate files.
	Destination     string `json:"destination" yaml:"destination"`
	CertificateName string `json:"certificate_name,omitempty" yaml:"certificate_name,omitempty"`
	KeyName         string `json:"key_name,omitempty" yaml:"key_name,omitempty"`
}

// CertificateFile returns the certificate file name.
func (v *VaultCertificates) CertificateFile() string {
	return valueOr(v.CertificateName, DefaultCertificateName)
}

// KeyFile returns the private key file name.
func (v *VaultCertificates) KeyFile() string {
	return valueOr(v.KeyName, DefaultKeyName)
}

// TransitToken issues a device token signed by the remote transit engine.
type TransitToken struct {
	SecretService `yaml:",inline"`

	TransitMount string     `json:"transit_mount" yaml:"transit_mount"`
	TransitKey   string     `json:"transit_key" yaml:"transit_key"`
	Destination  string     `json:"destination" yaml:"destination"`
	Permission   Permission `json:"permission,omitempty" yaml:"permission,omitempty"`
}

// KVToken signs a device token locally with key material read from a KV store.
type KVToken struct {
	SecretService `yaml:",inline"`

	KVMount     string     `json:"kv_mount" yaml:"kv_mount"`
	KVPath      string     `json:"kv_path" yaml:"kv_path"`
	KVField     string     `json:"kv_field,omitempty" yaml:"kv_field,omitempty"`
	Destination string     `json:"destination" yaml:"destination"`
	Permission  Permission `json:"permission,omitempty" yaml:"permission,omitempty"`
}

// Field returns the KV field holding the signing secret.
func (k *KVToken) Field() string {
	return valueOr(k.KVField, DefaultKVField)
}

// SecretSource is the closed set of router-specific source kinds.
type SecretSource interface {
	// CredentialName returns the credential reference used to reach the secret service.
	CredentialName() string

	validate() error
	secretSource()
}

func (*VaultCertificates) secretSource() {}
func (*TransitToken) secretSource()      {}
func (*KVToken) secretSource()           {}

func (v *VaultCertificates) validate() error {
	if err := v.SecretService.validate(); err != nil {
		return err
	}

	if v.PKIMount == "" || v.PKIRole == "" {
		return fmt.Errorf("pki_mount and pki_role: %w", errMissingField)
	}

	return checkDestination(v.Destination)
}

func (t *TransitToken) validate() error {
	if err := t.SecretService.validate(); err != nil {
		return err
	}

	if t.TransitMount == "" || t.TransitKey == "" {
		return fmt.Errorf("transit_mount and transit_key: %w", errMissingField)
	}

	return checkDestination(t.Destination)
}

func (k *KVToken) validate() error {
	if err := k.SecretService.validate(); err != nil {
		return err
	}

	if k.KVMount == "" || k.KVPath == "" {
		return fmt.Errorf("kv_mount and kv_path: %w", errMissingField)
	}

	return checkDestination(k.Destination)
}

func checkDestination(destination string) error {
	if destination == "" {
		return fmt.Errorf("destination: %w", errMissingField)
	}

	if !path.IsAbs(destination) {
		return fmt.Errorf("%w: %q", errRelativeDestination, destination)
	}

	return nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
