package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ptah/internal/fault"
)

// Shared source type discriminators.
const (
	TypeGitlabRelease     = "gitlab_release"
	TypeGenericPackage    = "generic_package"
	TypeRepositoryArchive = "repository_archive"
)

// Router-specific source type discriminators.
const (
	TypeVaultCertificates = "vault_certificates"
	TypeTransitToken      = "jwt_from_vault_transit"
	TypeKVToken           = "jwt_from_vault_kv"
)

var (
	errMissingPayload  = errors.New("payload for the declared type is missing")
	errExtraPayload    = errors.New("exactly one source payload must be set")
	errUnknownFileType = errors.New("unknown file entry type")
)

// FileEntry is a named shared source. Source holds exactly one payload kind.
type FileEntry struct {
	Name   string
	Source FileSource
}

// rawFileEntry is the wire shape of FileEntry.
type rawFileEntry struct {
	Name              string             `json:"name" yaml:"name"`
	Type              string             `json:"type" yaml:"type"`
	GitlabRelease     *GitlabRelease     `json:"gitlab_release,omitempty" yaml:"gitlab_release,omitempty"`
	GenericPackage    *GenericPackage    `json:"generic_package,omitempty" yaml:"generic_package,omitempty"`
	RepositoryArchive *RepositoryArchive `json:"repository_archive,omitempty" yaml:"repository_archive,omitempty"`
}

// Type returns the discriminator of the entry's source.
func (e *FileEntry) Type() string {
	switch e.Source.(type) {
	case *GitlabRelease:
		return TypeGitlabRelease
	case *GenericPackage:
		return TypeGenericPackage
	case *RepositoryArchive:
		return TypeRepositoryArchive
	default:
		return ""
	}
}

// UnmarshalYAML decodes the entry and selects the payload named by `type`.
func (e *FileEntry) UnmarshalYAML(node *yaml.Node) error {
	var raw rawFileEntry
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if countSet(raw.GitlabRelease != nil, raw.GenericPackage != nil, raw.RepositoryArchive != nil) > 1 {
		return entryError(raw.Name, node.Line, errExtraPayload)
	}

	var (
		source  FileSource
		present bool
	)

	switch raw.Type {
	case TypeGitlabRelease:
		source, present = raw.GitlabRelease, raw.GitlabRelease != nil
	case TypeGenericPackage:
		source, present = raw.GenericPackage, raw.GenericPackage != nil
	case TypeRepositoryArchive:
		source, present = raw.RepositoryArchive, raw.RepositoryArchive != nil
	default:
		return entryError(raw.Name, node.Line, fmt.Errorf("%w %q", errUnknownFileType, raw.Type))
	}

	if !present {
		return entryError(raw.Name, node.Line, fmt.Errorf("%s: %w", raw.Type, errMissingPayload))
	}

	e.Name = raw.Name
	e.Source = source

	return nil
}

func (e *FileEntry) raw() rawFileEntry {
	raw := rawFileEntry{Name: e.Name, Type: e.Type()}

	switch source := e.Source.(type) {
	case *GitlabRelease:
		raw.GitlabRelease = source
	case *GenericPackage:
		raw.GenericPackage = source
	case *RepositoryArchive:
		raw.RepositoryArchive = source
	}

	return raw
}

// MarshalYAML renders the entry in its declared shape.
func (e FileEntry) MarshalYAML() (any, error) {
	return e.raw(), nil
}

// MarshalJSON renders the entry in its declared shape. The canonical JSON
// form is also the input of the profile digest.
func (e FileEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.raw())
}

// SpecificFileEntry is a named router-specific source.
type SpecificFileEntry struct {
	Name   string
	Source SecretSource
}

type rawSpecificFileEntry struct {
	Name              string             `json:"name" yaml:"name"`
	Type              string             `json:"type" yaml:"type"`
	VaultCertificates *VaultCertificates `json:"vault_certificates,omitempty" yaml:"vault_certificates,omitempty"`
	TransitToken      *TransitToken      `json:"jwt_from_vault_transit,omitempty" yaml:"jwt_from_vault_transit,omitempty"`
	KVToken           *KVToken           `json:"jwt_from_vault_kv,omitempty" yaml:"jwt_from_vault_kv,omitempty"`
}

// Type returns the discriminator of the entry's source.
func (e *SpecificFileEntry) Type() string {
	switch e.Source.(type) {
	case *VaultCertificates:
		return TypeVaultCertificates
	case *TransitToken:
		return TypeTransitToken
	case *KVToken:
		return TypeKVToken
	default:
		return ""
	}
}

// UnmarshalYAML decodes the entry and selects the payload named by `type`.
func (e *SpecificFileEntry) UnmarshalYAML(node *yaml.Node) error {
	var raw rawSpecificFileEntry
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if countSet(raw.VaultCertificates != nil, raw.TransitToken != nil, raw.KVToken != nil) > 1 {
		return entryError(raw.Name, node.Line, errExtraPayload)
	}

	var (
		source  SecretSource
		present bool
	)

	switch raw.Type {
	case TypeVaultCertificates:
		source, present = raw.VaultCertificates, raw.VaultCertificates != nil
	case TypeTransitToken:
		source, present = raw.TransitToken, raw.TransitToken != nil
	case TypeKVToken:
		source, present = raw.KVToken, raw.KVToken != nil
	default:
		return entryError(raw.Name, node.Line, fmt.Errorf("%w %q", errUnknownFileType, raw.Type))
	}

	if !present {
		return entryError(raw.Name, node.Line, fmt.Errorf("%s: %w", raw.Type, errMissingPayload))
	}

	e.Name = raw.Name
	e.Source = source

	return nil
}

func (e *SpecificFileEntry) raw() rawSpecificFileEntry {
	raw := rawSpecificFileEntry{Name: e.Name, Type: e.Type()}

	switch source := e.Source.(type) {
	case *VaultCertificates:
		raw.VaultCertificates = source
	case *TransitToken:
		raw.TransitToken = source
	case *KVToken:
		raw.KVToken = source
	}

	return raw
}

// MarshalYAML renders the entry in its declared shape.
func (e SpecificFileEntry) MarshalYAML() (any, error) {
	return e.raw(), nil
}

// MarshalJSON renders the entry in its declared shape.
func (e SpecificFileEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.raw())
}

func countSet(flags ...bool) int {
	n := 0

	for _, flag := range flags {
		if flag {
			n++
		}
	}

	return n
}

func entryError(name string, line int, err error) error {
	return fmt.Errorf("%w: file entry %q (line %d): %w", fault.ErrConfiguration, name, line, err)
}
