package resolver

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/remote"
	"github.com/oshokin/ptah/internal/secrets"
	"github.com/oshokin/ptah/internal/vault"
)

// DefaultSecretFileMode applies to issued tokens without a configured permission.
const DefaultSecretFileMode os.FileMode = 0o600

// Target is the device a router-specific entry is materialized for.
type Target struct {
	Device  device.ID
	Profile string
	// TempDir is the per-device scratch directory; the caller removes it.
	TempDir string
}

// Specific materializes router-specific secrets.
type Specific struct {
	secrets  secrets.Resolver
	remote   *remote.Client
	vaultURL string
	now      func() time.Time
}

// SpecificOption customizes a Specific resolver.
type SpecificOption func(*Specific)

// WithClock replaces time.Now for issued-at claims.
func WithClock(now func() time.Time) SpecificOption {
	return func(s *Specific) {
		s.now = now
	}
}

// NewSpecific creates a router-specific resolver. vaultURL is used by entries
// that do not name their own server.
func NewSpecific(secretResolver secrets.Resolver, rc *remote.Client, vaultURL string, opts ...SpecificOption) *Specific {
	s := &Specific{
		secrets:  secretResolver,
		remote:   rc,
		vaultURL: vaultURL,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ResolveAll resolves entries in declared order.
func (s *Specific) ResolveAll(ctx context.Context, target *Target, entries []config.SpecificFileEntry) (*Result, error) {
	result := new(Result)

	for i := range entries {
		entryResult, err := s.Resolve(ctx, target, &entries[i])
		if err != nil {
			return nil, fmt.Errorf("router specific file %q: %w", entries[i].Name, err)
		}

		result.Add(entryResult)
	}

	return result, nil
}

// Resolve materializes one entry into TempDir/<entry name>.
func (s *Specific) Resolve(ctx context.Context, target *Target, entry *config.SpecificFileEntry) (*Result, error) {
	ctx = logger.WithFields(ctx, "entry", entry.Name, "type", entry.Type())

	dir := filepath.Join(target.TempDir, entry.Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", fault.ErrMerge, dir, err)
	}

	switch source := entry.Source.(type) {
	case *config.VaultCertificates:
		return s.resolveCertificates(ctx, target, dir, source)
	case *config.TransitToken:
		return s.resolveTransitToken(ctx, target, dir, source)
	case *config.KVToken:
		return s.resolveKVToken(ctx, target, dir, source)
	default:
		return nil, fmt.Errorf("%w: unsupported router specific source %T", fault.ErrConfiguration, source)
	}
}

func (s *Specific) vaultClient(ctx context.Context, service *config.SecretService) (*vault.Client, error) {
	token, err := s.secrets.Resolve(ctx, service.CredentialName())
	if err != nil {
		return nil, err
	}

	return vault.New(s.remote, service.ServerOr(s.vaultURL), token), nil
}

// DeviceClaims is the payload of every device token.
func DeviceClaims(id device.ID, profile string, issuedAt time.Time) map[string]any {
	return map[string]any{
		"mac":     id.String(),
		"mac_fc":  id.Token(),
		"profile": profile,
		"iat":     issuedAt.Unix(),
	}
}

// writeSecret stores material in dir under the base name of destination.
func writeSecret(dir, destination, contents string, mode os.FileMode) (string, error) {
	file := filepath.Join(dir, path.Base(destination))
	if err := os.WriteFile(file, []byte(contents), mode); err != nil {
		return "", fmt.Errorf("%w: write %s: %w", fault.ErrMerge, file, err)
	}

	if err := os.Chmod(file, mode); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %w", fault.ErrMerge, file, err)
	}

	return file, nil
}
