package resolver

import (
	"context"
	"fmt"

	"github.com/oshokin/ptah/internal/cache"
	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/registry"
	"github.com/oshokin/ptah/internal/remote"
	"github.com/oshokin/ptah/internal/secrets"
)

// Shared resolves shared entries against the registry through the cache.
type Shared struct {
	cache   *cache.Store
	secrets secrets.Resolver
	remote  *remote.Client
}

// NewShared creates a shared resolver.
func NewShared(store *cache.Store, secretResolver secrets.Resolver, rc *remote.Client) *Shared {
	return &Shared{
		cache:   store,
		secrets: secretResolver,
		remote:  rc,
	}
}

// ResolveAll resolves entries in declared order.
func (s *Shared) ResolveAll(ctx context.Context, entries []config.FileEntry) (*Result, error) {
	result := new(Result)

	for i := range entries {
		entryResult, err := s.Resolve(ctx, &entries[i])
		if err != nil {
			return nil, fmt.Errorf("shared file %q: %w", entries[i].Name, err)
		}

		result.Add(entryResult)
	}

	return result, nil
}

// Resolve resolves one entry.
func (s *Shared) Resolve(ctx context.Context, entry *config.FileEntry) (*Result, error) {
	ctx = logger.WithFields(ctx, "entry", entry.Name, "type", entry.Type())

	switch source := entry.Source.(type) {
	case *config.GitlabRelease:
		return s.resolveRelease(ctx, entry.Name, source)
	case *config.GenericPackage:
		return s.resolvePackages(ctx, entry.Name, source)
	case *config.RepositoryArchive:
		return s.resolveArchive(ctx, entry.Name, source)
	default:
		return nil, fmt.Errorf("%w: unsupported shared source %T", fault.ErrConfiguration, source)
	}
}

func (s *Shared) registryClient(ctx context.Context, reg *config.Registry) (*registry.Client, error) {
	token, err := s.secrets.Resolve(ctx, reg.CredentialName())
	if err != nil {
		return nil, err
	}

	return registry.New(s.remote, reg.GitlabURL, reg.ProjectID, token), nil
}
