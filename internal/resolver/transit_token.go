package resolver

import (
	"context"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/merge"
	"github.com/oshokin/ptah/internal/transit"
)

// TransitManager returns the token manager for a transit entry.
func (s *Specific) TransitManager(ctx context.Context, source *config.TransitToken) (*transit.Manager, error) {
	client, err := s.vaultClient(ctx, &source.SecretService)
	if err != nil {
		return nil, err
	}

	return transit.NewManager(client.TransitKey(source.TransitMount, source.TransitKey)), nil
}

// resolveTransitToken writes a device token signed by the remote transit key.
func (s *Specific) resolveTransitToken(ctx context.Context, target *Target, dir string, source *config.TransitToken) (*Result, error) {
	manager, err := s.TransitManager(ctx, source)
	if err != nil {
		return nil, err
	}

	token, err := manager.Issue(ctx, DeviceClaims(target.Device, target.Profile, s.now()))
	if err != nil {
		return nil, err
	}

	mode := source.Permission.ModeOr(DefaultSecretFileMode)

	written, err := writeSecret(dir, source.Destination, token, mode)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Device token issued", "key", source.TransitKey)

	return &Result{Records: []merge.Record{{Source: written, Destination: source.Destination, Mode: mode}}}, nil
}
