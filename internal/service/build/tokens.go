package build

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/resolver"
	"github.com/oshokin/ptah/internal/transit"
)

// transitEntry returns the first transit token entry of a profile.
func (s *Service) transitEntry(profileName string) (*config.TransitToken, error) {
	profile, err := s.cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}

	for i := range profile.Files.RouterSpecific {
		if source, ok := profile.Files.RouterSpecific[i].Source.(*config.TransitToken); ok {
			return source, nil
		}
	}

	return nil, fmt.Errorf("%w: profile %s declares no %s entry", fault.ErrNotFound, profileName, config.TypeTransitToken)
}

func (s *Service) transitManager(ctx context.Context, profileName string) (*transit.Manager, error) {
	source, err := s.transitEntry(profileName)
	if err != nil {
		return nil, err
	}

	return s.specific.TransitManager(ctx, source)
}

// EncodeToken issues a device token with the transit key of a profile.
func (s *Service) EncodeToken(ctx context.Context, id device.ID, profileName string) (string, error) {
	manager, err := s.transitManager(ctx, profileName)
	if err != nil {
		return "", err
	}

	return manager.Issue(ctx, resolver.DeviceClaims(id, profileName, s.now()))
}

// VerifyToken checks a device token against the transit key of a profile.
func (s *Service) VerifyToken(ctx context.Context, profileName, token string) (bool, error) {
	manager, err := s.transitManager(ctx, profileName)
	if err != nil {
		return false, err
	}

	return manager.Verify(ctx, token)
}

// DecodeToken returns the claims of a token without verifying it.
func (s *Service) DecodeToken(token string) (jwt.MapClaims, error) {
	claims, err := transit.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fault.ErrInvalidInput, err)
	}

	return claims, nil
}
