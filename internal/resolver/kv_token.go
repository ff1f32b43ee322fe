package resolver

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/merge"
)

// resolveKVToken signs a device token locally with a shared secret read from
// the KV store. The secret leaves the service, which makes this a weaker
// option than transit signing.
func (s *Specific) resolveKVToken(ctx context.Context, target *Target, dir string, source *config.KVToken) (*Result, error) {
	client, err := s.vaultClient(ctx, &source.SecretService)
	if err != nil {
		return nil, err
	}

	secret, err := client.ReadKVField(ctx, source.KVMount, source.KVPath, source.Field())
	if err != nil {
		return nil, err
	}

	logger.WarnKV(ctx, "Signing device token locally with a key read from the KV store",
		"mount", source.KVMount,
		"path", source.KVPath)

	claims := jwt.MapClaims(DeviceClaims(target.Device, target.Profile, s.now()))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("sign device token: %w", err)
	}

	mode := source.Permission.ModeOr(DefaultSecretFileMode)

	written, err := writeSecret(dir, source.Destination, token, mode)
	if err != nil {
		return nil, err
	}

	return &Result{Records: []merge.Record{{Source: written, Destination: source.Destination, Mode: mode}}}, nil
}
