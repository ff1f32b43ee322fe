package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fault"
)

// TestDeclaredResolve reads environment and file credentials.
func TestDeclaredResolve(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vault_token")
	require.NoError(t, os.WriteFile(path, []byte("s.vault\n"), 0o600))

	cfg := &config.Config{Credentials: map[string]*config.Credential{
		"GITLAB_TOKEN": {Source: config.SourceEnviron},
		"VAULT_TOKEN":  {Source: config.SourceFile, Path: path},
		"EMPTY":        nil,
	}}

	env := map[string]string{"GITLAB_TOKEN": "glpat-1"}
	resolver := NewDeclared(cfg, WithLookupEnv(func(name string) (string, bool) {
		value, ok := env[name]

		return value, ok
	}))

	ctx := context.Background()

	value, err := resolver.Resolve(ctx, "GITLAB_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "glpat-1", value)

	value, err = resolver.Resolve(ctx, "VAULT_TOKEN")
	require.NoError(t, err)
	require.Equal(t, "s.vault", value)

	_, err = resolver.Resolve(ctx, "EMPTY")
	require.ErrorIs(t, err, fault.ErrConfiguration)

	_, err = resolver.Resolve(ctx, "UNKNOWN")
	require.ErrorIs(t, err, errUndeclared)
}

// TestStatic resolves from a map.
func TestStatic(t *testing.T) {
	t.Parallel()

	var resolver Resolver = Static{"A": "1"}

	value, err := resolver.Resolve(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, "1", value)

	_, err = resolver.Resolve(context.Background(), "B")
	require.ErrorIs(t, err, fault.ErrConfiguration)
}
