package resolver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/testutil"
)

var issuedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newSpecific(t *testing.T) (*Specific, *testutil.Vault, *Target) {
	t.Helper()

	vaultServer := testutil.NewVault(t)
	specific := NewSpecific(testSecrets(), newRemote(), vaultServer.URL, WithClock(func() time.Time { return issuedAt }))

	target := &Target{
		Device:  device.MustParse("AA:BB:CC:DD:EE:FF"),
		Profile: "home",
		TempDir: t.TempDir(),
	}

	return specific, vaultServer, target
}

var vaultService = config.SecretService{Credentials: config.TokenCredentials{Token: "VAULT_TOKEN"}}

// TestCertificates writes certificate, key and CA with their modes and appends no tokens.
func TestCertificates(t *testing.T) {
	t.Parallel()

	specific, vaultServer, target := newSpecific(t)

	entry := config.SpecificFileEntry{
		Name: "certificates",
		Source: &config.VaultCertificates{
			SecretService: vaultService,
			PKIMount:      "pki",
			PKIRole:       "routers",
			CNSuffix:      ".routers.example.com",
			Destination:   "/etc/ssl/ptah",
		},
	}

	result, err := specific.Resolve(context.Background(), target, &entry)
	require.NoError(t, err)
	require.Empty(t, result.Tokens)
	require.Equal(t, []string{"aa-bb-cc-dd-ee-ff.routers.example.com"}, vaultServer.Issued())

	require.Len(t, result.Records, 3)
	require.Equal(t, "/etc/ssl/ptah/cert.pem", result.Records[0].Destination)
	require.Equal(t, os.FileMode(0o644), result.Records[0].Mode)
	require.Equal(t, "/etc/ssl/ptah/key.pem", result.Records[1].Destination)
	require.Equal(t, os.FileMode(0o600), result.Records[1].Mode)
	require.Equal(t, "/etc/ssl/ptah/ca.pem", result.Records[2].Destination)

	for _, record := range result.Records {
		require.True(t, strings.HasPrefix(record.Source, target.TempDir))
	}

	data, err := os.ReadFile(result.Records[0].Source)
	require.NoError(t, err)
	require.Contains(t, string(data), "CN=aa-bb-cc-dd-ee-ff.routers.example.com")

	info, err := os.Stat(result.Records[1].Source)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

// TestTransitToken issues an RS256 token signed by the remote key.
func TestTransitToken(t *testing.T) {
	t.Parallel()

	specific, vaultServer, target := newSpecific(t)

	entry := config.SpecificFileEntry{
		Name: "token",
		Source: &config.TransitToken{
			SecretService: vaultService,
			TransitMount:  "transit",
			TransitKey:    "ptah",
			Destination:   "/etc/ptah/jwt",
			Permission:    "0640",
		},
	}

	result, err := specific.Resolve(context.Background(), target, &entry)
	require.NoError(t, err)
	require.Empty(t, result.Tokens)
	require.Len(t, result.Records, 1)
	require.Equal(t, os.FileMode(0o640), result.Records[0].Mode)
	require.Equal(t, filepath.Join(target.TempDir, "token", "jwt"), result.Records[0].Source)

	data, err := os.ReadFile(result.Records[0].Source)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(string(data), claims, func(*jwt.Token) (any, error) {
		return &vaultServer.Key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.Equal(t, "aa:bb:cc:dd:ee:ff", claims["mac"])
	require.Equal(t, "aa-bb-cc-dd-ee-ff", claims["mac_fc"])
	require.Equal(t, "home", claims["profile"])
	require.InDelta(t, float64(issuedAt.Unix()), claims["iat"], 0)
}

// TestKVToken signs locally with the secret read from the KV store.
func TestKVToken(t *testing.T) {
	t.Parallel()

	specific, vaultServer, target := newSpecific(t)
	vaultServer.PutKV("routers/ptah", map[string]any{"jwt_secret": "shared-secret"})

	entry := config.SpecificFileEntry{
		Name: "kv-token",
		Source: &config.KVToken{
			SecretService: vaultService,
			KVMount:       "kv",
			KVPath:        "routers/ptah",
			Destination:   "/etc/ptah/kv.jwt",
		},
	}

	result, err := specific.Resolve(context.Background(), target, &entry)
	require.NoError(t, err)
	require.Equal(t, DefaultSecretFileMode, result.Records[0].Mode)

	data, err := os.ReadFile(result.Records[0].Source)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(string(data), claims, func(*jwt.Token) (any, error) {
		return []byte("shared-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.Equal(t, "aa-bb-cc-dd-ee-ff", claims["mac_fc"])
	require.Zero(t, vaultServer.Signatures(), "local signing never calls transit")

	entry.Source.(*config.KVToken).KVField = "missing"

	_, err = specific.Resolve(context.Background(), target, &entry)
	require.ErrorIs(t, err, fault.ErrResolution)
}

// TestDeviceClaims builds the payload shared by both token kinds.
func TestDeviceClaims(t *testing.T) {
	t.Parallel()

	claims := DeviceClaims(device.MustParse("aabb.ccdd.eeff"), "home", issuedAt)
	require.Equal(t, map[string]any{
		"mac":     "aa:bb:cc:dd:ee:ff",
		"mac_fc":  "aa-bb-cc-dd-ee-ff",
		"profile": "home",
		"iat":     issuedAt.Unix(),
	}, claims)
}
