package transit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Algorithm is the JOSE algorithm announced in every issued header.
	Algorithm = "RS256"
	// SignatureAlgorithm is the padding scheme requested from the oracle.
	SignatureAlgorithm = "pkcs1v15"
	// DefaultKeyVersion is used to rebuild the marker before verification.
	DefaultKeyVersion = 1
)

// Oracle signs and verifies opaque inputs with a key it keeps to itself.
type Oracle interface {
	// Sign returns a marked signature of input, e.g. "vault:v1:<base64>".
	Sign(ctx context.Context, input string) (string, error)
	// Verify checks a marked signature of input.
	Verify(ctx context.Context, input, signature string) (bool, error)
}

var (
	markerPattern = regexp.MustCompile(`^vault:v\d+:`)

	errMalformed = errors.New("malformed token")
	errSignature = errors.New("unusable signature from oracle")
)

// Manager issues, verifies and decodes tokens.
type Manager struct {
	oracle     Oracle
	keyVersion int
	header     string
}

// Option customizes a Manager.
type Option func(*Manager)

// WithKeyVersion selects the key version used in the verification marker.
func WithKeyVersion(version int) Option {
	return func(m *Manager) {
		m.keyVersion = version
	}
}

// NewManager creates a manager signing through oracle.
func NewManager(oracle Oracle, opts ...Option) *Manager {
	m := &Manager{
		oracle:     oracle,
		keyVersion: DefaultKeyVersion,
	}

	for _, opt := range opts {
		opt(m)
	}

	// Marshaling a map of strings cannot fail; keys come out sorted.
	m.header, _ = encodePart(map[string]any{"alg": Algorithm, "typ": "JWT"})

	return m
}

// Issue signs payload and returns the compact token.
func (m *Manager) Issue(ctx context.Context, payload map[string]any) (string, error) {
	encodedPayload, err := encodePart(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	signingInput := m.header + "." + encodedPayload

	signature, err := m.oracle.Sign(ctx, base64.StdEncoding.EncodeToString([]byte(signingInput)))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(markerPattern.ReplaceAllString(signature, ""))
	if err != nil {
		return "", fmt.Errorf("%w: %w", errSignature, err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify asks the oracle whether the signature matches header and payload.
// Tokens that are not three segments, or whose signature is not base64url, are invalid.
func (m *Manager) Verify(ctx context.Context, token string) (bool, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[2], "="))
	if err != nil {
		return false, nil //nolint:nilerr // An undecodable signature is simply not valid.
	}

	input := base64.StdEncoding.EncodeToString([]byte(parts[0] + "." + parts[1]))
	marked := fmt.Sprintf("vault:v%d:%s", m.keyVersion, base64.StdEncoding.EncodeToString(raw))

	valid, err := m.oracle.Verify(ctx, input, marked)
	if err != nil {
		return false, fmt.Errorf("verify token: %w", err)
	}

	return valid, nil
}

// Decode returns the payload of token without checking its signature.
// Only the payload segment is read; the header, including alg, is ignored.
func Decode(token string) (jwt.MapClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", errMalformed, len(parts))
	}

	payload, err := jwt.NewParser(jwt.WithPaddingAllowed()).DecodeSegment(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", errMalformed, err)
	}

	claims := jwt.MapClaims{}
	if err = json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %w", errMalformed, err)
	}

	return claims, nil
}

// encodePart renders compact JSON with sorted keys as unpadded base64url.
func encodePart(part map[string]any) (string, error) {
	data, err := json.Marshal(part)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(data), nil
}
