package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/remote"
	"github.com/oshokin/ptah/internal/transit"
)

const tokenHeader = "X-Vault-Token"

var (
	errEmptyAnswer = errors.New("empty answer")
	errNoField     = errors.New("field not found in secret")
)

// Client talks to one secret service with one token.
type Client struct {
	remote  *remote.Client
	baseURL string
	token   string
}

// New creates a client for the service at baseURL.
func New(rc *remote.Client, baseURL, token string) *Client {
	return &Client{
		remote:  rc,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// envelope is the common answer shape.
type envelope[T any] struct {
	Data   *T       `json:"data"`
	Errors []string `json:"errors"`
}

func call[T any](ctx context.Context, c *Client, method, path, what string, body any) (*T, error) {
	req := &remote.Request{
		Method: method,
		URL:    c.baseURL + "/v1/" + strings.TrimLeft(path, "/"),
		Header: http.Header{tokenHeader: {c.token}},
	}

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", what, err)
		}

		req.Body = payload
	}

	data, _, err := c.remote.Fetch(ctx, req)
	if err != nil {
		return nil, classify(err, what)
	}

	var answer envelope[T]
	if err = json.Unmarshal(data, &answer); err != nil {
		return nil, fmt.Errorf("%w: %s: decode answer: %w", fault.ErrTransient, what, err)
	}

	if answer.Data == nil {
		return nil, fmt.Errorf("%w: %s: %w", fault.ErrResolution, what, errEmptyAnswer)
	}

	return answer.Data, nil
}

func classify(err error, what string) error {
	switch remote.StatusCode(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s: %w", fault.ErrResolution, what, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s: token rejected: %w", fault.ErrConfiguration, what, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// Certificate is an issued certificate with its private key.
type Certificate struct {
	Certificate  string   `json:"certificate"`
	PrivateKey   string   `json:"private_key"`
	IssuingCA    string   `json:"issuing_ca"`
	CAChain      []string `json:"ca_chain"`
	SerialNumber string   `json:"serial_number"`
}

// IssueCertificate issues a certificate for commonName from role on the PKI mount.
func (c *Client) IssueCertificate(ctx context.Context, mount, role, commonName string) (*Certificate, error) {
	certificate, err := call[Certificate](ctx, c, http.MethodPost, mount+"/issue/"+role,
		"issue certificate "+commonName, map[string]any{"common_name": commonName})
	if err != nil {
		return nil, err
	}

	if certificate.Certificate == "" || certificate.PrivateKey == "" {
		return nil, fmt.Errorf("%w: issue certificate %s: %w", fault.ErrResolution, commonName, errEmptyAnswer)
	}

	return certificate, nil
}

type kvData struct {
	Data map[string]any `json:"data"`
}

// ReadKV reads the latest version of a KV v2 secret.
func (c *Client) ReadKV(ctx context.Context, mount, path string) (map[string]any, error) {
	secret, err := call[kvData](ctx, c, http.MethodGet, mount+"/data/"+strings.TrimLeft(path, "/"),
		"read secret "+path, nil)
	if err != nil {
		return nil, err
	}

	return secret.Data, nil
}

// ReadKVField reads one string field of a KV v2 secret.
func (c *Client) ReadKVField(ctx context.Context, mount, path, field string) (string, error) {
	data, err := c.ReadKV(ctx, mount, path)
	if err != nil {
		return "", err
	}

	value, ok := data[field].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s#%s: %w", fault.ErrResolution, path, field, errNoField)
	}

	return value, nil
}

type signature struct {
	Signature string `json:"signature"`
}

type verification struct {
	Valid bool `json:"valid"`
}

// Sign signs the standard base64 input with a transit key.
func (c *Client) Sign(ctx context.Context, mount, key, input string) (string, error) {
	answer, err := call[signature](ctx, c, http.MethodPost, mount+"/sign/"+key, "sign with "+key,
		map[string]any{
			"input":               input,
			"prehashed":           false,
			"signature_algorithm": transit.SignatureAlgorithm,
		})
	if err != nil {
		return "", err
	}

	return answer.Signature, nil
}

// Verify checks a marked signature of the standard base64 input with a transit key.
func (c *Client) Verify(ctx context.Context, mount, key, input, marked string) (bool, error) {
	answer, err := call[verification](ctx, c, http.MethodPost, mount+"/verify/"+key, "verify with "+key,
		map[string]any{
			"input":               input,
			"signature":           marked,
			"prehashed":           false,
			"signature_algorithm": transit.SignatureAlgorithm,
		})
	if err != nil {
		return false, err
	}

	return answer.Valid, nil
}

// TransitKey binds a transit key to the client; it is a transit.Oracle.
type TransitKey struct {
	client *Client
	mount  string
	key    string
}

var _ transit.Oracle = (*TransitKey)(nil)

// TransitKey returns the oracle for key on mount.
func (c *Client) TransitKey(mount, key string) *TransitKey {
	return &TransitKey{client: c, mount: mount, key: key}
}

// Sign implements transit.Oracle.
func (k *TransitKey) Sign(ctx context.Context, input string) (string, error) {
	return k.client.Sign(ctx, k.mount, k.key, input)
}

// Verify implements transit.Oracle.
func (k *TransitKey) Verify(ctx context.Context, input, marked string) (bool, error) {
	return k.client.Verify(ctx, k.mount, k.key, input, marked)
}
