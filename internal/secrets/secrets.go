package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fault"
)

// Resolver returns the value of a named credential.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context, name string) (string, error)

// Resolve implements Resolver.
func (f Func) Resolve(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// Static resolves names from a fixed map. Useful for tests and local runs.
type Static map[string]string

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: credential %q is not set", fault.ErrConfiguration, name)
	}

	return value, nil
}

var (
	errUndeclared = errors.New("credential is not declared")
	errEmpty      = errors.New("credential is empty")
)

// Declared resolves credentials according to their declaration: environment
// variable of the same name or a mounted file.
type Declared struct {
	credentials map[string]*config.Credential
	lookupEnv   func(string) (string, bool)
	readFile    func(string) ([]byte, error)
}

// Option customizes a Declared resolver.
type Option func(*Declared)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(d *Declared) {
		d.lookupEnv = lookup
	}
}

// NewDeclared builds a resolver for the credentials of cfg.
func NewDeclared(cfg *config.Config, opts ...Option) *Declared {
	d := &Declared{
		credentials: cfg.Credentials,
		lookupEnv:   os.LookupEnv,
		readFile:    os.ReadFile,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Resolve implements Resolver. Values are trimmed of surrounding whitespace.
func (d *Declared) Resolve(_ context.Context, name string) (string, error) {
	credential, ok := d.credentials[name]
	if !ok {
		return "", fmt.Errorf("%w: %q: %w", fault.ErrConfiguration, name, errUndeclared)
	}

	var value string

	if credential != nil && credential.Source == config.SourceFile {
		contents, err := d.readFile(filepath.Clean(credential.Path))
		if err != nil {
			return "", fmt.Errorf("%w: read credential %q: %w", fault.ErrConfiguration, name, err)
		}

		value = string(contents)
	} else {
		value, _ = d.lookupEnv(name)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %q: %w", fault.ErrConfiguration, name, errEmpty)
	}

	return value, nil
}
