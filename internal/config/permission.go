package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/ptah/internal/fault"
)

// DefaultFileMode is applied to single files whose record carries no permission.
const DefaultFileMode os.FileMode = 0o644

// Permission is a 3 or 4 digit octal file mode as written in the configuration, e.g. "755".
// The zero value means "not set".
type Permission string

// ParsePermission validates an octal mode string.
func ParsePermission(text string) (Permission, error) {
	if len(text) != 3 && len(text) != 4 {
		return "", fmt.Errorf("%w: permission %q must be a 3 or 4 digit octal number", fault.ErrConfiguration, text)
	}

	if _, err := strconv.ParseUint(text, 8, 32); err != nil {
		return "", fmt.Errorf("%w: permission %q is not octal", fault.ErrConfiguration, text)
	}

	return Permission(text), nil
}

// IsSet reports whether a permission was configured.
func (p Permission) IsSet() bool {
	return p != ""
}

// Mode converts the permission to a file mode. Unset permissions yield 0.
func (p Permission) Mode() os.FileMode {
	if p == "" {
		return 0
	}

	value, err := strconv.ParseUint(string(p), 8, 32)
	if err != nil {
		return 0
	}

	return OctalMode(value)
}

// OctalMode converts chmod-style octal bits to a FileMode. The setuid, setgid
// and sticky bits (04000, 02000, 01000) map to their os.Mode flags.
func OctalMode(value uint64) os.FileMode {
	mode := os.FileMode(value) & os.ModePerm //nolint:gosec // Masked to 9 bits.

	if value&0o4000 != 0 {
		mode |= os.ModeSetuid
	}

	if value&0o2000 != 0 {
		mode |= os.ModeSetgid
	}

	if value&0o1000 != 0 {
		mode |= os.ModeSticky
	}

	return mode
}

// ModeOr returns the configured mode or fallback when unset.
func (p Permission) ModeOr(fallback os.FileMode) os.FileMode {
	if !p.IsSet() {
		return fallback
	}

	return p.Mode()
}

// UnmarshalYAML reads the literal scalar so that bare 755 and quoted "0755" both work.
func (p *Permission) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: permission must be a scalar (line %d)", fault.ErrConfiguration, node.Line)
	}

	parsed, err := ParsePermission(node.Value)
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}
