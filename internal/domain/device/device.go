package device

import (
	"fmt"
	"strings"

	"github.com/oshokin/ptah/internal/fault"
)

// hexDigits is the number of hex digits in a hardware address.
const hexDigits = 12

// tokenReplacer maps canonical characters to filesystem and URL safe ones.
//
//nolint:gochecknoglobals // Immutable replacer.
var tokenReplacer = strings.NewReplacer(":", "-", "_", "-", ".", "_")

// ID is a canonical hardware address: lowercase hex pairs separated by colons.
type ID string

// Parse accepts colon-, dash-, dot-separated or bare hex text and returns its canonical form.
// Every non-hex character is dropped before the length check.
func Parse(text string) (ID, error) {
	var clean strings.Builder

	clean.Grow(hexDigits)

	for _, r := range strings.ToLower(text) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			clean.WriteRune(r)
		}
	}

	hex := clean.String()
	if len(hex) != hexDigits {
		return "", fmt.Errorf("%w: invalid hardware address %q", fault.ErrInvalidInput, text)
	}

	var canonical strings.Builder

	canonical.Grow(hexDigits + hexDigits/2 - 1)

	for i := 0; i < hexDigits; i += 2 {
		if i > 0 {
			canonical.WriteByte(':')
		}

		canonical.WriteString(hex[i : i+2])
	}

	return ID(canonical.String()), nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(text string) ID {
	id, err := Parse(text)
	if err != nil {
		panic(err)
	}

	return id
}

// String returns the canonical form.
func (id ID) String() string {
	return string(id)
}

// Token returns the filesystem and URL safe projection of the address.
func (id ID) Token() string {
	return tokenReplacer.Replace(string(id))
}
