package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Accumulator is an ordered list of opaque tokens reduced to a single digest.
// It is a plain value threaded through resolution and is not safe for concurrent use.
type Accumulator struct {
	tokens []string
}

// New returns an accumulator seeded with the provided tokens.
func New(seed ...string) *Accumulator {
	a := &Accumulator{
		tokens: make([]string, 0, len(seed)+8),
	}

	a.tokens = append(a.tokens, seed...)

	return a
}

// NewForProfile seeds an accumulator with the digest of the profile's canonical
// JSON serialization followed by its OS version string.
func NewForProfile(profile any, osVersion string) (*Accumulator, error) {
	digest, err := Digest(profile)
	if err != nil {
		return nil, err
	}

	return New(digest, osVersion), nil
}

// Digest returns the hex SHA-256 of v's canonical JSON serialization.
// Struct fields keep declaration order and map keys are sorted by encoding/json.
func Digest(v any) (string, error) {
	contents, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize for digest: %w", err)
	}

	sum := sha256.Sum256(contents)

	return hex.EncodeToString(sum[:]), nil
}

// Append adds tokens in the given order.
func (a *Accumulator) Append(tokens ...string) {
	a.tokens = append(a.tokens, tokens...)
}

// Len reports how many tokens were accumulated.
func (a *Accumulator) Len() int {
	return len(a.tokens)
}

// Tokens returns a copy of the accumulated tokens.
func (a *Accumulator) Tokens() []string {
	return append([]string(nil), a.tokens...)
}

// Sum returns the hex SHA-256 over the concatenation of all tokens.
func (a *Accumulator) Sum() string {
	hasher := sha256.New()
	for _, token := range a.tokens {
		hasher.Write([]byte(token))
	}

	return hex.EncodeToString(hasher.Sum(nil))
}

// Token formats the token appended for one resolved unit.
func Token(entryName, contentID string) string {
	return entryName + "@" + contentID
}
