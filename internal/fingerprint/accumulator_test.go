package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

type testProfile struct {
	Name     string   `json:"name"`
	Packages []string `json:"packages"`
}

// TestSum_Deterministic yields the same digest for the same seed and tokens.
func TestSum_Deterministic(t *testing.T) {
	t.Parallel()

	profile := testProfile{Name: "ap", Packages: []string{"luci"}}

	first, err := NewForProfile(profile, "23.05.3")
	require.NoError(t, err)
	first.Append(Token("base", "v1.2.0"), Token("pkgs", "deadbeef"))

	second, err := NewForProfile(profile, "23.05.3")
	require.NoError(t, err)
	second.Append(Token("base", "v1.2.0"), Token("pkgs", "deadbeef"))

	require.Equal(t, first.Sum(), second.Sum())
	require.Len(t, first.Sum(), 64)
}

// TestSum_OrderAndContentSensitive changes the digest on reorder and on a changed token.
func TestSum_OrderAndContentSensitive(t *testing.T) {
	t.Parallel()

	base := New("seed")
	base.Append("a", "b")

	reordered := New("seed")
	reordered.Append("b", "a")

	changed := New("seed")
	changed.Append("a", "c")

	require.NotEqual(t, base.Sum(), reordered.Sum())
	require.NotEqual(t, base.Sum(), changed.Sum())
}

// TestSum_IsHashOfConcatenation pins the reduction formula.
func TestSum_IsHashOfConcatenation(t *testing.T) {
	t.Parallel()

	a := New("x", "y")
	a.Append("z")

	want := sha256.Sum256([]byte("xyz"))
	require.Equal(t, hex.EncodeToString(want[:]), a.Sum())
	require.Equal(t, []string{"x", "y", "z"}, a.Tokens())
	require.Equal(t, 3, a.Len())
}

// TestDigest_ProfileChange alters the seed when the profile changes.
func TestDigest_ProfileChange(t *testing.T) {
	t.Parallel()

	d1, err := Digest(testProfile{Name: "ap"})
	require.NoError(t, err)

	d2, err := Digest(testProfile{Name: "ap", Packages: []string{"luci"}})
	require.NoError(t, err)

	require.NotEqual(t, d1, d2)
}

// TestTokens_ReturnsCopy keeps the accumulator immune to caller mutation.
func TestTokens_ReturnsCopy(t *testing.T) {
	t.Parallel()

	a := New("x")
	tokens := a.Tokens()
	tokens[0] = "mutated"

	require.Equal(t, []string{"x"}, a.Tokens())
}
