package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/ptah/internal/fault"
)

// TestParse_AcceptsCommonForms normalizes every usual textual form to the same ID.
func TestParse_AcceptsCommonForms(t *testing.T) {
	t.Parallel()

	for _, input := range []string{
		"AA:BB:CC:DD:EE:FF",
		"aabb.ccdd.eeff",
		"aa-bb-cc-dd-ee-ff",
		"AABBCCDDEEFF",
		" aa_bb_cc_dd_ee_ff ",
	} {
		id, err := Parse(input)
		require.NoError(t, err, input)
		require.Equal(t, ID("aa:bb:cc:dd:ee:ff"), id)
		require.Equal(t, "aa-bb-cc-dd-ee-ff", id.Token())
	}
}

// TestParse_RejectsWrongLength refuses addresses without exactly twelve hex digits.
func TestParse_RejectsWrongLength(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "aa:bb:cc:dd:ee", "aa:bb:cc:dd:ee:ff:00", "zz:zz:zz:zz:zz:zz"} {
		_, err := Parse(input)
		require.ErrorIs(t, err, fault.ErrInvalidInput, input)
	}
}

// TestParse_Idempotent re-parses canonical output without changes.
func TestParse_Idempotent(t *testing.T) {
	t.Parallel()

	first := MustParse("01-23-45-67-89-AB")
	second, err := Parse(first.String())

	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, first.Token(), second.Token())
}

// TestMustParse_Panics on invalid input.
func TestMustParse_Panics(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() { MustParse("nope") })
}
