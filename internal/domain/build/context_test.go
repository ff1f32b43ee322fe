package build

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/merge"
)

// TestNewContext starts in the created state with a request ID.
func TestNewContext(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := New(device.MustParse("aa:bb:cc:dd:ee:ff"), "home", now)

	require.Equal(t, StateCreated, c.State)
	require.False(t, c.IsStaged())
	require.Equal(t, now, c.CreatedAt)

	_, err := uuid.Parse(c.ID)
	require.NoError(t, err)
	require.NotEqual(t, c.ID, New(c.Device, "home", now).ID)
}

// TestStageAndClone verifies that staging copies its inputs and Clone is deep.
func TestStageAndClone(t *testing.T) {
	t.Parallel()

	tokens := []string{"a@1"}
	records := []merge.Record{{Source: "/tmp/a", Destination: "/etc/a"}}

	c := New(device.MustParse("aabbccddeeff"), "home", time.Now())
	c.Stage("abc", "/srv/files/aa-bb-cc-dd-ee-ff", tokens, records)

	tokens[0] = "changed"

	require.True(t, c.IsStaged())
	require.Equal(t, []string{"a@1"}, c.Tokens)

	cloned := c.Clone()
	require.Equal(t, c, cloned)
	require.NotSame(t, c, cloned)

	cloned.Records[0].Destination = "/etc/b"
	require.Equal(t, "/etc/a", c.Records[0].Destination)

	require.Nil(t, (*Context)(nil).Clone())
	require.False(t, (*Context)(nil).IsStaged())
}
