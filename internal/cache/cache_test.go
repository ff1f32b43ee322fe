package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPath builds kind/name/content paths and refuses traversal.
func TestPath(t *testing.T) {
	t.Parallel()

	store := New("/cache")

	path, err := store.Path(KindRelease, "firmware", "v1.2.0")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/cache", "release", "firmware", "v1.2.0"), path)

	path, err = store.Path(KindRelease, "firmware", "release/1.0")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/cache", "release", "firmware", "release%2F1.0"), path)

	for _, bad := range []string{"", "..", "x.partial-1"} {
		_, err = store.Path(KindRelease, "firmware", bad)
		require.ErrorIs(t, err, errBadSegment, bad)
	}
}

// TestEnsureHitDoesNotFill calls fill exactly once across repeated requests.
func TestEnsureHitDoesNotFill(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	dir, err := store.Path(KindRelease, "firmware", "v1.2.0")
	require.NoError(t, err)

	var fills atomic.Int32

	fill := func(_ context.Context, partial string) error {
		fills.Add(1)

		return os.WriteFile(filepath.Join(partial, "firmware.bin"), []byte("fw"), 0o644)
	}

	hit, err := store.Ensure(context.Background(), dir, fill)
	require.NoError(t, err)
	require.False(t, hit)

	hit, err = store.Ensure(context.Background(), dir, fill)
	require.NoError(t, err)
	require.True(t, hit)

	require.Equal(t, int32(1), fills.Load())
	require.FileExists(t, filepath.Join(dir, "firmware.bin"))
}

// TestEnsureFailureLeavesNothing removes the partial directory of a failed fill.
func TestEnsureFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(root)
	dir, err := store.Path(KindArchive, "overlay", "0123abcd")
	require.NoError(t, err)

	boom := errors.New("boom")

	_, err = store.Ensure(context.Background(), dir, func(_ context.Context, partial string) error {
		require.NoError(t, os.WriteFile(filepath.Join(partial, "half"), nil, 0o644))

		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoDirExists(t, dir)

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestEnsureConcurrentSingleFill collapses concurrent first fetches.
func TestEnsureConcurrentSingleFill(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	dir, err := store.Path(KindPackage, "tools", "abc")
	require.NoError(t, err)

	var (
		fills atomic.Int32
		wg    sync.WaitGroup
	)

	release := make(chan struct{})

	fill := func(_ context.Context, partial string) error {
		fills.Add(1)
		<-release

		return os.WriteFile(filepath.Join(partial, "tool"), []byte("t"), 0o644)
	}

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := store.Ensure(context.Background(), dir, fill)
			require.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), fills.Load())
	require.DirExists(t, dir)
}

// TestEnsureAbandonedFillIsRestarted lets a live caller finish a fill whose
// starter went away instead of failing with the starter's cancellation.
func TestEnsureAbandonedFillIsRestarted(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	dir, err := store.Path(KindRelease, "firmware", "v1.2.0")
	require.NoError(t, err)

	var fills atomic.Int32

	started := make(chan struct{})

	fill := func(ctx context.Context, partial string) error {
		if fills.Add(1) == 1 {
			close(started)
			<-ctx.Done()

			return ctx.Err()
		}

		return os.WriteFile(filepath.Join(partial, "firmware.bin"), []byte("fw"), 0o644)
	}

	starterCtx, cancel := context.WithCancel(context.Background())
	starterErr := make(chan error, 1)

	go func() {
		_, err := store.Ensure(starterCtx, dir, fill)
		starterErr <- err
	}()

	<-started

	waiterErr := make(chan error, 1)

	go func() {
		_, err := store.Ensure(context.Background(), dir, fill)
		waiterErr <- err
	}()

	// Give the second caller time to join the running fill.
	time.Sleep(50 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-starterErr, context.Canceled)
	require.NoError(t, <-waiterErr)
	require.Equal(t, int32(2), fills.Load())
	require.FileExists(t, filepath.Join(dir, "firmware.bin"))
}

// TestEnsureWaiterHonorsOwnContext stops waiting for a shared fill when the
// waiting caller's context ends, without disturbing the fill.
func TestEnsureWaiterHonorsOwnContext(t *testing.T) {
	t.Parallel()

	store := New(t.TempDir())
	dir, err := store.Path(KindPackage, "tools", "abc")
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})

	fill := func(_ context.Context, partial string) error {
		close(started)
		<-release

		return os.WriteFile(filepath.Join(partial, "tool"), []byte("t"), 0o644)
	}

	starterErr := make(chan error, 1)

	go func() {
		_, err := store.Ensure(context.Background(), dir, fill)
		starterErr <- err
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = store.Ensure(ctx, dir, fill)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-starterErr)
	require.DirExists(t, dir)
}

// TestSweep removes leftovers of interrupted fills.
func TestSweep(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store := New(root)

	leftover := filepath.Join(root, KindRelease, "firmware", "v1"+partialMarker+"x")
	require.NoError(t, os.MkdirAll(leftover, 0o755))

	complete := filepath.Join(root, KindRelease, "firmware", "v1")
	require.NoError(t, os.MkdirAll(complete, 0o755))

	require.NoError(t, store.Sweep())
	require.NoDirExists(t, leftover)
	require.DirExists(t, complete)
}
