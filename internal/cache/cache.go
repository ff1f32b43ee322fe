package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/oshokin/ptah/internal/logger"
)

// Source kinds used as the first path level.
const (
	KindRelease = "release"
	KindPackage = "package"
	KindArchive = "archive"
)

const partialMarker = ".partial-"

var errBadSegment = errors.New("invalid cache path segment")

// FillFunc populates an empty directory.
type FillFunc func(ctx context.Context, dir string) error

// Store places entries under a root directory.
type Store struct {
	root  string
	group singleflight.Group
}

// New creates a store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the store root.
func (s *Store) Root() string {
	return s.root
}

// Path returns the directory of an entry: <root>/<kind>/<name>/<contentID>.
// Segments are path-escaped so that tags such as "release/1.0" stay one level.
func (s *Store) Path(kind, name, contentID string) (string, error) {
	segments := make([]string, 0, 3)

	for _, segment := range []string{kind, name, contentID} {
		escaped := url.PathEscape(segment)
		if escaped == "" || escaped == "." || escaped == ".." || strings.Contains(escaped, partialMarker) {
			return "", fmt.Errorf("%w: %q", errBadSegment, segment)
		}

		segments = append(segments, escaped)
	}

	return filepath.Join(s.root, filepath.Join(segments...)), nil
}

// Exists reports whether a complete entry is present at dir.
func Exists(dir string) bool {
	info, err := os.Stat(dir)

	return err == nil && info.IsDir()
}

// Ensure makes sure dir exists, calling fill on a fresh partial directory when
// it does not. It reports whether the entry was already present. Concurrent
// calls for the same dir share one fill; a failed fill leaves nothing behind.
//
// The fill runs under the context of the caller that started it. When that
// caller goes away, callers that joined the fill and are still alive start a
// new one instead of inheriting the cancellation. Every caller stops waiting
// as soon as its own context is done.
func (s *Store) Ensure(ctx context.Context, dir string, fill FillFunc) (bool, error) {
	for attempt := 1; ; attempt++ {
		if Exists(dir) {
			return true, nil
		}

		var led bool

		results := s.group.DoChan(dir, func() (any, error) {
			led = true

			// Another flight may have finished between the check and DoChan.
			if Exists(dir) {
				return nil, nil
			}

			return nil, s.populate(ctx, dir, fill)
		})

		var result singleflight.Result

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case result = <-results:
		}

		if result.Err != nil {
			if !led && isCanceled(result.Err) && ctx.Err() == nil && attempt < maxJoinAttempts {
				logger.DebugKV(ctx, "Shared cache fill was abandoned, filling again", "dir", dir, "attempt", attempt)

				continue
			}

			return false, result.Err
		}

		if result.Shared {
			logger.DebugKV(ctx, "Cache fill shared with a concurrent request", "dir", dir)
		}

		return false, nil
	}
}

// maxJoinAttempts bounds how often a caller restarts fills abandoned by others.
const maxJoinAttempts = 3

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *Store) populate(ctx context.Context, dir string, fill FillFunc) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create cache parent: %w", err)
	}

	partial := dir + partialMarker + uuid.NewString()
	if err := os.Mkdir(partial, 0o755); err != nil {
		return fmt.Errorf("create partial cache dir: %w", err)
	}

	if err := fill(ctx, partial); err != nil {
		_ = os.RemoveAll(partial)

		return err
	}

	if err := ctx.Err(); err != nil {
		_ = os.RemoveAll(partial)

		return err
	}

	if err := os.Rename(partial, dir); err != nil {
		_ = os.RemoveAll(partial)

		return fmt.Errorf("commit cache entry: %w", err)
	}

	logger.InfoKV(ctx, "Cache entry stored", "dir", dir)

	return nil
}

// Sweep removes partial directories left by a crashed process.
func (s *Store) Sweep() error {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", "*", "*"+partialMarker+"*"))
	if err != nil {
		return err
	}

	for _, match := range matches {
		if err = os.RemoveAll(match); err != nil {
			return err
		}
	}

	return nil
}
