package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
)

// DefaultFileMode is applied to single files whose record has no mode.
const DefaultFileMode os.FileMode = 0o644

// Record moves Source (a file or a directory) to Destination, an absolute
// path inside the staged root. Mode applies to single files only.
type Record struct {
	Source      string
	Destination string
	Mode        os.FileMode
}

// modeBits are the mode bits carried from sources and records onto staged files.
const modeBits = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

var (
	errMissingSource   = errors.New("source does not exist")
	errBadDestination  = errors.New("destination must be absolute and stay inside the root")
	errUnsupportedFile = errors.New("unsupported file type")
	errUnsafeLink      = errors.New("symlink climbs above the staged root")
)

// Merge recreates root and applies records in order. Every write goes through
// an os.Root, so symlinks in the staged tree cannot redirect writes outside it.
func Merge(ctx context.Context, root string, records []Record) error {
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("%w: clear %s: %w", fault.ErrMerge, root, err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", fault.ErrMerge, root, err)
	}

	staged, err := os.OpenRoot(root)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", fault.ErrMerge, root, err)
	}
	defer staged.Close()

	for _, record := range records {
		if err = ctx.Err(); err != nil {
			return err
		}

		if err = apply(ctx, staged, record); err != nil {
			return fmt.Errorf("%w: %s -> %s: %w", fault.ErrMerge, record.Source, record.Destination, err)
		}
	}

	return nil
}

func apply(ctx context.Context, staged *os.Root, record Record) error {
	target, err := resolve(record.Destination)
	if err != nil {
		return err
	}

	info, err := os.Stat(record.Source)
	if errors.Is(err, fs.ErrNotExist) {
		return errMissingSource
	}

	if err != nil {
		return err
	}

	if !info.IsDir() {
		mode := record.Mode
		if mode == 0 {
			mode = DefaultFileMode
		}

		logger.DebugKV(ctx, "Merging file", "source", record.Source, "destination", record.Destination)

		return copyFile(staged, record.Source, target, info, mode)
	}

	logger.DebugKV(ctx, "Merging directory", "source", record.Source, "destination", record.Destination)

	if err = copyTree(staged, record.Source, target); err != nil {
		return err
	}

	return applyManifest(staged, record.Source, target)
}

// resolve maps an absolute staged path to a name relative to the staged root.
func resolve(destination string) (string, error) {
	if !strings.HasPrefix(destination, "/") {
		return "", fmt.Errorf("%w: %q", errBadDestination, destination)
	}

	for _, segment := range strings.Split(destination, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", errBadDestination, destination)
		}
	}

	return filepath.Join(".", filepath.FromSlash(destination)), nil
}

func mkdirAll(staged *os.Root, name string) error {
	if name == "." {
		return nil
	}

	return staged.MkdirAll(name, 0o755)
}

// copyFile replaces target with a copy of source carrying mode and the source timestamps.
func copyFile(staged *os.Root, source, target string, info fs.FileInfo, mode os.FileMode) error {
	if err := mkdirAll(staged, filepath.Dir(target)); err != nil {
		return err
	}

	if err := staged.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := staged.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	if err = out.Close(); err != nil {
		return err
	}

	if err = staged.Chmod(target, mode&modeBits); err != nil {
		return err
	}

	return staged.Chtimes(target, info.ModTime(), info.ModTime())
}

// checkLink refuses relative symlinks that resolve above the staged root.
// Absolute targets are kept: they point into the router filesystem.
func checkLink(name, link string) error {
	if filepath.IsAbs(link) {
		return nil
	}

	resolved := filepath.Join(filepath.Dir(name), link)
	if resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s -> %s", errUnsafeLink, name, link)
	}

	return nil
}

type dirStamp struct {
	path string
	info fs.FileInfo
}

// copyTree copies the contents of source into target. The permission manifest
// at the top of source is not copied.
func copyTree(staged *os.Root, source, target string) error {
	var dirs []dirStamp

	err := filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}

		if rel == ManifestName {
			return nil
		}

		destination := filepath.Join(target, rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			if err = mkdirAll(staged, destination); err != nil {
				return err
			}

			if rel != "." {
				dirs = append(dirs, dirStamp{path: destination, info: info})
			}

			return nil
		case entry.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}

			if err = checkLink(destination, link); err != nil {
				return err
			}

			if err = staged.RemoveAll(destination); err != nil {
				return err
			}

			return staged.Symlink(link, destination)
		case entry.Type().IsRegular():
			return copyFile(staged, path, destination, info, info.Mode())
		default:
			return fmt.Errorf("%w: %s", errUnsupportedFile, path)
		}
	})
	if err != nil {
		return err
	}

	// Children first so that restrictive directory modes do not block writes.
	for _, dir := range slices.Backward(dirs) {
		if err = staged.Chmod(dir.path, dir.info.Mode()&modeBits); err != nil {
			return err
		}

		if err = staged.Chtimes(dir.path, dir.info.ModTime(), dir.info.ModTime()); err != nil {
			return err
		}
	}

	return nil
}
