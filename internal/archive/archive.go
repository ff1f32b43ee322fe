package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// SourceDir is the name given to the top directory of an unpacked repository snapshot.
const SourceDir = "source"

var (
	errUnsafePath    = errors.New("entry escapes the destination")
	errUnsupported   = errors.New("unsupported entry type")
	errNoTopLevelDir = errors.New("archive has no top-level directory")
)

// safeJoin resolves an entry name inside root.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errUnsafePath, name)
	}

	return filepath.Join(root, cleaned), nil
}

// checkLink refuses symlinks pointing outside root.
func checkLink(root, linkPath, target string) error {
	if filepath.IsAbs(target) {
		return fmt.Errorf("%w: symlink %q -> %q", errUnsafePath, linkPath, target)
	}

	resolved := filepath.Join(filepath.Dir(linkPath), target)

	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: symlink %q -> %q", errUnsafePath, linkPath, target)
	}

	return nil
}

func writeFile(path string, mode os.FileMode, modified time.Time, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	mode &= os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(file, r); err != nil {
		_ = file.Close()

		return err
	}

	if err = file.Close(); err != nil {
		return err
	}

	// OpenFile honors the umask.
	if err = os.Chmod(path, mode); err != nil {
		return err
	}

	if !modified.IsZero() {
		return os.Chtimes(path, modified, modified)
	}

	return nil
}

// ExtractZip unpacks the zip file at src into dst.
func ExtractZip(ctx context.Context, src, dst string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip %s: %w", src, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if err = ctx.Err(); err != nil {
			return err
		}

		if err = extractZipEntry(dst, entry); err != nil {
			return fmt.Errorf("extract %s: %w", entry.Name, err)
		}
	}

	return nil
}

func extractZipEntry(root string, entry *zip.File) error {
	path, err := safeJoin(root, entry.Name)
	if err != nil {
		return err
	}

	mode := entry.Mode()

	switch {
	case mode.IsDir():
		return os.MkdirAll(path, 0o755)
	case mode&os.ModeSymlink != 0:
		body, err := entry.Open()
		if err != nil {
			return err
		}
		defer body.Close()

		target, err := io.ReadAll(io.LimitReader(body, 4096))
		if err != nil {
			return err
		}

		if err = checkLink(root, path, string(target)); err != nil {
			return err
		}

		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		return os.Symlink(string(target), path)
	case mode.IsRegular():
		body, err := entry.Open()
		if err != nil {
			return err
		}
		defer body.Close()

		if mode.Perm() == 0 {
			mode |= 0o644
		}

		return writeFile(path, mode, entry.Modified, body)
	default:
		return fmt.Errorf("%w: %s", errUnsupported, mode.Type())
	}
}

// ExtractTarZst unpacks the zstd-compressed tar file at src into dst.
func ExtractTarZst(ctx context.Context, src, dst string) error {
	file, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return fmt.Errorf("open zstd stream %s: %w", src, err)
	}
	defer decoder.Close()

	return extractTar(ctx, tar.NewReader(decoder), dst)
}

func extractTar(ctx context.Context, reader *tar.Reader, root string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		if err = extractTarEntry(root, header, reader); err != nil {
			return fmt.Errorf("extract %s: %w", header.Name, err)
		}
	}
}

func extractTarEntry(root string, header *tar.Header, body io.Reader) error {
	path, err := safeJoin(root, header.Name)
	if err != nil {
		return err
	}

	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(path, 0o755)
	case tar.TypeReg:
		return writeFile(path, header.FileInfo().Mode(), header.ModTime, body)
	case tar.TypeSymlink:
		if err = checkLink(root, path, header.Linkname); err != nil {
			return err
		}

		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		_ = os.Remove(path)

		return os.Symlink(header.Linkname, path)
	case tar.TypeLink:
		target, err := safeJoin(root, header.Linkname)
		if err != nil {
			return err
		}

		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		_ = os.Remove(path)

		return os.Link(target, path)
	case tar.TypeXGlobalHeader:
		return nil
	default:
		return fmt.Errorf("%w: %q", errUnsupported, header.Typeflag)
	}
}

// ExtractSource unpacks a repository snapshot into dir and renames its
// top-level directory to SourceDir. It returns the path of SourceDir.
func ExtractSource(ctx context.Context, zipPath, dir string) (string, error) {
	staging := filepath.Join(dir, ".extract-"+uuid.NewString())
	defer os.RemoveAll(staging)

	if err := ExtractZip(ctx, zipPath, staging); err != nil {
		return "", err
	}

	top, err := topLevelDir(staging)
	if err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(zipPath), err)
	}

	// The top directory is what gets staged, so links must stay inside it.
	if err = checkLinks(top); err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(zipPath), err)
	}

	target := filepath.Join(dir, SourceDir)
	if err = os.RemoveAll(target); err != nil {
		return "", err
	}

	if err = os.Rename(top, target); err != nil {
		return "", err
	}

	return target, nil
}

// checkLinks runs checkLink on every symlink below root.
func checkLinks(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		target, err := os.Readlink(path)
		if err != nil {
			return err
		}

		return checkLink(root, path, target)
	})
}

// topLevelDir returns the single directory snapshots are wrapped in.
func topLevelDir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}

	if len(entries) != 1 || !entries[0].IsDir() {
		return "", errNoTopLevelDir
	}

	return filepath.Join(root, entries[0].Name()), nil
}
