package merge

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/oshokin/ptah/internal/config"
)

// ManifestName is the permission manifest looked up at the top of a source directory.
const ManifestName = ".ptah_permissions"

var (
	errManifestSyntax = errors.New("malformed permission line")
	errManifestPath   = errors.New("path must be relative without . or .. segments")
	errManifestTarget = errors.New("listed path does not exist in the destination")
)

// Permission is one manifest line.
type Permission struct {
	Mode os.FileMode
	Path string
}

// ParseManifest reads "<octal mode> <relative path>" lines. Blank lines and
// lines starting with # are skipped.
func ParseManifest(contents string) ([]Permission, error) {
	var (
		permissions []Permission
		scanner     = bufio.NewScanner(strings.NewReader(contents))
		line        int
	)

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		modeText, path, ok := strings.Cut(text, " ")
		if !ok {
			modeText, path, ok = strings.Cut(text, "\t")
		}

		path = strings.TrimSpace(path)
		if !ok || path == "" || (len(modeText) != 3 && len(modeText) != 4) {
			return nil, fmt.Errorf("%w at line %d: %q", errManifestSyntax, line, text)
		}

		mode, err := strconv.ParseUint(modeText, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%w at line %d: %q", errManifestSyntax, line, text)
		}

		if err = checkManifestPath(path); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		permissions = append(permissions, Permission{Mode: config.OctalMode(mode), Path: path})
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return permissions, nil
}

func checkManifestPath(path string) error {
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return fmt.Errorf("%w: %q", errManifestPath, path)
	}

	for _, segment := range strings.Split(path, "/") {
		if segment == ".." || segment == "." {
			return fmt.Errorf("%w: %q", errManifestPath, path)
		}
	}

	return nil
}

// applyManifest applies the manifest of source, if any, to the copy at target.
func applyManifest(staged *os.Root, source, target string) error {
	contents, err := os.ReadFile(filepath.Join(source, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return err
	}

	permissions, err := ParseManifest(string(contents))
	if err != nil {
		return fmt.Errorf("%s: %w", ManifestName, err)
	}

	for _, permission := range permissions {
		path := filepath.Join(target, filepath.FromSlash(permission.Path))

		if _, err = staged.Lstat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%s: %w: %q", ManifestName, errManifestTarget, permission.Path)
			}

			return err
		}

		if err = staged.Chmod(path, permission.Mode); err != nil {
			return err
		}
	}

	return nil
}
