package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oshokin/ptah/internal/cache"
	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/fingerprint"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/merge"
	"github.com/oshokin/ptah/internal/registry"
)

var (
	errNoPackageFile = errors.New("file not found in package")
	errNoDigest      = errors.New("registry reported no digest")
	errDigest        = errors.New("downloaded file does not match the reported digest")
)

// digestAttempts bounds downloads of a package file whose bytes disagree with its digest.
const digestAttempts = 2

// resolvePackages resolves every requested file by its server-reported SHA-256.
func (s *Shared) resolvePackages(ctx context.Context, name string, source *config.GenericPackage) (*Result, error) {
	client, err := s.registryClient(ctx, &source.Registry)
	if err != nil {
		return nil, err
	}

	result := new(Result)

	for _, ref := range source.Packages {
		pkg, err := client.FindPackage(ctx, ref.Name, ref.Version)
		if err != nil {
			return nil, err
		}

		files, err := client.PackageFiles(ctx, pkg.ID)
		if err != nil {
			return nil, err
		}

		for _, wanted := range ref.Files {
			file, err := latestFile(files, wanted.Name)
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %w", fault.ErrResolution, ref.Name, ref.Version, err)
			}

			dir, err := s.cache.Path(cache.KindPackage, name, file.FileSHA256)
			if err != nil {
				return nil, err
			}

			hit, err := s.cache.Ensure(ctx, dir, func(ctx context.Context, partial string) error {
				path := filepath.Join(partial, wanted.Name)

				for attempt := 1; ; attempt++ {
					if err := client.DownloadPackageFile(ctx, ref.Name, ref.Version, wanted.Name, path); err != nil {
						return err
					}

					err := checkDigest(path, file.FileSHA256)
					if err == nil || !errors.Is(err, errDigest) || attempt == digestAttempts {
						return err
					}

					logger.WarnKV(ctx, "Package file digest mismatch, downloading again",
						"package", ref.Name,
						"file", wanted.Name,
						"attempt", attempt)
				}
			})
			if err != nil {
				return nil, err
			}

			logger.InfoKV(ctx, "Package file resolved",
				"package", ref.Name,
				"version", ref.Version,
				"file", wanted.Name,
				"cache_hit", hit)

			path := filepath.Join(dir, wanted.Name)
			if err = requirePath(path, "package file "+wanted.Name); err != nil {
				return nil, err
			}

			result.Tokens = append(result.Tokens, fingerprint.Token(name, file.FileSHA256))
			result.Records = append(result.Records, merge.Record{
				Source:      path,
				Destination: wanted.Destination,
				Mode:        wanted.Permission.ModeOr(config.DefaultFileMode),
			})
		}
	}

	return result, nil
}

// latestFile picks the newest upload of a file name; generic packages may hold duplicates.
func latestFile(files []registry.PackageFile, name string) (*registry.PackageFile, error) {
	var found *registry.PackageFile

	for i := range files {
		if files[i].FileName == name && (found == nil || files[i].ID > found.ID) {
			found = &files[i]
		}
	}

	if found == nil {
		return nil, fmt.Errorf("%w: %q", errNoPackageFile, name)
	}

	if found.FileSHA256 == "" {
		return nil, fmt.Errorf("%w: %q", errNoDigest, name)
	}

	return found, nil
}

func checkDigest(path, want string) error {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return err
	}

	if got := hex.EncodeToString(hasher.Sum(nil)); got != want {
		return fmt.Errorf("%w: %w: %s: got %s, want %s", fault.ErrResolution, errDigest, filepath.Base(path), got, want)
	}

	return nil
}
