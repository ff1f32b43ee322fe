package resolver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/ptah/internal/archive"
	"github.com/oshokin/ptah/internal/cache"
	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/fingerprint"
	"github.com/oshokin/ptah/internal/logger"
)

// resolveArchive identifies a repository snapshot by its configured commit.
// The cache is consulted before anything else, so a hit makes no network call.
func (s *Shared) resolveArchive(ctx context.Context, name string, source *config.RepositoryArchive) (*Result, error) {
	dir, err := s.cache.Path(cache.KindArchive, name, source.Commit)
	if err != nil {
		return nil, err
	}

	hit, err := s.cache.Ensure(ctx, dir, func(ctx context.Context, partial string) error {
		client, err := s.registryClient(ctx, &source.Registry)
		if err != nil {
			return err
		}

		zipName, err := client.DownloadArchive(ctx, source.Commit, partial)
		if err != nil {
			return err
		}

		if !strings.Contains(zipName, source.Commit) {
			return fmt.Errorf("%w: archive %q does not match commit %s", fault.ErrResolution, zipName, source.Commit)
		}

		if _, err = archive.ExtractSource(ctx, filepath.Join(partial, zipName), partial); err != nil {
			return err
		}

		return os.Remove(filepath.Join(partial, zipName))
	})
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Repository archive resolved", "commit", source.Commit, "cache_hit", hit)

	records, err := sourceRecords(dir, &source.Source)
	if err != nil {
		return nil, err
	}

	return &Result{
		Records: records,
		Tokens:  []string{fingerprint.Token(name, source.Commit)},
	}, nil
}
