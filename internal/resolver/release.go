package resolver

import (
	"context"
	"os"
	"path/filepath"

	"github.com/oshokin/ptah/internal/archive"
	"github.com/oshokin/ptah/internal/cache"
	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fingerprint"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/merge"
)

// resolveRelease identifies a release by its tag name.
func (s *Shared) resolveRelease(ctx context.Context, name string, source *config.GitlabRelease) (*Result, error) {
	client, err := s.registryClient(ctx, &source.Registry)
	if err != nil {
		return nil, err
	}

	release, err := client.Release(ctx, source.ReleasePath)
	if err != nil {
		return nil, err
	}

	dir, err := s.cache.Path(cache.KindRelease, name, release.TagName)
	if err != nil {
		return nil, err
	}

	hit, err := s.cache.Ensure(ctx, dir, func(ctx context.Context, partial string) error {
		for i := range source.Assets {
			link, err := release.Link(source.Assets[i].Name)
			if err != nil {
				return err
			}

			if _, err = client.DownloadAsset(ctx, link, partial, link.Name); err != nil {
				return err
			}
		}

		if source.Source == nil {
			return nil
		}

		zipName, err := client.DownloadArchive(ctx, release.TagName, partial)
		if err != nil {
			return err
		}

		if _, err = archive.ExtractSource(ctx, filepath.Join(partial, zipName), partial); err != nil {
			return err
		}

		return os.Remove(filepath.Join(partial, zipName))
	})
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Release resolved", "tag", release.TagName, "cache_hit", hit)

	result := &Result{Tokens: []string{fingerprint.Token(name, release.TagName)}}

	for _, asset := range source.Assets {
		path := filepath.Join(dir, asset.Name)
		if err = requirePath(path, "asset "+asset.Name); err != nil {
			return nil, err
		}

		result.Records = append(result.Records, merge.Record{
			Source:      path,
			Destination: asset.Destination,
			Mode:        asset.Permission.ModeOr(config.DefaultFileMode),
		})
	}

	if source.Source != nil {
		records, err := sourceRecords(dir, source.Source)
		if err != nil {
			return nil, err
		}

		result.Records = append(result.Records, records...)
	}

	return result, nil
}

// sourceRecords maps the declared paths of an unpacked snapshot to records.
func sourceRecords(dir string, tree *config.SourceTree) ([]merge.Record, error) {
	records := make([]merge.Record, 0, len(tree.Paths))

	for _, p := range tree.Paths {
		path := filepath.Join(dir, archive.SourceDir, filepath.FromSlash(p))
		if err := requirePath(path, "source path "+p); err != nil {
			return nil, err
		}

		records = append(records, merge.Record{Source: path, Destination: tree.Target()})
	}

	return records, nil
}
