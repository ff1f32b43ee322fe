package imagebuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/ptah/internal/archive"
	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/remote"
)

// maxParallelDownloads bounds concurrent image builder downloads.
const maxParallelDownloads = 2

var (
	releasePattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

	errNoReleases     = errors.New("no releases listed")
	errNoBuilderDir   = errors.New("archive did not contain the expected builder folder")
	errUnknownProfile = errors.New("unknown profile")
)

// Provisioner installs image builders under the builders path.
type Provisioner struct {
	remote       *remote.Client
	baseURL      string
	ext          string
	buildersPath string
}

// NewProvisioner creates a provisioner downloading from baseURL archives ending in ext.
func NewProvisioner(rc *remote.Client, baseURL, ext, buildersPath string) *Provisioner {
	return &Provisioner{
		remote:       rc,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		ext:          ext,
		buildersPath: buildersPath,
	}
}

// LatestRelease returns the highest x.y.z version listed on the releases page.
func (p *Provisioner) LatestRelease(ctx context.Context) (string, error) {
	page, _, err := p.remote.Fetch(ctx, remote.Get(p.baseURL+"/", nil))
	if err != nil {
		return "", fmt.Errorf("list releases: %w", err)
	}

	var latest *goversion.Version

	for _, match := range releasePattern.FindAllString(string(page), -1) {
		candidate, err := goversion.NewVersion(match)
		if err != nil {
			continue
		}

		if latest == nil || candidate.GreaterThan(latest) {
			latest = candidate
		}
	}

	if latest == nil {
		return "", fmt.Errorf("%w: %w at %s", fault.ErrResolution, errNoReleases, p.baseURL)
	}

	return latest.Original(), nil
}

// ArchiveURL returns the download URL of a profile's image builder for osVersion.
func (p *Provisioner) ArchiveURL(profile *config.Profile, osVersion string) string {
	o := &profile.OpenWrt

	return fmt.Sprintf("%s/%s/targets/%s/%s/%s",
		p.baseURL, osVersion, o.Target, o.Arch, o.ImageBuilderArchiveName(osVersion, p.ext))
}

// Provision replaces the image builder of one profile and returns its folder name.
func (p *Provisioner) Provision(ctx context.Context, profile *config.Profile) (string, error) {
	ctx = logger.WithKV(ctx, "profile", profile.Name)

	osVersion := profile.OpenWrt.OpenWrtVersion
	if osVersion == config.LatestVersion {
		latest, err := p.LatestRelease(ctx)
		if err != nil {
			return "", err
		}

		logger.InfoKV(ctx, "Resolved latest OpenWrt release", "version", latest)

		osVersion = latest
	}

	profileDir := filepath.Join(p.buildersPath, profile.Name)
	if err := recreateDir(profileDir); err != nil {
		return "", err
	}

	tmpDir := filepath.Join(profileDir, "tmp")
	if err := os.Mkdir(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(tmpDir)
	}()

	archiveName := profile.OpenWrt.ImageBuilderArchiveName(osVersion, p.ext)
	archivePath := filepath.Join(tmpDir, archiveName)
	url := p.ArchiveURL(profile, osVersion)

	logger.InfoKV(ctx, "Downloading image builder", "url", url)

	if _, err := p.remote.Download(ctx, remote.Get(url, nil), archivePath); err != nil {
		if remote.StatusCode(err) == http.StatusNotFound {
			return "", fmt.Errorf("%w: image builder %s: %w", fault.ErrResolution, archiveName, err)
		}

		return "", fmt.Errorf("download image builder: %w", err)
	}

	if err := archive.ExtractTarZst(ctx, archivePath, profileDir); err != nil {
		return "", err
	}

	folder := strings.TrimSuffix(strings.TrimSuffix(archiveName, ".zst"), ".tar")
	if info, err := os.Stat(filepath.Join(profileDir, folder)); err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", errNoBuilderDir, folder)
	}

	if err := os.WriteFile(filepath.Join(profileDir, BuilderFolderFile), []byte(folder), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", BuilderFolderFile, err)
	}

	logger.InfoKV(ctx, "Image builder provisioned", "folder", folder)

	return folder, nil
}

// ProvisionAll provisions every profile, or only the named one when only is set.
func (p *Provisioner) ProvisionAll(ctx context.Context, cfg *config.Config, only string) error {
	profiles := cfg.Profiles

	if only != "" {
		profile, err := cfg.Profile(only)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", errUnknownProfile, only, err)
		}

		profiles = []*config.Profile{profile}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelDownloads)

	for _, profile := range profiles {
		group.Go(func() error {
			if _, err := p.Provision(groupCtx, profile); err != nil {
				return fmt.Errorf("profile %s: %w", profile.Name, err)
			}

			return nil
		})
	}

	return group.Wait()
}

func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	return nil
}
