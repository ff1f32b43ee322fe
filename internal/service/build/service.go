package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/ptah/internal/cache"
	"github.com/oshokin/ptah/internal/config"
	domain "github.com/oshokin/ptah/internal/domain/build"
	"github.com/oshokin/ptah/internal/domain/device"
	"github.com/oshokin/ptah/internal/fault"
	"github.com/oshokin/ptah/internal/fingerprint"
	"github.com/oshokin/ptah/internal/imagebuilder"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/merge"
	"github.com/oshokin/ptah/internal/remote"
	repo "github.com/oshokin/ptah/internal/repository/buildctx"
	"github.com/oshokin/ptah/internal/resolver"
	"github.com/oshokin/ptah/internal/secrets"
)

const (
	// VersionFilePath is where the fingerprint lands inside the staged root.
	VersionFilePath = "/etc/ptah_version"

	versionFileMode os.FileMode = 0o644
)

// Builder runs the image builder for a staged device.
type Builder interface {
	Build(ctx context.Context, req *imagebuilder.Request) (string, error)
}

// Service prepares and builds device images.
type Service struct {
	cfg      *config.Config
	settings *config.Settings
	store    *cache.Store
	shared   *resolver.Shared
	specific *resolver.Specific
	builder  Builder
	repo     repo.Repository
	locks    *deviceLocks
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithBuilder replaces the image builder runner.
func WithBuilder(builder Builder) Option {
	return func(s *Service) {
		s.builder = builder
	}
}

// WithClock replaces time.Now for contexts and issued tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New wires the resolvers, cache, runner and context registry from settings.
func New(cfg *config.Config, settings *config.Settings, secretResolver secrets.Resolver, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		settings: settings,
		store:    cache.New(settings.CachePath),
		locks:    newDeviceLocks(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	downloads := remote.New(settings.DownloadTimeout, remote.WithMaxElapsed(settings.RetryMaxElapsed))
	secretService := remote.New(settings.SecretServiceTimeout, remote.WithMaxElapsed(settings.RetryMaxElapsed))

	s.shared = resolver.NewShared(s.store, secretResolver, downloads)
	s.specific = resolver.NewSpecific(secretResolver, secretService, settings.VaultURL, resolver.WithClock(s.now))

	if s.builder == nil {
		s.builder = imagebuilder.NewRunner(settings.BuildersPath, settings.OutputPath)
	}

	s.repo = repo.NewMemoryRepository(settings.BuildContextTTL, s.evict)

	return s
}

// Config returns the loaded configuration document.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Cache returns the content-addressed download cache.
func (s *Service) Cache() *cache.Store {
	return s.store
}

// Prepare stages the files of a profile for a device and stores the Build Context.
// On failure no context and no staged root remain for the device.
func (s *Service) Prepare(ctx context.Context, id device.ID, profileName string) (*domain.Context, error) {
	profile, err := s.cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	buildCtx := domain.New(id, profile.Name, s.now())
	ctx = logger.WithFields(ctx, "request_id", buildCtx.ID, "device", id.String(), "profile", profile.Name)

	logger.Info(ctx, "Preparing build")

	stagedRoot := filepath.Join(s.settings.RoutersFilesPath, id.Token())

	if err = s.stage(ctx, profile, buildCtx, stagedRoot); err != nil {
		s.repo.Delete(ctx, id)

		if removeErr := os.RemoveAll(stagedRoot); removeErr != nil {
			logger.WarnKV(ctx, "Failed to remove staged root", "error", removeErr)
		}

		logger.ErrorKV(ctx, "Build preparation failed", "error", err)

		return nil, err
	}

	if err = s.repo.Save(ctx, buildCtx); err != nil {
		return nil, fmt.Errorf("store build context: %w", err)
	}

	logger.InfoKV(ctx, "Build prepared", "fingerprint", buildCtx.Fingerprint, "records", len(buildCtx.Records))

	return buildCtx, nil
}

func (s *Service) stage(ctx context.Context, profile *config.Profile, buildCtx *domain.Context, stagedRoot string) error {
	tempDir := filepath.Join(s.settings.RouterTemporaryPath, buildCtx.Device.Token())
	if err := recreateDir(tempDir); err != nil {
		return err
	}

	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			logger.WarnKV(ctx, "Failed to purge temporary secrets", "dir", tempDir, "error", err)
		}
	}()

	accumulator, err := fingerprint.NewForProfile(profile, profile.OpenWrt.OpenWrtVersion)
	if err != nil {
		return err
	}

	shared, err := s.shared.ResolveAll(ctx, profile.Files.Shared)
	if err != nil {
		return err
	}

	accumulator.Append(shared.Tokens...)

	specific, err := s.specific.ResolveAll(ctx, &resolver.Target{
		Device:  buildCtx.Device,
		Profile: profile.Name,
		TempDir: tempDir,
	}, profile.Files.RouterSpecific)
	if err != nil {
		return err
	}

	sum := accumulator.Sum()

	versionFile := filepath.Join(tempDir, filepath.Base(VersionFilePath))
	if err = os.WriteFile(versionFile, []byte(sum), versionFileMode); err != nil {
		return fmt.Errorf("%w: write version file: %w", fault.ErrMerge, err)
	}

	records := make([]merge.Record, 0, len(shared.Records)+len(specific.Records)+1)
	records = append(records, shared.Records...)
	records = append(records, specific.Records...)
	records = append(records, merge.Record{Source: versionFile, Destination: VersionFilePath, Mode: versionFileMode})

	if err = merge.Merge(ctx, stagedRoot, records); err != nil {
		return err
	}

	buildCtx.Stage(sum, stagedRoot, accumulator.Tokens(), records)

	return nil
}

// Context returns the stored Build Context of a device.
func (s *Service) Context(ctx context.Context, id device.ID) (*domain.Context, error) {
	return s.repo.Load(ctx, id)
}

// Build runs the image builder over a prepared device and returns the image path.
func (s *Service) Build(ctx context.Context, id device.ID) (string, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	buildCtx, err := s.repo.Load(ctx, id)
	if err != nil {
		return "", err
	}

	profile, err := s.cfg.Profile(buildCtx.Profile)
	if err != nil {
		return "", err
	}

	ctx = logger.WithFields(ctx, "request_id", buildCtx.ID, "device", id.String(), "profile", profile.Name)

	return s.builder.Build(ctx, &imagebuilder.Request{
		Profile:     profile,
		DeviceToken: id.Token(),
		StagedRoot:  buildCtx.StagedRoot,
	})
}

// evict removes the staged root of an expired or deleted context unless a newer
// context for the same device took it over.
func (s *Service) evict(buildCtx *domain.Context) {
	unlock := s.locks.Lock(buildCtx.Device)
	defer unlock()

	ctx := logger.WithFields(context.Background(), "request_id", buildCtx.ID, "device", buildCtx.Device.String())

	current, err := s.repo.Load(ctx, buildCtx.Device)
	switch {
	case err == nil && current.StagedRoot == buildCtx.StagedRoot:
		return
	case err != nil && !errors.Is(err, fault.ErrNotFound):
		logger.WarnKV(ctx, "Failed to look up build context", "error", err)

		return
	}

	if err = os.RemoveAll(buildCtx.StagedRoot); err != nil {
		logger.WarnKV(ctx, "Failed to remove staged root", "error", err)

		return
	}

	logger.DebugKV(ctx, "Build context evicted", "staged_root", buildCtx.StagedRoot)
}

func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove %s: %w", fault.ErrMerge, dir, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: create %s: %w", fault.ErrMerge, dir, err)
	}

	return nil
}
