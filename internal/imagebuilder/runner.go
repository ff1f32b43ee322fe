package imagebuilder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
)

const (
	// BuilderFolderFile names the file holding the unpacked builder folder of a profile.
	BuilderFolderFile = "builder_folder"

	builderPrefix = "openwrt-imagebuilder-"
	// outputTail bounds how much toolchain output is kept for the error log.
	outputTail = 4096
)

var (
	// ErrBuildFailed marks a toolchain run that failed or produced no image.
	ErrBuildFailed = errors.New("image build failed")

	errNotProvisioned = errors.New("image builder is not provisioned")
)

// Executor runs a command in dir and returns its combined output.
type Executor func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// execCommand is the default Executor.
func execCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var output bytes.Buffer

	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	return output.Bytes(), err
}

// Runner invokes the image builder of a profile.
type Runner struct {
	buildersPath string
	outputPath   string
	execute      Executor
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithExecutor replaces the process launcher.
func WithExecutor(execute Executor) RunnerOption {
	return func(r *Runner) {
		r.execute = execute
	}
}

// NewRunner creates a runner over the provisioned builders and the image output directory.
func NewRunner(buildersPath, outputPath string, opts ...RunnerOption) *Runner {
	r := &Runner{
		buildersPath: buildersPath,
		outputPath:   outputPath,
		execute:      execCommand,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Request describes one image build.
type Request struct {
	Profile *config.Profile
	// DeviceToken is the filesystem safe device address.
	DeviceToken string
	// StagedRoot is passed to the builder as FILES.
	StagedRoot string
}

// Build runs `make image` and returns the path of the sysupgrade image.
func (r *Runner) Build(ctx context.Context, req *Request) (string, error) {
	ctx = logger.WithFields(ctx, "profile", req.Profile.Name, "device", req.DeviceToken)

	folder, err := r.BuilderFolder(req.Profile.Name)
	if err != nil {
		return "", err
	}

	binDir := filepath.Join(r.outputPath, req.DeviceToken)

	if err = os.RemoveAll(binDir); err != nil {
		return "", fmt.Errorf("clear output dir: %w", err)
	}

	if err = os.MkdirAll(binDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	args := []string{
		"image",
		"PROFILE=" + req.Profile.OpenWrt.Name,
		"PACKAGES=" + strings.Join(req.Profile.Packages, " "),
		"EXTRA_IMAGE_NAME=ptah-" + req.DeviceToken,
		"BIN_DIR=" + binDir,
		"FILES=" + req.StagedRoot,
	}

	logger.InfoKV(ctx, "Running image builder", "builder", folder)

	output, err := r.execute(ctx, filepath.Join(r.buildersPath, req.Profile.Name, folder), "make", args...)
	if err != nil {
		logger.ErrorKV(ctx, "Image builder failed", "error", err, "output", tail(output))

		return "", fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}

	osVersion := builderVersion(folder, &req.Profile.OpenWrt)
	binary := filepath.Join(binDir, req.Profile.OpenWrt.BinaryName(osVersion, req.DeviceToken))

	if _, err = os.Stat(binary); err != nil {
		logger.ErrorKV(ctx, "Image builder produced no image", "expected", binary, "output", tail(output))

		return "", fmt.Errorf("%w: %s was not produced", ErrBuildFailed, filepath.Base(binary))
	}

	logger.InfoKV(ctx, "Image built", "binary", binary)

	return binary, nil
}

// BuilderFolder returns the unpacked builder folder recorded for a profile.
func (r *Runner) BuilderFolder(profile string) (string, error) {
	contents, err := os.ReadFile(filepath.Join(r.buildersPath, profile, BuilderFolderFile))
	if err != nil {
		return "", fmt.Errorf("%w: profile %s: %w", errNotProvisioned, profile, err)
	}

	folder := strings.TrimSpace(string(contents))
	if folder == "" || folder != filepath.Base(folder) {
		return "", fmt.Errorf("%w: profile %s: bad folder %q", errNotProvisioned, profile, folder)
	}

	return folder, nil
}

// builderVersion reads the OS version from a builder folder name, falling back to the profile's.
func builderVersion(folder string, o *config.OpenWrtProfile) string {
	rest, ok := strings.CutPrefix(folder, builderPrefix)
	if !ok {
		return o.OpenWrtVersion
	}

	if index := strings.Index(rest, "-"+o.Target+"-"); index > 0 {
		return rest[:index]
	}

	return o.OpenWrtVersion
}

func tail(output []byte) string {
	if len(output) > outputTail {
		output = output[len(output)-outputTail:]
	}

	return string(output)
}
