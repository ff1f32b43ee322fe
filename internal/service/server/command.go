package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	api "github.com/oshokin/ptah/internal/api/http/ptah"
	"github.com/oshokin/ptah/internal/config"
	"github.com/oshokin/ptah/internal/logger"
	"github.com/oshokin/ptah/internal/secrets"
	"github.com/oshokin/ptah/internal/service/build"
)

const readHeaderTimeout = 10 * time.Second

// Options controls the ptah-server process.
type Options struct {
	// Settings overrides the environment; nil means read the environment.
	Settings *config.Settings
	// ConfigPath overrides the configuration document path from the settings.
	ConfigPath string
	// ListenAddress overrides the listen address from the settings.
	ListenAddress string
	// Listening, when set, receives the bound address once the server accepts connections.
	Listening func(net.Addr)
}

// Run starts the HTTP server and blocks until context is canceled or the server stops.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "ptah-server")

	settings, err := resolveSettings(opts)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	cfg, err := config.Load(settings.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	svc := build.New(cfg, settings, secrets.NewDeclared(cfg))

	if err = svc.Cache().Sweep(); err != nil {
		logger.WarnKV(ctx, "Failed to sweep partial cache entries", "error", err)
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", settings.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.ListenAddress, err)
	}

	// Requests outlive the signal context so that shutdown can drain them.
	requestCtx := context.WithoutCancel(ctx)

	httpServer := &http.Server{
		Handler:           api.NewServer(svc).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return requestCtx
		},
	}

	logger.InfoKV(ctx, "Ptah server listening",
		"listen_address", lis.Addr().String(),
		"config", settings.ConfigPath,
		"profiles", cfg.ProfileNames(),
		"deploy_env", settings.DeployEnv)

	if opts.Listening != nil {
		opts.Listening(lis.Addr())
	}

	// Done channel is closed after Shutdown finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(requestCtx, settings.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "Graceful shutdown interrupted", "error", err)
		}
	}()

	if err = httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}

// resolveSettings applies command line overrides on top of the environment.
func resolveSettings(opts *Options) (*config.Settings, error) {
	settings := opts.Settings
	if settings == nil {
		loaded, err := config.LoadSettings()
		if err != nil {
			return nil, err
		}

		settings = loaded
	}

	resolved := *settings

	if opts.ConfigPath != "" {
		resolved.ConfigPath = opts.ConfigPath
	}

	if opts.ListenAddress != "" {
		resolved.ListenAddress = opts.ListenAddress
	}

	return &resolved, nil
}
