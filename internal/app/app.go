// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/listkeeper/listkeeper/internal/clock/system"
	"github.com/listkeeper/listkeeper/internal/fetch"
	"github.com/listkeeper/listkeeper/internal/logging"
	"github.com/listkeeper/listkeeper/internal/metrics"
	"github.com/listkeeper/listkeeper/internal/pipeline"
	"github.com/listkeeper/listkeeper/internal/steps/exporter"
	"github.com/listkeeper/listkeeper/internal/steps/github"
	"github.com/listkeeper/listkeeper/internal/steps/lint"
	"github.com/listkeeper/listkeeper/internal/steps/urlcheck"
)

// App holds the shared, long-lived services for one invocation: the logger,
// the rate-limited HTTP client, the step registry, and the clock. It is
// initialized once at startup and handed to the commands that need it.
type App struct {
	logger   *zap.Logger
	client   *fetch.Client
	registry *pipeline.Registry
	clock    *system.Clock
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetClient exposes the shared rate-limited HTTP client.
func (a *App) GetClient() *fetch.Client {
	return a.client
}

// GetRegistry returns the step registry with every built-in step registered.
func (a *App) GetRegistry() *pipeline.Registry {
	return a.registry
}

// GetClock returns the application clock.
func (a *App) GetClock() *system.Clock {
	return a.clock
}

// NewApp creates and initializes a new App from the loaded configuration.
// It is the central point for service initialization and fails fast when a
// critical service cannot be built.
func NewApp(_ context.Context) (*App, error) {
	l := logging.L
	metrics.Init()

	var fetchCfg fetch.Config
	if err := viper.UnmarshalKey("fetch", &fetchCfg); err != nil {
		return nil, err
	}
	client := fetch.New(fetchCfg, l.Named("fetch"))
	clk := system.New()

	registry := pipeline.NewRegistry()
	registry.Register("url_check", urlcheck.NewFactory(client, clk, l.Named("url_check")))
	registry.Register("github_metadata", github.NewFactory(client, clk, l.Named("github_metadata")))
	registry.Register("export_markdown", exporter.NewFactory(l.Named("export_markdown")))
	registry.Register("lint", lint.NewFactory(l.Named("lint")))

	l.Info("Application services initialized",
		zap.Strings("steps", registry.Names()),
		zap.Int("fetch_max_concurrent", fetchCfg.MaxConcurrent))

	return &App{
		logger:   l,
		client:   client,
		registry: registry,
		clock:    clk,
	}, nil
}

// Close flushes buffered logs before the process exits.
func (a *App) Close() {
	if err := a.logger.Sync(); err != nil {
		// Best effort; stdout sync errors are expected on some platforms.
		_ = err
	}
}
