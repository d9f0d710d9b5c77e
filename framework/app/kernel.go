package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/km-arc/go-inject/framework/config"
	"github.com/km-arc/go-inject/framework/container"
	"github.com/km-arc/go-inject/framework/logging"
	"github.com/km-arc/go-inject/framework/providers"
	"github.com/km-arc/go-inject/framework/routing"
)

// Application is the top-level application scope.
// It embeds the global Scope and ProviderRegistry so user code can call
// container helpers on it directly.
type Application struct {
	*container.Scope
	Providers *container.ProviderRegistry

	cfg *config.Config
	log *logrus.Logger
}

// New loads the configuration, builds the logger and bootstraps the
// application.
func New(envFiles ...string) (*Application, error) {
	cfg := config.Load(envFiles...)
	return NewWithConfig(cfg, logging.New(cfg.Log))
}

// NewWithConfig bootstraps the application from an existing configuration
// and logger.
func NewWithConfig(cfg *config.Config, log *logrus.Logger) (*Application, error) {
	opts := []container.Option{container.WithLogger(log)}
	if cfg.Log.Trace {
		opts = append(opts, container.WithObserver(container.NewLogObserver(log)))
	}
	s := container.New(opts...)
	registry := container.NewProviderRegistry(s)

	app := &Application{
		Scope:     s,
		Providers: registry,
		cfg:       cfg,
		log:       log,
	}

	// Register framework core providers
	for _, p := range []container.ServiceProvider{
		&providers.ConfigServiceProvider{Config: cfg},
		&providers.LoggingServiceProvider{Logger: log},
		&providers.RoutingServiceProvider{},
		&providers.InspectServiceProvider{},
	} {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Register adds a ServiceProvider to the application.
func (a *Application) Register(provider container.ServiceProvider) error {
	return a.Providers.Register(provider)
}

// Boot runs the Boot phase on all providers.
func (a *Application) Boot() error {
	return a.Providers.Boot()
}

// Config returns the application configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() *logrus.Logger { return a.log }

// Router resolves the HTTP router.
func (a *Application) Router() (*routing.Router, error) {
	return container.Resolve[*routing.Router](a.Scope)
}

// Run boots the application if needed and serves the introspection API
// until ctx is done. It returns immediately when the API is disabled.
func (a *Application) Run(ctx context.Context) error {
	if !a.Providers.Booted() {
		if err := a.Boot(); err != nil {
			return err
		}
	}
	if !a.cfg.Inspect.Enabled {
		a.log.Info("inspector disabled")
		return nil
	}

	router, err := a.Router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.cfg.Inspect.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithFields(logrus.Fields{
			"app":  a.cfg.App.Name,
			"env":  a.cfg.App.Env,
			"addr": srv.Addr,
		}).Info("inspector listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close disposes the application scope and everything cached in it.
func (a *Application) Close(ctx context.Context) error {
	return a.Scope.Close(ctx)
}

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.cfg.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Environment() == "production" }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
func (a *Application) IsDebug() bool       { return a.cfg.App.Debug }
func (a *Application) Version() string     { return "0.1.0" }
