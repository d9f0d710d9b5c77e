package providers

import (
	"reflect"

	"github.com/sirupsen/logrus"

	"github.com/km-arc/go-inject/framework/config"
	"github.com/km-arc/go-inject/framework/container"
	"github.com/km-arc/go-inject/framework/inspect"
	"github.com/km-arc/go-inject/framework/logging"
	"github.com/km-arc/go-inject/framework/routing"
)

// ── ConfigServiceProvider ─────────────────────────────────────────────────────

// ConfigServiceProvider binds the application configuration.
//
// Bound types:
//   - *config.Config
//
// When Config is nil the configuration is loaded from EnvFiles on first use.
type ConfigServiceProvider struct {
	container.BaseProvider
	Config   *config.Config
	EnvFiles []string
}

func (p *ConfigServiceProvider) Register(s *container.Scope) error {
	if p.Config != nil {
		return container.Instance(s, p.Config)
	}
	envFiles := p.EnvFiles
	return container.Singleton[*config.Config](s, container.Provide(func() *config.Config {
		return config.Load(envFiles...)
	}))
}

// ── LoggingServiceProvider ────────────────────────────────────────────────────

// LoggingServiceProvider binds the application logger.
//
// Bound types:
//   - *logrus.Logger
//   - logrus.FieldLogger (alias of *logrus.Logger)
//
// When Logger is nil it is built from the bound *config.Config.
type LoggingServiceProvider struct {
	container.BaseProvider
	Logger *logrus.Logger
}

func (p *LoggingServiceProvider) Register(s *container.Scope) error {
	var err error
	if p.Logger != nil {
		err = container.Instance(s, p.Logger)
	} else {
		err = container.Singleton[*logrus.Logger](s, container.Provide(func(cfg *config.Config) *logrus.Logger {
			return logging.New(cfg.Log)
		}))
	}
	if err != nil {
		return err
	}
	return container.Alias[logrus.FieldLogger, *logrus.Logger](s)
}

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider registers the HTTP router. It is deferred: nothing
// is registered until the router is first looked up.
//
// Bound types:
//   - *routing.Router
type RoutingServiceProvider struct {
	container.BaseProvider
}

func (p *RoutingServiceProvider) Register(s *container.Scope) error {
	return container.Singleton[*routing.Router](s, container.Provide(
		func(log logrus.FieldLogger) *routing.Router { return routing.New(log) },
	))
}

func (p *RoutingServiceProvider) IsDeferred() bool { return true }

func (p *RoutingServiceProvider) Provides() []reflect.Type {
	return []reflect.Type{container.TypeOf[*routing.Router]()}
}

// ── InspectServiceProvider ────────────────────────────────────────────────────

// InspectServiceProvider registers the introspection API. When it is
// enabled in the configuration, Boot attaches the event recorder to the
// scope tree and mounts the endpoints on the router.
//
// Bound types:
//   - *inspect.Recorder
//   - *inspect.Inspector
type InspectServiceProvider struct {
	container.BaseProvider
}

func (p *InspectServiceProvider) Register(s *container.Scope) error {
	if err := container.Singleton[*inspect.Recorder](s, container.Provide(func(cfg *config.Config) *inspect.Recorder {
		return inspect.NewRecorder(cfg.Inspect.EventBuffer)
	})); err != nil {
		return err
	}
	return container.Singleton[*inspect.Inspector](s, container.Provide(func(rec *inspect.Recorder) *inspect.Inspector {
		return inspect.New(s, rec)
	}))
}

func (p *InspectServiceProvider) Boot(s *container.Scope) error {
	cfg, err := container.Resolve[*config.Config](s)
	if err != nil {
		return err
	}
	if !cfg.Inspect.Enabled {
		return nil
	}

	rec, err := container.Resolve[*inspect.Recorder](s)
	if err != nil {
		return err
	}
	s.AddObserver(rec)

	ins, err := container.Resolve[*inspect.Inspector](s)
	if err != nil {
		return err
	}
	router, err := container.Resolve[*routing.Router](s)
	if err != nil {
		return err
	}
	router.Prefix("/inspect", ins.Routes)
	return nil
}
