package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/km-arc/go-inject/framework/app"
	"github.com/km-arc/go-inject/framework/container"
)

// Key is the capability the demo resolves.
type Key interface {
	Key() string
}

// DependentKey is what every Key implementation is built from.
type DependentKey interface {
	Key() string
}

// Tenant is a qualifier tag; Value accepts it, DependentValue does not.
type Tenant string

type DependentValue struct{}

func NewDependentValue() *DependentValue { return &DependentValue{} }

func (*DependentValue) Key() string { return "dependent" }

var built atomic.Int64

type Value struct {
	dep    DependentKey
	tenant string
}

func NewValue(dep DependentKey, ctx container.Context) *Value {
	built.Add(1)
	tenant, _ := container.TagOf[Tenant](ctx)
	return &Value{dep: dep, tenant: string(tenant)}
}

func (v *Value) Key() string { return v.tenant + "/" + v.dep.Key() }

// demoProvider registers { Key <- Value(DependentKey) } and
// { DependentKey <- DependentValue }.
type demoProvider struct{ container.BaseProvider }

func (p *demoProvider) Register(s *container.Scope) error {
	value := container.Provide(NewValue, container.Ref[DependentKey](), container.ContextRef()).
		Accepting(container.TypeOf[Tenant]())
	if err := container.Singleton[Key](s, value); err != nil {
		return err
	}
	return container.Singleton[DependentKey](s, container.Provide(NewDependentValue))
}

func main() {
	application, err := app.New()
	if err != nil {
		logrus.WithError(err).Fatal("bootstrap failed")
	}
	log := application.Logger()

	if err := application.Register(&demoProvider{}); err != nil {
		log.WithError(err).Fatal("register failed")
	}
	if err := application.Boot(); err != nil {
		log.WithError(err).Fatal("boot failed")
	}

	for _, tenant := range []Tenant{"acme", "globex", "acme"} {
		key, err := container.Resolve[Key](application.Scope, container.WithTags(tenant))
		if err != nil {
			log.WithError(err).Fatal("resolve failed")
		}
		log.WithFields(logrus.Fields{
			"tenant": tenant,
			"key":    key.Key(),
			"built":  built.Load(),
		}).Info("resolved Key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.WithError(err).Error("inspector stopped")
	}
	if err := application.Close(context.Background()); err != nil {
		log.WithError(err).Error("close failed")
	}
}
