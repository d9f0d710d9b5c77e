package container

import (
	"context"
	"fmt"
	"reflect"

	"github.com/sirupsen/logrus"
)

var (
	componentFactoryType = TypeOf[ComponentFactory]()
	variantFactoryType   = TypeOf[VariantFactory]()
)

// ComponentFactory builds components whose shape depends on the context.
//
// Create receives the context visible at the product and a fresh child scope
// of the scope declaring the binding. Returning a nil component refuses the
// request: the reference fails with [ErrFactoryRefused], or is left empty
// when it was optional.
//
// While Create runs, resolutions through the child scope belong to the
// resolution that asked for the product, so a cycle back to the product is
// reported rather than waited on. The child must not be handed to another
// goroutine before Create returns.
type ComponentFactory interface {
	Create(ctx Context, scope *Scope) (any, error)
}

// VariantFactory selects a binding target for the context. The selected
// target is bound in a child scope and resolved there, so it takes part in
// injection and caching like any other component. The child scope follows
// the same rules as the one given to [ComponentFactory.Create].
type VariantFactory interface {
	Variant(ctx Context, scope *Scope) (*Selection, error)
}

// Selection is the choice made by a [VariantFactory].
type Selection struct {
	// Target is the binding target of the variant: a class, an instance or
	// an alias.
	Target Target

	Cardinality Cardinality

	// Tags are added to the context of the variant.
	Tags []any

	// Drop removes tag types from the context of the variant.
	Drop []reflect.Type
}

func (v *Selection) validate() error {
	switch v.Target.(type) {
	case ClassTarget, InstanceTarget, AliasTarget:
		return nil
	case nil:
		return ErrFactoryRefused
	default:
		return fmt.Errorf("%w: variant cannot be a %s", ErrInvalidTarget, v.Target.targetKind())
	}
}

// factoryObject resolves the factory class of a factory or variant binding.
// The factory sees only the tags its own class accepts, so one factory
// instance serves every product context that agrees on those tags.
func (ss *session) factoryObject(f *frame, class *Class, scope, domain *Scope) (any, error) {
	req := request{
		api:       class.Type,
		scope:     scope,
		domain:    domain,
		ctx:       f.Context,
		declaring: f.Bound,
		kind:      Mandatory,
	}
	return ss.resolveBinding(req, Binding{API: class.Type, Target: ClassTarget{Class: class}}, scope, nil)
}

// spawn opens the child scope a factory works in. Resolutions through the
// child join ss until the returned func is called.
func (ss *session) spawn(f *frame, scope *Scope) (*Scope, func(), error) {
	child, err := scope.Child()
	if err != nil {
		return nil, nil, err
	}
	child.joined.Store(&joinedCall{sess: ss, declaring: f.Bound})
	return child, func() { child.joined.Store(nil) }, nil
}

// settle closes the child of a stateful product when nothing was cached,
// tracked or spawned in it.
func settle(child *Scope, stateful bool) {
	if !stateful || !child.cache.idle() || len(child.Children()) > 0 {
		return
	}
	_ = child.Close(context.Background())
}

func (ss *session) fromFactory(f *frame, t FactoryTarget, scope, domain *Scope, stateful bool) (any, error) {
	f.state = Active
	obj, err := ss.factoryObject(f, t.Factory, scope, domain)
	if err != nil {
		return nil, err
	}
	path := ss.tracker.snapshot()
	factory, ok := obj.(ComponentFactory)
	if !ok {
		return nil, &ResolutionError{Path: path, Err: fmt.Errorf("%w: %T is not a ComponentFactory", ErrInvalidTarget, obj)}
	}

	child, leave, err := ss.spawn(f, scope)
	if err != nil {
		return nil, annotate(err, path)
	}
	v, err := invoke(path, func() (any, error) { return factory.Create(f.Context, child) })
	leave()
	if err == nil && v == nil {
		err = &ResolutionError{Path: path, Err: fmt.Errorf("%w: %s", ErrFactoryRefused, typeName(f.Requested))}
	}
	if err == nil {
		err = checkAssignable(v, f.Requested, path)
	}
	if err != nil {
		_ = child.Close(context.Background())
		return nil, err
	}

	ss.eng.log.WithFields(logrus.Fields{
		"api":     typeName(f.Requested),
		"factory": typeName(t.Factory.Type),
		"context": f.Context.Key(),
	}).Debug("factory product created")

	ss.constructed(path, reflect.TypeOf(v), v)
	settle(child, stateful)
	return v, nil
}

func (ss *session) fromVariant(f *frame, t VariantTarget, scope, domain *Scope, stateful bool) (any, error) {
	f.state = Active
	obj, err := ss.factoryObject(f, t.Factory, scope, domain)
	if err != nil {
		return nil, err
	}
	path := ss.tracker.snapshot()
	factory, ok := obj.(VariantFactory)
	if !ok {
		return nil, &ResolutionError{Path: path, Err: fmt.Errorf("%w: %T is not a VariantFactory", ErrInvalidTarget, obj)}
	}

	child, leave, err := ss.spawn(f, scope)
	if err != nil {
		return nil, annotate(err, path)
	}
	fail := func(err error) (any, error) {
		_ = child.Close(context.Background())
		return nil, err
	}

	var variant *Selection
	_, err = invoke(path, func() (any, error) {
		var err error
		variant, err = factory.Variant(f.Context, child)
		return nil, err
	})
	leave()
	if err != nil {
		return fail(err)
	}
	if variant == nil {
		return fail(&ResolutionError{Path: path, Err: fmt.Errorf("%w: %s", ErrFactoryRefused, typeName(f.Requested))})
	}
	if err := variant.validate(); err != nil {
		return fail(&ResolutionError{Path: path, Err: fmt.Errorf("%s: %w", typeName(f.Requested), err)})
	}

	b := Binding{API: f.Requested, Target: variant.Target, Cardinality: variant.Cardinality}
	if err := child.Register(b); err != nil {
		return fail(annotate(err, path))
	}

	req := request{
		api:       f.Requested,
		scope:     child,
		domain:    domain,
		ctx:       f.Context.Without(variant.Drop...).With(ss.eng.tags, variant.Tags...),
		declaring: f.Bound,
		kind:      Mandatory,
	}
	v, err := ss.resolve(req)
	if err != nil {
		return fail(err)
	}

	ss.eng.log.WithFields(logrus.Fields{
		"api":     typeName(f.Requested),
		"variant": b.describe(),
		"context": f.Context.Key(),
	}).Debug("variant selected")
	settle(child, stateful)
	return v, nil
}
