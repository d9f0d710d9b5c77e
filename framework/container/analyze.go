package container

import (
	"errors"
	"fmt"
	"reflect"
)

// Analyze walks the binding graph below api without constructing anything
// and reports the traversal to obs. Cycles are reported through Circular
// and do not fail the walk; missing mandatory bindings and ambiguous
// constructors do. Factory products are opaque, so only the factory
// classes themselves are walked.
func (s *Scope) Analyze(api reflect.Type, obs Observer, opts ...ResolveOption) error {
	if s.closed.Load() {
		return ErrScopeClosed
	}
	o := collect(opts)
	a := &analysis{
		tags:     s.engine.tags,
		hub:      newHub(obs),
		visiting: make(map[reflect.Type]bool),
	}
	return a.walk(Path{}, nil, Param{Kind: Mandatory, API: api}, s, NewContext(s.engine.tags, o.tags...))
}

type analysis struct {
	tags     *TagRegistry
	hub      *hub
	visiting map[reflect.Type]bool
}

func (a *analysis) walk(path Path, declaring reflect.Type, p Param, scope *Scope, ctx Context) error {
	switch p.Kind {
	case ContextParam, ResolverParam:
		return nil
	case GroupParam:
		members := scope.lookupGroup(p.API)
		if len(members) == 0 && !p.optionalGroup {
			return &ResolutionError{
				Path: path.append(Frame{Requested: p.API, Context: ctx}),
				Err:  fmt.Errorf("%w: group %s has no members", ErrNotBound, typeName(p.API)),
			}
		}
		for _, m := range members {
			b, owner := m.binding, m.owner
			if alias, ok := b.Target.(AliasTarget); ok {
				var err error
				if b, owner, err = m.owner.lookup(alias.To); err != nil {
					return annotate(err, path.append(Frame{Requested: p.API, Context: ctx}))
				}
			}
			if err := a.walkBinding(path, declaring, p.API, b, owner, ctx); err != nil {
				return err
			}
		}
		return nil
	}

	b, owner, err := scope.lookup(p.API)
	if err != nil {
		if p.Kind != Mandatory && errors.Is(err, ErrNotBound) {
			return nil
		}
		return annotate(err, path.append(Frame{Requested: p.API, Context: ctx}))
	}
	return a.walkBinding(path, declaring, p.API, b, owner, ctx)
}

func (a *analysis) walkBinding(path Path, declaring, api reflect.Type, b Binding, owner *Scope, ctx Context) error {
	bound := b.bound()
	fctx := Accept(ctx, siteOf(b), a.tags)
	next := path.append(Frame{Requested: api, Bound: bound, Context: fctx})

	if a.visiting[bound] {
		a.hub.circular(next)
		return nil
	}

	a.hub.descending(path, declaring, api)
	defer a.hub.ascending(path, declaring, api)
	a.hub.resolved(next, bound)

	var class *Class
	switch t := b.Target.(type) {
	case ClassTarget:
		class = t.Class
	case FactoryTarget:
		class = t.Factory
	case VariantTarget:
		class = t.Factory
	default:
		return nil
	}

	a.visiting[bound] = true
	defer delete(a.visiting, bound)

	ctor, err := class.selectConstructor()
	if err != nil {
		return &ResolutionError{Path: next, Err: err}
	}
	params := append([]Param(nil), ctor.Params...)
	for _, m := range class.Members {
		params = append(params, m.Param)
	}
	for _, p := range params {
		if err := a.walk(next, bound, p, owner, fctx.With(a.tags, p.Tags...)); err != nil {
			return err
		}
	}
	return nil
}
