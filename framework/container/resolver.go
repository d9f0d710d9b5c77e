package container

import (
	"fmt"
	"reflect"
	"sync/atomic"
)

// Resolver gives a component access to the container for references it can
// only name at run time. Declare it with [ResolverRef].
//
// Calls made while the component is being constructed join the running
// resolution, so cycles and group discovery behave as for declared
// parameters. Calls made later start from the path the component was
// built under. A Resolver must not be used from another goroutine while its
// component is still being constructed.
type Resolver interface {
	Resolve(api reflect.Type, tags ...any) (any, error)
	ResolveGroup(api reflect.Type, tags ...any) ([]any, error)

	// Context returns the context visible at the component.
	Context() Context

	// Path returns the path the component was built under.
	Path() Path
}

type resolver struct {
	sess *session
	live atomic.Bool

	scope     *Scope
	domain    *Scope
	declaring reflect.Type
	ctx       Context
	base      Path
}

func (r *resolver) session() *session {
	if r.live.Load() {
		return r.sess
	}
	return r.sess.eng.newSession(r.base)
}

func (r *resolver) request(api reflect.Type, tags []any) request {
	return request{
		api:       api,
		scope:     r.scope,
		domain:    r.domain,
		ctx:       r.ctx.With(r.sess.eng.tags, tags...),
		declaring: r.declaring,
		kind:      Mandatory,
	}
}

func (r *resolver) Resolve(api reflect.Type, tags ...any) (any, error) {
	return r.session().resolve(r.request(api, tags))
}

func (r *resolver) ResolveGroup(api reflect.Type, tags ...any) ([]any, error) {
	return r.session().resolveGroup(r.request(api, tags))
}

func (r *resolver) Context() Context { return r.ctx }
func (r *resolver) Path() Path       { return r.base }

// ResolveWith resolves T through r.
//
//	codec, err := container.ResolveWith[Codec](r, Format("json"))
func ResolveWith[T any](r Resolver, tags ...any) (T, error) {
	var zero T
	v, err := r.Resolve(TypeOf[T](), tags...)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: cannot convert %T to %s", v, TypeOf[T]())
	}
	return out, nil
}
