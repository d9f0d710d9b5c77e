package container

import (
	"fmt"
	"reflect"
)

// ParamKind selects how a constructor parameter or member is satisfied.
type ParamKind int

const (
	// Mandatory references fail resolution when unsatisfiable.
	Mandatory ParamKind = iota
	// OptionalParam references resolve to an absent [Optional] instead.
	OptionalParam
	// GroupParam references receive every member of a component group.
	GroupParam
	// DeferredParam references receive a [Lazy] handle resolved on first use.
	DeferredParam
	// ContextParam receives the component's own [Context].
	ContextParam
	// ResolverParam receives a [Resolver] for dynamic lookups that take part
	// in the current reference chain.
	ResolverParam
)

func (k ParamKind) String() string {
	switch k {
	case Mandatory:
		return "mandatory"
	case OptionalParam:
		return "optional"
	case GroupParam:
		return "group"
	case DeferredParam:
		return "deferred"
	case ContextParam:
		return "context"
	case ResolverParam:
		return "resolver"
	default:
		return "unknown"
	}
}

// Param is the injection descriptor of one constructor parameter or member.
type Param struct {
	Kind ParamKind

	// API is the capability type the parameter references.
	API reflect.Type

	// Tags are contributed by the parameter site to the context of the
	// referenced component.
	Tags []any

	optionalGroup bool
	argType       reflect.Type

	single func(v any, ok bool) reflect.Value
	many   func(vs []any) reflect.Value
	lazy   func(d *deferred) reflect.Value
}

func (p Param) site() Site {
	return Site{Name: typeName(p.API), Tags: p.Tags}
}

// Ref is a mandatory reference to T.
func Ref[T any](tags ...any) Param {
	return Param{
		Kind:    Mandatory,
		API:     TypeOf[T](),
		Tags:    tags,
		argType: TypeOf[T](),
		single:  func(v any, _ bool) reflect.Value { return valueOf[T](v) },
	}
}

// refOf is the untyped form of Ref used for inferred constructor parameters.
func refOf(t reflect.Type) Param {
	return Param{
		Kind:    Mandatory,
		API:     t,
		argType: t,
		single: func(v any, _ bool) reflect.Value {
			if v == nil {
				return reflect.Zero(t)
			}
			return reflect.ValueOf(v)
		},
	}
}

// OptionalRef is a reference to T that yields an absent [Optional] when no
// binding satisfies it.
func OptionalRef[T any](tags ...any) Param {
	return Param{
		Kind:    OptionalParam,
		API:     TypeOf[T](),
		Tags:    tags,
		argType: TypeOf[Optional[T]](),
		single: func(v any, ok bool) reflect.Value {
			if !ok {
				return reflect.ValueOf(Optional[T]{})
			}
			t, _ := v.(T)
			return reflect.ValueOf(Optional[T]{value: t, ok: true})
		},
	}
}

// GroupRef references every member of the component group bound to T, in
// group order. An empty group fails resolution.
func GroupRef[T any](tags ...any) Param {
	return Param{
		Kind:    GroupParam,
		API:     TypeOf[T](),
		Tags:    tags,
		argType: TypeOf[[]T](),
		many: func(vs []any) reflect.Value {
			out := make([]T, 0, len(vs))
			for _, v := range vs {
				if t, ok := v.(T); ok {
					out = append(out, t)
				}
			}
			return reflect.ValueOf(out)
		},
	}
}

// OptionalGroupRef is a [GroupRef] that accepts an empty group.
func OptionalGroupRef[T any](tags ...any) Param {
	p := GroupRef[T](tags...)
	p.optionalGroup = true
	return p
}

// LazyRef references T through a [Lazy] handle. Nothing is resolved until
// the handle is first used.
func LazyRef[T any](tags ...any) Param {
	return Param{
		Kind:    DeferredParam,
		API:     TypeOf[T](),
		Tags:    tags,
		argType: TypeOf[Lazy[T]](),
		lazy:    func(d *deferred) reflect.Value { return reflect.ValueOf(Lazy[T]{d: d}) },
	}
}

// ContextRef injects the [Context] of the component being built.
func ContextRef() Param {
	return Param{Kind: ContextParam, argType: reflect.TypeOf(Context{})}
}

// ResolverRef injects a [Resolver] bound to the component being built.
func ResolverRef() Param {
	return Param{Kind: ResolverParam, argType: TypeOf[Resolver]()}
}

func valueOf[T any](v any) reflect.Value {
	t, _ := v.(T)
	return reflect.ValueOf(&t).Elem()
}

// Optional holds a possibly absent dependency.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

// Present reports whether a value was resolved.
func (o Optional[T]) Present() bool { return o.ok }

// OrElse returns the value, or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

// Lazy defers the resolution of T until [Lazy.Get] is first called. The
// outcome of the first successful resolution is kept. A handle used while its
// component is still being constructed joins that resolution, like a
// [Resolver] does.
type Lazy[T any] struct {
	d *deferred
}

// Get resolves the dependency on first use.
func (l Lazy[T]) Get() (T, error) {
	var zero T
	if l.d == nil {
		return zero, ErrNotBound
	}
	v, err := l.d.get()
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("container: lazy %s resolved to %T", TypeOf[T](), v)
	}
	return t, nil
}

// MustGet is like Get but panics on failure.
func (l Lazy[T]) MustGet() T {
	t, err := l.Get()
	if err != nil {
		panic(err)
	}
	return t
}
