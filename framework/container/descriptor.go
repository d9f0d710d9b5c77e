package container

import (
	"errors"
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// TypeOf returns the type identity of T. For interfaces use the interface
// type itself:
//
//	container.TypeOf[Logger]()
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// Constructor describes one way of building a class.
type Constructor struct {
	Params []Param

	// Inject marks the constructor as the injection point when a class
	// declares several.
	Inject bool

	Call func(args []reflect.Value) (any, error)

	out reflect.Type
	err error
}

// Marked returns a copy of the constructor flagged as the injection point.
func (c Constructor) Marked() Constructor {
	c.Inject = true
	return c
}

// Ctor builds a [Constructor] from a function with the signature
// func(deps...) T or func(deps...) (T, error). When params is empty every
// function parameter becomes a mandatory [Ref] of its own type.
//
//	container.Ctor(NewValue, container.Ref[DependentKey]())
func Ctor(fn any, params ...Param) Constructor {
	val := reflect.ValueOf(fn)
	if !val.IsValid() || val.Kind() != reflect.Func {
		return Constructor{err: errors.New("constructor must be a function")}
	}
	typ := val.Type()

	if typ.NumOut() == 0 || typ.NumOut() > 2 {
		return Constructor{err: errors.New("constructor must return (T) or (T, error)")}
	}
	if typ.NumOut() == 2 && !typ.Out(1).Implements(errorType) {
		return Constructor{err: errors.New("second return value must implement error")}
	}
	if typ.IsVariadic() {
		return Constructor{err: errors.New("variadic constructors are not supported")}
	}

	if len(params) == 0 && typ.NumIn() > 0 {
		params = make([]Param, typ.NumIn())
		for i := range params {
			params[i] = refOf(typ.In(i))
		}
	}
	if len(params) != typ.NumIn() {
		return Constructor{err: fmt.Errorf("constructor takes %d parameters, %d declared", typ.NumIn(), len(params))}
	}
	for i, p := range params {
		if !p.argType.AssignableTo(typ.In(i)) {
			return Constructor{err: fmt.Errorf("parameter %d: %s is not assignable to %s", i, p.argType, typ.In(i))}
		}
	}

	return Constructor{
		Params: params,
		out:    typ.Out(0),
		Call: func(args []reflect.Value) (any, error) {
			results := val.Call(args)
			if len(results) == 2 && !results[1].IsNil() {
				return nil, results[1].Interface().(error)
			}
			return results[0].Interface(), nil
		},
	}
}

func (c Constructor) validate(class reflect.Type) error {
	if c.err != nil {
		return c.err
	}
	if c.Call == nil {
		return errors.New("constructor has no call")
	}
	if c.out != nil && !c.out.AssignableTo(class) {
		return fmt.Errorf("constructor returns %s, not %s", c.out, class)
	}
	return nil
}

// Injection is a member injected after construction. Unset reports whether
// the member still needs a value; Param is only resolved when it does.
type Injection struct {
	Name  string
	Param Param
	Unset func(instance any) (bool, error)
	Set   func(instance any, v reflect.Value) error
}

// Field injects p into the exported struct field name of a pointer-to-struct
// instance. Fields that already hold a non-zero value are left untouched and
// their dependency is never resolved.
func Field(name string, p Param) Injection {
	field := func(instance any) (reflect.Value, error) {
		rv := reflect.ValueOf(instance)
		if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s: %T is not a pointer to a struct", name, instance)
		}
		f := rv.Elem().FieldByName(name)
		if !f.IsValid() || !f.CanSet() {
			return reflect.Value{}, fmt.Errorf("field %s: not an exported field of %T", name, instance)
		}
		return f, nil
	}
	return Injection{
		Name:  name,
		Param: p,
		Unset: func(instance any) (bool, error) {
			f, err := field(instance)
			if err != nil {
				return false, err
			}
			return f.IsZero(), nil
		},
		Set: func(instance any, v reflect.Value) error {
			f, err := field(instance)
			if err != nil {
				return err
			}
			if !f.IsZero() {
				return nil
			}
			if !v.Type().AssignableTo(f.Type()) {
				return fmt.Errorf("field %s: %s is not assignable to %s", name, v.Type(), f.Type())
			}
			f.Set(v)
			return nil
		},
	}
}

// Class is the construction descriptor of a concrete type: its constructors,
// injected members and the qualifier tags it accepts and contributes.
type Class struct {
	Type         reflect.Type
	Constructors []Constructor
	Members      []Injection
	Accepts      []reflect.Type
	Tags         []any
}

// NewClass describes the concrete type T.
//
//	container.NewClass[*Value](container.Ctor(NewValue))
func NewClass[T any](ctors ...Constructor) *Class {
	return &Class{Type: TypeOf[T](), Constructors: ctors}
}

// Provide describes the class produced by a single constructor function. The
// class type is the function's first return type.
//
//	container.Provide(NewDependentValue)
func Provide(fn any, params ...Param) *Class {
	ctor := Ctor(fn, params...)
	return &Class{Type: ctor.out, Constructors: []Constructor{ctor}}
}

// Accepting adds tag types the class lets into its context.
func (c *Class) Accepting(tagTypes ...reflect.Type) *Class {
	c.Accepts = append(c.Accepts, tagTypes...)
	return c
}

// Tagged adds tag instances the class contributes to its own context.
func (c *Class) Tagged(tags ...any) *Class {
	c.Tags = append(c.Tags, tags...)
	return c
}

// WithMembers adds post-construction member injections.
func (c *Class) WithMembers(members ...Injection) *Class {
	c.Members = append(c.Members, members...)
	return c
}

func (c *Class) site() Site {
	return Site{Name: typeName(c.Type), Accepts: c.Accepts, Tags: c.Tags}
}

func (c *Class) validate() error {
	if c == nil {
		return fmt.Errorf("%w: missing class", ErrInvalidTarget)
	}
	if c.Type == nil {
		for _, ctor := range c.Constructors {
			if ctor.err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidTarget, ctor.err)
			}
		}
		return fmt.Errorf("%w: class has no type", ErrInvalidTarget)
	}
	if c.Type.Kind() == reflect.Interface {
		return fmt.Errorf("%w: %s is an interface", ErrInvalidTarget, c.Type)
	}
	if len(c.Constructors) == 0 {
		return fmt.Errorf("%w: %s has no constructor", ErrInvalidTarget, c.Type)
	}
	for i, ctor := range c.Constructors {
		if err := ctor.validate(c.Type); err != nil {
			return fmt.Errorf("%w: %s constructor %d: %v", ErrInvalidTarget, c.Type, i, err)
		}
	}
	for _, m := range c.Members {
		if m.Set == nil {
			return fmt.Errorf("%w: %s member %q has no setter", ErrInvalidTarget, c.Type, m.Name)
		}
	}
	return nil
}

// selectConstructor picks the constructor to inject: the only one, or the
// only one marked. The engine never guesses between unmarked constructors.
func (c *Class) selectConstructor() (*Constructor, error) {
	if len(c.Constructors) == 1 {
		return &c.Constructors[0], nil
	}
	var marked *Constructor
	n := 0
	for i := range c.Constructors {
		if c.Constructors[i].Inject {
			marked = &c.Constructors[i]
			n++
		}
	}
	switch {
	case n == 1:
		return marked, nil
	case n > 1:
		return nil, fmt.Errorf("%w: %d constructors of %s are marked", ErrAmbiguousConstructor, n, c.Type)
	default:
		return nil, fmt.Errorf("%w: %s has %d unmarked constructors", ErrAmbiguousConstructor, c.Type, len(c.Constructors))
	}
}
