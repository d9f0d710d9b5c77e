package container

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrNotBound is returned when no binding satisfies a requested type.
	ErrNotBound = errors.New("no binding registered")

	// ErrAmbiguousConstructor is returned when a class offers several
	// constructors and exactly one of them is not marked for injection.
	ErrAmbiguousConstructor = errors.New("ambiguous constructor")

	// ErrCircularReference is matched by every [CircularReferencesError].
	ErrCircularReference = errors.New("circular reference")

	// ErrDuplicateBinding is returned when a singleton binding with equal or
	// higher priority already exists for the same type in the same scope.
	ErrDuplicateBinding = errors.New("duplicate binding")

	// ErrInvalidTarget is returned when a binding target cannot be
	// instantiated.
	ErrInvalidTarget = errors.New("invalid binding target")

	// ErrFactoryRefused is returned when a variant factory declines to supply
	// an implementation for the requested context.
	ErrFactoryRefused = errors.New("factory supplied no implementation")

	// ErrScopeClosed is returned by any operation on a closed scope.
	ErrScopeClosed = errors.New("scope closed")

	// ErrPlaceholderNotReady is raised when a circular placeholder is used
	// before the component it stands for has finished construction.
	ErrPlaceholderNotReady = errors.New("placeholder used before construction completed")
)

// BindingError reports a registration-time conflict or an invalid target.
type BindingError struct {
	API reflect.Type
	Err error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("container: binding %s: %v", typeName(e.API), e.Err)
}

func (e *BindingError) Unwrap() error { return e.Err }

// ResolutionError reports a lookup or injection failure. Path is the
// dependency path at the point where the failure was first detected.
type ResolutionError struct {
	Path Path
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("container: resolving %s: %v", e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// CircularReferencesError reports a cycle that no placeholder can break.
// It matches [ErrCircularReference] and, through errors.As, *ResolutionError.
type CircularReferencesError struct {
	ResolutionError
}

func (e *CircularReferencesError) Error() string {
	return fmt.Sprintf("container: %v: %s", ErrCircularReference, e.Path)
}

func (e *CircularReferencesError) Is(target error) bool { return target == ErrCircularReference }

func (e *CircularReferencesError) As(target any) bool {
	if t, ok := target.(**ResolutionError); ok {
		*t = &e.ResolutionError
		return true
	}
	return false
}

// InstantiationError wraps a failure raised by a constructor, member setter
// or factory body, as opposed to one detected by the engine itself.
type InstantiationError struct {
	ResolutionError
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("container: instantiating %s: %v", e.Path, e.Err)
}

func (e *InstantiationError) As(target any) bool {
	if t, ok := target.(**ResolutionError); ok {
		*t = &e.ResolutionError
		return true
	}
	return false
}

// annotate attaches path to err unless a path has already been attached
// further down the call stack.
func annotate(err error, path Path) error {
	if err == nil {
		return nil
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return err
	}
	return &ResolutionError{Path: path, Err: err}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
