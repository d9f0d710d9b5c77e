package container

import (
	"reflect"
	"sync"
)

// Composition decides how many occurrences of a qualifier tag type survive
// as the context travels from a reference point to the component it names.
type Composition int

const (
	// All keeps every distinct tag instance in encounter order.
	All Composition = iota

	// Last keeps only the most recently contributed instance.
	Last

	// Immediate keeps only an instance contributed by the site directly in
	// front of the component; older occurrences are dropped.
	Immediate

	// None never lets the tag type into a context.
	None
)

// String returns the human-readable name of the composition rule.
func (c Composition) String() string {
	switch c {
	case All:
		return "all"
	case Last:
		return "last"
	case Immediate:
		return "immediate"
	case None:
		return "none"
	default:
		return "unknown"
	}
}

// Composed may be implemented by a tag type to declare its own rule. Rules
// declared on a [TagRegistry] take precedence.
type Composed interface {
	Composition() Composition
}

// TagRegistry maps qualifier tag types to their composition rule.
type TagRegistry struct {
	mu    sync.RWMutex
	rules map[reflect.Type]Composition
}

// NewTagRegistry creates an empty registry. Tag types it does not know use
// [All] unless the tag implements [Composed].
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{rules: make(map[reflect.Type]Composition)}
}

// Declare sets the composition rule for a tag type.
func (r *TagRegistry) Declare(tagType reflect.Type, c Composition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[tagType] = c
}

// DeclareTag is the generic form of [TagRegistry.Declare]:
//
//	container.DeclareTag[Region](tags, container.Last)
func DeclareTag[T any](r *TagRegistry, c Composition) {
	r.Declare(TypeOf[T](), c)
}

// CompositionOf returns the rule for tagType. sample is any instance of the
// type and is consulted for a [Composed] implementation.
func (r *TagRegistry) CompositionOf(tagType reflect.Type, sample any) Composition {
	if r != nil {
		r.mu.RLock()
		c, ok := r.rules[tagType]
		r.mu.RUnlock()
		if ok {
			return c
		}
	}
	if cp, ok := sample.(Composed); ok {
		return cp.Composition()
	}
	return All
}
