package container

import (
	"fmt"
	"reflect"
)

// Cardinality controls how many instances a binding produces.
type Cardinality int

const (
	// Shared is the default cardinality: one instance per cache key.
	Shared Cardinality = iota

	// Stateful means a fresh instance on every resolution. Dependencies of a
	// stateful component are still cached as usual.
	Stateful
)

// String returns the human-readable name of the cardinality.
func (c Cardinality) String() string {
	switch c {
	case Shared:
		return "singleton"
	case Stateful:
		return "stateful"
	default:
		return "unknown"
	}
}

// Target is what a binding resolves to: [ClassTarget], [InstanceTarget],
// [FactoryTarget], [VariantTarget] or [AliasTarget].
type Target interface {
	targetKind() string
}

// ClassTarget builds the bound type through its constructor descriptor.
type ClassTarget struct{ Class *Class }

// InstanceTarget returns a pre-built value.
type InstanceTarget struct{ Value any }

// FactoryTarget resolves Factory, which must implement [ComponentFactory],
// and asks it for the component. Accepts lists tag types the product sees
// in addition to those accepted by the factory class.
type FactoryTarget struct {
	Factory *Class
	Accepts []reflect.Type
}

// VariantTarget resolves Factory, which must implement [VariantFactory],
// and resolves whatever variant it selects for the context.
type VariantTarget struct {
	Factory *Class
	Accepts []reflect.Type
}

// AliasTarget redirects lookups to another capability type.
type AliasTarget struct{ To reflect.Type }

func (ClassTarget) targetKind() string    { return "class" }
func (InstanceTarget) targetKind() string { return "instance" }
func (FactoryTarget) targetKind() string  { return "factory" }
func (VariantTarget) targetKind() string  { return "variant" }
func (AliasTarget) targetKind() string    { return "alias" }

// Binding maps a capability type to a target. Bindings are immutable once
// registered.
type Binding struct {
	API         reflect.Type
	Target      Target
	Cardinality Cardinality

	// Priority orders competing singleton bindings for the same type; a
	// registration only replaces an existing one with strictly lower
	// priority.
	Priority int
}

// bound is the type a frame for this binding is tracked under.
func (b Binding) bound() reflect.Type {
	switch t := b.Target.(type) {
	case ClassTarget:
		return t.Class.Type
	case InstanceTarget:
		return reflect.TypeOf(t.Value)
	case AliasTarget:
		return t.To
	default:
		return b.API
	}
}

func (b Binding) describe() string {
	switch t := b.Target.(type) {
	case ClassTarget:
		return typeName(t.Class.Type)
	case InstanceTarget:
		return fmt.Sprintf("%T", t.Value)
	case FactoryTarget:
		return typeName(t.Factory.Type)
	case VariantTarget:
		return typeName(t.Factory.Type)
	case AliasTarget:
		return typeName(t.To)
	default:
		return "<nil>"
	}
}

func (b Binding) validate() error {
	if b.API == nil {
		return fmt.Errorf("%w: missing api type", ErrInvalidTarget)
	}
	switch t := b.Target.(type) {
	case ClassTarget:
		if err := t.Class.validate(); err != nil {
			return err
		}
		if !t.Class.Type.AssignableTo(b.API) {
			return fmt.Errorf("%w: %s does not implement %s", ErrInvalidTarget, t.Class.Type, b.API)
		}
	case InstanceTarget:
		if t.Value == nil {
			return fmt.Errorf("%w: nil instance", ErrInvalidTarget)
		}
		if !reflect.TypeOf(t.Value).AssignableTo(b.API) {
			return fmt.Errorf("%w: %T does not implement %s", ErrInvalidTarget, t.Value, b.API)
		}
	case FactoryTarget:
		if err := t.Factory.validate(); err != nil {
			return err
		}
		if !t.Factory.Type.Implements(componentFactoryType) {
			return fmt.Errorf("%w: %s does not implement ComponentFactory", ErrInvalidTarget, t.Factory.Type)
		}
	case VariantTarget:
		if err := t.Factory.validate(); err != nil {
			return err
		}
		if !t.Factory.Type.Implements(variantFactoryType) {
			return fmt.Errorf("%w: %s does not implement VariantFactory", ErrInvalidTarget, t.Factory.Type)
		}
	case AliasTarget:
		if t.To == nil || t.To == b.API {
			return fmt.Errorf("%w: %s is aliased to itself", ErrInvalidTarget, b.API)
		}
	default:
		return fmt.Errorf("%w: missing target", ErrInvalidTarget)
	}
	if b.Cardinality != Shared && b.Cardinality != Stateful {
		return fmt.Errorf("%w: unknown cardinality %d", ErrInvalidTarget, b.Cardinality)
	}
	return nil
}

// BindingInfo is a read-only description of a registered binding.
type BindingInfo struct {
	API         string `json:"api"`
	Target      string `json:"target"`
	Kind        string `json:"kind"`
	Cardinality string `json:"cardinality"`
	Priority    int    `json:"priority"`
	Group       bool   `json:"group,omitempty"`
}

func (b Binding) info(group bool) BindingInfo {
	kind := "<nil>"
	if b.Target != nil {
		kind = b.Target.targetKind()
	}
	return BindingInfo{
		API:         typeName(b.API),
		Target:      b.describe(),
		Kind:        kind,
		Cardinality: b.Cardinality.String(),
		Priority:    b.Priority,
		Group:       group,
	}
}
