package ecs

import (
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"
)

// ResourceBinding declares one resource type a world contains: its stable
// serialization name, its runtime type, and how to construct and decode
// it. Bindings are built with BindResource and collected in a
// ResourceRegistry.
type ResourceBinding struct {
	// Name keys the resource in persisted snapshots. It must be unique
	// within a registry and stable across releases.
	Name string

	rtype reflect.Type

	// newDefault constructs the resource when no dependency constructor
	// is present. Nil means the type has no parameterless construction
	// and is left absent during registry-driven initialization.
	newDefault func() any

	// withDeps constructs the resource from the opaque dependency value
	// handed to world construction. Errors propagate to the caller.
	withDeps func(deps any) (any, error)

	// decode rebuilds the resource from its snapshot node and returns it
	// boxed as a pointer.
	decode func(node *yaml.Node) (any, error)
}

// Type returns the bound resource type.
func (b ResourceBinding) Type() reflect.Type {
	return b.rtype
}

// BindResource builds a binding for resource type R, constructed by
// newFn during registry-driven initialization. Pass nil for resources
// that can only be built from dependencies or a snapshot.
func BindResource[R any](name string, newFn func() *R) ResourceBinding {
	b := ResourceBinding{
		Name:  name,
		rtype: typeOf[R](),
		decode: func(node *yaml.Node) (any, error) {
			v := new(R)
			if err := node.Decode(v); err != nil {
				return nil, fmt.Errorf("decode resource %q: %w", name, err)
			}
			return v, nil
		},
	}
	if newFn != nil {
		b.newDefault = func() any { return newFn() }
	}
	return b
}

// BindResourceDeps builds a binding for resource type R constructed from
// the world's dependency value. The constructor's error aborts world
// construction.
func BindResourceDeps[R any, D any](name string, ctor func(deps D) (*R, error)) ResourceBinding {
	b := BindResource[R](name, nil)
	b.withDeps = func(deps any) (any, error) {
		d, ok := deps.(D)
		if !ok {
			return nil, fmt.Errorf("resource %q: dependency value is %T, want %v", name, deps, typeOf[D]())
		}
		return ctor(d)
	}
	return b
}

// ResourceRegistry is the ordered, closed-world catalogue of the resource
// types a world contains. It replaces a compile-time type list with a
// runtime manifest: membership and recursive construction become loops,
// and exhaustiveness is checked fail-fast at world construction instead
// of by the type system.
type ResourceRegistry struct {
	bindings []ResourceBinding
}

// NewResourceRegistry builds a registry from bindings in registration
// order.
func NewResourceRegistry(bindings ...ResourceBinding) ResourceRegistry {
	return ResourceRegistry{bindings: bindings}
}

// Len returns the number of registered types.
func (r ResourceRegistry) Len() int {
	return len(r.bindings)
}

// Push prepends a binding, returning the extended registry. The receiver
// is unchanged.
func (r ResourceRegistry) Push(b ResourceBinding) ResourceRegistry {
	out := make([]ResourceBinding, 0, len(r.bindings)+1)
	out = append(out, b)
	out = append(out, r.bindings...)
	return ResourceRegistry{bindings: out}
}

// Contains reports whether a binding for type t is registered.
func (r ResourceRegistry) Contains(t reflect.Type) bool {
	for _, b := range r.bindings {
		if b.rtype == t {
			return true
		}
	}
	return false
}

// ContainsResource reports whether type R is registered.
func ContainsResource[R any](r ResourceRegistry) bool {
	return r.Contains(typeOf[R]())
}

// Bindings returns the bindings in registration order.
func (r ResourceRegistry) Bindings() []ResourceBinding {
	return r.bindings
}

// Validate rejects duplicate names or types. Registries are assembled
// once at startup; failing fast here is the runtime cost of trading the
// compile-time type list away.
func (r ResourceRegistry) Validate() error {
	names := make(map[string]struct{}, len(r.bindings))
	types := make(map[reflect.Type]struct{}, len(r.bindings))
	for _, b := range r.bindings {
		if b.Name == "" {
			return fmt.Errorf("ecs: resource binding for %v has no name", b.rtype)
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("ecs: duplicate resource name %q", b.Name)
		}
		if _, dup := types[b.rtype]; dup {
			return fmt.Errorf("ecs: duplicate resource type %v", b.rtype)
		}
		names[b.Name] = struct{}{}
		types[b.rtype] = struct{}{}
	}
	return nil
}
