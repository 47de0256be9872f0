package ecs

import (
	"fmt"
	"reflect"
	"time"

	"gopkg.in/yaml.v3"
)

// System is one unit of per-frame behavior. Run may read and mutate
// resources through the container's locking discipline and may enqueue
// events; t is the current simulation time and dt the interval since the
// previous call of the same phase. A returned error aborts the phase.
type System interface {
	Name() string
	Run(res *Resources, t, dt time.Duration) error
}

// SystemBinding declares one system type of a world phase: its stable
// serialization name and how to construct or decode it.
type SystemBinding struct {
	Name string

	rtype reflect.Type

	// build constructs the system at world assembly, after resources
	// exist (systems typically subscribe to event queues here).
	build func(res *Resources) (System, error)

	// decode rebuilds the system from its snapshot node.
	decode func(res *Resources, node *yaml.Node) (System, error)
}

// Type returns the bound system type.
func (b SystemBinding) Type() reflect.Type {
	return b.rtype
}

// BindSystem builds a binding for system type S. ctor runs during world
// assembly with the already-constructed resource container; its error
// aborts construction. Snapshot decoding unmarshals into a fresh S and
// then lets ctorless state be re-wired by the caller-provided restore
// hook, if any.
func BindSystem[S any](name string, ctor func(res *Resources) (*S, error)) SystemBinding {
	if ctor == nil {
		panic(fmt.Sprintf("ecs: system binding %q needs a constructor", name))
	}
	return SystemBinding{
		Name:  name,
		rtype: typeOf[S](),
		build: func(res *Resources) (System, error) {
			s, err := ctor(res)
			if err != nil {
				return nil, err
			}
			sys, ok := any(s).(System)
			if !ok {
				return nil, fmt.Errorf("ecs: %v does not implement System", typeOf[S]())
			}
			return sys, nil
		},
		decode: func(res *Resources, node *yaml.Node) (System, error) {
			// Construct first so subscriptions and resource wiring
			// exist, then overlay the persisted state.
			s, err := ctor(res)
			if err != nil {
				return nil, err
			}
			if err := node.Decode(s); err != nil {
				return nil, fmt.Errorf("decode system %q: %w", name, err)
			}
			sys, ok := any(s).(System)
			if !ok {
				return nil, fmt.Errorf("ecs: %v does not implement System", typeOf[S]())
			}
			return sys, nil
		},
	}
}

// SystemRegistry is the ordered catalogue of the system types in one
// world phase, with the same closed-world role ResourceRegistry plays for
// resources.
type SystemRegistry struct {
	bindings []SystemBinding
}

// NewSystemRegistry builds a registry from bindings in registration
// order.
func NewSystemRegistry(bindings ...SystemBinding) SystemRegistry {
	return SystemRegistry{bindings: bindings}
}

// Len returns the number of registered system types.
func (r SystemRegistry) Len() int {
	return len(r.bindings)
}

// Push prepends a binding, returning the extended registry.
func (r SystemRegistry) Push(b SystemBinding) SystemRegistry {
	out := make([]SystemBinding, 0, len(r.bindings)+1)
	out = append(out, b)
	out = append(out, r.bindings...)
	return SystemRegistry{bindings: out}
}

// Contains reports whether a binding for type t is registered.
func (r SystemRegistry) Contains(t reflect.Type) bool {
	for _, b := range r.bindings {
		if b.rtype == t {
			return true
		}
	}
	return false
}

// ContainsSystem reports whether system type S is registered.
func ContainsSystem[S any](r SystemRegistry) bool {
	return r.Contains(typeOf[S]())
}

// Bindings returns the bindings in registration order.
func (r SystemRegistry) Bindings() []SystemBinding {
	return r.bindings
}

// Validate rejects duplicate names or types.
func (r SystemRegistry) Validate() error {
	names := make(map[string]struct{}, len(r.bindings))
	types := make(map[reflect.Type]struct{}, len(r.bindings))
	for _, b := range r.bindings {
		if b.Name == "" {
			return fmt.Errorf("ecs: system binding for %v has no name", b.rtype)
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("ecs: duplicate system name %q", b.Name)
		}
		if _, dup := types[b.rtype]; dup {
			return fmt.Errorf("ecs: duplicate system type %v", b.rtype)
		}
		names[b.Name] = struct{}{}
		types[b.rtype] = struct{}{}
	}
	return nil
}
