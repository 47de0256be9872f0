package ecs

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Systems is an ordered collection of systems sharing one phase. Each
// slot carries its own mutex: systems within a phase run concurrently
// against each other but every system is serialized against itself, even
// if a caller runs the collection reentrantly.
type Systems struct {
	entries []*systemEntry
}

type systemEntry struct {
	mu  sync.Mutex
	sys System
}

// NewSystems returns an empty collection.
func NewSystems() *Systems {
	return &Systems{}
}

// buildSystems constructs a phase collection from its registry, in
// registration order.
func buildSystems(reg SystemRegistry, res *Resources) (*Systems, error) {
	s := NewSystems()
	for _, b := range reg.Bindings() {
		sys, err := b.build(res)
		if err != nil {
			return nil, fmt.Errorf("build system %q: %w", b.Name, err)
		}
		s.Insert(sys)
	}
	return s, nil
}

// Insert appends a system to the collection.
func (s *Systems) Insert(sys System) {
	s.entries = append(s.entries, &systemEntry{sys: sys})
}

// Len returns the number of systems.
func (s *Systems) Len() int {
	return len(s.entries)
}

// Clear drops every system.
func (s *Systems) Clear() {
	s.entries = nil
}

// Contains reports whether a system of the same concrete type as probe is
// present.
func (s *Systems) Contains(probe System) bool {
	t := reflect.TypeOf(probe)
	for _, e := range s.entries {
		if reflect.TypeOf(e.sys) == t {
			return true
		}
	}
	return false
}

// FindSystem returns the first system of concrete type *S, or nil.
func FindSystem[S any](s *Systems) *S {
	for _, e := range s.entries {
		if sys, ok := any(e.sys).(*S); ok {
			return sys
		}
	}
	return nil
}

// Each visits the systems in registration order.
func (s *Systems) Each(fn func(System) bool) {
	for _, e := range s.entries {
		if !fn(e.sys) {
			return
		}
	}
}

// RunParallel executes every system of the collection concurrently, one
// goroutine per system, and joins them all before returning. No ordering
// holds between the systems' effects; across calls, strict sequencing is
// the caller's (the World's) job. Each goroutine takes its system's own
// lock for the duration of Run.
//
// The join returns the first error and cancels the group's context: one
// failing system is fatal to the whole phase, including systems that have
// not started yet.
func (s *Systems) RunParallel(ctx context.Context, res *Resources, t, dt time.Duration) error {
	if len(s.entries) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range s.entries {
		e := e
		g.Go(func() error {
			e.mu.Lock()
			defer e.mu.Unlock()
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.sys.Run(res, t, dt); err != nil {
				return fmt.Errorf("system %s: %w", e.sys.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
