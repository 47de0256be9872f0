package ecs

import (
	"fmt"
	"reflect"
	"sync"
)

// Resources is the type-indexed container of singleton values shared by
// every system in a world: component storages, the entity allocator,
// event queues, engine-wide state.
//
// Each entry carries its own RWMutex rather than the container holding one
// global lock. Systems in the same phase run concurrently; a global lock
// would serialize exactly the work the scheduler exists to overlap.
type Resources struct {
	mu      sync.RWMutex
	entries map[reflect.Type]*resourceEntry
}

type resourceEntry struct {
	mu    sync.RWMutex
	value any
}

// NewResources returns an empty container.
func NewResources() *Resources {
	return &Resources{entries: make(map[reflect.Type]*resourceEntry)}
}

// Len returns the number of stored resources.
func (r *Resources) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear drops every resource.
func (r *Resources) Clear() {
	r.mu.Lock()
	r.entries = make(map[reflect.Type]*resourceEntry)
	r.mu.Unlock()
}

func (r *Resources) lookup(t reflect.Type) *resourceEntry {
	r.mu.RLock()
	e := r.entries[t]
	r.mu.RUnlock()
	return e
}

// insertDynamic stores a *R boxed as any under its element type. Used by
// registry-driven construction and deserialization, where the concrete
// type is only known through a binding.
func (r *Resources) insertDynamic(t reflect.Type, ptr any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[t]; ok {
		e.mu.Lock()
		prev := e.value
		e.value = ptr
		e.mu.Unlock()
		return prev
	}
	r.entries[t] = &resourceEntry{value: ptr}
	return nil
}

func (r *Resources) containsDynamic(t reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[t]
	return ok
}

func typeOf[R any]() reflect.Type {
	return reflect.TypeOf((*R)(nil)).Elem()
}

// Insert stores value as the singleton of type R, returning the previous
// singleton if one was replaced.
func Insert[R any](r *Resources, value *R) (prev *R, replaced bool) {
	old := r.insertDynamic(typeOf[R](), value)
	if old == nil {
		return nil, false
	}
	return old.(*R), true
}

// Remove drops the singleton of type R, returning it if present.
func Remove[R any](r *Resources) (*R, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := typeOf[R]()
	e, ok := r.entries[t]
	if !ok {
		return nil, false
	}
	delete(r.entries, t)
	return e.value.(*R), true
}

// Contains reports whether a singleton of type R is stored.
func Contains[R any](r *Resources) bool {
	return r.containsDynamic(typeOf[R]())
}

// ReadGuard is a held shared lock on one resource. Callers must Release
// it when done; the value must not be retained past that point.
type ReadGuard[R any] struct {
	entry *resourceEntry
	value *R
}

// Value returns the guarded resource.
func (g *ReadGuard[R]) Value() *R {
	return g.value
}

// Release drops the shared lock.
func (g *ReadGuard[R]) Release() {
	g.entry.mu.RUnlock()
}

// WriteGuard is a held exclusive lock on one resource.
type WriteGuard[R any] struct {
	entry *resourceEntry
	value *R
}

// Value returns the guarded resource.
func (g *WriteGuard[R]) Value() *R {
	return g.value
}

// Release drops the exclusive lock.
func (g *WriteGuard[R]) Release() {
	g.entry.mu.Unlock()
}

// Read acquires shared access to the singleton of type R. Requesting a
// resource that was never inserted is a wiring bug and panics; presence is
// established at world construction, not negotiated per frame.
func Read[R any](r *Resources) *ReadGuard[R] {
	e := r.lookup(typeOf[R]())
	if e == nil {
		panic(fmt.Sprintf("ecs: no resource of type %v", typeOf[R]()))
	}
	e.mu.RLock()
	return &ReadGuard[R]{entry: e, value: e.value.(*R)}
}

// Write acquires exclusive access to the singleton of type R. Panics like
// Read when the resource is absent. Two systems writing the same resource
// in the same phase contend on this lock; wanting that concurrently is a
// scheduling bug the container does not arbitrate beyond the lock itself.
func Write[R any](r *Resources) *WriteGuard[R] {
	e := r.lookup(typeOf[R]())
	if e == nil {
		panic(fmt.Sprintf("ecs: no resource of type %v", typeOf[R]()))
	}
	e.mu.Lock()
	return &WriteGuard[R]{entry: e, value: e.value.(*R)}
}

// GetMut returns the singleton of type R without locking. It is legal
// only while the caller has exclusive ownership of the whole container;
// the World uses it between phases, when no system is running. Panics if
// the resource is absent.
func GetMut[R any](r *Resources) *R {
	e := r.lookup(typeOf[R]())
	if e == nil {
		panic(fmt.Sprintf("ecs: no resource of type %v", typeOf[R]()))
	}
	return e.value.(*R)
}

// View runs fn under the shared lock of resource R. Convenience wrapper
// over Read for short accesses.
func View[R any](r *Resources, fn func(*R)) {
	g := Read[R](r)
	defer g.Release()
	fn(g.value)
}

// Mutate runs fn under the exclusive lock of resource R.
func Mutate[R any](r *Resources, fn func(*R)) {
	g := Write[R](r)
	defer g.Release()
	fn(g.value)
}
