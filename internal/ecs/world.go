package ecs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LoopControl is the maintenance phase's verdict on whether the embedding
// main loop should keep running.
type LoopControl uint8

const (
	// Continue keeps the main loop ticking.
	Continue LoopControl = iota
	// Abort tells the main loop to stop after this frame.
	Abort
)

// WorldEventKind discriminates the world lifecycle events.
type WorldEventKind uint8

const (
	// WorldExiting requests a clean shutdown; Maintain answers Abort.
	WorldExiting WorldEventKind = iota
	// WorldCreateEntity asks the maintenance phase to allocate an entity.
	WorldCreateEntity
	// WorldDestroyEntity asks the maintenance phase to free an entity.
	WorldDestroyEntity
	// WorldEntityCreated announces a completed allocation.
	WorldEntityCreated
	// WorldEntityDestroyed announces a completed destruction.
	WorldEntityDestroyed
)

// WorldEvent is the structural-change and lifecycle event type drained by
// the World's maintenance phase. Systems request entity churn by sending
// these instead of touching the allocator directly; only Maintain applies
// structural changes.
type WorldEvent struct {
	Kind   WorldEventKind `yaml:"kind"`
	Entity Entity         `yaml:"entity"`
}

// Exiting builds a shutdown request.
func Exiting() WorldEvent {
	return WorldEvent{Kind: WorldExiting}
}

// CreateEntity builds an allocation request.
func CreateEntity() WorldEvent {
	return WorldEvent{Kind: WorldCreateEntity}
}

// DestroyEntity builds a destruction request for the entity.
func DestroyEntity(e Entity) WorldEvent {
	return WorldEvent{Kind: WorldDestroyEntity, Entity: e}
}

// WorldSpec names everything a world contains: the resource catalogue and
// the system catalogue of each phase. Registries are closed-world: the
// snapshot codec requires exactly the registered set, nothing more or
// less.
type WorldSpec struct {
	Resources   ResourceRegistry
	FixedUpdate SystemRegistry
	Update      SystemRegistry
	Render      SystemBinding
	Maintenance SystemRegistry
}

// World owns one resource container and drives four system phases over
// it: zero or more fixed updates per frame, one update, one render, and
// one maintenance pass that applies structural changes and decides
// whether to keep running.
type World struct {
	log  *zap.Logger
	res  *Resources
	spec WorldSpec

	fixedUpdate *Systems
	update      *Systems
	render      System
	maintenance *Systems

	receiver ReceiverID[WorldEvent]
}

// builtinResources returns the bindings every world carries regardless of
// its spec: the entity allocator and the world lifecycle event queue.
func builtinResources() []ResourceBinding {
	return []ResourceBinding{
		BindResource("entities", NewEntities),
		BindResource("world_events", NewEventQueue[WorldEvent]),
	}
}

// NewWorld assembles a world from its spec and an opaque dependency
// value. Resource construction walks the registry in order: dependency
// constructors propagate their errors, default constructors are invoked,
// and bindings with neither are left absent with a debug log. System
// construction errors abort assembly.
func NewWorld(spec WorldSpec, deps any, log *zap.Logger) (*World, error) {
	if log == nil {
		log = zap.NewNop()
	}

	full := NewResourceRegistry(append(builtinResources(), spec.Resources.Bindings()...)...)
	if err := full.Validate(); err != nil {
		return nil, err
	}
	for _, reg := range []SystemRegistry{spec.FixedUpdate, spec.Update, spec.Maintenance} {
		if err := reg.Validate(); err != nil {
			return nil, err
		}
	}
	spec.Resources = full

	res := NewResources()
	for _, b := range full.Bindings() {
		switch {
		case b.withDeps != nil:
			v, err := b.withDeps(deps)
			if err != nil {
				return nil, fmt.Errorf("construct resource %q: %w", b.Name, err)
			}
			res.insertDynamic(b.rtype, v)
		case b.newDefault != nil:
			res.insertDynamic(b.rtype, b.newDefault())
		default:
			log.Debug("resource left absent at construction", zap.String("resource", b.Name))
		}
	}

	w := &World{log: log, res: res, spec: spec}
	var err error
	if w.fixedUpdate, err = buildSystems(spec.FixedUpdate, res); err != nil {
		return nil, err
	}
	if w.update, err = buildSystems(spec.Update, res); err != nil {
		return nil, err
	}
	if w.maintenance, err = buildSystems(spec.Maintenance, res); err != nil {
		return nil, err
	}
	if spec.Render.build != nil {
		if w.render, err = spec.Render.build(res); err != nil {
			return nil, fmt.Errorf("build system %q: %w", spec.Render.Name, err)
		}
	}

	w.receiver = GetMut[EventQueue[WorldEvent]](res).Subscribe()
	return w, nil
}

// Resources exposes the world's resource container.
func (w *World) Resources() *Resources {
	return w.res
}

// FixedUpdate runs the fixed-update phase once. The orchestrator calls it
// zero or more times per frame with a constant dt and monotonically
// increasing t.
func (w *World) FixedUpdate(ctx context.Context, t, dt time.Duration) error {
	return w.fixedUpdate.RunParallel(ctx, w.res, t, dt)
}

// Update runs the per-frame update phase once.
func (w *World) Update(ctx context.Context, t, dt time.Duration) error {
	return w.update.RunParallel(ctx, w.res, t, dt)
}

// Render runs the singular render system, if one is configured.
func (w *World) Render(ctx context.Context, t, dt time.Duration) error {
	if w.render == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.render.Run(w.res, t, dt); err != nil {
		return fmt.Errorf("system %s: %w", w.render.Name(), err)
	}
	return nil
}

// Maintain runs the maintenance systems, then drains the world event
// queue and applies structural changes: entity creation and destruction
// happen here and nowhere else, so the next frame's systems observe a
// consistent entity set. An Exiting event short-circuits with Abort.
func (w *World) Maintain(ctx context.Context) (LoopControl, error) {
	if err := w.maintenance.RunParallel(ctx, w.res, 0, 0); err != nil {
		return Abort, err
	}

	queue := GetMut[EventQueue[WorldEvent]](w.res)
	for _, ev := range queue.Receive(w.receiver) {
		switch ev.Kind {
		case WorldExiting:
			return Abort, nil
		case WorldCreateEntity:
			entity := GetMut[Entities](w.res).Create()
			w.log.Debug("created entity", zap.Stringer("entity", entity))
			queue.Send(WorldEvent{Kind: WorldEntityCreated, Entity: entity})
		case WorldDestroyEntity:
			GetMut[Entities](w.res).Destroy(ev.Entity)
			w.log.Debug("destroyed entity", zap.Stringer("entity", ev.Entity))
			queue.Send(WorldEvent{Kind: WorldEntityDestroyed, Entity: ev.Entity})
		}
	}

	return Continue, nil
}

// Clear drops every system and resource and reinitializes the built-in
// allocator and lifecycle queue, leaving an empty but functional world.
func (w *World) Clear() {
	w.fixedUpdate.Clear()
	w.update.Clear()
	w.maintenance.Clear()
	w.render = nil
	w.res.Clear()

	Insert(w.res, NewEntities())
	queue := NewEventQueue[WorldEvent]()
	w.receiver = queue.Subscribe()
	Insert(w.res, queue)
}
