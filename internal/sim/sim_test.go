package sim

import (
	"context"
	"testing"
	"time"

	"github.com/driftline/engine/internal/ecs"
)

const testDt = 10 * time.Millisecond

func fieldWorld(t *testing.T, opts Options) *ecs.World {
	t.Helper()
	w, err := ecs.NewWorld(Spec(opts, nil), nil, nil)
	if err != nil {
		t.Fatalf("world construction failed: %v", err)
	}
	return w
}

func stepFrame(t *testing.T, w *ecs.World, at time.Duration) {
	t.Helper()
	ctx := context.Background()
	if err := w.FixedUpdate(ctx, at, testDt); err != nil {
		t.Fatalf("fixed update: %v", err)
	}
	if err := w.Update(ctx, at, testDt); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := w.Render(ctx, at, testDt); err != nil {
		t.Fatalf("render: %v", err)
	}
	if ctl, err := w.Maintain(ctx); err != nil || ctl != ecs.Continue {
		t.Fatalf("maintain: ctl=%v err=%v", ctl, err)
	}
}

func TestFieldReachesTarget(t *testing.T) {
	opts := Options{Target: 8, Seed: 42, TTL: time.Minute, LogEvery: 1000}
	w := fieldWorld(t, opts)

	for i := 0; i < 3; i++ {
		stepFrame(t, w, time.Duration(i)*testDt)
	}
	// One more fixed step so the spawn system has claimed every
	// announced entity.
	if err := w.FixedUpdate(context.Background(), 3*testDt, testDt); err != nil {
		t.Fatalf("fixed update: %v", err)
	}

	entities := ecs.GetMut[ecs.Entities](w.Resources())
	if entities.Len() != opts.Target {
		t.Fatalf("expected %d live particles, got %d", opts.Target, entities.Len())
	}

	pos := ecs.GetMut[ecs.DenseStorage[Position]](w.Resources())
	vel := ecs.GetMut[ecs.DenseStorage[Velocity]](w.Resources())
	life := ecs.GetMut[ecs.DenseStorage[Lifetime]](w.Resources())
	for _, e := range entities.Iter().Collect() {
		if !pos.Contains(e.Index()) || !vel.Contains(e.Index()) || !life.Contains(e.Index()) {
			t.Fatalf("live particle %v missing components", e)
		}
		if l := life.Get(e.Index()); l.Owner != e {
			t.Fatalf("lifetime owner %v does not match entity %v", l.Owner, e)
		}
	}
}

func TestFieldDoesNotOverspawn(t *testing.T) {
	opts := Options{Target: 5, Seed: 7, TTL: time.Minute, LogEvery: 1000}
	w := fieldWorld(t, opts)

	for i := 0; i < 10; i++ {
		stepFrame(t, w, time.Duration(i)*testDt)
		live := ecs.GetMut[ecs.Entities](w.Resources()).Len()
		if live > opts.Target {
			t.Fatalf("frame %d: %d live particles exceeds target %d", i, live, opts.Target)
		}
	}
}

func TestParticlesExpireAndGetSwept(t *testing.T) {
	opts := Options{Target: 6, Seed: 3, TTL: 20 * time.Millisecond, LogEvery: 1000}
	w := fieldWorld(t, opts)

	for i := 0; i < 20; i++ {
		stepFrame(t, w, time.Duration(i)*testDt)
	}

	var stats FrameStats
	ecs.View(w.Resources(), func(st *FrameStats) { stats = *st })
	if stats.Expired == 0 {
		t.Fatalf("no particle expired over 200ms with a 20ms ttl")
	}
	if stats.Spawned <= opts.Target {
		t.Fatalf("population was never replenished, spawned=%d", stats.Spawned)
	}

	// Sweeping keeps the storages bounded despite constant churn: at
	// most one frame of destruction lag can be outstanding.
	pos := ecs.GetMut[ecs.DenseStorage[Position]](w.Resources())
	if pos.Len() > opts.Target*2 {
		t.Fatalf("position storage grew unbounded: %d entries", pos.Len())
	}
}

func TestSweepRemovesComponentsOfDestroyedEntities(t *testing.T) {
	res := ecs.NewResources()
	gone := ecs.NewEntity(3, 2)

	pos := ecs.NewDenseStorage[Position]()
	pos.Insert(gone.Index(), Position{X: 1, Y: 2})
	pos.Insert(7, Position{X: 9, Y: 9})
	ecs.Insert(res, pos)
	vel := ecs.NewDenseStorage[Velocity]()
	vel.Insert(gone.Index(), Velocity{DX: 1})
	ecs.Insert(res, vel)
	life := ecs.NewDenseStorage[Lifetime]()
	life.Insert(gone.Index(), Lifetime{Owner: gone})
	ecs.Insert(res, life)
	tracers := ecs.NewTagStorage(Tracer{})
	tracers.Insert(gone.Index(), Tracer{})
	ecs.Insert(res, tracers)
	ecs.Insert(res, ecs.NewEventQueue[ecs.WorldEvent]())

	s, err := NewSweepSystem(res)
	if err != nil {
		t.Fatalf("new sweep: %v", err)
	}
	ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
		q.Send(ecs.WorldEvent{Kind: ecs.WorldEntityDestroyed, Entity: gone})
	})

	if err := s.Run(res, 0, testDt); err != nil {
		t.Fatalf("run: %v", err)
	}

	if pos.Contains(gone.Index()) || vel.Contains(gone.Index()) ||
		life.Contains(gone.Index()) || tracers.Contains(gone.Index()) {
		t.Fatalf("components of destroyed entity not swept")
	}
	if !pos.Contains(7) {
		t.Fatalf("sweep removed an unrelated particle")
	}
}

func TestMovementIntegratesAndWraps(t *testing.T) {
	res := ecs.NewResources()
	pos := ecs.NewDenseStorage[Position]()
	pos.Insert(0, Position{X: 1, Y: 99.5})
	pos.Insert(5, Position{X: 50, Y: 50})
	ecs.Insert(res, pos)
	vel := ecs.NewDenseStorage[Velocity]()
	vel.Insert(0, Velocity{DX: -2, DY: 1})
	ecs.Insert(res, vel)

	m := &MovementSystem{}
	if err := m.Run(res, 0, time.Second); err != nil {
		t.Fatalf("run: %v", err)
	}

	p := pos.Get(0)
	if p.X != 99 {
		t.Fatalf("x should wrap below zero: got %v", p.X)
	}
	if p.Y != 0.5 {
		t.Fatalf("y should wrap at the field edge: got %v", p.Y)
	}
	if q := pos.Get(5); q.X != 50 || q.Y != 50 {
		t.Fatalf("particle without velocity must not move: %+v", q)
	}
}

func TestLifetimeRequestsDestroyExactlyOnce(t *testing.T) {
	res := ecs.NewResources()
	owner := ecs.NewEntity(4, 1)
	life := ecs.NewDenseStorage[Lifetime]()
	life.Insert(owner.Index(), Lifetime{Owner: owner, Remaining: 15 * time.Millisecond})
	ecs.Insert(res, life)
	ecs.Insert(res, &FrameStats{})
	queue := ecs.NewEventQueue[ecs.WorldEvent]()
	observer := queue.Subscribe()
	ecs.Insert(res, queue)

	s := &LifetimeSystem{}
	for i := 0; i < 4; i++ {
		if err := s.Run(res, time.Duration(i)*testDt, testDt); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	destroys := 0
	for _, ev := range queue.Receive(observer) {
		if ev.Kind == ecs.WorldDestroyEntity {
			destroys++
			if ev.Entity != owner {
				t.Fatalf("destroy names %v, want %v", ev.Entity, owner)
			}
		}
	}
	if destroys != 1 {
		t.Fatalf("expected exactly one destroy request, got %d", destroys)
	}
}

func TestFieldSnapshotRoundTrip(t *testing.T) {
	opts := Options{Target: 6, Seed: 11, TTL: time.Minute, LogEvery: 1000}
	w := fieldWorld(t, opts)
	for i := 0; i < 4; i++ {
		stepFrame(t, w, time.Duration(i)*testDt)
	}

	data, err := w.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	w2, err := ecs.NewWorldFromSnapshot(Spec(opts, nil), data, nil)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	before := ecs.GetMut[ecs.Entities](w.Resources()).Len()
	after := ecs.GetMut[ecs.Entities](w2.Resources()).Len()
	if before != after {
		t.Fatalf("restored population %d, want %d", after, before)
	}

	var stats, restoredStats FrameStats
	ecs.View(w.Resources(), func(st *FrameStats) { stats = *st })
	ecs.View(w2.Resources(), func(st *FrameStats) { restoredStats = *st })
	if stats != restoredStats {
		t.Fatalf("stats not restored: %+v != %+v", restoredStats, stats)
	}

	// The restored field keeps simulating within its invariants.
	for i := 0; i < 5; i++ {
		stepFrame(t, w2, time.Duration(4+i)*testDt)
		if live := ecs.GetMut[ecs.Entities](w2.Resources()).Len(); live > opts.Target {
			t.Fatalf("restored field overspawned: %d > %d", live, opts.Target)
		}
	}
}
