package sim

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/driftline/engine/internal/ecs"
)

// tracerSpeed is the speed above which a particle gets the Tracer mark.
const tracerSpeed = 1.2

// fieldSize is the edge length of the square particle field.
const fieldSize = 100.0

// SpawnSystem keeps the particle population at Target. Each fixed step
// it first claims the allocations announced since its last run and gives
// them components, then requests enough new entities to cover the
// deficit. Requests in flight are tracked so a slow maintain phase does
// not cause over-spawning.
type SpawnSystem struct {
	Target int           `yaml:"target"`
	Seed   int64         `yaml:"seed"`
	TTL    time.Duration `yaml:"ttl"`

	rng      *rand.Rand
	receiver ecs.ReceiverID[ecs.WorldEvent]
	pending  int
}

// NewSpawnSystem returns a constructor suitable for a system binding.
func NewSpawnSystem(target int, seed int64, ttl time.Duration) func(res *ecs.Resources) (*SpawnSystem, error) {
	return func(res *ecs.Resources) (*SpawnSystem, error) {
		if target < 0 {
			return nil, fmt.Errorf("sim: negative spawn target %d", target)
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("sim: particle ttl must be positive, got %s", ttl)
		}
		s := &SpawnSystem{Target: target, Seed: seed, TTL: ttl}
		ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
			s.receiver = q.Subscribe()
		})
		return s, nil
	}
}

func (s *SpawnSystem) Name() string { return "spawn" }

func (s *SpawnSystem) Run(res *ecs.Resources, t, dt time.Duration) error {
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.Seed))
	}

	var created []ecs.Entity
	ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
		for _, ev := range q.Receive(s.receiver) {
			if ev.Kind == ecs.WorldEntityCreated {
				created = append(created, ev.Entity)
			}
		}
	})

	for _, e := range created {
		s.emit(res, e)
	}
	if s.pending >= len(created) {
		s.pending -= len(created)
	} else {
		s.pending = 0
	}
	if len(created) > 0 {
		ecs.Mutate(res, func(st *FrameStats) { st.Spawned += len(created) })
	}

	var live int
	ecs.View(res, func(e *ecs.Entities) { live = e.Len() })
	want := s.Target - live - s.pending
	if want <= 0 {
		return nil
	}
	ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
		for i := 0; i < want; i++ {
			q.Send(ecs.CreateEntity())
		}
	})
	s.pending += want
	return nil
}

// emit outfits one fresh entity with position, velocity, and lifetime,
// marking fast particles as tracers.
func (s *SpawnSystem) emit(res *ecs.Resources, e ecs.Entity) {
	idx := e.Index()
	dx := s.rng.Float64()*2 - 1
	dy := s.rng.Float64()*2 - 1

	ecs.Mutate(res, func(st *ecs.DenseStorage[Position]) {
		st.Insert(idx, Position{X: s.rng.Float64() * fieldSize, Y: s.rng.Float64() * fieldSize})
	})
	ecs.Mutate(res, func(st *ecs.DenseStorage[Velocity]) {
		st.Insert(idx, Velocity{DX: dx, DY: dy})
	})
	ttl := s.TTL/2 + time.Duration(s.rng.Int63n(int64(s.TTL)))
	ecs.Mutate(res, func(st *ecs.DenseStorage[Lifetime]) {
		st.Insert(idx, Lifetime{Owner: e, Remaining: ttl})
	})
	if math.Hypot(dx, dy) > tracerSpeed {
		ecs.Mutate(res, func(st *ecs.TagStorage[Tracer]) {
			st.Insert(idx, Tracer{})
		})
	}
}

// MovementSystem integrates positions over velocities with the fixed dt,
// wrapping at the field edges.
type MovementSystem struct{}

func NewMovementSystem(res *ecs.Resources) (*MovementSystem, error) {
	return &MovementSystem{}, nil
}

func (s *MovementSystem) Name() string { return "movement" }

func (s *MovementSystem) Run(res *ecs.Resources, t, dt time.Duration) error {
	step := dt.Seconds()
	pos := ecs.Write[ecs.DenseStorage[Position]](res)
	defer pos.Release()
	vel := ecs.Read[ecs.DenseStorage[Velocity]](res)
	defer vel.Release()

	pos.Value().Each(func(i ecs.Index, p *Position) bool {
		v := vel.Value().Get(i)
		if v == nil {
			return true
		}
		p.X = wrap(p.X + v.DX*step)
		p.Y = wrap(p.Y + v.DY*step)
		return true
	})
	return nil
}

func wrap(v float64) float64 {
	v = math.Mod(v, fieldSize)
	if v < 0 {
		v += fieldSize
	}
	return v
}

// LifetimeSystem counts lifetimes down and requests destruction exactly
// once, on the step the lifetime crosses zero. The entity stays live
// until the maintain phase applies the request.
type LifetimeSystem struct{}

func NewLifetimeSystem(res *ecs.Resources) (*LifetimeSystem, error) {
	return &LifetimeSystem{}, nil
}

func (s *LifetimeSystem) Name() string { return "lifetime" }

func (s *LifetimeSystem) Run(res *ecs.Resources, t, dt time.Duration) error {
	var expired []ecs.Entity
	ecs.Mutate(res, func(st *ecs.DenseStorage[Lifetime]) {
		st.Each(func(i ecs.Index, l *Lifetime) bool {
			if l.Remaining <= 0 {
				return true
			}
			l.Remaining -= dt
			if l.Remaining <= 0 {
				l.Remaining = 0
				expired = append(expired, l.Owner)
			}
			return true
		})
	})
	if len(expired) == 0 {
		return nil
	}

	ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
		for _, e := range expired {
			q.Send(ecs.DestroyEntity(e))
		}
	})
	ecs.Mutate(res, func(st *FrameStats) { st.Expired += len(expired) })
	return nil
}

// SweepSystem runs in the maintenance phase and detaches components from
// entities the world reported destroyed, so their indices can be reused
// cleanly.
type SweepSystem struct {
	receiver ecs.ReceiverID[ecs.WorldEvent]
}

func NewSweepSystem(res *ecs.Resources) (*SweepSystem, error) {
	s := &SweepSystem{}
	ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
		s.receiver = q.Subscribe()
	})
	return s, nil
}

func (s *SweepSystem) Name() string { return "sweep" }

func (s *SweepSystem) Run(res *ecs.Resources, t, dt time.Duration) error {
	var gone []ecs.Index
	ecs.Mutate(res, func(q *ecs.EventQueue[ecs.WorldEvent]) {
		for _, ev := range q.Receive(s.receiver) {
			if ev.Kind == ecs.WorldEntityDestroyed {
				gone = append(gone, ev.Entity.Index())
			}
		}
	})
	if len(gone) == 0 {
		return nil
	}

	ecs.Mutate(res, func(st *ecs.DenseStorage[Position]) {
		for _, i := range gone {
			st.Remove(i)
		}
	})
	ecs.Mutate(res, func(st *ecs.DenseStorage[Velocity]) {
		for _, i := range gone {
			st.Remove(i)
		}
	})
	ecs.Mutate(res, func(st *ecs.DenseStorage[Lifetime]) {
		for _, i := range gone {
			st.Remove(i)
		}
	})
	ecs.Mutate(res, func(st *ecs.TagStorage[Tracer]) {
		for _, i := range gone {
			st.Remove(i)
		}
	})
	return nil
}

// StatsSystem refreshes the frame counters once per frame.
type StatsSystem struct{}

func NewStatsSystem(res *ecs.Resources) (*StatsSystem, error) {
	return &StatsSystem{}, nil
}

func (s *StatsSystem) Name() string { return "stats" }

func (s *StatsSystem) Run(res *ecs.Resources, t, dt time.Duration) error {
	var live, tracers int
	ecs.View(res, func(e *ecs.Entities) { live = e.Len() })
	ecs.View(res, func(st *ecs.TagStorage[Tracer]) { tracers = st.Len() })
	ecs.Mutate(res, func(st *FrameStats) {
		st.Frames++
		st.Live = live
		st.Tracers = tracers
	})
	return nil
}

// RenderSystem is the log-backed stand-in for a real renderer: every
// Every frames it reports the field's state through the logger.
type RenderSystem struct {
	Every int `yaml:"every"`

	log *zap.Logger
}

// NewRenderSystem returns a constructor suitable for the render binding.
func NewRenderSystem(every int, log *zap.Logger) func(res *ecs.Resources) (*RenderSystem, error) {
	return func(res *ecs.Resources) (*RenderSystem, error) {
		if log == nil {
			log = zap.NewNop()
		}
		if every < 1 {
			every = 1
		}
		return &RenderSystem{Every: every, log: log}, nil
	}
}

func (s *RenderSystem) Name() string { return "render" }

func (s *RenderSystem) Run(res *ecs.Resources, t, dt time.Duration) error {
	var snap FrameStats
	ecs.View(res, func(st *FrameStats) { snap = *st })
	if s.Every > 0 && snap.Frames%s.Every == 0 {
		s.log.Info("field",
			zap.Int("frame", snap.Frames),
			zap.Int("live", snap.Live),
			zap.Int("tracers", snap.Tracers),
			zap.Int("spawned", snap.Spawned),
			zap.Int("expired", snap.Expired),
			zap.Duration("t", t))
	}
	return nil
}
