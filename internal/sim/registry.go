package sim

import (
	"time"

	"go.uber.org/zap"

	"github.com/driftline/engine/internal/ecs"
)

// Options tunes the particle field.
type Options struct {
	// Target is the population the spawn system maintains.
	Target int
	// Seed drives all spawn randomness.
	Seed int64
	// TTL bounds a particle's lifetime; actual lifetimes are drawn from
	// [TTL/2, 3*TTL/2).
	TTL time.Duration
	// LogEvery renders the field state every that many frames.
	LogEvery int
}

// DefaultOptions is a small field suitable for the demo binary.
func DefaultOptions() Options {
	return Options{
		Target:   256,
		Seed:     1,
		TTL:      3 * time.Second,
		LogEvery: 60,
	}
}

// Spec assembles the world spec of the particle field: every storage and
// counter as a registered resource, the spawn/movement/lifetime chain on
// the fixed-update phase, stats on update, the log renderer, and the
// component sweep on maintenance.
func Spec(opts Options, log *zap.Logger) ecs.WorldSpec {
	return ecs.WorldSpec{
		Resources: ecs.NewResourceRegistry(
			ecs.BindResource("positions", ecs.NewDenseStorage[Position]),
			ecs.BindResource("velocities", ecs.NewDenseStorage[Velocity]),
			ecs.BindResource("lifetimes", ecs.NewDenseStorage[Lifetime]),
			ecs.BindResource("tracers", func() *ecs.TagStorage[Tracer] {
				return ecs.NewTagStorage(Tracer{})
			}),
			ecs.BindResource("frame_stats", func() *FrameStats { return &FrameStats{} }),
		),
		FixedUpdate: ecs.NewSystemRegistry(
			ecs.BindSystem("spawn", NewSpawnSystem(opts.Target, opts.Seed, opts.TTL)),
			ecs.BindSystem("movement", NewMovementSystem),
			ecs.BindSystem("lifetime", NewLifetimeSystem),
		),
		Update: ecs.NewSystemRegistry(
			ecs.BindSystem("stats", NewStatsSystem),
		),
		Render: ecs.BindSystem("render", NewRenderSystem(opts.LogEvery, log)),
		Maintenance: ecs.NewSystemRegistry(
			ecs.BindSystem("sweep", NewSweepSystem),
		),
	}
}
