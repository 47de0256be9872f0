package sim

import (
	"time"

	"github.com/driftline/engine/internal/ecs"
)

// Position is a particle's location in the field.
type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Velocity is a particle's movement per second.
type Velocity struct {
	DX float64 `yaml:"dx"`
	DY float64 `yaml:"dy"`
}

// Lifetime counts a particle down to destruction. Owner carries the full
// entity handle so the expiry request names the exact generation, not
// just a reusable index.
type Lifetime struct {
	Owner     ecs.Entity    `yaml:"owner"`
	Remaining time.Duration `yaml:"remaining"`
}

// Tracer marks fast particles for the render log. It carries no
// per-entity data.
type Tracer struct{}
