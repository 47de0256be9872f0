package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/engine/internal/config"
	"github.com/driftline/engine/internal/ecs"
	"go.uber.org/zap"
)

// Loop drives a world at a fixed simulation rate decoupled from the
// frame rate. Real time feeds an accumulator, clamped per frame so a
// stall degrades to slow motion instead of a catch-up spiral; every
// full step in the accumulator becomes one FixedUpdate with a constant
// dt, then the frame's Update, Render, and Maintain run once.
type Loop struct {
	world *ecs.World
	cfg   config.EngineConfig
	log   *zap.Logger

	accumulator time.Duration
	fixedTime   time.Duration
	frameTime   time.Duration
}

// NewLoop builds a loop over the world. The config is assumed validated.
func NewLoop(world *ecs.World, cfg config.EngineConfig, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{world: world, cfg: cfg, log: log}
}

// FixedTime returns the total simulated time consumed by fixed updates.
func (l *Loop) FixedTime() time.Duration {
	return l.fixedTime
}

// FrameTime returns the total clamped real time fed to the loop.
func (l *Loop) FrameTime() time.Duration {
	return l.frameTime
}

// Frame advances the simulation by one frame of real time and returns
// the world's verdict on whether to keep running. When the configured
// run duration is set and reached, a shutdown request is queued before
// maintenance so the same frame observes it.
func (l *Loop) Frame(ctx context.Context, elapsed time.Duration) (ecs.LoopControl, error) {
	if elapsed > l.cfg.MaxFrameTime {
		elapsed = l.cfg.MaxFrameTime
	}

	l.accumulator += elapsed
	for l.accumulator >= l.cfg.DeltaTime {
		if err := l.world.FixedUpdate(ctx, l.fixedTime, l.cfg.DeltaTime); err != nil {
			return ecs.Abort, err
		}
		l.accumulator -= l.cfg.DeltaTime
		l.fixedTime += l.cfg.DeltaTime
	}

	l.frameTime += elapsed
	if err := l.world.Update(ctx, l.frameTime, elapsed); err != nil {
		return ecs.Abort, err
	}
	if err := l.world.Render(ctx, l.frameTime, elapsed); err != nil {
		return ecs.Abort, err
	}

	if l.cfg.RunDuration > 0 && l.fixedTime >= l.cfg.RunDuration {
		l.exitingQueue().Send(ecs.Exiting())
	}

	return l.world.Maintain(ctx)
}

// Run ticks the loop until the world aborts, a phase errors, the context
// is cancelled, or a shutdown signal arrives. Signals request a clean
// stop through the world event queue, so in-flight frame work finishes
// before the loop returns.
func (l *Loop) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(l.cfg.TickRate)
	defer ticker.Stop()

	l.log.Info("loop started",
		zap.Duration("delta_time", l.cfg.DeltaTime),
		zap.Duration("tick_rate", l.cfg.TickRate))

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			l.log.Info("received shutdown signal", zap.String("signal", sig.String()))
			l.exitingQueue().Send(ecs.Exiting())
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			last = now
			ctl, err := l.Frame(ctx, elapsed)
			if err != nil {
				return err
			}
			if ctl == ecs.Abort {
				l.log.Info("loop stopped", zap.Duration("simulated", l.fixedTime))
				return nil
			}
		}
	}
}

// exitingQueue fetches the world event queue. The loop owns the world
// between frames, so lock-free access is safe here.
func (l *Loop) exitingQueue() *ecs.EventQueue[ecs.WorldEvent] {
	return ecs.GetMut[ecs.EventQueue[ecs.WorldEvent]](l.world.Resources())
}
