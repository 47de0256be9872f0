package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/driftline/engine/internal/config"
	"github.com/driftline/engine/internal/ecs"
	"github.com/driftline/engine/internal/engine"
	"github.com/driftline/engine/internal/persist"
	"github.com/driftline/engine/internal/scripting"
	"github.com/driftline/engine/internal/sim"
)

const snapshotLabel = "world"
const snapshotKeep = 5

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/engine.toml"
	if p := os.Getenv("DRIFTLINE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Assemble the world spec
	spec := sim.Spec(sim.DefaultOptions(), log)

	if cfg.Scripts.Enabled {
		script, err := scripting.NewSystem(cfg.Scripts.Dir, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer script.Close()
		spec.Update = spec.Update.Push(
			ecs.BindSystem("script", func(res *ecs.Resources) (*scripting.System, error) {
				return script, nil
			}),
		)
		log.Info("scripting enabled", zap.String("dir", cfg.Scripts.Dir))
	}

	// 4. Optional snapshot store
	ctx := context.Background()
	var snapshots *persist.SnapshotRepo
	if cfg.Database.Enabled {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(dbCtx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()

		if err := persist.RunMigrations(dbCtx, db.Pool); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		snapshots = persist.NewSnapshotRepo(db)
	}

	// 5. Build or restore the world
	world, err := buildWorld(ctx, spec, snapshots, log)
	if err != nil {
		return err
	}

	// 6. Run the loop
	loop := engine.NewLoop(world, cfg.Engine, log)
	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("loop: %w", err)
	}

	// 7. Persist the final state
	if snapshots != nil {
		if err := saveSnapshot(ctx, world, snapshots, log); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildWorld restores the latest snapshot when one exists, otherwise
// starts a fresh world.
func buildWorld(ctx context.Context, spec ecs.WorldSpec, snapshots *persist.SnapshotRepo, log *zap.Logger) (*ecs.World, error) {
	if snapshots != nil {
		data, err := snapshots.LoadLatest(ctx, snapshotLabel)
		switch {
		case err == nil:
			world, err := ecs.NewWorldFromSnapshot(spec, data, log)
			if err != nil {
				return nil, fmt.Errorf("restore world: %w", err)
			}
			log.Info("world restored from snapshot", zap.Int("bytes", len(data)))
			return world, nil
		case !errors.Is(err, persist.ErrNoSnapshot):
			return nil, err
		}
	}

	world, err := ecs.NewWorld(spec, nil, log)
	if err != nil {
		return nil, fmt.Errorf("build world: %w", err)
	}
	return world, nil
}

func saveSnapshot(ctx context.Context, world *ecs.World, snapshots *persist.SnapshotRepo, log *zap.Logger) error {
	data, err := world.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot world: %w", err)
	}

	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	id, err := snapshots.Save(saveCtx, snapshotLabel, data)
	if err != nil {
		return err
	}
	if err := snapshots.Prune(saveCtx, snapshotLabel, snapshotKeep); err != nil {
		log.Warn("snapshot prune failed", zap.Error(err))
	}
	log.Info("world snapshot saved", zap.Int64("id", id), zap.Int("bytes", len(data)))
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
