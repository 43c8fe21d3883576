package main

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gridpush.dev/internal/persistence/indexdb"
	"gridpush.dev/internal/sim/level"
	"gridpush.dev/internal/sim/tuning"
	"gridpush.dev/internal/sim/world"
)

// loadLayout reads lt.Path relative to configDir, or grows a level from the
// tuning generator params when no path is set.
func loadLayout(configDir string, lt tuning.LevelTuning) (level.Layout, error) {
	if lt.Path == "" {
		return generatedLayout(lt, lt.Seed), nil
	}
	p := lt.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(configDir, p)
	}
	def, err := level.Load(p)
	if err != nil {
		return level.Layout{}, err
	}
	return level.Compile(def)
}

func generatedLayout(lt tuning.LevelTuning, seed int64) level.Layout {
	l := level.Generate(level.GenerateParams{
		Seed:       seed,
		Iterations: lt.Iterations,
		MaxSize:    lt.MaxSize,
		Crates:     lt.Crates,
	})
	l.Name = "generated-" + strconv.FormatInt(seed, 10)
	return l
}

func rebuildFromLayout(w *world.World, l level.Layout) error {
	w.SetLevelName(l.Name)
	return w.Rebuild(l.Spawn, l.Bounds, func(register world.RegisterFunc) error {
		return level.Build(l, register)
	})
}

func recordLevelMeta(idx *indexdb.SQLiteIndex, name string, seed int64, logger *zap.Logger) {
	if idx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for k, v := range map[string]string{
		"level":      name,
		"level_seed": strconv.FormatInt(seed, 10),
	} {
		if err := idx.UpsertMeta(ctx, k, v); err != nil {
			logger.Warn("index meta", zap.String("key", k), zap.Error(err))
		}
	}
}
