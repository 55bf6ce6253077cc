package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"

	"fastmri-bench/internal/config"
	"fastmri-bench/internal/dataset"
	"fastmri-bench/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	dataDir := flag.String("data-dir", "", "Override dataset directory")
	steps := flag.Int("steps", 0, "Number of training steps")
	batchSize := flag.Int("batch-size", 0, "Global batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of data loader workers")
	devices := flag.Int("devices", 0, "Number of logical devices")
	evalEvery := flag.Int("eval-every", 0, "Evaluate every N steps")
	evalNumExamples := flag.Int("eval-num-examples", 0, "Examples to cover per evaluation")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	learningRate := flag.Float64("learning-rate", 0, "Adam learning rate")
	dropoutRate := flag.Float64("dropout-rate", 0, "Dropout rate during training")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DataDir:         *dataDir,
		Steps:           *steps,
		BatchSize:       *batchSize,
		NumWorkers:      *numWorkers,
		Devices:         *devices,
		EvalEvery:       *evalEvery,
		EvalNumExamples: *evalNumExamples,
		Seed:            *seed,
		LogEvery:        *logEvery,
		LearningRate:    *learningRate,
		DropoutRate:     *dropoutRate,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	for _, split := range []string{cfg.TrainSplit, cfg.EvalSplit} {
		shards, err := dataset.DiscoverSplit(cfg.DataDir, split)
		if err != nil {
			log.Fatalf("discover shards: %v", err)
		}
		log.Printf("split=%s shards=%d", split, len(shards))
	}

	backend, err := backends.New()
	if err != nil {
		log.Fatalf("failed to create backend: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		DataDir:         cfg.DataDir,
		TrainSplit:      cfg.TrainSplit,
		EvalSplit:       cfg.EvalSplit,
		Steps:           cfg.Steps,
		BatchSize:       cfg.BatchSize,
		NumWorkers:      cfg.NumWorkers,
		Devices:         cfg.Devices,
		EvalEvery:       cfg.EvalEvery,
		EvalNumExamples: cfg.EvalNumExamples,
		LogEvery:        cfg.LogEvery,
		Seed:            cfg.Seed,
		LearningRate:    cfg.LearningRate,
		DropoutRate:     cfg.DropoutRate,
	}

	if err := trainer.Run(ctx, backend, runCfg); err != nil {
		log.Fatalf("benchmark run failed: %v", err)
	}
}
