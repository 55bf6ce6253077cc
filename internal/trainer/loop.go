// Package trainer is the reference training driver for the reconstruction
// workload: Adam on the mean-absolute-error loss, with periodic evaluation
// over a held-out split. Benchmark submissions replace this loop; it exists
// so the workload has a first-party consumer.
package trainer

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"

	"fastmri-bench/internal/dataset"
	"fastmri-bench/internal/metrics"
	"fastmri-bench/internal/model"
	"fastmri-bench/internal/workload"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	DataDir         string
	TrainSplit      string
	EvalSplit       string
	Steps           int
	BatchSize       int
	NumWorkers      int
	Devices         int
	EvalEvery       int
	EvalNumExamples int
	LogEvery        int
	Seed            int64
	LearningRate    float64
	DropoutRate     float64
}

// Run executes the training workload.
func Run(ctx context.Context, backend backends.Backend, cfg RunConfig) error {
	if cfg.Steps <= 0 {
		return errors.New("trainer: steps must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("trainer: batch size must be > 0")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 50
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 1e-3
	}

	// Validate the data layout before paying for model initialization.
	shards, err := dataset.DiscoverSplit(cfg.DataDir, cfg.TrainSplit)
	if err != nil {
		return err
	}

	w := workload.NewFastMRI(workload.Config{
		Backend:     backend,
		Devices:     cfg.Devices,
		DataWorkers: cfg.NumWorkers,
	})
	params, err := w.InitModel(cfg.Seed)
	if err != nil {
		return err
	}
	log.Printf("model initialized params=%d vars=%d", params.Ctx.NumParameters(), params.Ctx.NumVariables())

	iter, err := dataset.NewIterator(ctx, dataset.IteratorOptions{
		Shards:          shards,
		Seed:            cfg.Seed,
		GlobalBatchSize: cfg.BatchSize,
		NumWorkers:      cfg.NumWorkers,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	params.Ctx.SetParam(model.ParamDropoutRate, cfg.DropoutRate)
	modelFn := func(mctx *mlctx.Context, spec any, inputs []*graph.Node) []*graph.Node {
		return []*graph.Node{model.Reconstruct(mctx, inputs[0])}
	}
	optimizer := optimizers.Adam().LearningRate(cfg.LearningRate).Done()
	trn := train.NewTrainer(backend, params.Ctx, modelFn,
		workload.MeanAbsoluteErrorGraph, optimizer, nil, nil)

	var window metrics.Window
	for step := 1; step <= cfg.Steps; step++ {
		startData := time.Now()
		batch, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		loss, err := trainStep(trn, batch)
		if err != nil {
			return err
		}
		computeTime := time.Since(startCompute)

		window.Record(cfg.BatchSize, dataTime, computeTime, loss)

		if step%cfg.LogEvery == 0 {
			snap := window.Snapshot()
			log.Printf("step=%d examples_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
				step,
				snap.ExamplesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.LastLoss,
			)
		}

		if cfg.EvalEvery > 0 && step%cfg.EvalEvery == 0 {
			evalStart := time.Now()
			scores, err := w.EvalModelOnSplit(ctx, cfg.EvalSplit, cfg.EvalNumExamples,
				cfg.BatchSize, params, cfg.Seed+int64(step), cfg.DataDir)
			if err != nil {
				return err
			}
			log.Printf("eval step=%d split=%s ssim=%.4f loss=%.4f took=%s",
				step, cfg.EvalSplit, scores["ssim"], scores["loss"],
				time.Since(evalStart).Round(time.Millisecond))
		}
	}

	return nil
}

func trainStep(trn *train.Trainer, batch *dataset.Batch) (float64, error) {
	inputs := tensors.FromFlatDataAndDimensions(batch.Inputs, batch.N, dataset.SliceHeight, dataset.SliceWidth)
	targets := tensors.FromFlatDataAndDimensions(batch.Targets, batch.N, dataset.SliceHeight, dataset.SliceWidth)
	results, err := trn.TrainStep(nil, []*tensors.Tensor{inputs}, []*tensors.Tensor{targets})
	if err != nil {
		return 0, err
	}
	loss, err := tensors.CopyFlatData[float32](results[0])
	if err != nil {
		return 0, err
	}
	return float64(loss[0]), nil
}
