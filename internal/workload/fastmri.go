package workload

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mlctx "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"

	"fastmri-bench/internal/dataset"
	"fastmri-bench/internal/metrics"
	"fastmri-bench/internal/model"
	"fastmri-bench/internal/replica"
	"fastmri-bench/internal/ssim"
)

// initBatchSize is the synthetic zero batch used to materialize parameter
// shapes at initialization.
const initBatchSize = 13

// Config carries the fixed knobs of the reconstruction workload.
// BaseChannels and PoolLayers override the network size when positive;
// zero keeps the model defaults.
type Config struct {
	Backend      backends.Backend
	Devices      int
	DataWorkers  int
	BaseChannels int
	PoolLayers   int
}

// FastMRI wires the U-Net reconstruction model, the mean-absolute-error
// loss, and the SSIM metric into the Workload interface.
type FastMRI struct {
	backend      backends.Backend
	devices      int
	dataWorkers  int
	baseChannels int
	poolLayers   int
	pool         *workerpool.Pool

	group     *replica.Group
	evalExecs []*mlctx.Exec

	// evalIters caches one infinite iterator per split. It is only touched
	// from the harness's evaluation driver, a single control thread.
	evalIters map[string]*dataset.Iterator

	fwdExecs map[forwardKey]*mlctx.Exec
}

var _ Workload = (*FastMRI)(nil)

type forwardKey struct {
	ctx     *mlctx.Context
	train   bool
	dropout float64
}

// NewFastMRI constructs the workload. Devices defaults to 1.
func NewFastMRI(cfg Config) *FastMRI {
	devices := cfg.Devices
	if devices <= 0 {
		devices = 1
	}
	workers := cfg.DataWorkers
	if workers <= 0 {
		workers = 1
	}
	return &FastMRI{
		backend:      cfg.Backend,
		devices:      devices,
		dataWorkers:  workers,
		baseChannels: cfg.BaseChannels,
		poolLayers:   cfg.PoolLayers,
		pool:         workerpool.New(runtime.GOMAXPROCS(0)),
		evalIters:    make(map[string]*dataset.Iterator),
		fwdExecs:     make(map[forwardKey]*mlctx.Exec),
	}
}

// InitModel builds the network on a synthetic zero batch to determine
// parameter shapes, records them, and replicates the parameters across the
// configured devices. The model keeps no auxiliary state (there are no
// batch-normalization running statistics), so parameters are all there is.
func (w *FastMRI) InitModel(seed int64) (*Params, error) {
	ctx := mlctx.New()
	ctx.SetRNGStateFromSeed(seed)
	ctx.SetParam(model.ParamDropoutRate, 0.0)
	if w.baseChannels > 0 {
		ctx.SetParam(model.ParamBaseChannels, w.baseChannels)
	}
	if w.poolLayers > 0 {
		ctx.SetParam(model.ParamPoolLayers, w.poolLayers)
	}

	fake := dataset.Batch{
		Inputs: make([]float32, initBatchSize*dataset.SliceSize),
		N:      initBatchSize,
	}
	if _, err := w.forward(ctx, &fake, false, 0); err != nil {
		return nil, errors.WithMessage(err, "initializing model parameters")
	}

	shapes := make(map[string][]int)
	ctx.EnumerateVariables(func(v *mlctx.Variable) {
		shapes[v.ScopeAndName()] = append([]int(nil), v.Shape().Dimensions...)
	})

	group, err := replica.NewGroup(w.backend, ctx, w.devices)
	if err != nil {
		return nil, err
	}
	w.group = group
	w.evalExecs = make([]*mlctx.Exec, w.devices)

	return &Params{Ctx: ctx, Shapes: shapes}, nil
}

// ModelFn applies the model to the batch inputs. Train mode enables
// stochastic dropout seeded by seed; eval mode disables it. The returned
// auxiliary model state is always nil for this model, so only the raw
// outputs are returned.
func (w *FastMRI) ModelFn(params *Params, batch *dataset.Batch, mode ForwardPassMode, dropoutRate float64, seed int64) ([]float32, error) {
	train := mode == ForwardPassTrain
	if !train {
		dropoutRate = 0
	}
	params.Ctx.SetRNGStateFromSeed(seed)
	return w.forward(params.Ctx, batch, train, dropoutRate)
}

// LossFn returns the mean absolute error per example, reduced over all
// non-batch dimensions. No regularization is applied; that is the training
// submission's responsibility.
func (w *FastMRI) LossFn(targets, outputs []float32, n int) []float32 {
	return meanAbsoluteError(targets, outputs, n)
}

// EvalModelOnSplit runs a full evaluation of the model over the named split,
// covering at least numExamples examples, and returns per-example normalized
// metrics. Errors from input iteration or the per-batch evaluator propagate
// unhandled.
func (w *FastMRI) EvalModelOnSplit(ctx context.Context, split string, numExamples, globalBatchSize int, params *Params, seed int64, dataDir string) (map[string]float64, error) {
	seeds := splitSeed(seed, 2)
	dataSeed, modelSeed := seeds[0], seeds[1]

	iter, ok := w.evalIters[split]
	if !ok {
		shards, err := dataset.DiscoverSplit(dataDir, split)
		if err != nil {
			return nil, err
		}
		// The iterator repeats indefinitely.
		iter, err = dataset.NewIterator(ctx, dataset.IteratorOptions{
			Shards:          shards,
			Seed:            dataSeed,
			GlobalBatchSize: globalBatchSize,
			NumWorkers:      w.dataWorkers,
		})
		if err != nil {
			return nil, err
		}
		w.evalIters[split] = iter
	}

	if err := w.group.Sync(params.Ctx); err != nil {
		return nil, err
	}

	// One model seed per device, the same split the data seed came from.
	devSeeds := splitSeed(modelSeed, w.group.Size())

	var total metrics.Sums
	numBatches := int(math.Ceil(float64(numExamples) / float64(globalBatchSize)))
	for i := 0; i < numBatches; i++ {
		batch, err := iter.Next(ctx)
		if err != nil {
			return nil, err
		}
		shards := batch.Shard(w.group.Size())
		// Per-device sums are already reduced across devices by Map.
		synced, err := w.group.Map(func(device int, devCtx *mlctx.Context) (metrics.Sums, error) {
			return w.evalShard(device, devCtx, shards[device], devSeeds[device])
		})
		if err != nil {
			return nil, err
		}
		total.Add(synced)
	}
	return total.Normalize(), nil
}

// evalShard is the per-device evaluator: an eval-mode forward pass over one
// batch shard, followed by per-example SSIM and loss, summed with the
// shard's example weights.
func (w *FastMRI) evalShard(device int, devCtx *mlctx.Context, shard *dataset.Batch, seed int64) (metrics.Sums, error) {
	if shard.N == 0 {
		return metrics.Sums{}, nil
	}
	devCtx.SetRNGStateFromSeed(seed)

	exec := w.evalExecs[device]
	if exec == nil {
		var err error
		exec, err = w.newForwardExec(devCtx, false)
		if err != nil {
			return metrics.Sums{}, err
		}
		w.evalExecs[device] = exec
	}

	outputs, err := runForward(exec, shard)
	if err != nil {
		return metrics.Sums{}, errors.WithMessagef(err, "eval forward on device %d", device)
	}

	scores := ssim.Scores(outputs, shard.Targets, dataset.SliceHeight, dataset.SliceWidth,
		shard.N, shard.Mean, shard.Std, shard.VolumeMax, w.pool)
	losses := meanAbsoluteError(shard.Targets, outputs, shard.N)

	var sums metrics.Sums
	for i := 0; i < shard.N; i++ {
		wgt := float64(shard.Weights[i])
		sums.SSIM += scores[i] * wgt
		sums.Loss += float64(losses[i]) * wgt
		sums.Weight += wgt
	}
	return sums, nil
}

func (w *FastMRI) forward(ctx *mlctx.Context, batch *dataset.Batch, train bool, dropoutRate float64) ([]float32, error) {
	key := forwardKey{ctx: ctx, train: train, dropout: dropoutRate}
	exec, ok := w.fwdExecs[key]
	if !ok {
		ctx.SetParam(model.ParamDropoutRate, dropoutRate)
		var err error
		exec, err = w.newForwardExec(ctx, train)
		if err != nil {
			return nil, err
		}
		w.fwdExecs[key] = exec
	}
	return runForward(exec, batch)
}

func (w *FastMRI) newForwardExec(ctx *mlctx.Context, train bool) (*mlctx.Exec, error) {
	exec, err := mlctx.NewExec(w.backend, ctx.Checked(false), func(ctx *mlctx.Context, image *graph.Node) *graph.Node {
		ctx.SetTraining(image.Graph(), train)
		return model.Reconstruct(ctx, image)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "compiling forward pass")
	}
	return exec, nil
}

func runForward(exec *mlctx.Exec, batch *dataset.Batch) ([]float32, error) {
	input := tensors.FromFlatDataAndDimensions(batch.Inputs, batch.N, dataset.SliceHeight, dataset.SliceWidth)
	results, err := exec.Exec(input)
	if err != nil {
		return nil, err
	}
	if got := results[0].DType(); got != dtypes.Float32 {
		return nil, errors.Errorf("workload: model output dtype %s, want %s", got, dtypes.Float32)
	}
	return tensors.CopyFlatData[float32](results[0])
}

// splitSeed derives n independent seeds from one, the way the harness splits
// its random state before handing it to collaborators.
func splitSeed(seed int64, n int) []int64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int64, n)
	for i := range out {
		out[i] = rng.Int63()
	}
	return out
}
