package workload

import (
	"context"
	"errors"

	mlctx "github.com/gomlx/gomlx/pkg/ml/context"

	"fastmri-bench/internal/dataset"
	"fastmri-bench/internal/metrics"
)

// ForwardPassMode selects between the training and evaluation behaviour of a
// model's forward pass (dropout on or off, respectively).
type ForwardPassMode int

const (
	ForwardPassTrain ForwardPassMode = iota
	ForwardPassEval
)

// LossKind names the loss a workload declares. The reconstruction workload
// only ever uses the regression kinds.
type LossKind int

const (
	LossSoftmaxCrossEntropy LossKind = iota
	LossSigmoidCrossEntropy
	LossMeanSquaredError
	LossMeanAbsoluteError
)

// ErrUnknownLossKind is returned by OutputActivation for a kind the workload
// does not declare.
var ErrUnknownLossKind = errors.New("workload: unknown loss kind")

// Params is the model's parameter tree plus the shapes recorded at
// initialization. The tree is owned by the harness: the training submission
// mutates it between evaluation calls, this package only initializes it and
// reads through it.
type Params struct {
	// Ctx holds every learnable variable of the model.
	Ctx *mlctx.Context

	// Shapes maps variable scope-and-name to its dimensions, captured once
	// when the model is built.
	Shapes map[string][]int
}

// Workload is the fixed interface the benchmark harness drives: initialize
// parameters, run a forward pass, compute a loss, and evaluate on a split.
type Workload interface {
	// InitModel builds the model on a synthetic zero batch to materialize
	// parameter shapes, records them, and replicates the parameters across
	// the configured devices.
	InitModel(seed int64) (*Params, error)

	// ModelFn applies the model to the batch inputs and returns the raw
	// outputs, one [H, W] plane per example. Train mode enables dropout.
	ModelFn(params *Params, batch *dataset.Batch, mode ForwardPassMode, dropoutRate float64, seed int64) ([]float32, error)

	// LossFn returns the mean absolute error per example, reduced over all
	// non-batch dimensions. It applies no regularization; that is left to
	// the training submission.
	LossFn(targets, outputs []float32, n int) []float32

	// EvalModelOnSplit runs a full evaluation over the named split and
	// returns per-example normalized metrics ("ssim" and "loss").
	EvalModelOnSplit(ctx context.Context, split string, numExamples, globalBatchSize int, params *Params, seed int64, dataDir string) (map[string]float64, error)
}

// Sums are the cross-device metric sums returned by the per-batch evaluator.
type Sums = metrics.Sums

// OutputActivation maps a loss kind to the transform applied to raw model
// outputs. Both regression kinds use the identity; the cross-entropy kinds
// are not declared by this workload and fail the lookup.
func OutputActivation(kind LossKind) (func([]float32) []float32, error) {
	switch kind {
	case LossMeanSquaredError, LossMeanAbsoluteError:
		return func(out []float32) []float32 { return out }, nil
	default:
		return nil, ErrUnknownLossKind
	}
}
