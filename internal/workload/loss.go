package workload

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// MeanAbsoluteErrorGraph is the graph-side loss used by training: the mean
// absolute error between predictions and labels, averaged over every
// dimension. It is differentiable through the framework's autodiff and
// deliberately applies no regularization.
func MeanAbsoluteErrorGraph(labels, predictions []*Node) *Node {
	return ReduceAllMean(Abs(Sub(predictions[0], labels[0])))
}

// meanAbsoluteError reduces |outputs-targets| over all non-batch dimensions,
// returning one value per example.
func meanAbsoluteError(targets, outputs []float32, n int) []float32 {
	if n == 0 {
		return nil
	}
	size := len(outputs) / n
	losses := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float64
		base := i * size
		for j := 0; j < size; j++ {
			d := float64(outputs[base+j] - targets[base+j])
			if d < 0 {
				d = -d
			}
			sum += d
		}
		losses[i] = float32(sum / float64(size))
	}
	return losses
}
