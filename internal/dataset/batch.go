package dataset

// Slice dimensions of the single-coil reconstruction volumes.
const (
	SliceHeight = 320
	SliceWidth  = 320
)

// SliceSize is the number of scalars per example plane.
const SliceSize = SliceHeight * SliceWidth

// Batch is one global batch from the input pipeline: normalized input slices,
// reference target slices, per-example normalization statistics, and
// per-example weights. A weight of zero marks a padding example appended when
// a split does not divide evenly into batches.
type Batch struct {
	// Inputs and Targets are N planes of SliceHeight*SliceWidth scalars.
	Inputs  []float32
	Targets []float32

	// Mean, Std, and VolumeMax are the per-example normalization statistics
	// used to undo the input normalization before scoring.
	Mean      []float32
	Std       []float32
	VolumeMax []float32

	// Weights contribute each example to metric sums.
	Weights []float32

	N int
}

// WeightSum returns the total example weight of the batch.
func (b *Batch) WeightSum() float64 {
	var sum float64
	for _, w := range b.Weights {
		sum += float64(w)
	}
	return sum
}

// Shard splits the batch into count contiguous shards, one per device.
// Shard sizes differ by at most one example when N is not divisible.
func (b *Batch) Shard(count int) []*Batch {
	if count <= 1 {
		return []*Batch{b}
	}
	shards := make([]*Batch, 0, count)
	base := b.N / count
	rem := b.N % count
	start := 0
	for i := 0; i < count; i++ {
		n := base
		if i < rem {
			n++
		}
		end := start + n
		shards = append(shards, &Batch{
			Inputs:    b.Inputs[start*SliceSize : end*SliceSize],
			Targets:   b.Targets[start*SliceSize : end*SliceSize],
			Mean:      b.Mean[start:end],
			Std:       b.Std[start:end],
			VolumeMax: b.VolumeMax[start:end],
			Weights:   b.Weights[start:end],
			N:         n,
		})
		start = end
	}
	return shards
}
