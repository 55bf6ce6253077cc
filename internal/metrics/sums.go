package metrics

// Sums holds the running metric sums produced by the per-batch evaluator:
// structural-similarity sum, loss sum, and total example weight. Sums from
// different devices and different batches combine by addition only, so the
// final result is invariant to batch and device ordering.
type Sums struct {
	SSIM   float64
	Loss   float64
	Weight float64
}

// Add accumulates other into s.
func (s *Sums) Add(other Sums) {
	s.SSIM += other.SSIM
	s.Loss += other.Loss
	s.Weight += other.Weight
}

// Reduce sums a set of per-device results into one.
func Reduce(parts []Sums) Sums {
	var total Sums
	for _, p := range parts {
		total.Add(p)
	}
	return total
}

// Normalize divides the accumulated metric sums by the total example weight,
// yielding per-example values keyed by metric name.
func (s Sums) Normalize() map[string]float64 {
	if s.Weight == 0 {
		return map[string]float64{"ssim": 0, "loss": 0}
	}
	return map[string]float64{
		"ssim": s.SSIM / s.Weight,
		"loss": s.Loss / s.Weight,
	}
}
