// Package ssim scores reconstructed image slices against their references
// with the structural-similarity index, matching the common windowed
// formulation: a 7x7 uniform filter, k1=0.01, k2=0.03, and the sample
// covariance normalization NP/(NP-1).
package ssim

import (
	"github.com/ajroetker/go-highway/hwy/contrib/vec"
	"github.com/ajroetker/go-highway/hwy/contrib/workerpool"
)

const (
	winSize = 7
	k1      = 0.01
	k2      = 0.03
)

// Score compares a single pair of planes of dims height x width. Both planes
// are denormalized as plane*std + mean before scoring, and dataRange sets the
// dynamic range term of the stabilization constants.
func Score(pred, target []float32, height, width int, mean, std, dataRange float64) float64 {
	if dataRange <= 0 {
		dataRange = 1e-6
	}
	c1 := (k1 * dataRange) * (k1 * dataRange)
	c2 := (k2 * dataRange) * (k2 * dataRange)

	im1 := denormalize(pred, mean, std)
	im2 := denormalize(target, mean, std)

	ux := boxFilter(im1, height, width)
	uy := boxFilter(im2, height, width)
	uxx := boxFilter(mul(im1, im1), height, width)
	uyy := boxFilter(mul(im2, im2), height, width)
	uxy := boxFilter(mul(im1, im2), height, width)

	np := float64(winSize * winSize)
	covNorm := np / (np - 1)

	var sum float64
	for i := range ux {
		vx := covNorm * (uxx[i] - ux[i]*ux[i])
		vy := covNorm * (uyy[i] - uy[i]*uy[i])
		vxy := covNorm * (uxy[i] - ux[i]*uy[i])

		a1 := 2*ux[i]*uy[i] + c1
		a2 := 2*vxy + c2
		b1 := ux[i]*ux[i] + uy[i]*uy[i] + c1
		b2 := vx + vy + c2
		sum += (a1 * a2) / (b1 * b2)
	}
	return sum / float64(len(ux))
}

// Scores computes per-example SSIM for a batch of n plane pairs, fanning the
// examples out over pool when one is provided.
func Scores(preds, targets []float32, height, width, n int, mean, std, dataRange []float32, pool *workerpool.Pool) []float64 {
	out := make([]float64, n)
	size := height * width
	one := func(i int) {
		out[i] = Score(
			preds[i*size:(i+1)*size],
			targets[i*size:(i+1)*size],
			height, width,
			float64(mean[i]), float64(std[i]), float64(dataRange[i]),
		)
	}
	if pool == nil || n < 2 {
		for i := 0; i < n; i++ {
			one(i)
		}
		return out
	}
	pool.ParallelForAtomicBatched(n, 1, func(start, end int) {
		for i := start; i < end; i++ {
			one(i)
		}
	})
	return out
}

func denormalize(plane []float32, mean, std float64) []float64 {
	out := make([]float64, len(plane))
	for i, v := range plane {
		out[i] = float64(v)
	}
	vec.Scale(std, out)
	vec.AddConst(mean, out)
	return out
}

func mul(a, b []float64) []float64 {
	out := make([]float64, len(a))
	vec.MulTo(out, a, b)
	return out
}

// boxFilter computes the mean over every fully-contained winSize x winSize
// window (valid mode), returning (height-winSize+1)*(width-winSize+1) values.
// The filter is separable: horizontal sliding sums followed by vertical.
func boxFilter(plane []float64, height, width int) []float64 {
	outW := width - winSize + 1
	outH := height - winSize + 1

	// Horizontal pass: rowSums[r*outW+c] = sum of plane[r, c:c+winSize].
	rowSums := make([]float64, height*outW)
	for r := 0; r < height; r++ {
		row := plane[r*width : (r+1)*width]
		var s float64
		for c := 0; c < winSize; c++ {
			s += row[c]
		}
		rowSums[r*outW] = s
		for c := 1; c < outW; c++ {
			s += row[c+winSize-1] - row[c-1]
			rowSums[r*outW+c] = s
		}
	}

	// Vertical pass over the row sums.
	inv := 1.0 / float64(winSize*winSize)
	out := make([]float64, outH*outW)
	for c := 0; c < outW; c++ {
		var s float64
		for r := 0; r < winSize; r++ {
			s += rowSums[r*outW+c]
		}
		out[c] = s * inv
		for r := 1; r < outH; r++ {
			s += rowSums[(r+winSize-1)*outW+c] - rowSums[(r-1)*outW+c]
			out[r*outW+c] = s * inv
		}
	}
	return out
}
