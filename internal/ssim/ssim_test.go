package ssim

import (
	"math"
	"math/rand"
	"testing"
)

const (
	testH = 16
	testW = 16
)

func randomPlane(t *testing.T, seed int64) []float32 {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	plane := make([]float32, testH*testW)
	for i := range plane {
		plane[i] = rng.Float32()
	}
	return plane
}

func TestScoreIdenticalPlanes(t *testing.T) {
	plane := randomPlane(t, 1)
	score := Score(plane, plane, testH, testW, 0.5, 2.0, 1.0)
	if math.Abs(score-1.0) > 1e-9 {
		t.Fatalf("expected SSIM 1 for identical planes, got %g", score)
	}
}

func TestScoreSymmetric(t *testing.T) {
	a := randomPlane(t, 2)
	b := randomPlane(t, 3)
	s1 := Score(a, b, testH, testW, 0, 1, 1)
	s2 := Score(b, a, testH, testW, 0, 1, 1)
	if math.Abs(s1-s2) > 1e-12 {
		t.Fatalf("SSIM not symmetric: %g vs %g", s1, s2)
	}
}

func TestScoreBoundedAndDiscriminative(t *testing.T) {
	a := randomPlane(t, 4)
	b := randomPlane(t, 5)
	score := Score(a, b, testH, testW, 0, 1, 1)
	if score > 1+1e-9 || score < -1-1e-9 {
		t.Fatalf("SSIM out of range: %g", score)
	}
	same := Score(a, a, testH, testW, 0, 1, 1)
	if score >= same {
		t.Fatalf("different planes scored %g, identical %g", score, same)
	}
}

func TestScoreZeroDataRangeDoesNotBlowUp(t *testing.T) {
	a := randomPlane(t, 6)
	score := Score(a, a, testH, testW, 0, 1, 0)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		t.Fatalf("score not finite: %g", score)
	}
}

func TestBoxFilterConstantPlane(t *testing.T) {
	plane := make([]float64, testH*testW)
	for i := range plane {
		plane[i] = 3.5
	}
	out := boxFilter(plane, testH, testW)
	wantLen := (testH - winSize + 1) * (testW - winSize + 1)
	if len(out) != wantLen {
		t.Fatalf("expected %d outputs, got %d", wantLen, len(out))
	}
	for i, v := range out {
		if math.Abs(v-3.5) > 1e-12 {
			t.Fatalf("window %d: expected mean 3.5, got %g", i, v)
		}
	}
}

func TestBoxFilterMatchesNaive(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	plane := make([]float64, testH*testW)
	for i := range plane {
		plane[i] = rng.Float64()
	}
	got := boxFilter(plane, testH, testW)
	outW := testW - winSize + 1
	for r := 0; r <= testH-winSize; r++ {
		for c := 0; c <= testW-winSize; c++ {
			var sum float64
			for dr := 0; dr < winSize; dr++ {
				for dc := 0; dc < winSize; dc++ {
					sum += plane[(r+dr)*testW+(c+dc)]
				}
			}
			want := sum / float64(winSize*winSize)
			if math.Abs(got[r*outW+c]-want) > 1e-9 {
				t.Fatalf("window (%d,%d): got %g want %g", r, c, got[r*outW+c], want)
			}
		}
	}
}

func TestScoresBatchMatchesSingle(t *testing.T) {
	const n = 3
	preds := make([]float32, 0, n*testH*testW)
	targets := make([]float32, 0, n*testH*testW)
	for i := 0; i < n; i++ {
		preds = append(preds, randomPlane(t, int64(10+i))...)
		targets = append(targets, randomPlane(t, int64(20+i))...)
	}
	mean := []float32{0, 0.1, 0.2}
	std := []float32{1, 1.5, 2}
	rangeMax := []float32{1, 1, 2}

	batch := Scores(preds, targets, testH, testW, n, mean, std, rangeMax, nil)
	size := testH * testW
	for i := 0; i < n; i++ {
		single := Score(preds[i*size:(i+1)*size], targets[i*size:(i+1)*size],
			testH, testW, float64(mean[i]), float64(std[i]), float64(rangeMax[i]))
		if math.Abs(batch[i]-single) > 1e-12 {
			t.Fatalf("example %d: batch %g single %g", i, batch[i], single)
		}
	}
}
