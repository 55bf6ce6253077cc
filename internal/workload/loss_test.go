package workload

import (
	"math"
	"testing"
)

func TestMeanAbsoluteErrorZeroOnMatch(t *testing.T) {
	outputs := []float32{0.1, -0.4, 2.5, 0, 1, 7}
	losses := meanAbsoluteError(outputs, outputs, 2)
	for i, l := range losses {
		if l != 0 {
			t.Fatalf("example %d: expected zero loss, got %g", i, l)
		}
	}
}

func TestMeanAbsoluteErrorNonNegative(t *testing.T) {
	targets := []float32{1, -2, 3, -4}
	outputs := []float32{-1, 2, -3, 4}
	losses := meanAbsoluteError(targets, outputs, 2)
	if len(losses) != 2 {
		t.Fatalf("expected 2 per-example losses, got %d", len(losses))
	}
	for i, l := range losses {
		if l < 0 {
			t.Fatalf("example %d: negative loss %g", i, l)
		}
	}
}

func TestMeanAbsoluteErrorPerExampleReduction(t *testing.T) {
	// Example 0: |1-0| and |3-1| -> mean 1.5. Example 1: |2-2|, |5-4| -> 0.5.
	targets := []float32{0, 1, 2, 4}
	outputs := []float32{1, 3, 2, 5}
	losses := meanAbsoluteError(targets, outputs, 2)
	if math.Abs(float64(losses[0])-1.5) > 1e-6 {
		t.Fatalf("example 0: got %g want 1.5", losses[0])
	}
	if math.Abs(float64(losses[1])-0.5) > 1e-6 {
		t.Fatalf("example 1: got %g want 0.5", losses[1])
	}
}

func TestOutputActivation(t *testing.T) {
	for _, kind := range []LossKind{LossMeanSquaredError, LossMeanAbsoluteError} {
		fn, err := OutputActivation(kind)
		if err != nil {
			t.Fatalf("kind %d: %v", kind, err)
		}
		in := []float32{-1, 0, 2.5}
		out := fn(in)
		for i := range in {
			if out[i] != in[i] {
				t.Fatalf("kind %d: regression activation must be identity", kind)
			}
		}
	}
}

func TestOutputActivationUnknownKind(t *testing.T) {
	if _, err := OutputActivation(LossSoftmaxCrossEntropy); err == nil {
		t.Fatal("expected error for undeclared loss kind")
	}
}

func TestSplitSeedDeterministicAndDistinct(t *testing.T) {
	a := splitSeed(42, 2)
	b := splitSeed(42, 2)
	if a[0] != b[0] || a[1] != b[1] {
		t.Fatalf("seed splitting not deterministic: %v vs %v", a, b)
	}
	if a[0] == a[1] {
		t.Fatalf("derived seeds collide: %v", a)
	}
}
