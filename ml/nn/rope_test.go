package nn

import (
	"math"
	"testing"

	"github.com/kilnrun/kiln/ml"
)

func TestRoPEZeroPositionIsIdentity(t *testing.T) {
	ctx := ml.NewContext()
	defer ctx.Close()

	x := ml.FromFloats([]float32{1, 2, 3, 4}, 4, 1, 1) // headDim=4, numHeads=1, numTokens=1
	out := RoPE(ctx, x, []int32{0}, 10000)

	od := out.Data()
	for i, want := range []float32{1, 2, 3, 4} {
		if diff := math.Abs(float64(od[i] - want)); diff > 1e-5 {
			t.Errorf("at position 0, od[%d] = %v, want %v (rotation angle is 0)", i, od[i], want)
		}
	}
}

func TestRoPEPreservesPairNorm(t *testing.T) {
	ctx := ml.NewContext()
	defer ctx.Close()

	x := ml.FromFloats([]float32{1, 2, 3, 4}, 4, 1, 1)
	out := RoPE(ctx, x, []int32{5}, 10000)
	od := out.Data()

	beforeNorm := math.Sqrt(float64(1*1 + 3*3))
	afterNorm := math.Sqrt(float64(od[0]*od[0] + od[2]*od[2]))
	if diff := math.Abs(beforeNorm - afterNorm); diff > 1e-4 {
		t.Errorf("RoPE rotation changed the pair's norm: before %v, after %v", beforeNorm, afterNorm)
	}
}
