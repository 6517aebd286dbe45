package nn

import (
	"math"
	"testing"

	"github.com/kilnrun/kiln/ml"
)

func TestRMSNormUnitWeightMatchesManualComputation(t *testing.T) {
	norm := NewRMSNorm(4, 1e-5, ml.DTypeF32)

	ctx := ml.NewContext()
	defer ctx.Close()

	x := ml.FromFloats([]float32{1, 2, 3, 4}, 4, 1)
	out := norm.Forward(ctx, x)

	var sumSq float64
	for _, v := range []float32{1, 2, 3, 4} {
		sumSq += float64(v) * float64(v)
	}
	scale := float32(1.0 / math.Sqrt(sumSq/4+1e-5))

	od := out.Data()
	for i, v := range []float32{1, 2, 3, 4} {
		want := v * scale
		if diff := math.Abs(float64(od[i] - want)); diff > 1e-5 {
			t.Errorf("od[%d] = %v, want %v (diff %v)", i, od[i], want, diff)
		}
	}
}

func TestRMSNormPerTokenIndependence(t *testing.T) {
	norm := NewRMSNorm(2, 1e-5, ml.DTypeF32)

	ctx := ml.NewContext()
	defer ctx.Close()

	// two tokens, the second is the first scaled by 10: RMSNorm should
	// produce the identical normalized vector for both.
	x := ml.FromFloats([]float32{1, 2, 10, 20}, 2, 2)
	out := norm.Forward(ctx, x)
	od := out.Data()

	for i := 0; i < 2; i++ {
		if diff := math.Abs(float64(od[i] - od[i+2])); diff > 1e-4 {
			t.Errorf("token 0 and token 1 normalized differently at dim %d: %v vs %v", i, od[i], od[i+2])
		}
	}
}
