package nn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/kilnrun/kiln/ml"
)

func TestLinearForwardIdentityWeight(t *testing.T) {
	// A 2x2 identity weight (in ggml [in,out] layout: data[j*in+i]) should
	// pass x through unchanged.
	l := &Linear{Weight: ml.FromFloats([]float32{1, 0, 0, 1}, 2, 2)}

	ctx := ml.NewContext()
	defer ctx.Close()

	x := ml.FromFloats([]float32{3, 4}, 2, 1)
	y := l.Forward(ctx, x)

	if diff := cmp.Diff([]float32{3, 4}, y.Floats(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("Forward with identity weight mismatch (-want +got):\n%s", diff)
	}
}

func TestLinearForwardTwoTokens(t *testing.T) {
	// weight: in=2, out=1, W = [[2],[3]] (data[j*in+i], j=0 only: [2,3])
	l := &Linear{Weight: ml.FromFloats([]float32{2, 3}, 2, 1)}

	ctx := ml.NewContext()
	defer ctx.Close()

	// two tokens: [1,1] and [2,0]
	x := ml.FromFloats([]float32{1, 1, 2, 0}, 2, 2)
	y := l.Forward(ctx, x)

	want := []float32{5, 4} // 1*2+1*3=5, 2*2+0*3=4
	if diff := cmp.Diff(want, y.Floats(), cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("Forward mismatch (-want +got):\n%s", diff)
	}
}
