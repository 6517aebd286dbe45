package ml

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestZerosShape(t *testing.T) {
	tn := Zeros(DTypeF32, 2, 3, 4)
	if got, want := tn.Numel(), 24; got != want {
		t.Fatalf("Numel() = %d, want %d", got, want)
	}
	if diff := cmp.Diff([]int{2, 3, 4}, tn.Dims()); diff != "" {
		t.Errorf("Dims() mismatch (-want +got):\n%s", diff)
	}
	if got := tn.Stride(2); got != 6 {
		t.Errorf("Stride(2) = %d, want 6", got)
	}
}

func TestFromFloatsPanicsOnShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("FromFloats: expected a panic on shape mismatch")
		}
	}()
	FromFloats([]float32{1, 2, 3}, 2, 2)
}

func TestSliceLastContiguousView(t *testing.T) {
	tn := FromFloats([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	sl := tn.SliceLast(1, 3)
	if diff := cmp.Diff([]float32{3, 4, 5, 6}, sl.Floats()); diff != "" {
		t.Errorf("SliceLast mismatch (-want +got):\n%s", diff)
	}

	// SliceLast shares backing storage: mutating the view mutates the
	// original.
	sl.Data()[0] = 99
	if tn.Data()[2] != 99 {
		t.Errorf("SliceLast did not return a view over the same storage")
	}
}

func TestAddAndAddInPlace(t *testing.T) {
	a := FromFloats([]float32{1, 2, 3}, 3)
	b := FromFloats([]float32{10, 20, 30}, 3)

	sum := a.Add(b)
	if diff := cmp.Diff([]float32{11, 22, 33}, sum.Floats()); diff != "" {
		t.Errorf("Add mismatch (-want +got):\n%s", diff)
	}

	a.AddInPlace(b)
	if diff := cmp.Diff([]float32{11, 22, 33}, a.Floats()); diff != "" {
		t.Errorf("AddInPlace mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := FromFloats([]float32{1, 2, 3}, 3)
	b := a.Clone()
	b.Data()[0] = 100
	if a.Data()[0] == 100 {
		t.Errorf("Clone: mutating the clone affected the original")
	}
}

func TestReshapePreservesData(t *testing.T) {
	tn := FromFloats([]float32{1, 2, 3, 4}, 4)
	re := tn.Reshape(2, 2)
	if diff := cmp.Diff([]int{2, 2}, re.Dims()); diff != "" {
		t.Errorf("Reshape dims mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(tn.Floats(), re.Floats()); diff != "" {
		t.Errorf("Reshape changed the data (-want +got):\n%s", diff)
	}
}

func TestCastRoundTripsThroughReducedPrecision(t *testing.T) {
	tn := FromFloats([]float32{1.0, -2.5, 0.125}, 3)
	half := tn.Cast(DTypeF16)
	if half.DType() != DTypeF16 {
		t.Errorf("Cast: DType() = %v, want DTypeF16", half.DType())
	}
	// Values exactly representable in f16 round-trip exactly.
	if diff := cmp.Diff(tn.Floats(), half.Floats()); diff != "" {
		t.Errorf("Cast(f16) mismatch on exactly-representable values (-want +got):\n%s", diff)
	}
}

func TestDTypeString(t *testing.T) {
	cases := map[DType]string{DTypeF32: "f32", DTypeF16: "f16", DTypeBF16: "bf16", DTypeOther: "other"}
	for dt, want := range cases {
		if got := dt.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", dt, got, want)
		}
	}
}
