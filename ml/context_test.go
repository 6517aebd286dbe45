package ml

import "testing"

func TestContextZerosTracksAllocations(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()

	tn := ctx.Zeros(DTypeF32, 2, 2)
	if tn.Numel() != 4 {
		t.Fatalf("Zeros: Numel() = %d, want 4", tn.Numel())
	}
}

func TestContextCloseIdempotent(t *testing.T) {
	ctx := NewContext()
	ctx.Zeros(DTypeF32, 1)
	ctx.Close()
	ctx.Close() // must not panic
}

func TestContextForDevice(t *testing.T) {
	ctx := NewContextForDevice(3)
	if got := ctx.Device(); got != 3 {
		t.Errorf("Device() = %d, want 3", got)
	}
}

func TestContextTrackReturnsSameTensor(t *testing.T) {
	ctx := NewContext()
	defer ctx.Close()
	tn := FromFloats([]float32{1, 2}, 2)
	tracked := ctx.Track(tn)
	if tracked != tn {
		t.Errorf("Track: expected the same pointer back")
	}
}
