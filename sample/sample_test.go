package sample

import (
	"math/rand"
	"testing"

	"github.com/kilnrun/kiln/ml"
)

func TestPickGreedyIsArgmax(t *testing.T) {
	logits := []float32{0.1, 5.0, -2.0, 3.0}
	got := Pick(Greedy, logits, nil)
	if got != ml.Token(1) {
		t.Errorf("Pick(Greedy) = %d, want 1 (argmax)", got)
	}
}

func TestPickGreedyDeterministicAcrossCalls(t *testing.T) {
	logits := []float32{1, 2, 3, 0}
	for i := 0; i < 10; i++ {
		if got := Pick(Greedy, logits, nil); got != ml.Token(2) {
			t.Fatalf("Pick(Greedy) iteration %d = %d, want 2", i, got)
		}
	}
}

func TestPickTopKRestrictsToTopCandidates(t *testing.T) {
	logits := []float32{10, 9, -100, -100, -100}
	args := Args{Temperature: 1, TopK: 2}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		got := Pick(args, logits, rng)
		if got != 0 && got != 1 {
			t.Fatalf("Pick with TopK=2 returned index %d outside the top-2 set", got)
		}
	}
}

func TestPickTopPNarrowsToNucleus(t *testing.T) {
	// One dominant logit: top_p should collapse the nucleus to it alone.
	logits := []float32{100, -100, -100}
	args := Args{Temperature: 1, TopP: 0.5}
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 20; i++ {
		if got := Pick(args, logits, rng); got != 0 {
			t.Fatalf("Pick with dominant logit and TopP=0.5 = %d, want 0", got)
		}
	}
}

func TestTopKWeightedOrdersByDescendingScoreAscendingTieBreak(t *testing.T) {
	scores := []float32{0.1, 0.9, 0.9, 0.2}
	indices, weights := TopKWeighted(scores, 2)

	if len(indices) != 2 || len(weights) != 2 {
		t.Fatalf("TopKWeighted returned %d entries, want 2", len(indices))
	}
	// indices 1 and 2 tie at 0.9; stable sort keeps ascending index order.
	if indices[0] != 1 || indices[1] != 2 {
		t.Errorf("TopKWeighted indices = %v, want [1 2] (stable tie-break)", indices)
	}
	if weights[0] != 0.9 || weights[1] != 0.9 {
		t.Errorf("TopKWeighted weights = %v, want [0.9 0.9]", weights)
	}
}

func TestTopKWeightedClampsKToLength(t *testing.T) {
	scores := []float32{1, 2}
	indices, _ := TopKWeighted(scores, 10)
	if len(indices) != 2 {
		t.Errorf("TopKWeighted with k > len(scores) returned %d entries, want 2", len(indices))
	}
}
