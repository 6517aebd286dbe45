package cpu

import (
	"testing"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/weights"
)

func smallConfig() Config {
	return Config{
		HiddenSize:           8,
		NumHiddenLayers:      2,
		NumAttentionHeads:    2,
		NumKeyValueHeads:     1,
		IntermediateSize:     16,
		MaxPositionEmbedding: 64,
		RMSNormEps:           1e-5,
		RopeTheta:            10000,
		BOSTokenID:           1,
		EOSTokenID:           2,
		VocabSize:            32,
		NumLocalExperts:      0,
		NumExpertsPerTok:     2,
		DType:                ml.DTypeF32,
	}
}

func TestNewAllocatesExpectedLayerCount(t *testing.T) {
	b := New(smallConfig())
	if len(b.layers) != 2 {
		t.Errorf("len(layers) = %d, want 2", len(b.layers))
	}
	if b.MaxSeqLen() != 64 {
		t.Errorf("MaxSeqLen() = %d, want 64", b.MaxSeqLen())
	}
	if b.BOSToken() != 1 || b.EOSToken() != 2 {
		t.Errorf("BOSToken/EOSToken = %d/%d, want 1/2", b.BOSToken(), b.EOSToken())
	}
}

func TestForwardDecodeSampleSmokeTest(t *testing.T) {
	cfg := smallConfig()
	b := New(cfg)
	loader := weights.NewInMemory()
	b.SeedWith(loader, "models/smoke")

	cache := b.NewCache()
	tokens := []ml.Token{3, 5, 7}

	ctx := ml.NewContext()
	defer ctx.Close()

	embedded := b.TokenEmbed(ctx, tokens)
	queries := []backend.QueryContext{{Cache: cache, Pos: 0, Len: int32(len(tokens))}}

	hidden, err := b.Forward(ctx, queries, embedded)
	if err != nil {
		t.Fatalf("Forward: unexpected error %v", err)
	}

	meta := []backend.DecodingMeta{{NumQueryTokens: len(tokens), NumDecode: 1}}
	logits, err := b.Decode(ctx, meta, hidden)
	if err != nil {
		t.Fatalf("Decode: unexpected error %v", err)
	}
	if logits.Numel() != cfg.VocabSize {
		t.Fatalf("Decode produced %d logits, want %d", logits.Numel(), cfg.VocabSize)
	}

	toks, err := b.Sample([]backend.SampleMeta{{Temperature: 1}}, logits)
	if err != nil {
		t.Fatalf("Sample: unexpected error %v", err)
	}
	if len(toks) != 1 {
		t.Fatalf("Sample returned %d tokens, want 1", len(toks))
	}
	if int(toks[0]) < 0 || int(toks[0]) >= cfg.VocabSize {
		t.Errorf("Sample returned out-of-range token %d", toks[0])
	}

	if cache.Len() != 0 {
		t.Errorf("cache.Len() before Advance-driven test = %d, want unaffected by TokenEmbed", cache.Len())
	}
}

func TestDuplicateCacheCopiesPrefix(t *testing.T) {
	cfg := smallConfig()
	b := New(cfg)
	cache := b.NewCache()
	cache.Extend([]ml.Token{1, 2, 3, 4})
	cache.Advance(4)

	dup := b.DuplicateCache(cache, 2)
	if dup.Len() != 2 {
		t.Errorf("DuplicateCache(pos=2).Len() = %d, want 2", dup.Len())
	}
	if cache.Len() != 4 {
		t.Errorf("DuplicateCache mutated the source cache: Len() = %d, want unchanged 4", cache.Len())
	}
}
