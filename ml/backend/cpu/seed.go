package cpu

import (
	"fmt"

	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/ml/nn"
	"github.com/kilnrun/kiln/weights"
)

// EmbedTokens, FinalNorm, LMHead, NumLayers, and Layer expose the backend's
// weight tensors read-only, so a tensor-parallel shard.Backend can be seeded
// by slicing directly from an already-seeded cpu.Backend (shard/seed.go) —
// the only way to guarantee the two backends compute from literally the
// same weights, which spec.md §8 property 6 (tensor-parallel equivalence)
// requires and independently-seeded fakes could not.
func (b *Backend) EmbedTokens() *ml.Tensor { return b.embedTokens }
func (b *Backend) FinalNorm() *nn.RMSNorm  { return b.finalNorm }
func (b *Backend) LMHead() *nn.Linear      { return b.lmHead }
func (b *Backend) NumLayers() int          { return len(b.layers) }
func (b *Backend) Layer(i int) *Layer      { return &b.layers[i] }

// SeedWith fills every weight tensor from loader, keyed by a flat
// "layers.N.<name>" / "<name>" naming scheme — the in-process stand-in for
// what a real safetensors shard reader would map tensor names into.
func (b *Backend) SeedWith(loader weights.Loader, modelDir string) {
	loader.Seed(modelDir, "embed_tokens", b.embedTokens)
	loader.Seed(modelDir, "final_norm", b.finalNorm.Weight)
	loader.Seed(modelDir, "lm_head", b.lmHead.Weight)

	for i := range b.layers {
		l := &b.layers[i]
		loader.Seed(modelDir, fmt.Sprintf("layers.%d.input_norm", i), l.InputNorm.Weight)
		loader.Seed(modelDir, fmt.Sprintf("layers.%d.wqkv", i), l.WQKV.Weight)
		loader.Seed(modelDir, fmt.Sprintf("layers.%d.wo", i), l.WO.Weight)
		loader.Seed(modelDir, fmt.Sprintf("layers.%d.post_norm", i), l.PostNorm.Weight)
		l.FFN.SeedWith(loader, modelDir, fmt.Sprintf("layers.%d.ffn", i))
	}
}
