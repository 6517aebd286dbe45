// Package cpu implements the dense-LLaMA and Mixtral-style-MoE Causal-LM
// Backend (backend.Backend) on plain Go slices, running the forward pipeline
// described in spec.md §4.2: per layer, input RMSNorm → QKV projection →
// RoPE → per-request grouped-query attention against the KV cache → output
// projection with residual → post-attention RMSNorm → dense or MoE
// feed-forward. Grounded in the teacher's model/models/gemma3n (attention
// shape) and model/models/glm4moelite (MoE shape), unified into one backend
// since spec.md's C1 exposes forward/decode/sample directly rather than
// splitting a tensor-infra Backend from a per-architecture Model the way the
// teacher does.
package cpu

import (
	"fmt"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/fs"
	"github.com/kilnrun/kiln/kvcache"
	"github.com/kilnrun/kiln/ml"
	"github.com/kilnrun/kiln/ml/nn"
	"github.com/kilnrun/kiln/weights"
)

// FeedForward is implemented by both nn.Dense and nn.MoE, letting a layer be
// either, matching the teacher's glm4moelite.MLP interface split of
// sparse/dense per layer.
type FeedForward interface {
	Forward(ctx *ml.Context, x *ml.Tensor) *ml.Tensor
	SeedWith(loader weights.Loader, modelDir, prefix string)
}

// Layer is one pre-norm transformer block.
type Layer struct {
	InputNorm *nn.RMSNorm
	WQKV      *nn.Linear // [hidden, (numHeads+2*numKVHeads)*headDim]
	WO        *nn.Linear // [numHeads*headDim, hidden]
	PostNorm  *nn.RMSNorm
	FFN       FeedForward
}

// Config is the subset of spec.md §6's config fields a dense/MoE LLaMA
// backend honors.
type Config struct {
	HiddenSize           int
	NumHiddenLayers      int
	NumAttentionHeads    int
	NumKeyValueHeads     int
	IntermediateSize     int
	MaxPositionEmbedding int32
	RMSNormEps           float32
	RopeTheta            float32
	BOSTokenID           ml.Token
	EOSTokenID           ml.Token
	VocabSize            int
	NumLocalExperts      int // 0 disables MoE, every layer is dense
	NumExpertsPerTok     int
	DType                ml.DType
}

// Backend is the CPU implementation of backend.Backend.
type Backend struct {
	cfg Config

	embedTokens *ml.Tensor // [hidden, vocab]
	layers      []Layer
	finalNorm   *nn.RMSNorm
	lmHead      *nn.Linear // [hidden, vocab]
}

var _ backend.Backend = (*Backend)(nil)

func headDim(cfg Config) int { return cfg.HiddenSize / cfg.NumAttentionHeads }

// New builds a CPU backend from cfg, allocating all weight tensors (the
// weights themselves are seeded by a weights.Loader — New itself just shapes
// storage the way a real loader would map safetensors into it).
func New(cfg Config) *Backend {
	hd := headDim(cfg)
	b := &Backend{
		cfg:         cfg,
		embedTokens: ml.Zeros(cfg.DType, cfg.HiddenSize, cfg.VocabSize),
		layers:      make([]Layer, cfg.NumHiddenLayers),
		finalNorm:   nn.NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps, cfg.DType),
		lmHead:      nn.NewLinear(cfg.HiddenSize, cfg.VocabSize, cfg.DType),
	}

	qkvOut := (cfg.NumAttentionHeads + 2*cfg.NumKeyValueHeads) * hd
	for i := range b.layers {
		var ffn FeedForward
		if cfg.NumLocalExperts > 0 {
			ffn = nn.NewMoE(cfg.HiddenSize, cfg.IntermediateSize, cfg.NumLocalExperts, cfg.NumExpertsPerTok, cfg.DType)
		} else {
			ffn = nn.NewDense(cfg.HiddenSize, cfg.IntermediateSize, cfg.DType)
		}
		b.layers[i] = Layer{
			InputNorm: nn.NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps, cfg.DType),
			WQKV:      nn.NewLinear(cfg.HiddenSize, qkvOut, cfg.DType),
			WO:        nn.NewLinear(cfg.NumAttentionHeads*hd, cfg.HiddenSize, cfg.DType),
			PostNorm:  nn.NewRMSNorm(cfg.HiddenSize, cfg.RMSNormEps, cfg.DType),
			FFN:       ffn,
		}
	}
	return b
}

// ConfigFrom builds a Config by reading the fields spec.md §6 names off of c,
// except torch_dtype: it is not read, and DType is always ml.DTypeF16.
func ConfigFrom(c fs.Config) Config {
	return Config{
		HiddenSize:           int(c.Uint("hidden_size", 2048)),
		NumHiddenLayers:      int(c.Uint("num_hidden_layers", 22)),
		NumAttentionHeads:    int(c.Uint("num_attention_heads", 32)),
		NumKeyValueHeads:     int(c.Uint("num_key_value_heads", 4)),
		IntermediateSize:     int(c.Uint("intermediate_size", 5632)),
		MaxPositionEmbedding: int32(c.Uint("max_position_embeddings", 2048)),
		RMSNormEps:           c.Float("rms_norm_eps", 1e-5),
		RopeTheta:            c.Float("rope_theta", 10000),
		BOSTokenID:           c.Uint("bos_token_id", 1),
		EOSTokenID:           c.Uint("eos_token_id", 2),
		VocabSize:            int(c.Uint("vocab_size", 32000)),
		NumLocalExperts:      int(c.Uint("num_local_experts", 0)),
		NumExpertsPerTok:     int(c.Uint("num_experts_per_tok", 2)),
		DType:                ml.DTypeF16,
	}
}

func (b *Backend) MaxSeqLen() int32   { return b.cfg.MaxPositionEmbedding }
func (b *Backend) BOSToken() ml.Token { return b.cfg.BOSTokenID }
func (b *Backend) EOSToken() ml.Token { return b.cfg.EOSTokenID }

func (b *Backend) NewCache() *kvcache.Cache {
	return kvcache.New(b.cfg.NumHiddenLayers, b.cfg.NumKeyValueHeads, headDim(b.cfg), b.cfg.MaxPositionEmbedding, b.cfg.DType, nil)
}

// DuplicateCache produces a cache holding the first pos tokens of src, KV
// physically copied, by cloning the full window and then reverting to pos —
// composing Cache.Duplicate with Cache.Revert instead of a separate
// prefix-copy path, grounded in the teacher's CopyPrefix but simplified to
// this module's single-sequence-per-cache model.
func (b *Backend) DuplicateCache(src *kvcache.Cache, pos int32) *kvcache.Cache {
	dup := src.Duplicate()
	if err := dup.Revert(pos); err != nil {
		// pos is always <= src.Len() by contract; a violation is a
		// programming error in the caller, not a runtime condition.
		panic(fmt.Errorf("cpu: DuplicateCache: %w", err))
	}
	return dup
}

func (b *Backend) TokenEmbed(ctx *ml.Context, tokens []ml.Token) *ml.Tensor {
	hidden := b.cfg.HiddenSize
	out := ctx.Zeros(b.cfg.DType, hidden, len(tokens))
	od := out.Data()
	ed := b.embedTokens.Data()
	for i, tok := range tokens {
		copy(od[i*hidden:(i+1)*hidden], ed[int(tok)*hidden:int(tok+1)*hidden])
	}
	return out
}
