package weights

import (
	"hash/fnv"
	"math/rand"

	"github.com/kilnrun/kiln/fs"
	"github.com/kilnrun/kiln/ml"
)

// InMemory is a deterministic fake Loader: it never reads a file, and
// produces a fixed small config (overridable by modelDir matching one of
// the Presets) plus reproducible pseudo-random weights, seeded from a hash
// of modelDir and key so the same model directory always loads to the same
// tensors across runs — standing in for a real safetensors parser, which
// spec.md keeps out of scope.
type InMemory struct {
	// Presets maps a model directory to the config values it should report;
	// a directory with no entry gets Default.
	Presets map[string]fs.MapConfig
	Default fs.MapConfig
}

// NewInMemory returns an InMemory loader with a reasonable TinyLlama-sized
// default config.
func NewInMemory() *InMemory {
	return &InMemory{
		Presets: make(map[string]fs.MapConfig),
		Default: fs.MapConfig{
			"hidden_size":             2048,
			"num_hidden_layers":       22,
			"num_attention_heads":     32,
			"num_key_value_heads":     4,
			"intermediate_size":       5632,
			"max_position_embeddings": 2048,
			"rms_norm_eps":            float32(1e-5),
			"rope_theta":              float32(10000),
			"bos_token_id":            1,
			"eos_token_id":            2,
			"vocab_size":              32000,
			"num_local_experts":       0,
			"num_experts_per_tok":     2,
			"torch_dtype":             "float16",
		},
	}
}

func (l *InMemory) Load(modelDir string) (fs.Config, error) {
	if cfg, ok := l.Presets[modelDir]; ok {
		return cfg, nil
	}
	return l.Default, nil
}

// Seed fills dst with values from a math/rand source seeded from
// an FNV-64a hash of modelDir, a zero byte, and key, so repeated Seed calls for the same (modelDir,
// key) always produce identical tensors without persisting any state.
func (l *InMemory) Seed(modelDir, key string, dst *ml.Tensor) {
	h := fnv.New64a()
	h.Write([]byte(modelDir))
	h.Write([]byte{0})
	h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	d := dst.Data()
	for i := range d {
		d[i] = (rng.Float32() - 0.5) * 0.02
	}
}
