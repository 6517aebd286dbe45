// Package weights implements the Model weights external interface
// (spec.md §6): a directory of safetensors shards plus a config describing
// the architecture. Parsing real safetensors files is out of scope (spec.md
// Non-goals); Loader stays an interface so a real parser can be dropped in
// later, and InMemory is a deterministic fake seeding reproducible
// pseudo-random tensors that honors every config field spec.md §6 lists.
package weights

import (
	"github.com/kilnrun/kiln/fs"
	"github.com/kilnrun/kiln/ml"
)

// Loader produces a config and the backend's weight tensors for a model
// directory, grounded in the teacher's x/imagegen/models/flux2 Load
// pattern (manifest → config → per-component weight load), collapsed here
// into a single Config+Seed call since this module has one backend shape
// rather than per-component sub-models.
type Loader interface {
	// Load reads (or, for InMemory, fabricates) the model's fs.Config.
	Load(modelDir string) (fs.Config, error)

	// Seed fills dst — an already-shaped tensor (see ml/backend/cpu.New) —
	// with this model's values for the tensor named by key.
	Seed(modelDir, key string, dst *ml.Tensor)
}
