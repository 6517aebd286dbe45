package nn

import (
	"fmt"

	"github.com/kilnrun/kiln/weights"
)

// seeder is implemented by Dense and MoE so a backend can seed either
// feed-forward variant through the same call, regardless of which one a
// layer holds.
type seeder interface {
	SeedWith(loader weights.Loader, modelDir, prefix string)
}

var (
	_ seeder = (*Dense)(nil)
	_ seeder = (*MoE)(nil)
)

func (d *Dense) SeedWith(loader weights.Loader, modelDir, prefix string) {
	loader.Seed(modelDir, prefix+".gate", d.Gate.Weight)
	loader.Seed(modelDir, prefix+".up", d.Up.Weight)
	loader.Seed(modelDir, prefix+".down", d.Down.Weight)
}

func (m *MoE) SeedWith(loader weights.Loader, modelDir, prefix string) {
	loader.Seed(modelDir, prefix+".router", m.Router.Weight)
	for i, e := range m.Experts {
		e.SeedWith(loader, modelDir, fmt.Sprintf("%s.experts.%d", prefix, i))
	}
}
