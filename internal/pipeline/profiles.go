package pipeline

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/billscan/billscan/internal/model"
)

type profileFile struct {
	Profiles []model.DocumentProfile `yaml:"profiles"`
}

// LoadProfiles reads the per-document-type profile definitions.
func LoadProfiles(path string) (map[string]model.DocumentProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read profiles %s", path)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse profiles %s", path)
	}
	if len(pf.Profiles) == 0 {
		return nil, eris.Errorf("pipeline: no profiles in %s", path)
	}

	out := make(map[string]model.DocumentProfile, len(pf.Profiles))
	for _, p := range pf.Profiles {
		if p.Type == "" {
			return nil, eris.New("pipeline: profile missing type")
		}
		if len(p.Fields) == 0 {
			return nil, eris.Errorf("pipeline: profile %s has no fields", p.Type)
		}
		if len(p.Profiles) == 0 {
			return nil, eris.Errorf("pipeline: profile %s has no recognition profiles", p.Type)
		}
		out[p.Type] = p
	}
	return out, nil
}
