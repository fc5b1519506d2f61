package metrics

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profiles maps facility types to reporting parameters. Hospitals draw
// patients from much further than health posts, so their distance bands
// differ.
type Profiles struct {
	Defaults ProfileConfig            `yaml:"defaults"`
	Types    map[string]ProfileConfig `yaml:"types"`
}

// ProfileConfig holds the reporting parameters for one facility type.
type ProfileConfig struct {
	BandsKm []float64 `yaml:"bands_km"`
}

// LoadProfiles reads facility-type profiles from a YAML file.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "metrics: read profiles %s", path)
	}

	// The YAML has a top-level "profiles" key.
	var wrapper struct {
		Profiles Profiles `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "metrics: parse profiles %s", path)
	}

	p := &wrapper.Profiles
	if len(p.Defaults.BandsKm) == 0 {
		p.Defaults.BandsKm = DefaultBandsKm
	}
	return p, nil
}

// BandsFor returns the distance bands for a facility type, falling back to
// the defaults. Type matching is case-insensitive.
func (p *Profiles) BandsFor(facilityType string) []float64 {
	for name, cfg := range p.Types {
		if strings.EqualFold(name, facilityType) && len(cfg.BandsKm) > 0 {
			return cfg.BandsKm
		}
	}
	return p.Defaults.BandsKm
}
