package registry

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SeedCity is one city in a seed file.
type SeedCity struct {
	Name    string `yaml:"name"`
	Country string `yaml:"country"`
}

// SeedFile is the YAML layout for bootstrapping the city registry:
//
//	cities:
//	  - name: Berlin
//	    country: Germany
type SeedFile struct {
	Cities []SeedCity `yaml:"cities"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read seed %s", path)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, eris.Wrapf(err, "registry: parse seed %s", path)
	}
	if len(seed.Cities) == 0 {
		return nil, eris.Errorf("registry: seed %s lists no cities", path)
	}
	return &seed, nil
}

// Seed upserts every city from the seed file, skipping unnamed entries,
// and returns the number applied.
func (s *Store) Seed(ctx context.Context, seed *SeedFile) (int, error) {
	applied := 0
	for _, city := range seed.Cities {
		if city.Name == "" {
			zap.L().Warn("registry: skipping seed entry without a name")
			continue
		}
		if _, err := s.UpsertCity(ctx, city.Name, city.Country); err != nil {
			return applied, err
		}
		applied++
	}
	zap.L().Info("registry: seeded cities", zap.Int("count", applied))
	return applied, nil
}
