package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cities:
  - name: Berlin
    country: Germany
  - name: Oslo
    country: Norway
`), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Cities, 2)
	assert.Equal(t, SeedCity{Name: "Berlin", Country: "Germany"}, seed.Cities[0])
}

func TestLoadSeedEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cities: []\n"), 0o644))

	_, err := LoadSeed(path)
	assert.Error(t, err)
}

func TestSeedApplies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx, &SeedFile{Cities: []SeedCity{
		{Name: "Berlin", Country: "Germany"},
		{Name: ""}, // skipped
		{Name: "Oslo", Country: "Norway"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cities, err := s.ListCities(ctx)
	require.NoError(t, err)
	assert.Len(t, cities, 2)
}
