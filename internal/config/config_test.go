package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_ZoneFallsBackToDefaults(t *testing.T) {
	cfg := Default()
	z := cfg.Zone("unknown")
	assert.Equal(t, 4*time.Second, z.Timeout)
	assert.False(t, z.StrictTesting)
	assert.True(t, z.RequireSNI)
}

func TestZone_NamedOverridesDefault(t *testing.T) {
	cfg := Default()
	strict := true
	cfg.Zones = map[string]ZoneFields{
		"test": {StrictTesting: &strict},
	}
	z := cfg.Zone("test")
	assert.True(t, z.StrictTesting)
	// Fields the named zone omitted still fall back to default_zone.
	assert.Equal(t, 4*time.Second, z.Timeout)
	assert.True(t, z.RequireSNI)
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	yamlDoc := []byte(`
host: 0.0.0.0
port: 9000
cache_grace: 120
cache:
  type: internal
  options:
    capacity: 500
default_zone:
  timeout: 10
  strict_testing: true
zones:
  test:
    require_sni: false
`)
	err := os.WriteFile(path, yamlDoc, 0o644)
	assert.NoError(t, err)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 120*time.Second, cfg.CacheGraceDuration())
	assert.Equal(t, 500, cfg.CacheOptions().Capacity)

	z := cfg.Zone("test")
	assert.Equal(t, 10*time.Second, z.Timeout)
	assert.True(t, z.StrictTesting)
	assert.False(t, z.RequireSNI)
}
