package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSourceConfigsOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := "id: attom\npage_size: 20\nrate_limit:\n  capacity: 2\n  window: 30s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "attom.yaml"), []byte(yamlBody), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	cfg := &Config{Sources: DefaultSources(), WalkScore: SourceConfig{ID: "walkscore"}}
	require.NoError(t, cfg.loadSourceConfigs(dir))

	attom := cfg.Sources["attom"]
	assert.Equal(t, 20, attom.PageSize)
	assert.Equal(t, 2, attom.RateLimit.Capacity)
	assert.Equal(t, 30*time.Second, attom.RateLimit.Window)
	assert.Contains(t, attom.Endpoint, "attomdata.com")
}

func TestLoadSourceConfigsMissingDir(t *testing.T) {
	cfg := &Config{Sources: DefaultSources()}
	require.NoError(t, cfg.loadSourceConfigs(filepath.Join(t.TempDir(), "nope")))
	assert.Len(t, cfg.Sources, 4)
}

func TestLoadSourceConfigsRejectsEmptyID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: nameless\n"), 0o644))

	cfg := &Config{Sources: DefaultSources()}
	assert.Error(t, cfg.loadSourceConfigs(dir))
}

func TestGetEnvListSplitsOnSemicolon(t *testing.T) {
	t.Setenv("TEST_CITIES", "Austin, TX; Boston, MA;")
	assert.Equal(t, []string{"Austin, TX", "Boston, MA"}, getEnvList("TEST_CITIES", nil))
	assert.Equal(t, DefaultCities, getEnvList("TEST_CITIES_UNSET", DefaultCities))
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Sink: "postgres"},
		Crawler: CrawlerConfig{ProgressBackend: "file"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))

	cfg.Storage.DatabaseURL = "postgres://localhost/flipr"
	assert.NoError(t, cfg.Validate())

	cfg.Crawler.ProgressBackend = "etcd"
	assert.Error(t, cfg.Validate())
}

func TestDefaultCities(t *testing.T) {
	assert.Len(t, DefaultCities, 20)
	assert.Equal(t, "New York, NY", DefaultCities[0])
	assert.Equal(t, "Boston, MA", DefaultCities[19])
}
