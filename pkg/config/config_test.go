package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMorphServer(t *testing.T) {
	assert.Equal(t, "https://example.org/api", MorphServer("example.org/api/"))
	assert.Equal(t, "http://localhost:8000", MorphServer("http://localhost:8000/"))
	assert.Equal(t, "https://neuroscout.org/api", MorphServer("https://neuroscout.org/api"))
	assert.Equal(t, "", MorphServer(""))
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", DefaultConfigFile)

	cfg := &Config{
		APIBase: "https://example.org/api",
		Email:   "user@example.org",
	}
	require.NoError(t, cfg.WriteConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.APIBase, loaded.APIBase)
	assert.Equal(t, cfg.Email, loaded.Email)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv(EnvEmail, "env@example.org")
	t.Setenv(EnvPassword, "hunter2")

	cfg := &Config{APIBase: DefaultAPIBase}
	cfg.FillFromEnv()
	assert.Equal(t, "env@example.org", cfg.Email)
	assert.Equal(t, "hunter2", cfg.Password)

	// explicit values win over the environment
	cfg = &Config{APIBase: DefaultAPIBase, Email: "explicit@example.org"}
	cfg.FillFromEnv()
	assert.Equal(t, "explicit@example.org", cfg.Email)
}

func TestValidate(t *testing.T) {
	cfg := &Config{APIBase: "not a url"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{APIBase: DefaultAPIBase, Email: "nope"}
	assert.Error(t, cfg.Validate())

	cfg = &Config{APIBase: DefaultAPIBase}
	assert.NoError(t, cfg.Validate())
}

func TestDefaultUsesEnvBase(t *testing.T) {
	t.Setenv(EnvAPIBase, "staging.neuroscout.org/api")
	// stale .env values must not leak into this test
	if _, err := os.Stat(".env"); err == nil {
		t.Skip(".env file present in working directory")
	}
	cfg := Default()
	assert.Equal(t, "https://staging.neuroscout.org/api", cfg.APIBase)
}
