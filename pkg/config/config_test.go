package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-project/nexus/internal/rebuild"
	"github.com/nexus-project/nexus/pkg/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, config.Validate(config.Default()))
}

func TestLoadWithNoFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Persistence.Backend)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.yaml")
	contents := []byte("logging:\n  level: DEBUG\n  format: json\n  output: stdout\npersistence:\n  backend: badger\n  badger_path: " + filepath.Join(dir, "info") + "\n")
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "badger", cfg.Persistence.Backend)
}

func TestValidateRejectsBadgerWithoutPath(t *testing.T) {
	cfg := config.Default()
	cfg.Persistence.Backend = "badger"
	cfg.Persistence.BadgerPath = ""
	assert.Error(t, config.Validate(cfg))
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "VERBOSE"
	assert.Error(t, config.Validate(cfg))
}

func TestRebuildConfigTranslatesToEngineTypes(t *testing.T) {
	cfg := config.Default()
	cfg.Rebuild.DefaultStrategy = "partial_sequential"
	cfg.Rebuild.VerifyMode = "readback"
	assert.Equal(t, rebuild.PartialSequential, cfg.Rebuild.StrategyValue())
	assert.Equal(t, rebuild.VerifyReadBack, cfg.Rebuild.VerifyModeValue())
}
