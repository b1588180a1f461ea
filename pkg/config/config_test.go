package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.SIMBA.BatchSize)
	assert.Equal(t, 8, cfg.SIMBA.MaxSteps)
	assert.Equal(t, 4, cfg.Bootstrap.MaxDemos)
	assert.Equal(t, 0.7, cfg.Bootstrap.QualityThreshold)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
evaluate:
  max_concurrency: 16
  timeout: 30s
  failure_score: 0.1
simba:
  batch_size: 4
  max_steps: 12
  seed: 99
logging:
  level: DEBUG
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Evaluate.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Evaluate.Timeout)
	assert.Equal(t, 0.1, cfg.Evaluate.FailureScore)
	assert.Equal(t, 4, cfg.SIMBA.BatchSize)
	assert.Equal(t, 12, cfg.SIMBA.MaxSteps)
	assert.Equal(t, int64(99), cfg.SIMBA.Seed)

	// Untouched sections keep their defaults.
	assert.Equal(t, 6, cfg.SIMBA.NumCandidates)
	assert.Equal(t, 0.7, cfg.Bootstrap.QualityThreshold)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
simba:
  batch_size: -1
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: LOUD
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "simba: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestOptionConversion(t *testing.T) {
	cfg := Default()
	cfg.Evaluate.MaxConcurrency = 2
	cfg.Evaluate.MaxErrors = 5

	assert.NotEmpty(t, cfg.EvaluateOptions())
	assert.NotEmpty(t, cfg.SIMBAOptions())
	assert.NotEmpty(t, cfg.BootstrapOptions())
}

func TestLoggerFromConfig(t *testing.T) {
	cfg := Default()
	cfg.Logging.File = filepath.Join(t.TempDir(), "run.log")

	logger, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
