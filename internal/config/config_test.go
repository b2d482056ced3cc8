package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 1, cfg.Detector.MissingStreakThreshold)
	assert.EqualValues(t, 50, cfg.Documents.MaxFileSizeMB)
	assert.Contains(t, cfg.Documents.AllowedExtensions, "p7m")
	assert.Equal(t, 3000, cfg.Extract.MaxSectionChars)
	assert.Equal(t, 50000, cfg.Extract.MaxRawTextChars)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, 3, cfg.Pipeline.StageRetryCap)
	assert.Equal(t, 8080, cfg.Server.Port)

	// Platform identity rules ship with defaults.
	require.Contains(t, cfg.Identity.Platforms, "aria")
	assert.NotEmpty(t, cfg.Identity.Platforms["aria"].CodePattern)
	assert.Equal(t, 10, cfg.Identity.Platforms["mef"].CodeLength)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TENDER_STORE_DRIVER", "postgres")
	t.Setenv("TENDER_DETECTOR_MISSING_STREAK_THRESHOLD", "3")
	t.Setenv("TENDER_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Detector.MissingStreakThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}
