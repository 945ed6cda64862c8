package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/rubricwatch/internal/config"
	"github.com/dyluth/rubricwatch/internal/judge"
)

func TestLoadConfig(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yml")
		require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\nserver:\n  addr: \":9999\"\n"), 0644))

		cfg, err := loadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, ":9999", cfg.Server.Addr)
	})

	t.Run("missing explicit path is an error", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})

	t.Run("defaults without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("rubricwatch.yml in working directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte("version: \"1.0\"\njudge:\n  provider: none\n"), 0644))
		t.Chdir(dir)

		cfg, err := loadConfig("")
		require.NoError(t, err)
		assert.Equal(t, config.ProviderNone, cfg.Judge.Provider)
	})
}

func TestNewProposer(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		p, err := newProposer(&config.JudgeConfig{Provider: config.ProviderNone})
		require.NoError(t, err)
		assert.IsType(t, judge.Nop{}, p)
	})

	t.Run("openai requires an API key", func(t *testing.T) {
		cfg := config.Default().Judge
		cfg.APIKeyEnv = "RUBRICWATCH_TEST_MISSING_KEY"
		t.Setenv("RUBRICWATCH_TEST_MISSING_KEY", "")

		_, err := newProposer(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RUBRICWATCH_TEST_MISSING_KEY is not set")
	})

	t.Run("openai", func(t *testing.T) {
		cfg := config.Default().Judge
		cfg.APIKeyEnv = "RUBRICWATCH_TEST_KEY"
		cfg.BaseURL = "http://localhost:1/v1/"
		t.Setenv("RUBRICWATCH_TEST_KEY", "sk-test")

		p, err := newProposer(cfg)
		require.NoError(t, err)
		assert.IsType(t, &judge.Judge{}, p)
	})
}
