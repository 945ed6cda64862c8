package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/rubricwatch/internal/judge"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "rubricwatch.yml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `version: "1.0"
engine:
  reroute_margin: 3
  default_strictness: strict
judge:
  provider: openai
  model: gpt-4o
  base_url: "http://localhost:11434/v1/"
  api_key_env: TEST_JUDGE_KEY
  timeout: 10s
  temperature: 0
server:
  addr: ":9090"
  evaluation_timeout: 1m
`)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3, *config.Engine.RerouteMargin)
	assert.Equal(t, judge.StrictnessStrict, config.Engine.Strictness())
	assert.Equal(t, ProviderOpenAI, config.Judge.Provider)
	assert.Equal(t, "gpt-4o", config.Judge.Model)
	assert.Equal(t, "http://localhost:11434/v1/", config.Judge.BaseURL)
	assert.Equal(t, 10*time.Second, config.Judge.Timeout)
	assert.Equal(t, 0.0, *config.Judge.Temperature, "explicit zero is kept")
	assert.Equal(t, ":9090", config.Server.Addr)
	assert.Equal(t, time.Minute, config.Server.EvaluationTimeout)

	t.Setenv("TEST_JUDGE_KEY", "sk-test")
	assert.Equal(t, "sk-test", config.Judge.APIKey())
}

func TestLoad_AppliesDefaults(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"`))
	require.NoError(t, err)

	assert.Equal(t, 2, *config.Engine.RerouteMargin)
	assert.Equal(t, judge.StrictnessModerate, config.Engine.Strictness())
	assert.Equal(t, ProviderOpenAI, config.Judge.Provider)
	assert.Equal(t, DefaultModel, config.Judge.Model)
	assert.Equal(t, DefaultAPIKeyEnv, config.Judge.APIKeyEnv)
	assert.Equal(t, DefaultJudgeTimeout, config.Judge.Timeout)
	assert.Equal(t, DefaultTemperature, *config.Judge.Temperature)
	assert.Equal(t, DefaultAddr, config.Server.Addr)
	assert.Equal(t, DefaultEvaluationTimeout, config.Server.EvaluationTimeout)

	assert.Equal(t, config, Default())
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/rubricwatch.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	config, err := Load(writeConfig(t, `version: "1.0"
engine:
  - this is invalid
    yaml syntax
`))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_Errors(t *testing.T) {
	negative := -1
	zero := 0
	hot := 3.5

	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "unsupported version",
			config:  Config{Version: "2.0"},
			wantErr: "unsupported version: 2.0",
		},
		{
			name:    "missing version",
			config:  Config{},
			wantErr: "unsupported version",
		},
		{
			name:    "zero reroute margin",
			config:  Config{Version: "1.0", Engine: &EngineConfig{RerouteMargin: &zero}},
			wantErr: "engine.reroute_margin must be >= 1",
		},
		{
			name:    "negative reroute margin",
			config:  Config{Version: "1.0", Engine: &EngineConfig{RerouteMargin: &negative}},
			wantErr: "engine.reroute_margin must be >= 1",
		},
		{
			name:    "unknown strictness",
			config:  Config{Version: "1.0", Engine: &EngineConfig{DefaultStrictness: "harsh"}},
			wantErr: "engine.default_strictness",
		},
		{
			name:    "unknown provider",
			config:  Config{Version: "1.0", Judge: &JudgeConfig{Provider: "bard"}},
			wantErr: "invalid judge.provider: bard",
		},
		{
			name:    "negative judge timeout",
			config:  Config{Version: "1.0", Judge: &JudgeConfig{Timeout: -time.Second}},
			wantErr: "judge.timeout must be positive",
		},
		{
			name:    "temperature out of range",
			config:  Config{Version: "1.0", Judge: &JudgeConfig{Temperature: &hot}},
			wantErr: "judge.temperature must be between 0 and 2",
		},
		{
			name:    "negative evaluation timeout",
			config:  Config{Version: "1.0", Server: &ServerConfig{EvaluationTimeout: -time.Second}},
			wantErr: "server.evaluation_timeout must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ProviderNone(t *testing.T) {
	config := &Config{Version: "1.0", Judge: &JudgeConfig{Provider: "none"}}
	require.NoError(t, config.Validate())
	assert.Equal(t, ProviderNone, config.Judge.Provider)
}

func TestValidate_NormalizesStrictness(t *testing.T) {
	config := &Config{Version: "1.0", Engine: &EngineConfig{DefaultStrictness: " Lenient "}}
	require.NoError(t, config.Validate())
	assert.Equal(t, "lenient", config.Engine.DefaultStrictness)
}
