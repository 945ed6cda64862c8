package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/rubricwatch/internal/evidence"
	"github.com/dyluth/rubricwatch/internal/judge"
)

// Judge providers.
const (
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Defaults applied by Validate.
const (
	DefaultModel             = "gpt-4o-mini"
	DefaultAPIKeyEnv         = "OPENAI_API_KEY"
	DefaultJudgeTimeout      = 30 * time.Second
	DefaultTemperature       = 0.1
	DefaultAddr              = ":8080"
	DefaultEvaluationTimeout = 45 * time.Second
)

// Config represents the top-level rubricwatch.yml configuration
type Config struct {
	Version string        `yaml:"version"`
	Engine  *EngineConfig `yaml:"engine,omitempty"`
	Judge   *JudgeConfig  `yaml:"judge,omitempty"`
	Server  *ServerConfig `yaml:"server,omitempty"`
}

// EngineConfig tunes evidence attribution and judging defaults.
type EngineConfig struct {
	RerouteMargin     *int   `yaml:"reroute_margin,omitempty"`     // Minimum overlap lead before a quote is moved (default = 2)
	DefaultStrictness string `yaml:"default_strictness,omitempty"` // lenient, moderate or strict (default = moderate)
}

// JudgeConfig selects and configures the judge model.
type JudgeConfig struct {
	Provider    string        `yaml:"provider,omitempty"`    // openai or none (default = openai)
	Model       string        `yaml:"model,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	APIKeyEnv   string        `yaml:"api_key_env,omitempty"` // Environment variable holding the API key
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr              string        `yaml:"addr,omitempty"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout,omitempty"` // Upper bound on one fire-and-forget round
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	c := &Config{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return c
}

// Validate performs strict validation on the configuration, applying
// defaults for anything left unset.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if c.Judge == nil {
		c.Judge = &JudgeConfig{}
	}
	if err := c.Judge.Validate(); err != nil {
		return err
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	return c.Server.Validate()
}

// Validate checks engine settings and applies defaults.
func (e *EngineConfig) Validate() error {
	if e.RerouteMargin == nil {
		margin := evidence.DefaultRerouteMargin
		e.RerouteMargin = &margin
	}
	if *e.RerouteMargin < 1 {
		return fmt.Errorf("engine.reroute_margin must be >= 1, got %d", *e.RerouteMargin)
	}

	strictness, err := judge.ParseStrictness(e.DefaultStrictness)
	if err != nil {
		return fmt.Errorf("engine.default_strictness: %w", err)
	}
	e.DefaultStrictness = string(strictness)

	return nil
}

// Strictness returns the configured default strictness.
func (e *EngineConfig) Strictness() judge.Strictness {
	return judge.Strictness(e.DefaultStrictness)
}

// Validate checks judge settings and applies defaults.
func (j *JudgeConfig) Validate() error {
	if j.Provider == "" {
		j.Provider = ProviderOpenAI
	}
	if j.Provider != ProviderOpenAI && j.Provider != ProviderNone {
		return fmt.Errorf("invalid judge.provider: %s (must be '%s' or '%s')", j.Provider, ProviderOpenAI, ProviderNone)
	}

	if j.Model == "" {
		j.Model = DefaultModel
	}
	if j.APIKeyEnv == "" {
		j.APIKeyEnv = DefaultAPIKeyEnv
	}

	if j.Timeout == 0 {
		j.Timeout = DefaultJudgeTimeout
	}
	if j.Timeout < 0 {
		return fmt.Errorf("judge.timeout must be positive, got %s", j.Timeout)
	}

	if j.Temperature == nil {
		temp := DefaultTemperature
		j.Temperature = &temp
	}
	if *j.Temperature < 0 || *j.Temperature > 2 {
		return fmt.Errorf("judge.temperature must be between 0 and 2, got %v", *j.Temperature)
	}

	return nil
}

// APIKey reads the judge API key from the configured environment variable.
func (j *JudgeConfig) APIKey() string {
	return os.Getenv(j.APIKeyEnv)
}

// Validate checks server settings and applies defaults.
func (s *ServerConfig) Validate() error {
	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if s.EvaluationTimeout == 0 {
		s.EvaluationTimeout = DefaultEvaluationTimeout
	}
	if s.EvaluationTimeout < 0 {
		return fmt.Errorf("server.evaluation_timeout must be positive, got %s", s.EvaluationTimeout)
	}
	return nil
}

// Load reads and validates rubricwatch.yml from the specified path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
