package engine

import (
	"fmt"
	"os"

	"github.com/germanamz/switchboard/pkg/providers/model"
	"gopkg.in/yaml.v3"
)

// DefaultMaxAttempts bounds how many times one request is sent, counting
// the first attempt.
const DefaultMaxAttempts = 8

// Config is the top-level engine configuration.
type Config struct {
	Providers    []ProviderConfig `yaml:"providers"`
	Models       []model.Model    `yaml:"models"`
	Retry        RetryConfig      `yaml:"retry"`
	DefaultModel string           `yaml:"default_model"`
	Effects      []EffectConfig   `yaml:"effects"`
}

// RetryConfig controls the orchestrator's retry loop.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // Total attempts per request (default 8).
}

// Attempts returns the configured attempt budget or the default.
func (r RetryConfig) Attempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

// ProviderConfig describes one backend instance. Kind selects the adapter
// family; Dialect and Transport refine it where the family supports them.
type ProviderConfig struct {
	Name              string            `yaml:"name"`
	Kind              string            `yaml:"kind"`
	BaseURL           string            `yaml:"base_url"`
	APIKey            string            `yaml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Headers           map[string]string `yaml:"headers"`
	Dialect           string            `yaml:"dialect"`
	Transport         string            `yaml:"transport"`
	TransientStatuses []int             `yaml:"transient_statuses"` // Replaces the kind's defaults when set.
	RPM               int               `yaml:"rpm"`                // Requests per minute (0 = no limit).
}

// EffectConfig names a conversation effect applied before each session turn.
type EffectConfig struct {
	Kind   string         `yaml:"kind"`
	Params map[string]any `yaml:"params"`
}

// LoadConfig reads a YAML file and returns a Config.
// Environment variables referenced as ${VAR} or $VAR in the YAML are expanded
// before parsing. This allows API keys and other secrets to be kept in
// environment variables (e.g. loaded from a .env file) rather than committed
// in the config.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("engine: load config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig expands environment variables in data and decodes it.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("engine: parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("engine: config: at least one provider is required")
	}

	providers := make(map[string]ProviderConfig, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("engine: config: provider name is required")
		}
		if p.Kind == "" {
			return fmt.Errorf("engine: config: provider %q: kind is required", p.Name)
		}
		if _, dup := providers[p.Name]; dup {
			return fmt.Errorf("engine: config: duplicate provider name %q", p.Name)
		}
		for _, code := range p.TransientStatuses {
			if code < 100 || code > 599 {
				return fmt.Errorf("engine: config: provider %q: invalid transient status %d", p.Name, code)
			}
		}
		if p.RPM < 0 {
			return fmt.Errorf("engine: config: provider %q: rpm must not be negative", p.Name)
		}
		providers[p.Name] = p
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("engine: config: retry.max_attempts must not be negative")
	}

	refs := make(map[string]struct{}, len(c.Models))
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("engine: config: model id is required")
		}
		if _, ok := providers[m.Provider]; !ok {
			return fmt.Errorf("engine: config: model %q: unknown provider %q", m.ID, m.Provider)
		}
		if m.Family != "" && !m.Family.Valid() {
			return fmt.Errorf("engine: config: model %q: unknown family %q", m.Ref(), m.Family)
		}
		if _, dup := refs[m.Ref()]; dup {
			return fmt.Errorf("engine: config: duplicate model %q", m.Ref())
		}
		refs[m.Ref()] = struct{}{}
	}

	if c.DefaultModel != "" {
		if _, ok := refs[c.DefaultModel]; !ok {
			return fmt.Errorf("engine: config: default_model %q not found in models", c.DefaultModel)
		}
	}

	for i, e := range c.Effects {
		if _, ok := effectFactories[e.Kind]; !ok {
			return fmt.Errorf("engine: config: effect[%d]: unknown kind %q", i, e.Kind)
		}
	}

	return nil
}
