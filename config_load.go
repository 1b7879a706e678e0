package llmrelay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a relay config file from the given path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML config: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig validates a Config for correctness.
func ValidateConfig(cfg *Config) error {
	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider is required under openai_clients")
	}

	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", p.Name)
		}
		switch p.ModelMatch.Type {
		case MatchExact, MatchKeyword:
		default:
			return fmt.Errorf("provider %q: unknown model_match type %q", p.Name, p.ModelMatch.Type)
		}
		if len(p.ModelMatch.Value) == 0 {
			return fmt.Errorf("provider %q: model_match value must not be empty", p.Name)
		}
		if p.Priority < 0 {
			return fmt.Errorf("provider %q: priority must not be negative", p.Name)
		}
		if p.MaxTokens < 0 {
			return fmt.Errorf("provider %q: max_tokens must not be negative", p.Name)
		}
	}

	if cc := cfg.CheckConfig; cc != nil && cc.Enabled {
		if cc.Endpoint == "" {
			return fmt.Errorf("check_config: endpoint is required when enabled")
		}
		if cc.Interval <= 0 {
			return fmt.Errorf("check_config: interval must be positive")
		}
	}

	return nil
}
