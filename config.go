// Package llmrelay implements the request dispatch engine of an
// OpenAI-compatible LLM relay: model-to-provider matching, weighted and
// cache-affine provider selection, and the fallback state machine that
// drives retries across providers and models.
//
// The Store type holds the provider pool and hot-reloads it from a YAML
// file. Dispatcher.Execute runs the full dispatch loop for one inbound
// request; the caller supplies an AttemptFunc that performs a single
// upstream round trip.
package llmrelay

import "strings"

// Model match kinds accepted in provider configuration.
const (
	MatchExact   = "exact"
	MatchKeyword = "keyword"
)

// ModelMatch decides whether a provider serves a requested model name.
type ModelMatch struct {
	Type  string   `yaml:"type" json:"type"`
	Value []string `yaml:"value" json:"value"`
}

// Matches reports whether the requested model satisfies the predicate.
// Unknown match types never match.
func (m ModelMatch) Matches(model string) bool {
	switch m.Type {
	case MatchExact:
		for _, v := range m.Value {
			if v == model {
				return true
			}
		}
	case MatchKeyword:
		for _, v := range m.Value {
			if strings.Contains(model, v) {
				return true
			}
		}
	}
	return false
}

// Provider is one configured upstream endpoint. Providers are immutable
// after load; a reload replaces the whole Config snapshot.
type Provider struct {
	// Name identifies the provider in logs and the tried list. Duplicate
	// names are permitted; Name is also the hashing identity used by the
	// cache-affine selector.
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey, when set, replaces the inbound Authorization credential.
	APIKey     string     `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	ModelMatch ModelMatch `yaml:"model_match" json:"model_match"`
	// Priority is the selection weight. Zero-priority providers sort last
	// and are attempted only after every positive-weight sibling failed.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`
	// Fallback names a sibling model tried when every provider of the
	// current model is exhausted.
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	// SpecialPrefix is spliced once into the first non-empty content
	// token of the response.
	SpecialPrefix string `yaml:"special_prefix,omitempty" json:"special_prefix,omitempty"`
	// Stop is merged into the request's stop list.
	Stop []string `yaml:"stop,omitempty" json:"stop,omitempty"`
	// MaxTokens caps the request's max_tokens. Zero means no cap.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Origin returns the base URL without a trailing slash.
func (p *Provider) Origin() string {
	return strings.TrimRight(p.BaseURL, "/")
}

// CheckConfig controls the background upstream health checker.
type CheckConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// Interval between probe rounds, in seconds.
	Interval int `yaml:"interval" json:"interval"`
}

// Config is one immutable snapshot of the relay configuration. The
// openai_clients key matches the on-disk config format.
type Config struct {
	CheckConfig *CheckConfig `yaml:"check_config,omitempty" json:"check_config,omitempty"`
	Providers   []Provider   `yaml:"openai_clients" json:"openai_clients"`
}
