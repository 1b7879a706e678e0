package llmrelay

// MatchProviders filters the pool by the requested model name, preserving
// configured pool order. The returned pointers alias the snapshot, which
// is immutable, so they stay valid across reloads.
func MatchProviders(cfg *Config, model string) []*Provider {
	var matched []*Provider
	for i := range cfg.Providers {
		if cfg.Providers[i].ModelMatch.Matches(model) {
			matched = append(matched, &cfg.Providers[i])
		}
	}
	return matched
}
