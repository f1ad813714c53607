package ai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one model provider entry in providers.yaml.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// Registry holds the configured providers in file order; the first entry is
// the default.
type Registry struct {
	providers map[string]*ProviderConfig
	order     []string
}

type providersFile struct {
	Providers []*ProviderConfig `yaml:"providers"`
}

// LoadRegistry reads providers.yaml from path.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses providers.yaml content.
func ParseRegistry(data []byte) (*Registry, error) {
	var pf providersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	r := &Registry{providers: make(map[string]*ProviderConfig)}
	for _, p := range pf.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider entry missing name")
		}
		if _, exists := r.providers[p.Name]; !exists {
			r.order = append(r.order, p.Name)
		}
		r.providers[p.Name] = p
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	return r, nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (*ProviderConfig, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Default returns the first configured provider.
func (r *Registry) Default() *ProviderConfig {
	if len(r.order) == 0 {
		return nil
	}
	return r.providers[r.order[0]]
}

// List returns the providers in configuration order.
func (r *Registry) List() []*ProviderConfig {
	out := make([]*ProviderConfig, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}

// NewBackend builds a backend for a provider entry.
func NewBackend(cfg *ProviderConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil provider config")
	}
	switch cfg.Type {
	case "openai", "openai_compat", "":
		return NewOpenAIBackend(*cfg)
	case "anthropic", "claude":
		return NewAnthropicBackend(*cfg)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
