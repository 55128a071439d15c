package unifiedllm

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
)

// WireFormat selects the request schema and streaming dialect of a provider.
type WireFormat string

const (
	FormatOpenAI    WireFormat = "openai"
	FormatAnthropic WireFormat = "anthropic"
)

// ProviderInfo describes a known provider in the catalog.
type ProviderInfo struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	BaseURL string     `json:"base_url"`
	Models  []string   `json:"models"`
	EnvKey  string     `json:"env_key,omitempty"`
	Format  WireFormat `json:"format"`
}

// RequiresKey reports whether requests to this provider need a credential.
func (p ProviderInfo) RequiresKey() bool {
	return p.EnvKey != ""
}

// Target is a resolved provider, ready to receive requests.
type Target struct {
	Provider ProviderInfo
	APIKey   string
}

// Providers is the built-in provider catalog.
var Providers = []ProviderInfo{
	{
		ID: "xai", Name: "xAI (Grok)", BaseURL: "https://api.x.ai/v1",
		Models: []string{"grok-4-1-fast-reasoning", "grok-3-fast", "grok-3", "grok-3-mini"},
		EnvKey: "XAI_API_KEY", Format: FormatOpenAI,
	},
	{
		ID: "openai", Name: "OpenAI", BaseURL: "https://api.openai.com/v1",
		Models: []string{
			string(openai.ChatModelGPT4o),
			string(openai.ChatModelGPT4oMini),
			string(openai.ChatModelO1),
			string(openai.ChatModelO1Mini),
		},
		EnvKey: "OPENAI_API_KEY", Format: FormatOpenAI,
	},
	{
		ID: "anthropic", Name: "Anthropic", BaseURL: "https://api.anthropic.com/v1",
		Models: []string{
			string(anthropic.ModelClaudeSonnet4_5_20250929),
			"claude-haiku-4-5-20251001",
		},
		EnvKey: "ANTHROPIC_API_KEY", Format: FormatAnthropic,
	},
	{
		ID: "ollama", Name: "Ollama (Local)", BaseURL: "http://localhost:11434/v1",
		Models: []string{"llama3", "codellama", "mistral", "deepseek-coder"},
		Format: FormatOpenAI,
	},
}

// DefaultProviderID is used when a request names an unknown provider.
const DefaultProviderID = "xai"

// Registry resolves provider ids to endpoints and credentials.
type Registry struct {
	providers map[string]ProviderInfo
	order     []string
	defaultID string
	sharedKey string
	lookupEnv func(string) (string, bool)
	mu        sync.RWMutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultProvider sets the fallback provider for unknown ids.
func WithDefaultProvider(id string) RegistryOption {
	return func(r *Registry) {
		r.defaultID = id
	}
}

// WithSharedKey sets the last-resort credential for providers that need one.
func WithSharedKey(key string) RegistryOption {
	return func(r *Registry) {
		r.sharedKey = key
	}
}

// WithEnvLookup replaces os.LookupEnv for credential resolution.
func WithEnvLookup(fn func(string) (string, bool)) RegistryOption {
	return func(r *Registry) {
		r.lookupEnv = fn
	}
}

// WithBaseURL overrides the endpoint of a registered provider.
func WithBaseURL(id, baseURL string) RegistryOption {
	return func(r *Registry) {
		if p, ok := r.providers[id]; ok {
			p.BaseURL = strings.TrimRight(baseURL, "/")
			r.providers[id] = p
		}
	}
}

// WithProviderInfo registers or replaces a provider.
func WithProviderInfo(p ProviderInfo) RegistryOption {
	return func(r *Registry) {
		if _, ok := r.providers[p.ID]; !ok {
			r.order = append(r.order, p.ID)
		}
		r.providers[p.ID] = p
	}
}

// NewRegistry creates a Registry seeded with the built-in catalog.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		providers: make(map[string]ProviderInfo, len(Providers)),
		defaultID: DefaultProviderID,
		lookupEnv: os.LookupEnv,
	}
	for _, p := range Providers {
		p.Models = append([]string(nil), p.Models...)
		r.providers[p.ID] = p
		r.order = append(r.order, p.ID)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the provider registered under id.
func (r *Registry) Lookup(id string) (ProviderInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// List returns all providers in catalog order.
func (r *Registry) List() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.providers[id])
	}
	return result
}

// HasKey reports whether a credential is available for id without an
// explicit per-request key. Keyless providers always report true.
func (r *Registry) HasKey(id string) bool {
	p, ok := r.Lookup(id)
	if !ok {
		return false
	}
	if !p.RequiresKey() {
		return true
	}
	return r.credential(p, "") != ""
}

// Resolve maps a provider id to a Target. Unknown ids fall back to the
// default provider. The credential is the first non-empty of explicitKey,
// the provider's environment variable, and the shared key.
func (r *Registry) Resolve(providerID, explicitKey string) (Target, error) {
	r.mu.RLock()
	p, ok := r.providers[providerID]
	if !ok {
		p, ok = r.providers[r.defaultID]
	}
	r.mu.RUnlock()
	if !ok {
		return Target{}, &ConfigurationError{
			SDKError: SDKError{Message: fmt.Sprintf("provider %q is not registered and no default is configured", providerID)},
			Provider: providerID,
		}
	}

	key := r.credential(p, explicitKey)
	if key == "" && p.RequiresKey() {
		return Target{}, &ConfigurationError{
			SDKError: SDKError{Message: fmt.Sprintf(
				"No API key configured for %s. Set %s or enter a key in settings.", p.Name, p.EnvKey)},
			Provider: p.ID,
		}
	}
	return Target{Provider: p, APIKey: key}, nil
}

// SetModels replaces the advertised model list of a provider.
func (r *Registry) SetModels(id string, models []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[id]; ok {
		p.Models = append([]string(nil), models...)
		r.providers[id] = p
	}
}

func (r *Registry) credential(p ProviderInfo, explicitKey string) string {
	if explicitKey != "" {
		return explicitKey
	}
	if p.EnvKey != "" {
		if v, ok := r.lookupEnv(p.EnvKey); ok && v != "" {
			return v
		}
	}
	// Keyless providers never receive the shared key.
	if p.RequiresKey() {
		return r.sharedKey
	}
	return ""
}
