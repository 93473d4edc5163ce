package providers

import (
	"log/slog"
	"os"
	"sort"
	"strings"

	"llmgateway/config"
	"llmgateway/internal/engine"
)

// ProviderConfig is a resolved provider entry.
type ProviderConfig struct {
	Name    string
	Type    string
	APIKey  string
	BaseURL string
}

// knownProviderEnvs maps well-known provider names to their environment variables.
// This list is the authoritative source for provider auto-discovery from env vars.
var knownProviderEnvs = []struct {
	name         string
	providerType string
	apiKeyEnv    string
	baseURLEnv   string
}{
	{"openai", "openai", "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{"anthropic", "anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	{"gemini", "gemini", "GEMINI_API_KEY", "GEMINI_BASE_URL"},
	{"xai", "xai", "XAI_API_KEY", "XAI_BASE_URL"},
	{"groq", "groq", "GROQ_API_KEY", "GROQ_BASE_URL"},
	{"deepseek", "deepseek", "DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL"},
	{"mistral", "mistral", "MISTRAL_API_KEY", "MISTRAL_BASE_URL"},
	{"openrouter", "openrouter", "OPENROUTER_API_KEY", "OPENROUTER_BASE_URL"},
	{"together", "together", "TOGETHER_API_KEY", "TOGETHER_BASE_URL"},
	{"ollama", "ollama", "OLLAMA_API_KEY", "OLLAMA_BASE_URL"},
}

// ProviderSet is the set of configured upstream providers, by name.
type ProviderSet struct {
	byName map[string]ProviderConfig
}

// NewProviderSet overlays provider env vars onto the YAML entries and drops
// entries that cannot be used.
func NewProviderSet(raw map[string]config.RawProviderConfig) *ProviderSet {
	merged := filterEmptyProviders(applyProviderEnvVars(raw))
	s := &ProviderSet{byName: make(map[string]ProviderConfig, len(merged))}
	for name, p := range merged {
		kind := strings.ToLower(strings.TrimSpace(p.Type))
		if kind == "" {
			kind = name
		}
		if !engine.IsKnownKind(kind) {
			slog.Warn("skipping provider of unknown type", "provider", name, "type", kind)
			continue
		}
		s.byName[name] = ProviderConfig{Name: name, Type: kind, APIKey: p.APIKey, BaseURL: p.BaseURL}
	}
	return s
}

// Lookup returns the provider called name. A name that is itself a known
// provider kind resolves even when not configured, so that per-request
// credentials can supply the key.
func (s *ProviderSet) Lookup(name string) (ProviderConfig, bool) {
	if p, ok := s.byName[name]; ok {
		return p, true
	}
	if engine.IsKnownKind(name) {
		return ProviderConfig{Name: name, Type: name}, true
	}
	return ProviderConfig{}, false
}

// Names returns the configured provider names, sorted.
func (s *ProviderSet) Names() []string {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyProviderEnvVars overlays well-known provider env vars onto the raw YAML map.
// Env var values always win over YAML values for the same provider name.
func applyProviderEnvVars(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for k, v := range raw {
		result[k] = v
	}

	for _, kp := range knownProviderEnvs {
		apiKey := os.Getenv(kp.apiKeyEnv)
		baseURL := os.Getenv(kp.baseURLEnv)

		if apiKey == "" && baseURL == "" {
			continue
		}

		existing, exists := result[kp.name]
		if exists {
			if apiKey != "" {
				existing.APIKey = apiKey
			}
			if baseURL != "" {
				existing.BaseURL = baseURL
			}
			result[kp.name] = existing
		} else {
			result[kp.name] = config.RawProviderConfig{
				Type:    kp.providerType,
				APIKey:  apiKey,
				BaseURL: baseURL,
			}
		}
	}

	return result
}

// filterEmptyProviders removes providers without valid credentials.
// Ollama is exempt from the API key requirement if it has a BaseURL.
func filterEmptyProviders(raw map[string]config.RawProviderConfig) map[string]config.RawProviderConfig {
	result := make(map[string]config.RawProviderConfig, len(raw))
	for name, p := range raw {
		if p.Type == "ollama" && p.BaseURL != "" {
			result[name] = p
			continue
		}
		if p.APIKey != "" && !strings.Contains(p.APIKey, "${") {
			result[name] = p
		}
	}
	return result
}
