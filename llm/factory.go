// Provider factory for the assessment stages.
//
// Both stages want short, low-temperature completions, so the builder
// defaults lean that way. API keys come from config; this package never
// reads the environment.
//
//	provider, err := llm.ProviderGemini.
//	    Model(llm.ModelGeminiFlash).
//	    MaxTokens(1024).
//	    Temperature(0.2).
//	    APIKey(key)

package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingAPIKey is returned when a provider is built without a key.
var ErrMissingAPIKey = errors.New("API key not set")

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	ProviderOpenAI ProviderType = iota
	ProviderAnthropic
	ProviderDeepSeek
	ProviderGemini
)

// Default model per provider. Fast, inexpensive models suit classification.
const (
	ModelOpenAIGPT4o      = "gpt-4o"
	ModelAnthropicSonnet4 = "claude-sonnet-4-20250514"
	ModelDeepSeekChat     = "deepseek-chat"
	ModelGeminiFlash      = "gemini-2.5-flash"
)

// Defaults used when the builder leaves a setting unset.
const (
	DefaultMaxTokens   uint32  = 1024
	DefaultTemperature float32 = 0.2
)

type providerEntry struct {
	name         string
	aliases      []string
	defaultModel string
	build        func(apiKey, model string, maxTokens uint32, temperature float32) Provider
}

var catalog = map[ProviderType]providerEntry{
	ProviderOpenAI: {
		name: "openai", aliases: []string{"gpt"}, defaultModel: ModelOpenAIGPT4o,
		build: func(k, m string, n uint32, t float32) Provider { return NewOpenAIProvider(k, m, n, t) },
	},
	ProviderAnthropic: {
		name: "anthropic", aliases: []string{"claude"}, defaultModel: ModelAnthropicSonnet4,
		build: func(k, m string, n uint32, t float32) Provider { return NewAnthropicProvider(k, m, n, t) },
	},
	ProviderDeepSeek: {
		name: "deepseek", defaultModel: ModelDeepSeekChat,
		build: func(k, m string, n uint32, t float32) Provider { return NewDeepSeekProvider(k, m, n, t) },
	},
	ProviderGemini: {
		name: "gemini", aliases: []string{"google"}, defaultModel: ModelGeminiFlash,
		build: func(k, m string, n uint32, t float32) Provider { return NewGeminiProvider(k, m, n, t) },
	},
}

// String returns the canonical provider name.
func (p ProviderType) String() string {
	if s, ok := catalog[p]; ok {
		return s.name
	}
	return "unknown"
}

// DefaultModel returns the model used when none is configured.
func (p ProviderType) DefaultModel() string {
	return catalog[p].defaultModel
}

// ParseProviderType parses a provider name or alias (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, entry := range catalog {
		if entry.name == name {
			return t, nil
		}
		for _, a := range entry.aliases {
			if a == name {
				return t, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown provider: %s", s)
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// APIKey builds this provider with defaults for everything else.
func (p ProviderType) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(p).APIKey(key)
}

// ProviderBuilder configures an LLM provider.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{providerType: providerType}
}

// Model sets the model. Empty keeps the provider default.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets sampling temperature.
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	entry, ok := catalog[b.providerType]
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
	if key == "" {
		return nil, fmt.Errorf("%s: %w", entry.name, ErrMissingAPIKey)
	}

	model := b.model
	if model == "" {
		model = entry.defaultModel
	}
	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := DefaultTemperature
	if b.temperature != nil {
		temperature = *b.temperature
	}

	return entry.build(key, model, maxTokens, temperature), nil
}
