// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - An optional YAML file named by DRAFTGUARD_CONFIG (environment wins)
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at an optional YAML settings file.
const FileEnv = "DRAFTGUARD_CONFIG"

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Masking  MaskingConfig
	Pipeline PipelineConfig
	Storage  StorageConfig
	Server   ServerConfig
	LogLevel string
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string // empty when the provider key is not configured
	MaxTokens   uint32
	Temperature float64
}

// MaskingConfig holds masking backend configuration.
type MaskingConfig struct {
	Mode      string // remote, ner, fallback; empty picks remote when URL is set
	URL       string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int
	Terms     []string // MASKING_TERMS, comma-separated
}

// PipelineConfig holds assessment timing and context configuration.
type PipelineConfig struct {
	HistoryLimit int
	Debounce     time.Duration
	StageTimeout time.Duration // 0 disables the per-stage deadline
	TemplatesDir string
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string // empty keeps everything in memory
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr   string
	APIKey string // required in X-API-Key when set
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// DefaultProvider is used when neither the caller nor LLM_PROVIDER names one.
const DefaultProvider = "gemini"

// source resolves keys from the environment first, then the settings file.
type source struct {
	file map[string]string
}

func (s source) get(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return s.file[key]
}

// New creates settings for the specified provider. An empty provider falls back
// to LLM_PROVIDER and then DefaultProvider.
// Returns an error if the provider is unknown, the settings file cannot be read,
// or a value is invalid.
func New(provider string) (Settings, error) {
	src, err := loadSource(os.Getenv(FileEnv))
	if err != nil {
		return Settings{}, err
	}

	if provider == "" {
		provider = src.get("LLM_PROVIDER")
	}
	if provider == "" {
		provider = DefaultProvider
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvUint32(src, "LLM_MAX_TOKENS", 1024)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat64(src, "LLM_TEMPERATURE", 0.2)
	if err != nil {
		return Settings{}, err
	}

	maskingTimeout, err := getEnvDuration(src, "MASKING_TIMEOUT", 60*time.Second)
	if err != nil {
		return Settings{}, err
	}

	maskingMaxTokens, err := getEnvInt(src, "MASKING_MAX_TOKENS", 512)
	if err != nil {
		return Settings{}, err
	}

	historyLimit, err := getEnvInt(src, "HISTORY_LIMIT", 5)
	if err != nil {
		return Settings{}, err
	}

	debounce, err := getEnvDuration(src, "DEBOUNCE", 1500*time.Millisecond)
	if err != nil {
		return Settings{}, err
	}

	stageTimeout, err := getEnvDuration(src, "STAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return Settings{}, err
	}

	// Get model from environment or use default
	model := src.get(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			APIKey:      src.get(info.apiKeyEnv),
			MaxTokens:   maxTokens,
			Temperature: temperature,
		},
		Masking: MaskingConfig{
			Mode:      strings.ToLower(src.get("MASKING_MODE")),
			URL:       src.get("MASKING_URL"),
			APIKey:    src.get("MASKING_API_KEY"),
			Timeout:   maskingTimeout,
			MaxTokens: maskingMaxTokens,
			Terms:     splitList(src.get("MASKING_TERMS")),
		},
		Pipeline: PipelineConfig{
			HistoryLimit: historyLimit,
			Debounce:     debounce,
			StageTimeout: stageTimeout,
			TemplatesDir: src.get("TEMPLATES_DIR"),
		},
		Storage: StorageConfig{
			DBPath: src.get("DB_PATH"),
		},
		Server: ServerConfig{
			Addr:   getEnvString(src, "HTTP_ADDR", ":8080"),
			APIKey: src.get("HTTP_API_KEY"),
		},
		LogLevel: getEnvString(src, "LOG_LEVEL", "info"),
	}, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// loadSource reads the YAML settings file at path. Keys are the environment
// variable names, matched case-insensitively. An empty path yields no file values.
func loadSource(path string) (source, error) {
	src := source{file: map[string]string{}}
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return source{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	for key, val := range raw {
		if val == nil {
			continue
		}
		src.file[strings.ToUpper(key)] = fmt.Sprint(val)
	}
	return src, nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

func getEnvString(src source, key, defaultVal string) string {
	if val := src.get(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(src source, key string, defaultVal int) (int, error) {
	val := src.get(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	if i < 0 {
		return 0, fmt.Errorf("invalid value for %s: %q: must not be negative", key, val)
	}
	return i, nil
}

func getEnvUint32(src source, key string, defaultVal uint32) (uint32, error) {
	val := src.get(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(src source, key string, defaultVal float64) (float64, error) {
	val := src.get(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

// getEnvDuration accepts Go duration strings ("1500ms", "30s").
func getEnvDuration(src source, key string, defaultVal time.Duration) (time.Duration, error) {
	val := src.get(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid value for %s: %q: must not be negative", key, val)
	}
	return d, nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
