package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/pkg/config"
)

type Config struct {
	Provider    string
	Model       string
	APIKey      string
	APIURL      string
	FolderID    string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// LoadConfig reads LLM_* variables. YANDEX_FOLDER_ID is only used by the
// yandex provider.
func LoadConfig() Config {
	return Config{
		Provider:    config.GetEnv("LLM_PROVIDER", "yandex"),
		Model:       config.GetEnv("LLM_MODEL", ""),
		APIKey:      config.GetEnv("LLM_API_KEY", ""),
		APIURL:      config.GetEnv("LLM_API_URL", ""),
		FolderID:    config.GetEnv("YANDEX_FOLDER_ID", ""),
		Temperature: config.GetEnvFloat("LLM_TEMPERATURE", 0),
		MaxTokens:   config.GetEnvInt("LLM_MAX_TOKENS", 0),
		Timeout:     config.GetEnvSeconds("LLM_TIMEOUT_SECONDS", 0),
	}
}

// NativeTools reports whether the provider returns structured tool calls.
func (c Config) NativeTools() bool {
	return strings.ToLower(c.Provider) != "yandex"
}

func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.Temperature == 0 {
			cfg.Temperature = 0.2
		}
		if cfg.MaxTokens == 0 {
			cfg.MaxTokens = 4096
		}
		return NewOpenAIProvider(cfg), nil
	case "yandex":
		return NewYandexProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
