package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/config"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
)

// Config stores environment configuration for the tour bot.
type Config struct {
	Port                string
	LLM                 llm.Config
	Tourvisor           tourvisor.Config
	DatabaseURL         string
	RedisURL            string
	SessionTTL          time.Duration
	RateLimitPerIP      int
	RateLimitPerSession int
	MaxIterations       int
	SystemPromptPath    string
	AutoMigrate         bool
	RequestTimeout      time.Duration
}

// LoadConfig loads the configuration from environment variables.
func LoadConfig() Config {
	return Config{
		Port: config.GetEnv("PORT", "8080"),
		LLM:  llm.LoadConfig(),
		Tourvisor: tourvisor.Config{
			BaseURL:  config.GetEnv("TOURVISOR_BASE_URL", tourvisor.DefaultBaseURL),
			Login:    config.GetEnv("TOURVISOR_AUTH_LOGIN", ""),
			Password: config.GetEnv("TOURVISOR_AUTH_PASS", ""),
			Timeout:  config.GetEnvSeconds("TOURVISOR_TIMEOUT_SECONDS", 30*time.Second),
		},
		DatabaseURL:         config.GetEnv("DATABASE_URL", ""),
		RedisURL:            config.GetEnv("REDIS_URL", ""),
		SessionTTL:          config.GetEnvSeconds("SESSION_TTL_SECONDS", 30*time.Minute),
		RateLimitPerIP:      config.GetEnvInt("RATE_LIMIT_PER_IP", 30),
		RateLimitPerSession: config.GetEnvInt("RATE_LIMIT_PER_SESSION", 10),
		MaxIterations:       config.GetEnvInt("MAX_ITERATIONS", 15),
		SystemPromptPath:    config.GetEnv("SYSTEM_PROMPT_PATH", ""),
		AutoMigrate:         config.GetEnvBool("DB_AUTO_MIGRATE", true),
		RequestTimeout:      config.GetEnvSeconds("REQUEST_TIMEOUT_SECONDS", 170*time.Second),
	}
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var missing []string
	if c.Tourvisor.Login == "" {
		missing = append(missing, "TOURVISOR_AUTH_LOGIN")
	}
	if c.Tourvisor.Password == "" {
		missing = append(missing, "TOURVISOR_AUTH_PASS")
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "yandex":
		if c.LLM.APIKey == "" {
			missing = append(missing, "LLM_API_KEY")
		}
		if c.LLM.FolderID == "" {
			missing = append(missing, "YANDEX_FOLDER_ID")
		}
	case "openai":
		if c.LLM.APIKey == "" {
			missing = append(missing, "LLM_API_KEY")
		}
	case "ollama":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SystemPrompt returns the prompt override from SYSTEM_PROMPT_PATH, or
// fallback when no override is configured.
func (c Config) SystemPrompt(fallback string) (string, error) {
	if c.SystemPromptPath == "" {
		return fallback, nil
	}
	body, err := os.ReadFile(c.SystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(body))
	if prompt == "" {
		return fallback, nil
	}
	return prompt, nil
}
