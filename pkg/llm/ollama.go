package llm

import "strings"

const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "qwen2.5"
)

// OllamaProvider talks to a local Ollama through its OpenAI-compatible
// /v1 endpoint. LLM_API_URL may be the bare host as in OLLAMA_HOST.
type OllamaProvider struct {
	*OpenAIProvider
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	cfg.APIURL = ollamaBaseURL(cfg.APIURL)
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	if cfg.APIKey == "" {
		// Ollama ignores the key, some proxies in front of it do not.
		cfg.APIKey = "ollama"
	}
	p := NewOpenAIProvider(cfg)
	p.name = "ollama"
	return &OllamaProvider{OpenAIProvider: p}
}

func ollamaBaseURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		base = defaultOllamaHost
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

var _ Provider = (*OllamaProvider)(nil)

