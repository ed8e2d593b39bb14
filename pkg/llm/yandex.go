package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/pkg/clients"
)

// RolePlaceholder keeps roles alternating for providers that reject two
// consecutive turns from the same role.
const RolePlaceholder = "[продолжение обработки]"

// ToolResultPrefix opens the user turn a tool result is rendered into on
// providers without a native tool role.
const ToolResultPrefix = "Результат вызова функции"

const (
	yandexStatusContentFilter = "ALTERNATIVE_STATUS_CONTENT_FILTER"
	yandexStatusTruncated     = "ALTERNATIVE_STATUS_TRUNCATED_FINAL"
)

// YandexProvider talks to the YandexGPT foundation-models completion API.
// It has no native tool calling: the tool catalog is rendered into the
// system text and calls come back as plain text for the recovery layer.
type YandexProvider struct {
	client      *http.Client
	apiKey      string
	apiURL      string
	modelURI    string
	temperature float64
	maxTokens   int
}

func NewYandexProvider(cfg Config) *YandexProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://llm.api.cloud.yandex.net/foundationModels/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "yandexgpt"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.3
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 6000
	}
	return &YandexProvider{
		client:      clients.NewHTTPClient(timeout),
		apiKey:      cfg.APIKey,
		apiURL:      apiURL,
		modelURI:    fmt.Sprintf("gpt://%s/%s", cfg.FolderID, model),
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

type yandexMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type yandexRequest struct {
	ModelURI          string                  `json:"modelUri"`
	CompletionOptions yandexCompletionOptions `json:"completionOptions"`
	Messages          []yandexMessage         `json:"messages"`
}

type yandexCompletionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type yandexResponse struct {
	Result struct {
		Alternatives []struct {
			Message yandexMessage `json:"message"`
			Status  string        `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
		} `json:"usage"`
	} `json:"result"`
}

func (p *YandexProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error) {
	if p.apiKey == "" {
		return nil, errors.New("yandex api key is required")
	}
	body := yandexRequest{
		ModelURI: p.modelURI,
		CompletionOptions: yandexCompletionOptions{
			Stream:      false,
			Temperature: p.temperature,
			MaxTokens:   strconv.Itoa(p.maxTokens),
		},
		Messages: renderYandexMessages(messages, tools),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("yandex: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("yandex: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yandex: request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("yandex: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "yandex", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var decoded yandexResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("yandex: decode response: %w", err)
	}
	if len(decoded.Result.Alternatives) == 0 {
		return NewStaticStream(Chunk{FinishReason: FinishStop}), nil
	}
	alt := decoded.Result.Alternatives[0]
	chunk := Chunk{Content: alt.Message.Text, FinishReason: yandexFinishReason(alt.Status)}
	prompt, _ := strconv.Atoi(decoded.Result.Usage.InputTextTokens)
	completion, _ := strconv.Atoi(decoded.Result.Usage.CompletionTokens)
	if prompt > 0 || completion > 0 {
		chunk.Usage = &Usage{PromptTokens: prompt, CompletionTokens: completion}
	}
	return NewStaticStream(chunk), nil
}

func yandexFinishReason(status string) string {
	switch status {
	case yandexStatusContentFilter:
		return FinishContentFilter
	case yandexStatusTruncated:
		return FinishLength
	default:
		return FinishStop
	}
}

// renderYandexMessages flattens tool traffic into text turns: assistant
// tool-call turns become "Вызываю функции: ..." and tool outputs become user
// turns. Roles are then forced to alternate.
func renderYandexMessages(messages []Message, tools []Tool) []yandexMessage {
	out := make([]yandexMessage, 0, len(messages)+1)
	var turns []Message
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			text := m.Content
			if len(tools) > 0 {
				text += "\n\n" + RenderToolCatalog(tools)
			}
			out = append(out, yandexMessage{Role: RoleSystem, Text: text})
		case RoleTool:
			turns = append(turns, Message{
				Role: RoleUser,
				Content: fmt.Sprintf(ToolResultPrefix+" (call_id=%s):\n%s\n\n"+
					"Теперь проанализируй результат и ответь клиенту. Если нужно, вызови следующую функцию.",
					m.ToolCallID, m.Content),
			})
		case RoleAssistant:
			text := m.Content
			if len(m.ToolCalls) > 0 {
				calls := make([]string, 0, len(m.ToolCalls))
				for _, call := range m.ToolCalls {
					calls = append(calls, call.Name+"("+call.Arguments+")")
				}
				text = strings.TrimSpace(text + "\nВызываю функции: " + strings.Join(calls, ", "))
			}
			turns = append(turns, Message{Role: RoleAssistant, Content: text})
		default:
			turns = append(turns, Message{Role: m.Role, Content: m.Content})
		}
	}
	for _, m := range EnsureAlternation(turns) {
		out = append(out, yandexMessage{Role: m.Role, Text: m.Content})
	}
	return out
}

// EnsureAlternation inserts a placeholder turn of the opposite role between
// two consecutive user or assistant turns. The input is not modified.
func EnsureAlternation(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && (m.Role == RoleUser || m.Role == RoleAssistant) {
			placeholder := RoleAssistant
			if m.Role == RoleAssistant {
				placeholder = RoleUser
			}
			out = append(out, Message{Role: placeholder, Content: RolePlaceholder})
		}
		out = append(out, m)
	}
	return out
}

// RenderToolCatalog describes tools as text for providers without native
// tool calling, including the call syntax the recovery parser understands.
func RenderToolCatalog(tools []Tool) string {
	var b strings.Builder
	b.WriteString("ДОСТУПНЫЕ ФУНКЦИИ. Чтобы вызвать функцию, ответь ТОЛЬКО строкой вида имя_функции(параметр=значение, ...), без пояснений.\n")
	for _, tool := range tools {
		b.WriteString("- ")
		b.WriteString(tool.Name)
		b.WriteString(": ")
		b.WriteString(tool.Description)
		if props, ok := tool.Parameters["properties"].(map[string]interface{}); ok && len(props) > 0 {
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			sort.Strings(names)
			b.WriteString(" Параметры: ")
			b.WriteString(strings.Join(names, ", "))
			if required, ok := tool.Parameters["required"].([]string); ok && len(required) > 0 {
				b.WriteString(" (обязательные: ")
				b.WriteString(strings.Join(required, ", "))
				b.WriteString(")")
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
