package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rebekaee1/mgp-v2/pkg/llm"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// RecoveredIDPrefix starts the ids of tool calls parsed out of plain text.
const RecoveredIDPrefix = "plaintext_"

const maxRecoverableText = 5000

// RecoveringProvider wraps a provider whose model sometimes writes tool
// calls as text instead of returning them structured. Such responses are
// rewritten into structured calls to the known tools.
type RecoveringProvider struct {
	inner  llm.Provider
	logger logging.Logger
	known  map[string]bool

	callRx    *regexp.Regexp
	newlineRx *regexp.Regexp
	markerRx  *regexp.Regexp
}

var jsonCallRx = regexp.MustCompile(`(?s)(\{[^{}]*"(?:calls|function)"[^{}]*(?:\{[^{}]*\}[^{}]*)*\})`)

func NewRecoveringProvider(inner llm.Provider, toolNames []string, logger logging.Logger) *RecoveringProvider {
	quoted := make([]string, len(toolNames))
	known := make(map[string]bool, len(toolNames))
	for i, name := range toolNames {
		quoted[i] = regexp.QuoteMeta(name)
		known[name] = true
	}
	names := strings.Join(quoted, "|")
	return &RecoveringProvider{
		inner:     inner,
		logger:    logger,
		known:     known,
		callRx:    regexp.MustCompile(`(?is)(?:` + "```" + `\w*\s*)?\b(` + names + `)\s*\(([^)]*)\)(?:\s*` + "```" + `)?`),
		newlineRx: regexp.MustCompile(`(?is)\b(` + names + `)\s*\n\s*(\{[^}]+\})`),
		markerRx:  regexp.MustCompile(`(?is)\[TOOL_CALL_START\]\s*(` + names + `)\s*(?:\n\s*(\{[^}]+\}))?`),
	}
}

func (p *RecoveringProvider) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (llm.Stream, error) {
	stream, err := p.inner.Complete(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		return nil, err
	}
	usage := &llm.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}

	if len(resp.ToolCalls) == 0 {
		if calls := p.Parse(resp.Content); len(calls) > 0 {
			names := make([]string, len(calls))
			for i, c := range calls {
				names[i] = c.Name
			}
			p.logger.WithField("tools", names).Info("Recovered tool calls from plain text")
			return llm.NewStaticStream(llm.Chunk{
				ToolCalls:    calls,
				FinishReason: llm.FinishToolCalls,
				Usage:        usage,
			}), nil
		}
	}
	return llm.NewStaticStream(llm.Chunk{
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		FinishReason: resp.FinishReason,
		Usage:        usage,
	}), nil
}

type parsedCall struct {
	name string
	args map[string]any
}

// Parse extracts tool calls from text, deduplicated by name and arguments.
func (p *RecoveringProvider) Parse(text string) []llm.ToolCall {
	if strings.TrimSpace(text) == "" || len(text) > maxRecoverableText {
		return nil
	}
	var found []parsedCall
	for _, m := range p.callRx.FindAllStringSubmatch(text, -1) {
		if args, ok := parseKwargs(m[2]); ok {
			found = append(found, parsedCall{name: m[1], args: args})
		}
	}
	for _, m := range p.newlineRx.FindAllStringSubmatch(text, -1) {
		if args, ok := parseJSONArgs(m[2]); ok {
			found = append(found, parsedCall{name: m[1], args: args})
		}
	}
	for _, m := range p.markerRx.FindAllStringSubmatch(text, -1) {
		args := map[string]any{}
		if m[2] != "" {
			parsed, ok := parseJSONArgs(m[2])
			if !ok {
				continue
			}
			args = parsed
		}
		found = append(found, parsedCall{name: m[1], args: args})
	}
	if len(found) == 0 {
		for _, m := range jsonCallRx.FindAllStringSubmatch(text, -1) {
			found = append(found, p.jsonCalls(m[1])...)
		}
	}

	seen := map[string]bool{}
	var out []llm.ToolCall
	for _, c := range found {
		name := strings.ToLower(c.name)
		if !p.known[name] {
			continue
		}
		if len(c.args) == 0 && name != ToolCurrentDate {
			continue
		}
		raw, err := json.Marshal(c.args)
		if err != nil {
			continue
		}
		key := name + string(raw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, llm.ToolCall{
			Index:     len(out),
			ID:        fmt.Sprintf("%s%s_%d", RecoveredIDPrefix, name, len(out)),
			Name:      name,
			Arguments: string(raw),
		})
	}
	return out
}

// jsonCalls reads {"calls":[{"function":..,"arguments":..}]} or a single
// {"function":..,"arguments":..} object.
func (p *RecoveringProvider) jsonCalls(blob string) []parsedCall {
	var obj map[string]any
	if err := json.Unmarshal([]byte(blob), &obj); err != nil {
		return nil
	}
	entries := []any{obj}
	if calls, ok := obj["calls"].([]any); ok {
		entries = calls
	}
	var out []parsedCall
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["function"].(string)
		if name == "" {
			continue
		}
		var args map[string]any
		switch a := m["arguments"].(type) {
		case map[string]any:
			args = a
		case string:
			args, _ = parseJSONArgs(a)
		}
		if args == nil {
			args = map[string]any{}
		}
		out = append(out, parsedCall{name: name, args: args})
	}
	return out
}

func parseJSONArgs(s string) (map[string]any, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

// parseKwargs reads Python-style keyword arguments: a=1, b="x", c=None.
// A JSON object is accepted too.
func parseKwargs(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]any{}, true
	}
	if strings.HasPrefix(s, "{") {
		return parseJSONArgs(s)
	}
	args := map[string]any{}
	for _, part := range splitUnquoted(s, ',') {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		if key == "" {
			continue
		}
		args[key] = kwargValue(value)
	}
	return args, len(args) > 0
}

func splitUnquoted(s string, sep rune) []string {
	var (
		parts []string
		cur   strings.Builder
		quote rune
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == sep:
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	return append(parts, cur.String())
}

func kwargValue(v string) any {
	v = strings.TrimSpace(v)
	if n := len(v); n >= 2 && (v[0] == '"' && v[n-1] == '"' || v[0] == '\'' && v[n-1] == '\'') {
		return v[1 : n-1]
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	case "none", "null":
		return nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
