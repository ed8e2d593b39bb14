// Package conversation owns the turn history of one session: appending
// turns, grouping them into atomic tool-call blocks, trimming and repair.
package conversation

import (
	"strings"

	"github.com/rebekaee1/mgp-v2/internal/textnorm"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// NudgePrefix starts the corrective user turns the agent injects itself.
const NudgePrefix = "СИСТЕМНАЯ ПОДСКАЗКА:"

// Prefixes of user turns synthesized by the agent itself (tool results fed
// back as text, nudges). They are never treated as client statements.
var synthesizedPrefixes = []string{
	"Результаты вызванных функций",
	"Результаты запросов:",
	NudgePrefix,
}

type ToolInvocation struct {
	ID        string
	Name      string
	Arguments string
}

type Turn struct {
	Role       Role
	Content    string
	ToolCalls  []ToolInvocation
	ToolCallID string
}

// IsToolCall reports whether the turn is an assistant turn carrying invocations.
func (t Turn) IsToolCall() bool {
	return t.Role == RoleAssistant && len(t.ToolCalls) > 0
}

// IsSynthesized reports whether a user turn was generated by the agent.
func (t Turn) IsSynthesized() bool {
	if t.Role != RoleUser {
		return false
	}
	content := strings.TrimSpace(t.Content)
	for _, prefix := range synthesizedPrefixes {
		if strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

// History is an ordered list of turns. It is not safe for concurrent use;
// the session layer serializes access.
type History struct {
	turns []Turn
}

func NewHistory(turns ...Turn) *History {
	h := &History{}
	h.turns = append(h.turns, turns...)
	return h
}

func (h *History) Append(turns ...Turn) {
	h.turns = append(h.turns, turns...)
}

// AppendBlock appends an assistant tool-call turn together with its results.
func (h *History) AppendBlock(call Turn, results []Turn) {
	h.turns = append(h.turns, call)
	h.turns = append(h.turns, results...)
}

func (h *History) Len() int { return len(h.turns) }

// Turns returns a copy of the history.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

func (h *History) Reset() {
	h.turns = nil
}

// UserTexts returns client-authored user turns, folded, oldest first.
func (h *History) UserTexts() []string {
	var out []string
	for _, t := range h.turns {
		if t.Role != RoleUser || t.IsSynthesized() {
			continue
		}
		out = append(out, textnorm.Fold(t.Content))
	}
	return out
}

// UserText concatenates all client-authored text.
func (h *History) UserText() string {
	return strings.Join(h.UserTexts(), "\n")
}

// LastUserTexts returns the last n client-authored user texts.
func (h *History) LastUserTexts(n int) []string {
	texts := h.UserTexts()
	if n > 0 && len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return texts
}

// LastUserText returns the latest client-authored text.
func (h *History) LastUserText() string {
	texts := h.LastUserTexts(1)
	if len(texts) == 0 {
		return ""
	}
	return texts[0]
}

// Messages renders the history for a provider.
func (h *History) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(h.turns))
	for _, t := range h.turns {
		msg := llm.Message{Role: string(t.Role), Content: t.Content, ToolCallID: t.ToolCallID}
		for i, call := range t.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{Index: i, ID: call.ID, Name: call.Name, Arguments: call.Arguments})
		}
		out = append(out, msg)
	}
	return out
}
