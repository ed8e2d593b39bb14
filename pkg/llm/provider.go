package llm

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
)

type Provider interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error)
}

type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Finish reasons normalized across providers.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

type Chunk struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"-"`
}

type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall is one structured invocation. Index is the position within the
// provider response; streamed deltas for the same call share it.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Response is a fully drained stream.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Collect drains the stream, concatenating content and merging tool-call
// deltas by index (falling back to id) in issue order.
func Collect(stream Stream) (Response, error) {
	defer stream.Close()

	var (
		resp    Response
		content strings.Builder
		calls   = map[int]*ToolCall{}
		byID    = map[string]int{}
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return resp, err
		}
		content.WriteString(chunk.Content)
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		for _, delta := range chunk.ToolCalls {
			idx := delta.Index
			if delta.ID != "" {
				if known, ok := byID[delta.ID]; ok {
					idx = known
				} else {
					if taken, ok := calls[idx]; ok && taken.ID != "" {
						idx = nextFreeIndex(calls)
					}
					byID[delta.ID] = idx
				}
			}
			existing, ok := calls[idx]
			if !ok {
				cp := delta
				cp.Index = idx
				calls[idx] = &cp
				continue
			}
			if existing.ID == "" {
				existing.ID = delta.ID
			}
			if existing.Name == "" {
				existing.Name = delta.Name
			}
			existing.Arguments += delta.Arguments
		}
	}

	resp.Content = content.String()
	if len(calls) > 0 {
		indexes := make([]int, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			resp.ToolCalls = append(resp.ToolCalls, *calls[idx])
		}
		if resp.FinishReason == "" {
			resp.FinishReason = FinishToolCalls
		}
	}
	if resp.FinishReason == "" {
		resp.FinishReason = FinishStop
	}
	return resp, nil
}

func nextFreeIndex(calls map[int]*ToolCall) int {
	next := 0
	for idx := range calls {
		if idx >= next {
			next = idx + 1
		}
	}
	return next
}

// StaticStream replays a fixed list of chunks. Non-streaming providers and
// decorators return it.
type StaticStream struct {
	chunks []Chunk
	pos    int
}

func NewStaticStream(chunks ...Chunk) *StaticStream {
	return &StaticStream{chunks: chunks}
}

func (s *StaticStream) Recv() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *StaticStream) Close() error { return nil }

type sseStream struct {
	resp   *http.Response
	reader *bufio.Reader
	decode func([]byte) (Chunk, error)
}

func newSSEStream(resp *http.Response, decode func([]byte) (Chunk, error)) Stream {
	return &sseStream{
		resp:   resp,
		reader: bufio.NewReader(resp.Body),
		decode: decode,
	}
}

func (s *sseStream) Close() error {
	return s.resp.Body.Close()
}

func (s *sseStream) Recv() (Chunk, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return Chunk{}, err
		}
		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			return Chunk{}, io.EOF
		}
		chunk, err := s.decode(data)
		if err != nil {
			return Chunk{}, err
		}
		if chunk.Content == "" && len(chunk.ToolCalls) == 0 && chunk.FinishReason == "" && chunk.Usage == nil {
			continue
		}
		return chunk, nil
	}
}

func (s *sseStream) readEvent() ([]byte, error) {
	var dataLines []string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if errors.Is(err, io.EOF) {
			if len(dataLines) > 0 {
				return []byte(strings.Join(dataLines, "\n")), nil
			}
			return nil, io.EOF
		}
	}
}
