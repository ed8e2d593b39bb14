package agent

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/conversation"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

var fixedNow = time.Date(2030, time.March, 10, 15, 30, 0, 0, time.UTC)

// fakeInventory records calls and answers from its fields.
type fakeInventory struct {
	mu sync.Mutex

	submitted []tourvisor.SearchParams
	submitID  string
	submitErr error

	status     tourvisor.Status
	outcome    tourvisor.PollOutcome
	pollErr    error
	page       tourvisor.ResultPage
	resultsErr error

	actualized   map[string]any
	actualizeErr error
	detail     map[string]any
	detailErr  error
	hotel      map[string]any
	hotTours   []tourvisor.HotTour
	hotParams  []tourvisor.HotToursParams
	dict       map[string][]tourvisor.Entry
	dictArgs   []url.Values
	regions    []tourvisor.Entry
	calls      map[string]int
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{submitID: "9001", calls: map[string]int{}}
}

func (f *fakeInventory) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeInventory) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeInventory) Submit(_ context.Context, p tourvisor.SearchParams) (string, error) {
	f.count("submit")
	f.mu.Lock()
	f.submitted = append(f.submitted, p)
	f.mu.Unlock()
	return f.submitID, f.submitErr
}

func (f *fakeInventory) Poll(_ context.Context, _ string, _ tourvisor.PollOptions) (tourvisor.Status, tourvisor.PollOutcome, error) {
	f.count("poll")
	return f.status, f.outcome, f.pollErr
}

func (f *fakeInventory) Results(_ context.Context, _ string, _, _ int) (tourvisor.ResultPage, error) {
	f.count("results")
	return f.page, f.resultsErr
}

func (f *fakeInventory) Continue(_ context.Context, _ string) (string, error) {
	f.count("continue")
	return "2", nil
}

func (f *fakeInventory) Actualize(_ context.Context, _ string, _, _ int) (map[string]any, error) {
	f.count("actualize")
	return f.actualized, f.actualizeErr
}

func (f *fakeInventory) Detail(_ context.Context, _ string, _ int) (map[string]any, error) {
	f.count("detail")
	return f.detail, f.detailErr
}

func (f *fakeInventory) HotelInfo(_ context.Context, _ string, _ bool) (map[string]any, error) {
	f.count("hotel")
	return f.hotel, nil
}

func (f *fakeInventory) HotTours(_ context.Context, p tourvisor.HotToursParams) ([]tourvisor.HotTour, error) {
	f.count("hot")
	f.mu.Lock()
	f.hotParams = append(f.hotParams, p)
	f.mu.Unlock()
	return f.hotTours, nil
}

func (f *fakeInventory) Dictionary(_ context.Context, kind string, extra url.Values) ([]tourvisor.Entry, error) {
	f.count("dict:" + kind)
	f.mu.Lock()
	f.dictArgs = append(f.dictArgs, extra)
	f.mu.Unlock()
	entries, ok := f.dict[kind]
	if !ok {
		return nil, tourvisor.ErrUnknownDictionary
	}
	return entries, nil
}

func (f *fakeInventory) Regions(_ context.Context, _ int) ([]tourvisor.Entry, error) {
	f.count("regions")
	return f.regions, nil
}

func newTestDispatcher(inv Inventory) *Dispatcher {
	return NewDispatcher(inv, logging.NewDiscardLogger(),
		WithClock(func() time.Time { return fixedNow }),
	)
}

func stateWith(userTexts ...string) *State {
	st := NewState()
	for _, text := range userTexts {
		st.History.Append(conversation.Turn{Role: conversation.RoleUser, Content: text})
	}
	return st
}

// scriptedProvider replays one step per Complete call and records the
// messages it was sent.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []step
	sent  [][]llm.Message
}

type step struct {
	resp llm.Response
	err  error
}

func reply(text string) step {
	return step{resp: llm.Response{Content: text, FinishReason: llm.FinishStop}}
}

func calls(tc ...llm.ToolCall) step {
	return step{resp: llm.Response{ToolCalls: tc, FinishReason: llm.FinishToolCalls}}
}

func failure(err error) step { return step{err: err} }

func (p *scriptedProvider) Complete(_ context.Context, messages []llm.Message, _ []llm.Tool) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, append([]llm.Message(nil), messages...))
	if len(p.steps) == 0 {
		return nil, errors.New("scriptedProvider: no steps left")
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	chunk := llm.Chunk{Content: s.resp.Content, ToolCalls: s.resp.ToolCalls, FinishReason: s.resp.FinishReason}
	return llm.NewStaticStream(chunk), nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func newTestOrchestrator(t *testing.T, provider llm.Provider, inv Inventory) *Orchestrator {
	t.Helper()
	return NewOrchestrator(OrchestratorConfig{
		Provider:   provider,
		Dispatcher: newTestDispatcher(inv),
		Logger:     logging.NewDiscardLogger(),
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
}
