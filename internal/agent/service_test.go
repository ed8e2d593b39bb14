package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/ctxkeys"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

type fakeRecorder struct {
	turns     []TurnRecord
	closed    []string
	recordErr error
}

func (r *fakeRecorder) RecordTurn(_ context.Context, rec TurnRecord) error {
	r.turns = append(r.turns, rec)
	return r.recordErr
}

func (r *fakeRecorder) CloseConversation(_ context.Context, sessionID string) error {
	r.closed = append(r.closed, sessionID)
	return nil
}

func newTestService(t *testing.T, provider llm.Provider, inv Inventory, rec Recorder) *Service {
	t.Helper()
	return NewService(ServiceConfig{
		Orchestrator: newTestOrchestrator(t, provider, inv),
		Logger:       logging.NewDiscardLogger(),
		Recorder:     rec,
	})
}

func TestHandleMessageValidates(t *testing.T) {
	s := newTestService(t, &scriptedProvider{}, newFakeInventory(), nil)
	if _, err := s.HandleMessage(context.Background(), " ", "Привет"); !errors.Is(err, ErrEmptySession) {
		t.Fatalf("err = %v, want ErrEmptySession", err)
	}
	if _, err := s.HandleMessage(context.Background(), "s1", "  \n"); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if s.ActiveSessions() != 0 {
		t.Fatal("invalid input must not create a session")
	}
}

func TestHandleMessageRecordsTurn(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestService(t, &scriptedProvider{steps: []step{reply("Куда хотите поехать?")}}, newFakeInventory(), rec)
	ctx := ctxkeys.WithClient(context.Background(), "203.0.113.7", "curl/8.0")

	got, err := s.HandleMessage(ctx, "s1", "  Привет  ")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got.Text != "Куда хотите поехать?" || got.OfferCards == nil {
		t.Fatalf("reply = %+v", got)
	}
	if len(rec.turns) != 1 {
		t.Fatalf("recorded %d turns", len(rec.turns))
	}
	turn := rec.turns[0]
	if turn.SessionID != "s1" || turn.UserText != "Привет" || turn.ClientIP != "203.0.113.7" || turn.UserAgent != "curl/8.0" {
		t.Fatalf("record = %+v", turn)
	}
}

func TestHandleMessageIgnoresRecorderFailure(t *testing.T) {
	rec := &fakeRecorder{recordErr: errors.New("db down")}
	s := newTestService(t, &scriptedProvider{steps: []step{reply("Куда хотите поехать?")}}, newFakeInventory(), rec)

	if _, err := s.HandleMessage(context.Background(), "s1", "Привет"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

func TestHandleMessageRecordsSearches(t *testing.T) {
	inv := newFakeInventory()
	inv.pollErr = &tourvisor.NoResultsError{Message: "Туров не найдено"}
	provider := &scriptedProvider{steps: []step{
		calls(llm.ToolCall{ID: "s1", Name: ToolSearchTours, Arguments: searchArgs()}),
		calls(llm.ToolCall{ID: "s2", Name: ToolSearchStatus, Arguments: `{"requestid":"9001"}`}),
		reply("К сожалению, на эти даты туров нет. Попробуем другие даты?"),
	}}
	rec := &fakeRecorder{}
	s := newTestService(t, provider, inv, rec)

	if _, err := s.HandleMessage(context.Background(), "s1", completeRequest); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	searches := rec.turns[0].Searches
	if len(searches) != 1 {
		t.Fatalf("recorded %d searches", len(searches))
	}
	got := searches[0]
	if got.RequestID != "9001" || got.Type != SearchRegular || got.Country != 4 || !got.Completed {
		t.Fatalf("search = %+v", got)
	}
}

func TestHandleMessagePropagatesCancel(t *testing.T) {
	rec := &fakeRecorder{}
	s := newTestService(t, &scriptedProvider{}, newFakeInventory(), rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.HandleMessage(ctx, "s1", "Привет"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(rec.turns) != 0 {
		t.Fatal("a failed message must not be recorded")
	}
}

func TestResetAndMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	provider := &scriptedProvider{steps: []step{reply("Куда хотите поехать?"), reply("Из какого города?")}}
	s := newTestService(t, provider, newFakeInventory(), rec)
	ctx := context.Background()

	if _, err := s.GetMetrics("s1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("err = %v, want ErrUnknownSession", err)
	}
	for _, id := range []string{"s1", "s2"} {
		if _, err := s.HandleMessage(ctx, id, "Привет"); err != nil {
			t.Fatalf("HandleMessage(%s): %v", id, err)
		}
	}
	m, err := s.GetMetrics("s1")
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m[MetricTotalMessages] != 1 || m[MetricPromisedSearch] != 0 {
		t.Fatalf("metrics = %v", m)
	}
	if total := s.AggregateMetrics(); total[MetricTotalMessages] != 2 {
		t.Fatalf("aggregate = %v", total)
	}

	s.Reset(ctx, "s1")
	s.Reset(ctx, "unknown")
	if _, err := s.GetMetrics("s1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatal("reset session must be gone")
	}
	if len(rec.closed) != 1 || rec.closed[0] != "s1" {
		t.Fatalf("closed = %v", rec.closed)
	}
	if s.ActiveSessions() != 1 {
		t.Fatalf("active = %d", s.ActiveSessions())
	}
}
