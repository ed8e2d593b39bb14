package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rebekaee1/mgp-v2/internal/conversation"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

const (
	defaultMaxIterations = 15
	defaultMaxHistory    = 40
	minKeptBlocks        = 6
	toolConcurrency      = 3

	largeToolOutput   = 2000
	regularToolOutput = 1000
)

// Texts the client sees when the loop gives up or a safety net answers.
const (
	greetingText       = "Здравствуйте! Я помогу вам подобрать тур. Куда хотите поехать?"
	rateLimitedText    = "Сервис временно перегружен. Подождите несколько секунд и повторите."
	tooLongText        = "Извините, диалог стал слишком длинным. Пожалуйста, начните новый чат."
	genericFailureText = "Произошла временная ошибка. Попробуйте ещё раз или начните новый чат."
	ceilingText        = "Извините, запрос оказался слишком сложным. Попробуйте ещё раз или уточните параметры."
	contentFilterText  = "Извините, произошла ошибка. Попробуйте переформулировать запрос или начните новый чат."
	foundOffersText    = "Вот что нашёл по вашему запросу! Посмотрите варианты и скажите, какой заинтересовал, расскажу подробнее."
	emptyReplyText     = "Извините, не удалось обработать запрос. Попробуйте переформулировать."
	rejectedCallText   = "К сожалению, я не могу найти эту информацию в данный момент. Могу помочь с подбором туров, информацией об отелях или горящими предложениями. Чем ещё могу помочь?"
	resultLeakFallback = "Я обработал ваш запрос. Чем могу помочь?"
)

// Corrective instructions injected as user turns.
const (
	emptyNudge      = "Продолжи обработку моего запроса на основе полученных данных."
	promiseNudge    = "СИСТЕМНАЯ ОШИБКА: Ты ОПИСАЛ намерение поиска текстом, но НЕ вызвал функцию. НЕМЕДЛЕННО вызови get_current_date(), затем search_tours() с собранными параметрами. НИКОГДА не пиши 'сейчас поищу', ВЫЗЫВАЙ функцию!"
	midSearchNudge  = "СИСТЕМНАЯ ОШИБКА: search_tours вернул requestid, но ты НЕ вызвал get_search_status и get_search_results. НЕМЕДЛЕННО вызови get_search_status(requestid=%s). НЕ отвечай клиенту пока не получишь результаты через get_search_results!"
	resultLeakNudge = "Ответь клиенту нормальным текстом, НЕ показывай сырые данные функций. Если нужно вызвать ещё функцию, вызови."
)

var rejectedCallNudge = "Эта функция недоступна. Используй ТОЛЬКО доступные функции: " + strings.Join(ToolNames, ", ") +
	". Если нужная информация недоступна через функции, скажи клиенту об этом вежливо и предложи альтернативу."

type loopState int

const (
	stateAwaitModel loopState = iota
	stateHandleToolCalls
	stateHandleFinalText
	stateDone
	stateFailed
)

// Reply is the outcome of one client message.
type Reply struct {
	Text       string      `json:"reply"`
	OfferCards []OfferCard `json:"tour_cards"`
}

type OrchestratorConfig struct {
	Provider      llm.Provider
	Dispatcher    *Dispatcher
	Logger        logging.Logger
	SystemPrompt  string
	MaxIterations int
	MaxHistory    int
	// Sleep waits between retries of a failed model call.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs the model/tool loop for one message at a time per
// session.
type Orchestrator struct {
	provider      llm.Provider
	dispatcher    *Dispatcher
	logger        logging.Logger
	prompt        string
	maxIterations int
	maxHistory    int
	sleep         func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	prompt := cfg.SystemPrompt
	if strings.TrimSpace(prompt) == "" {
		prompt = SystemPrompt
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Orchestrator{
		provider:      NewRecoveringProvider(cfg.Provider, ToolNames, cfg.Logger),
		dispatcher:    cfg.Dispatcher,
		logger:        cfg.Logger,
		prompt:        prompt,
		maxIterations: maxIterations,
		maxHistory:    maxHistory,
		sleep:         sleep,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// turn is the bookkeeping of one client message. Every safety net has its
// own retry budget.
type turn struct {
	iteration int
	resp      llm.Response
	reply     string
	// greeting renders a greeting before the first user turn; it steers
	// content filters away from a bare first message.
	greeting bool

	filterRetries    int
	emptyRetries     int
	promiseRetries   int
	midSearchRetries int
	rejectedRetries  int
	leakRetries      int
	// toolOutputs holds what this turn's tools returned, as sent to the model.
	toolOutputs []string

	contextRetries   int
	malformedRetries int
	transientRetries int
	geoRetries       int
}

// Run handles one client message against st. The caller serializes calls
// per session.
func (o *Orchestrator) Run(ctx context.Context, st *State, text string) (Reply, error) {
	if o == nil || o.provider == nil || o.dispatcher == nil {
		return Reply{}, errors.New("orchestrator is not configured")
	}
	started := time.Now()

	st.mu.Lock()
	st.PendingOffers = nil
	st.mu.Unlock()
	st.Metrics.Inc(MetricTotalMessages)
	st.History.Append(conversation.Turn{Role: conversation.RoleUser, Content: text})
	if dropped := st.History.Trim(o.maxHistory, minKeptBlocks); dropped > 0 {
		o.logger.WithField("dropped_turns", dropped).Debug("Trimmed history")
	}
	st.collectSlots(text)

	t := &turn{}
	state := stateAwaitModel
	for {
		switch state {
		case stateAwaitModel:
			if err := ctx.Err(); err != nil {
				return Reply{}, err
			}
			if t.iteration >= o.maxIterations {
				o.logger.WithField("iterations", t.iteration).Warn("Iteration ceiling reached")
				t.reply = ceilingText
				state = stateFailed
				continue
			}
			t.iteration++
			resp, err := o.complete(ctx, st, t)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return Reply{}, ctxErr
				}
				state = o.recoverFailure(ctx, st, t, err)
				continue
			}
			t.resp = resp
			if len(resp.ToolCalls) > 0 {
				state = stateHandleToolCalls
			} else {
				state = stateHandleFinalText
			}

		case stateHandleToolCalls:
			t.toolOutputs = append(t.toolOutputs, o.executeTools(ctx, st, t.resp)...)
			state = stateAwaitModel

		case stateHandleFinalText:
			state = o.handleFinalText(st, t)

		case stateDone, stateFailed:
			if state == stateDone {
				st.History.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: t.reply})
			}
			reply := Reply{Text: t.reply, OfferCards: st.Offers()}
			o.logger.WithFields(logging.Fields{
				"iterations":  t.iteration,
				"failed":      state == stateFailed,
				"offers":      len(reply.OfferCards),
				"duration_ms": time.Since(started).Milliseconds(),
			}).Info("Message handled")
			return reply, nil
		}
	}
}

// render builds the provider messages: the system instruction, then the
// history. The greeting is only rendered, never stored.
func (o *Orchestrator) render(st *State, greeting bool) []llm.Message {
	history := st.History.Messages()
	out := make([]llm.Message, 0, len(history)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: systemInstruction(o.prompt, st)})
	for _, m := range history {
		if greeting && m.Role == llm.RoleUser {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: greetingText})
			greeting = false
		}
		out = append(out, m)
	}
	return out
}

func (o *Orchestrator) complete(ctx context.Context, st *State, t *turn) (llm.Response, error) {
	start := time.Now()
	stream, err := o.provider.Complete(ctx, o.render(st, t.greeting), Tools)
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		llmDuration.Observe(time.Since(start).Seconds())
		return llm.Response{}, err
	}
	resp, err := llm.Collect(stream)
	llmDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		llmCallsTotal.WithLabelValues("error").Inc()
		return llm.Response{}, err
	}
	llmCallsTotal.WithLabelValues("success").Inc()
	llmTokensTotal.WithLabelValues("input").Add(float64(resp.Usage.PromptTokens))
	llmTokensTotal.WithLabelValues("output").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// recoverFailure picks the next state after a failed model call.
func (o *Orchestrator) recoverFailure(ctx context.Context, st *State, t *turn, err error) loopState {
	kind := classifyProviderError(err)
	log := o.logger.WithError(err).WithFields(logging.Fields{
		"failure":   kind.String(),
		"iteration": t.iteration,
	})
	switch kind {
	case failureRateLimited:
		log.Warn("LLM rate limited")
		t.reply = rateLimitedText
		return stateFailed
	case failureContextTooLarge:
		if t.contextRetries < 2 && st.History.Len() > 8 {
			t.contextRetries++
			log.WithField("dropped_turns", st.History.ShrinkHeadTail(2, 4)).Warn("Context too large, shrinking history")
			return stateAwaitModel
		}
		t.reply = tooLongText
		return stateFailed
	case failureMalformed:
		if t.malformedRetries < 1 {
			t.malformedRetries++
			log.WithField("removed_turns", st.History.Repair()).Warn("Malformed request, repairing history")
			return stateAwaitModel
		}
	case failureTransient:
		if t.transientRetries < 2 {
			t.transientRetries++
			log.Warn("Transient LLM failure, retrying")
			if o.sleep(ctx, 2*time.Second) == nil {
				return stateAwaitModel
			}
		}
	case failureGeoBlocked:
		if t.geoRetries < 2 {
			t.geoRetries++
			log.Warn("LLM request refused, retrying")
			if o.sleep(ctx, 3*time.Second) == nil {
				return stateAwaitModel
			}
		}
	}
	log.Error("LLM call failed")
	t.reply = genericFailureText
	return stateFailed
}

// executeTools runs the calls of one response and appends them with their
// results as one block. Several calls run concurrently, results keep the
// model's order. It returns the outputs as stored in the history.
func (o *Orchestrator) executeTools(ctx context.Context, st *State, resp llm.Response) []string {
	calls := append([]llm.ToolCall(nil), resp.ToolCalls...)
	recovered := false
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
		if strings.HasPrefix(calls[i].ID, RecoveredIDPrefix) {
			recovered = true
		}
	}
	if recovered {
		st.Metrics.Inc(MetricPlaintextRecoveries)
	}

	outputs := make([]string, len(calls))
	if len(calls) == 1 {
		outputs[0] = o.dispatcher.Dispatch(ctx, st, calls[0].Name, calls[0].Arguments)
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, toolConcurrency)
		for i, call := range calls {
			wg.Add(1)
			go func(idx int, c llm.ToolCall) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outputs[idx] = o.dispatcher.Dispatch(ctx, st, c.Name, c.Arguments)
			}(i, call)
		}
		wg.Wait()
	}

	invocations := make([]conversation.ToolInvocation, len(calls))
	results := make([]conversation.Turn, len(calls))
	stored := make([]string, len(calls))
	for i, c := range calls {
		invocations[i] = conversation.ToolInvocation{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
		limit := regularToolOutput
		if largeOutputTools[c.Name] {
			limit = largeToolOutput
		}
		stored[i] = truncateRunes(outputs[i], limit)
		results[i] = conversation.Turn{
			Role:       conversation.RoleTool,
			Content:    stored[i],
			ToolCallID: c.ID,
		}
	}
	st.History.AppendBlock(conversation.Turn{
		Role:      conversation.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: invocations,
	}, results)
	return stored
}

// nudge stores the model's unusable reply, if worth keeping, and a
// corrective user turn.
func (o *Orchestrator) nudge(st *State, reply, instruction, reason string) {
	sanitizerActionsTotal.WithLabelValues(reason).Inc()
	o.logger.WithField("reason", reason).Info("Nudging model")
	if reply != "" {
		st.History.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: reply})
	}
	st.History.Append(conversation.Turn{
		Role:    conversation.RoleUser,
		Content: conversation.NudgePrefix + " " + instruction,
	})
}

// handleFinalText applies the sanitizer and the safety nets to a reply
// without tool calls.
func (o *Orchestrator) handleFinalText(st *State, t *turn) loopState {
	text := strings.TrimSpace(t.resp.Content)

	if t.resp.FinishReason == llm.FinishContentFilter || selfModerated(text) {
		if t.filterRetries < 3 {
			t.filterRetries++
			t.greeting = true
			sanitizerActionsTotal.WithLabelValues("content_filter_retry").Inc()
			o.logger.WithField("attempt", t.filterRetries).Warn("Reply filtered, retrying with greeting")
			return stateAwaitModel
		}
		t.reply = contentFilterText
		return stateFailed
	}
	if t.resp.FinishReason == llm.FinishLength {
		text = cutAtSentence(text)
	}

	text, actions := Sanitize(text)
	if len(actions) > 0 {
		o.logger.WithField("actions", actions).Debug("Reply sanitized")
	}

	if text == "" {
		if t.emptyRetries < 3 {
			t.emptyRetries++
			o.nudge(st, "", emptyNudge, "empty_reply")
			return stateAwaitModel
		}
		t.reply = emptyReplyText
		if len(st.Offers()) > 0 {
			t.reply = foundOffersText
		}
		return stateDone
	}

	if leaksResults(text, t.toolOutputs) {
		st.Metrics.Inc(MetricResultLeakFiltered)
		if len(st.Offers()) > 0 {
			t.reply = foundOffersText
			return stateDone
		}
		if t.leakRetries < 3 {
			t.leakRetries++
			o.nudge(st, "", resultLeakNudge, "result_leak")
			return stateAwaitModel
		}
		t.reply = resultLeakFallback
		return stateDone
	}

	if mentionsRejectedCall(text) {
		st.Metrics.Inc(MetricRejectedToolCalls)
		if t.rejectedRetries < 3 {
			t.rejectedRetries++
			o.nudge(st, "", rejectedCallNudge, "rejected_tool_call")
			return stateAwaitModel
		}
		t.reply = rejectedCallText
		return stateDone
	}

	if awaiting, requestID := st.awaiting(); awaiting {
		if t.midSearchRetries < 3 {
			t.midSearchRetries++
			o.nudge(st, text, fmt.Sprintf(midSearchNudge, requestID), "mid_search_stop")
			return stateAwaitModel
		}
		st.mu.Lock()
		st.SearchAwaitingResults = false
		st.mu.Unlock()
	}

	if promisesAction(text) && t.promiseRetries < 2 {
		t.promiseRetries++
		st.Metrics.Inc(MetricPromisedSearch)
		o.nudge(st, text, promiseNudge, "promised_action")
		return stateAwaitModel
	}

	t.reply = text
	return stateDone
}
