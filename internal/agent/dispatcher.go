package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/rebekaee1/mgp-v2/internal/repair"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// Inventory is the tour inventory the tools talk to. *tourvisor.Client
// satisfies it.
type Inventory interface {
	Submit(ctx context.Context, p tourvisor.SearchParams) (string, error)
	Poll(ctx context.Context, requestID string, opts tourvisor.PollOptions) (tourvisor.Status, tourvisor.PollOutcome, error)
	Results(ctx context.Context, requestID string, page, perPage int) (tourvisor.ResultPage, error)
	Continue(ctx context.Context, requestID string) (string, error)
	Actualize(ctx context.Context, tourID string, mode, currency int) (map[string]any, error)
	Detail(ctx context.Context, tourID string, currency int) (map[string]any, error)
	HotelInfo(ctx context.Context, hotelCode string, reviews bool) (map[string]any, error)
	HotTours(ctx context.Context, p tourvisor.HotToursParams) ([]tourvisor.HotTour, error)
	Dictionary(ctx context.Context, kind string, extra url.Values) ([]tourvisor.Entry, error)
	Regions(ctx context.Context, countryID int) ([]tourvisor.Entry, error)
}

// Dispatcher executes tool calls against the inventory and renders their
// results as JSON text for the model.
type Dispatcher struct {
	inv      Inventory
	repairer *repair.Repairer
	logger   logging.Logger
	now      func() time.Time
	poll     tourvisor.PollOptions
}

type DispatcherOption func(*Dispatcher)

// WithClock overrides the time source of the dispatcher and its repair layer.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithPollOptions overrides how long get_search_status waits.
func WithPollOptions(opts tourvisor.PollOptions) DispatcherOption {
	return func(d *Dispatcher) { d.poll = opts }
}

func NewDispatcher(inv Inventory, logger logging.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		inv:    inv,
		logger: logger,
		now:    time.Now,
		poll:   tourvisor.DefaultPollOptions(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.repairer = repair.New(logger, inv, repair.WithClock(d.now))
	return d
}

// refusal stops a tool call with an instruction for the model. The
// inventory is not contacted.
type refusal struct {
	Message string
	Hint    string
}

func (r *refusal) Error() string { return r.Message }

func refuse(format string, a ...any) *refusal {
	return &refusal{Message: fmt.Sprintf(format, a...)}
}

// Dispatch runs one tool call. It never fails: every error becomes a JSON
// object the model can read.
func (d *Dispatcher) Dispatch(ctx context.Context, st *State, name, rawArgs string) string {
	start := time.Now()
	log := d.logger.WithField("tool", name)

	args, err := toolargs.Parse(rawArgs)
	if err != nil {
		log.WithError(err).Warn("Invalid tool arguments")
		toolCallsTotal.WithLabelValues(name, "bad_args").Inc()
		return encode(map[string]any{
			"error": fmt.Sprintf("Ошибка: аргументы функции %s содержат невалидный JSON. Попробуй вызвать функцию заново с корректными аргументами.", name),
		})
	}
	log.WithField("args", truncateRunes(args.JSON(), 300)).Debug("Executing tool")

	result, err := d.route(ctx, st, name, args)
	if err != nil {
		return d.renderError(log, name, err)
	}
	out := encode(result)
	toolCallsTotal.WithLabelValues(name, "ok").Inc()
	log.WithFields(logging.Fields{
		"duration_ms": time.Since(start).Milliseconds(),
		"bytes":       len(out),
	}).Info("Tool executed")
	return out
}

func (d *Dispatcher) route(ctx context.Context, st *State, name string, args toolargs.Args) (any, error) {
	switch name {
	case ToolCurrentDate:
		return d.currentDate(), nil
	case ToolSearchTours:
		return d.searchTours(ctx, st, args)
	case ToolSearchStatus:
		return d.searchStatus(ctx, st, args)
	case ToolSearchResults:
		return d.searchResults(ctx, st, args)
	case ToolContinue:
		return d.continueSearch(ctx, st, args)
	case ToolDictionaries:
		return d.dictionaries(ctx, args)
	case ToolHotelInfo:
		return d.hotelInfo(ctx, args)
	case ToolActualize:
		return d.actualize(ctx, st, args)
	case ToolTourDetails:
		return d.tourDetails(ctx, st, args)
	case ToolHotTours:
		return d.hotTours(ctx, st, args)
	default:
		return nil, refuse("Неизвестная функция: %s", name)
	}
}

func (d *Dispatcher) renderError(log logrus.FieldLogger, name string, err error) string {
	var (
		ref    *refusal
		apiErr *tourvisor.APIError
	)
	status := "business_error"
	out := map[string]any{}
	switch {
	case errors.As(err, &ref):
		status = "rejected"
		out["status"] = "error"
		out["error"] = ref.Message
		if ref.Hint != "" {
			out["_hint"] = ref.Hint
		}
	case isCorrection(err):
		ce, _ := repair.AsCorrection(err)
		status = "rejected"
		out["error"] = ce.Message
		if ce.Hint != "" {
			out["_hint"] = ce.Hint
		}
	case isNoResults(err):
		nr, _ := tourvisor.IsNoResults(err)
		out["error"] = "Ошибка: " + nr.Message
		if nr.Hint != "" {
			out["_hint"] = nr.Hint
		}
	case errors.Is(err, tourvisor.ErrTourIDExpired):
		out["error"] = "Ошибка: тур устарел, tourid действует около суток после поиска. Запусти новый поиск через search_tours."
	case errors.Is(err, tourvisor.ErrSearchNotFound):
		out["error"] = "Ошибка: Поиск не найден (requestid недействителен). Запусти новый поиск через search_tours."
	case errors.As(err, &apiErr):
		out["error"] = "Ошибка: " + apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		out["error"] = "Ошибка: сервис туров не ответил вовремя. Попробуй ещё раз."
	default:
		status = "error"
		log.WithError(err).Error("Tool execution failed")
		out["error"] = fmt.Sprintf("Неожиданная ошибка при выполнении %s. Попробуй ещё раз или предложи клиенту изменить параметры.", name)
	}
	if status != "error" {
		log.WithError(err).WithField("status", status).Info("Tool returned an error to the model")
	}
	toolCallsTotal.WithLabelValues(name, status).Inc()
	return encode(out)
}

func isCorrection(err error) bool {
	_, ok := repair.AsCorrection(err)
	return ok
}

func isNoResults(err error) bool {
	_, ok := tourvisor.IsNoResults(err)
	return ok
}

// encode renders v as compact JSON. Cyrillic and HTML characters are kept
// as is to save context.
func encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `{"error":"Ошибка: не удалось сформировать ответ функции"}`
	}
	return strings.TrimRight(buf.String(), "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// isNumericID reports whether s is a real upstream id: digits, possibly
// with spaces the model inserted.
func isNumericID(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// resolveRequestID replaces a made-up request id with the session's last
// real one.
func (d *Dispatcher) resolveRequestID(st *State, args toolargs.Args, invalid string) (string, error) {
	id := strings.TrimSpace(args.Str("requestid"))
	if isNumericID(id) {
		return strings.ReplaceAll(id, " ", ""), nil
	}
	st.mu.Lock()
	last := st.LastRequestID
	st.mu.Unlock()
	if last == "" {
		return "", refuse(invalid, id)
	}
	st.Metrics.Inc(MetricPlaceholderRejection)
	d.logger.WithFields(logging.Fields{
		"given":    id,
		"resolved": last,
	}).Warn("Replaced placeholder request id")
	return last, nil
}

const (
	invalidRequestID   = "⛔ НЕВЕРНЫЙ requestid: '%s' - это НЕ числовой ID! requestid - это ЧИСЛОВАЯ строка (например '11767315205'), которую возвращает search_tours. НЕ придумывай requestid! Если поиск не был запущен, сначала вызови search_tours."
	invalidContinueID  = "⛔ НЕВЕРНЫЙ requestid: '%s'. Сначала вызови search_tours."
	invalidActualizeID = "⛔ НЕВЕРНЫЙ tourid: '%s'. tourid - это ЧИСЛОВАЯ строка (например '99195143679290'), которую возвращает get_search_results. Используй ТОЧНЫЙ tourid из результатов поиска."
	invalidDetailsID   = "⛔ НЕВЕРНЫЙ tourid: '%s'. Используй ЧИСЛОВОЙ tourid из результатов get_search_results."
)

// ordinals map word stems of a positional reference ("второй отель",
// "пятый") to index positions. Checked in order.
var ordinals = []struct {
	key string
	pos int
}{
	{"перв", 1}, {"втор", 2}, {"трет", 3}, {"четверт", 4}, {"пят", 5},
}

// ordinalPosition finds the index position named by given. Digits count only
// as standalone tokens ("вариант 3"), so ids like "tour_12" never match.
func ordinalPosition(given string) (int, bool) {
	lower := strings.ToLower(given)
	for _, o := range ordinals {
		if strings.Contains(lower, o.key) {
			return o.pos, true
		}
	}
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if len(tok) == 1 && tok[0] >= '1' && tok[0] <= '5' {
			return int(tok[0] - '0'), true
		}
	}
	return 0, false
}

// resolveTourID turns a positional reference into a real offer id using the
// tour index of the last shown results. ok is false when nothing matches.
func (st *State) resolveTourID(given string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.TourIndex) == 0 {
		return "", false
	}
	target, ok := ordinalPosition(given)
	if !ok {
		target = 1
	}
	if ref, ok := st.TourIndex[target]; ok {
		return ref.TourID, true
	}
	if ref, ok := st.TourIndex[1]; ok {
		return ref.TourID, true
	}
	return "", false
}

func (d *Dispatcher) tourID(st *State, args toolargs.Args, invalid string) (string, error) {
	id := strings.TrimSpace(args.Str("tourid"))
	if isNumericID(id) {
		return strings.ReplaceAll(id, " ", ""), nil
	}
	resolved, ok := st.resolveTourID(id)
	if !ok {
		return "", refuse(invalid, id)
	}
	st.Metrics.Inc(MetricPlaceholderRejection)
	d.logger.WithFields(logging.Fields{
		"given":    id,
		"resolved": resolved,
	}).Warn("Resolved positional tour id")
	return resolved, nil
}

var weekdays = [...]string{
	time.Sunday:    "Воскресенье",
	time.Monday:    "Понедельник",
	time.Tuesday:   "Вторник",
	time.Wednesday: "Среда",
	time.Thursday:  "Четверг",
	time.Friday:    "Пятница",
	time.Saturday:  "Суббота",
}

func (d *Dispatcher) currentDate() map[string]any {
	now := d.now()
	return map[string]any{
		"date":    now.Format(tourvisor.DateLayout),
		"time":    now.Format("15:04"),
		"year":    now.Year(),
		"month":   int(now.Month()),
		"day":     now.Day(),
		"weekday": weekdays[now.Weekday()],
		"hint":    "Используй эту дату для datefrom/dateto. Формат: ДД.ММ.ГГГГ",
	}
}

// listArg renders a list argument the way the API expects: comma separated.
func listArg(args toolargs.Args, key string) string {
	switch v := args[key].(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for i := range v {
			item := toolargs.Args{"v": v[i]}.Str("v")
			if item != "" {
				parts = append(parts, item)
			}
		}
		return strings.Join(parts, ",")
	default:
		return strings.ReplaceAll(args.Str(key), " ", "")
	}
}

func optInt(args toolargs.Args, key string) *int {
	if n, ok := args.Int(key); ok {
		return &n
	}
	return nil
}
