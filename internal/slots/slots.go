// Package slots decides whether a conversation has stated enough to run a
// tour search. Four slots are checked in a fixed order (departure, dates,
// travelers, quality) against the client's own words; tool arguments the
// model invented do not count.
package slots

import (
	"regexp"
	"strings"

	"github.com/rebekaee1/mgp-v2/internal/conversation"
	"github.com/rebekaee1/mgp-v2/internal/textnorm"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
)

type Kind string

const (
	KindLocation  Kind = "location"
	KindDates     Kind = "dates"
	KindTravelers Kind = "travelers"
	KindQuality   Kind = "quality"
)

// Slot is one missing piece of information and the question that asks for it.
type Slot struct {
	Kind     Kind
	Label    string
	Question string
}

// Missing slot labels as they are phrased to the model.
const (
	LabelDeparture    = "город вылета"
	LabelDatesNights  = "даты/месяц и длительность"
	LabelDates        = "даты/месяц вылета"
	LabelMonthPart    = "промежуток в месяце (начало/середина/конец)"
	LabelTravelers    = "состав путешественников"
	LabelChildAge     = "возраст ребёнка"
	LabelStarsAndMeal = "категорию отеля и тип питания"
	LabelStars        = "категорию отеля (звёздность)"
	LabelMeal         = "тип питания"
)

var questions = map[string]string{
	LabelDeparture:    "Из какого города планируете вылет?",
	LabelDatesNights:  "Когда планируете поездку и на сколько ночей?",
	LabelDates:        "В каком месяце планируете вылет?",
	LabelMonthPart:    "В каком промежутке месяца планируете вылет: в начале, середине или конце?",
	LabelTravelers:    "Сколько взрослых едет и будут ли с вами дети?",
	LabelChildAge:     "Сколько лет ребёнку?",
	LabelStarsAndMeal: "Какую категорию отеля и тип питания предпочитаете?",
	LabelStars:        "Какой категории отель вы рассматриваете?",
	LabelMeal:         "Какой тип питания предпочитаете?",
}

func newSlot(kind Kind, label string) Slot {
	return Slot{Kind: kind, Label: label, Question: questions[label]}
}

// Question returns the clarifying question of a slot label.
func Question(label string) string {
	return questions[label]
}

// Result is the outcome of a completeness check. Missing is in priority
// order; only the first entry is ever asked.
type Result struct {
	Complete bool
	Missing  []Slot
}

// First returns the highest-priority missing slot.
func (r Result) First() (Slot, bool) {
	if len(r.Missing) == 0 {
		return Slot{}, false
	}
	return r.Missing[0], true
}

// BlockMessage is the tool error returned to the model when a search is
// refused. It names exactly one question.
func BlockMessage(s Slot) string {
	return "⛔ ПОИСК НЕ ЗАПУЩЕН! requestid НЕ создан! Причина: клиент НЕ указал " + s.Label +
		". ОБЯЗАТЕЛЬНО спроси клиента ЯВНО: '" + s.Question +
		"'. Задай ТОЛЬКО ОДИН вопрос, не перечисляй список! НЕ предлагай свои варианты и НЕ повышай категорию, только спроси! " +
		"НЕ вызывай search_tours и НЕ вызывай get_search_status: нечего проверять, поиск НЕ был запущен!"
}

var fullDate = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{4}$`)

// followUpReady reports whether a refinement of an earlier search already
// carries every required argument.
func followUpReady(args toolargs.Args) bool {
	return args.IntOr("departure", 0) > 0 &&
		fullDate.MatchString(args.Str("datefrom")) &&
		args.IntOr("nightsfrom", 0) >= 3 &&
		args.IntOr("adults", 0) > 0 &&
		(args.IntOr("stars", 0) > 0 || args.IntOr("meal", 0) > 0)
}

// Check evaluates all slots. followUp is true when the session already has
// a successful search.
func Check(h *conversation.History, args toolargs.Args, followUp bool) Result {
	if followUp && followUpReady(args) {
		return Result{Complete: true}
	}

	text := h.UserText()
	last := h.LastUserText()
	var missing []Slot

	if !MentionsDeparture(text) {
		missing = append(missing, newSlot(KindLocation, LabelDeparture))
	}
	if label := missingDates(text); label != "" {
		missing = append(missing, newSlot(KindDates, label))
	}
	if label := missingTravelers(text, args); label != "" {
		missing = append(missing, newSlot(KindTravelers, label))
	}
	if label := missingQuality(h, text, last); label != "" {
		missing = append(missing, newSlot(KindQuality, label))
	}

	return Result{Complete: len(missing) == 0, Missing: missing}
}

func missingDates(text string) string {
	specific := textnorm.MatchAny(specificDatePatterns, text)
	nights := textnorm.MatchAny(nightsPatterns, text)
	bareMonth := bareMonthPattern.MatchString(text)

	switch {
	case bareMonth && !specific && !textnorm.MatchAny(monthPartPatterns, text):
		return LabelMonthPart
	case !specific && !bareMonth && !nights:
		return LabelDatesNights
	case !specific && !bareMonth && nights:
		return LabelDates
	}
	return ""
}

func missingTravelers(text string, args toolargs.Args) string {
	if !textnorm.MatchAny(travelerPatterns, text) {
		return LabelTravelers
	}
	if args.IntOr("child", 0) > 0 && !hasChildAgeArg(args) && !textnorm.MatchAny(childAgePatterns, text) {
		return LabelChildAge
	}
	return ""
}

func hasChildAgeArg(args toolargs.Args) bool {
	for _, key := range []string{"childage1", "childage2", "childage3"} {
		if args.Has(key) {
			return true
		}
	}
	return false
}

func missingQuality(h *conversation.History, text, last string) string {
	stars := textnorm.MatchAny(starsPatterns, text)
	meal := textnorm.MatchAny(mealPatterns, text)
	skip := IsIndifferent(last)
	brand := textnorm.MatchAny(brandPatterns, text) && !brandLookupEmpty(h)

	if (stars && meal) || skip || (brand && meal) {
		return ""
	}
	if qualityAlreadyAsked(h) {
		return ""
	}
	switch {
	case brand && !meal:
		return LabelMeal
	case stars && !meal:
		return LabelMeal
	case meal && !stars:
		return LabelStars
	}
	return LabelStarsAndMeal
}

// IsIndifferent reports whether text says the client does not care about
// hotel category or meal.
func IsIndifferent(text string) bool {
	return textnorm.MatchAny(skipPatterns, textnorm.Fold(text))
}

// MentionsDeparture reports whether text names a departure city, a
// "вылет из X" phrase or a no-flight request.
func MentionsDeparture(text string) bool {
	return textnorm.MatchAny(departurePatterns, textnorm.Fold(text))
}

// MentionsStars reports whether text states a hotel category.
func MentionsStars(text string) bool {
	return textnorm.MatchAny(starsPatterns, textnorm.Fold(text))
}

// MentionsMeal reports whether text states a meal plan.
func MentionsMeal(text string) bool {
	return textnorm.MatchAny(mealPatterns, textnorm.Fold(text))
}

// MentionsTravelers reports whether text states the party composition.
func MentionsTravelers(text string) bool {
	return textnorm.MatchAny(travelerPatterns, textnorm.Fold(text))
}

// MentionsDates reports whether text states a date, a month or a duration.
func MentionsDates(text string) bool {
	text = textnorm.Fold(text)
	return textnorm.MatchAny(specificDatePatterns, text) ||
		bareMonthPattern.MatchString(text) ||
		textnorm.MatchAny(nightsPatterns, text)
}

// brandLookupEmpty reports whether the latest hotel-name dictionary lookup
// found nothing, which voids a named brand.
func brandLookupEmpty(h *conversation.History) bool {
	turns := h.Turns()
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if !t.IsToolCall() {
			continue
		}
		for j := len(t.ToolCalls) - 1; j >= 0; j-- {
			call := t.ToolCalls[j]
			if call.Name != "get_dictionaries" {
				continue
			}
			args, err := toolargs.Parse(call.Arguments)
			if err != nil || (args.Str("type") != "hotel" && !args.Has("name")) {
				continue
			}
			return emptyHotelResult(toolResult(turns[i+1:], call.ID))
		}
	}
	return false
}

func toolResult(after []conversation.Turn, id string) string {
	for _, t := range after {
		if t.Role != conversation.RoleTool {
			break
		}
		if t.ToolCallID == id {
			return t.Content
		}
	}
	return ""
}

func emptyHotelResult(content string) bool {
	compact := strings.Join(strings.Fields(content), "")
	return compact == "[]" || strings.Contains(compact, `"hotels":[]`)
}

// qualityAlreadyAsked reports whether the assistant asked about hotel
// category or meal within the last 10 turns and the client has answered
// since, whatever the answer was.
func qualityAlreadyAsked(h *conversation.History) bool {
	turns := h.Turns()
	start := max(0, len(turns)-10)
	asked := -1
	for i := start; i < len(turns); i++ {
		t := turns[i]
		if t.Role != conversation.RoleAssistant || t.Content == "" {
			continue
		}
		content := textnorm.Fold(t.Content)
		for _, phrase := range qualityQuestionPhrases {
			if strings.Contains(content, phrase) {
				asked = i
				break
			}
		}
	}
	if asked < 0 {
		return false
	}
	for _, t := range turns[asked+1:] {
		if t.Role == conversation.RoleUser && !t.IsSynthesized() {
			return true
		}
	}
	return false
}
