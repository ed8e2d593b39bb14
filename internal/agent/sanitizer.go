package agent

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rebekaee1/mgp-v2/internal/textnorm"
	"github.com/rebekaee1/mgp-v2/pkg/llm"
)

// Sanitizer actions, as counted in sanitizer_actions_total.
const (
	actionJSONWrapper       = "json_wrapper"
	actionRestart           = "duplicated_restart"
	actionReasoningLeak     = "reasoning_leak"
	actionDuplicateQuestion = "duplicate_question"
	actionTrailingFragment  = "trailing_fragment"
	actionLeakedCalls       = "leaked_calls"
)

var (
	jsonWrapperRx  = regexp.MustCompile(`(?i)\{\s*"role"\s*:\s*"assistant"\s*,\s*"message"\s*:\s*"([^"]+)"\s*\}`)
	roleObjectRx   = regexp.MustCompile(`\{\s*"role"\s*:\s*"assistant"`)
	reasoningRx    = regexp.MustCompile(`(?i)(?:We need to|We have to|We must|We should|Now I['m\s]|I should|I need to|I must|Let me |The conversation|The user|The assistant|The last|ChatGPT|GPT-\d|as an AI|Мы have|Кажется the|Похоже the)`)
	questionRx     = regexp.MustCompile(`[^.!?\n]*\?`)
	continuationRx = textnorm.MustCompile(`(?i)^\s*(?:Отлично|Хорошо|Давайте|Ладно|Замечательно|Прекрасно|Жду|Конечно|Понятно|Спасибо|Итого|Итак)\b`)
	leakedCallRx   = regexp.MustCompile(`(?:search_tours|get_(?:current_date|search_status|search_results|hotel_info|hot_tours|tour_details|dictionaries)|actualize_tour|continue_search)\s*\([^)]*\)`)
	rejectedCallRx = regexp.MustCompile(`(?i)(?:вызываю\s+функци[юи]|calling\s+function|tool_call).*?\w+\s*\(`)
	spaceRunRx     = regexp.MustCompile(`[ \t]{2,}`)
)

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// runePos converts a byte offset of s into a character position.
func runePos(s string, byteOff int) int { return utf8.RuneCountInString(s[:byteOff]) }

// Sanitize cleans a final reply. It returns the cleaned text and the
// actions that changed it. Applying it twice changes nothing more.
func Sanitize(text string) (string, []string) {
	var actions []string
	apply := func(name string, fn func(string) string) {
		if out := fn(text); out != text {
			text = out
			actions = append(actions, name)
			sanitizerActionsTotal.WithLabelValues(name).Inc()
		}
	}
	apply(actionJSONWrapper, unwrapJSON)
	apply(actionRestart, cutRestart)
	apply(actionReasoningLeak, stripReasoning)
	apply(actionDuplicateQuestion, cutDuplicateQuestion)
	apply(actionTrailingFragment, cutTrailingFragment)
	apply(actionLeakedCalls, removeLeakedCalls)
	return text, actions
}

// unwrapJSON extracts the message of a {"role":"assistant","message":"…"}
// reply.
func unwrapJSON(text string) string {
	m := jsonWrapperRx.FindStringSubmatch(text)
	if m == nil {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(m[1], `\n`, "\n"))
}

// cutRestart drops a second copy of the reply that starts over with the
// same first line.
func cutRestart(text string) string {
	if runeLen(text) < 100 {
		return text
	}
	nl := strings.IndexByte(text, '\n')
	if nl < 0 || runePos(text, nl) < 5 {
		return text
	}
	first := strings.TrimSpace(text[:nl])
	if runeLen(first) < 10 {
		return text
	}
	again := strings.Index(text[nl:], first)
	if again < 0 {
		return text
	}
	return strings.TrimRight(text[:nl+again], "\ufffd\n ")
}

// stripReasoning cuts English self-talk or a raw role object that follows a
// real answer.
func stripReasoning(text string) string {
	if runeLen(text) < 40 {
		return text
	}
	cut := func(rx *regexp.Regexp) {
		for _, loc := range rx.FindAllStringIndex(text, -1) {
			if runePos(text, loc[0]) <= 30 {
				continue
			}
			if kept := strings.TrimSpace(text[:loc[0]]); runeLen(kept) >= 20 {
				text = kept
			}
			return
		}
	}
	cut(roleObjectRx)
	cut(reasoningRx)
	return text
}

// cutDuplicateQuestion keeps a repeated question only once.
func cutDuplicateQuestion(text string) string {
	if runeLen(text) < 60 {
		return text
	}
	for _, loc := range questionRx.FindAllStringIndex(text, -1) {
		q := strings.TrimSpace(text[loc[0]:loc[1]])
		if runeLen(q) < 20 {
			continue
		}
		if strings.Contains(text[loc[1]:], q) {
			return strings.TrimSpace(text[:loc[1]])
		}
	}
	return text
}

// cutTrailingFragment drops a dangling "Отлично, жду"-style line after the
// closing question.
func cutTrailingFragment(text string) string {
	if runeLen(text) < 50 {
		return text
	}
	last := strings.LastIndexByte(text, '?')
	if last < 0 || runePos(text, last) < 30 {
		return text
	}
	tail := strings.TrimSpace(text[last+1:])
	if tail == "" || runeLen(tail) >= 60 || strings.ContainsAny(tail[len(tail)-1:], ".?!") {
		return text
	}
	if !continuationRx.MatchString(tail) {
		return text
	}
	return text[:last+1]
}

// removeLeakedCalls strips tool-call syntax the model wrote into its reply.
func removeLeakedCalls(text string) string {
	if !leakedCallRx.MatchString(text) {
		return text
	}
	cleaned := strings.TrimSpace(spaceRunRx.ReplaceAllString(leakedCallRx.ReplaceAllString(text, ""), " "))
	if runeLen(cleaned) < 20 {
		return text
	}
	return cleaned
}

var promisePhrases = []string{
	"начну поиск", "начинаю поиск", "запускаю поиск", "приступаю к поиску",
	"сейчас поищу", "сейчас найду", "сейчас подберу", "сейчас подбираю",
	"начну подбор", "начинаю подбор", "подберу для вас", "поищу для вас",
	"найду для вас", "ищу подходящие", "ищу для вас", "ищу варианты",
	"давайте поищу", "давайте найду", "давайте подберу", "сейчас посмотрю",
	"сейчас проверю", "сейчас узнаю", "сейчас уточню", "сейчас загружу",
	"момент, ищу", "секунду, подбираю", "минуту, проверяю", "одну секунду",
	"один момент", "поиск запущен", "ожидаю результат", "жду результат",
	"запущен, ожидаю", "результаты скоро будут",
}

// promisesAction reports whether the reply announces a search instead of
// running it.
func promisesAction(text string) bool {
	return containsAny(textnorm.Fold(text), promisePhrases)
}

var selfModerationPhrases = []string{
	"не могу обсуждать эту тему",
	"я не могу обсуждать",
	"не могу помочь с этим",
	"давайте поговорим о чём-нибудь",
	"поговорим о чём-нибудь ещё",
	"я не могу отвечать на этот вопрос",
}

var foldedSelfModeration = func() []string {
	out := make([]string, len(selfModerationPhrases))
	for i, p := range selfModerationPhrases {
		out[i] = textnorm.Fold(p)
	}
	return out
}()

// selfModerated reports whether the model refused on its own, which is
// handled like a provider content filter.
func selfModerated(text string) bool {
	t := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text), "#"))
	return containsAny(textnorm.Fold(t), foldedSelfModeration)
}

// mentionsRejectedCall reports whether the reply narrates a call the model
// could not make.
func mentionsRejectedCall(text string) bool {
	return rejectedCallRx.MatchString(text)
}

// Tool outputs shorter than leakMinRunes are too generic to count as echoed;
// longer ones are compared by their first leakPrefixRunes runes.
const (
	leakMinRunes   = 40
	leakPrefixRunes = 60
)

// leaksResults reports whether the reply hands raw tool results to the
// client: a rendered result block, bare JSON, or an echo of one of this
// turn's tool outputs.
func leaksResults(text string, toolOutputs []string) bool {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "Результаты запросов") || strings.HasPrefix(t, llm.ToolResultPrefix) {
		return true
	}
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		if json.Valid([]byte(t)) {
			return true
		}
	}
	for _, out := range toolOutputs {
		out = strings.TrimSpace(out)
		if utf8.RuneCountInString(out) < leakMinRunes {
			continue
		}
		if r := []rune(out); len(r) > leakPrefixRunes {
			out = string(r[:leakPrefixRunes])
		}
		if strings.Contains(t, out) {
			return true
		}
	}
	return false
}

// cutAtSentence shortens a reply cut off by the token limit to its last
// complete sentence, if that keeps more than half of it.
func cutAtSentence(text string) string {
	best := -1
	for _, end := range []string{". ", "! ", "? ", ".\n"} {
		if i := strings.LastIndex(text, end); i > best {
			best = i
		}
	}
	if best < 0 || runePos(text, best) <= runeLen(text)/2 {
		return text
	}
	return text[:best+1]
}
