package agent

import (
	"slices"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		action string
	}{
		{
			name:   "json wrapper",
			in:     `{"role": "assistant", "message": "Привет! Куда хотите поехать?"}`,
			want:   "Привет! Куда хотите поехать?",
			action: actionJSONWrapper,
		},
		{
			name:   "reasoning leak",
			in:     "Отлично, я подобрал для вас варианты в Турции. Посмотрите карточки выше. The user wants more options",
			want:   "Отлично, я подобрал для вас варианты в Турции. Посмотрите карточки выше.",
			action: actionReasoningLeak,
		},
		{
			name:   "duplicate question",
			in:     "Какие даты вылета вам подходят лучше всего? Уточните. Какие даты вылета вам подходят лучше всего?",
			want:   "Какие даты вылета вам подходят лучше всего?",
			action: actionDuplicateQuestion,
		},
		{
			name:   "trailing fragment",
			in:     "Подскажите, пожалуйста, из какого города планируете вылет?\nОтлично, жду",
			want:   "Подскажите, пожалуйста, из какого города планируете вылет?",
			action: actionTrailingFragment,
		},
		{
			name:   "leaked call",
			in:     "Сейчас покажу варианты get_search_results(requestid=123) по вашему запросу.",
			want:   "Сейчас покажу варианты по вашему запросу.",
			action: actionLeakedCalls,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, actions := Sanitize(tt.in)
			if got != tt.want {
				t.Fatalf("Sanitize() = %q, want %q", got, tt.want)
			}
			if !slices.Contains(actions, tt.action) {
				t.Fatalf("actions = %v, want %s", actions, tt.action)
			}
			again, more := Sanitize(got)
			if again != got || len(more) != 0 {
				t.Fatalf("second pass changed %q to %q (%v)", got, again, more)
			}
		})
	}
}

func TestSanitizeKeepsCleanReply(t *testing.T) {
	in := "Нашла для вас 5 отличных вариантов в Турции. Какой из них рассмотрим подробнее?"
	got, actions := Sanitize(in)
	if got != in || len(actions) != 0 {
		t.Fatalf("Sanitize() = %q, %v", got, actions)
	}
}

func TestReplyPredicates(t *testing.T) {
	if !promisesAction("Сейчас подберу для вас лучшие варианты!") {
		t.Fatal("promise not detected")
	}
	if promisesAction("Вот что я нашла по вашему запросу.") {
		t.Fatal("plain answer taken for a promise")
	}
	if !selfModerated("## Я не могу обсуждать эту тему") {
		t.Fatal("self moderation not detected")
	}
	if !mentionsRejectedCall("Вызываю функцию search_tours(departure=1)") {
		t.Fatal("rejected call not detected")
	}
	if !leaksResults("  Результаты запросов: отель 1, отель 2", nil) {
		t.Fatal("result leak not detected")
	}
	if !leaksResults("Результат вызова функции (call_id=c1):\n{\"hotelsfound\":12}", nil) {
		t.Fatal("rendered tool result not detected")
	}
	if !leaksResults(`{"state":"finished","hotelsfound":12,"toursfound":40}`, nil) {
		t.Fatal("raw JSON reply not detected")
	}

	output := `{"date":"10.03.2030","weekday":"Воскресенье","year":2030,"hint":"Используй эту дату"}`
	if !leaksResults("Вот что вернулось: "+output, []string{output}) {
		t.Fatal("echoed tool output not detected")
	}
	if leaksResults("Сегодня 10.03.2030, воскресенье. Куда хотите поехать?", []string{output}) {
		t.Fatal("reply using the output taken for a leak")
	}
	if leaksResults("{не JSON} Подобрала три отеля в Анталье.", nil) {
		t.Fatal("brace-led prose taken for JSON")
	}
}

func TestCutAtSentence(t *testing.T) {
	got := cutAtSentence("Первое предложение готово. Второе предложение тоже готово. И третье обрыва")
	if got != "Первое предложение готово. Второе предложение тоже готово." {
		t.Fatalf("cutAtSentence = %q", got)
	}
	short := "Коротко. А потом очень длинный хвост без единой точки до самого конца"
	if cutAtSentence(short) != short {
		t.Fatal("cut must keep more than half of the reply")
	}
}
