package agent

import (
	"strings"

	"github.com/rebekaee1/mgp-v2/internal/repair"
	"github.com/rebekaee1/mgp-v2/internal/slots"
	"github.com/rebekaee1/mgp-v2/internal/textnorm"
)

// Collected slot keys, in the order they are reminded.
const (
	collectedDeparture   = "город вылета"
	collectedDestination = "направление"
	collectedDates       = "даты"
	collectedNights      = "длительность"
	collectedTravelers   = "состав"
	collectedStars       = "категория отеля"
	collectedMeal        = "питание"
	collectedBudget      = "бюджет"
)

var collectedOrder = []string{
	collectedDeparture, collectedDestination, collectedDates, collectedNights,
	collectedTravelers, collectedStars, collectedMeal, collectedBudget,
}

var (
	datePhraseRx = textnorm.MustCompile(`\d{1,2}[./]\d{1,2}(?:[./]\d{2,4})?|\d{1,2}\s*(?:-|по|до)?\s*\d{0,2}\s*(?:январ|феврал|март|апрел|ма[яйе]|июн|июл|август|сентябр|октябр|ноябр|декабр)\w*|(?:начал\w*|середин\w*|конц\w*|в)\s+(?:январ|феврал|март|апрел|ма[яйе]|июн|июл|август|сентябр|октябр|ноябр|декабр)\w*`)
	nightsRx     = textnorm.MustCompile(`\d+\s*(?:-\s*\d+\s*)?(?:ноч\w*|дн[еёяи]\w*|недел\w*)`)
	travelersRx  = textnorm.MustCompile(`\d+\s*(?:взросл\w*|взр\b|человек\w*|чел\b)(?:[^.!?]{0,30}?\d+\s*(?:реб\w*|дет\w*))?|(?:вдвоем|втроем|один|одна|с\s+(?:мужем|женой|ребенком|детьми))\b`)
	starsRx      = textnorm.MustCompile(`[345]\s*(?:\*|звезд\w*|зв\b)`)
	budgetRx     = textnorm.MustCompile(`(?:до|бюджет\w*|не\s+дороже)\s*\d[\d\s]*(?:к|тыс\w*|руб\w*|₽|000)?`)
)

var mealWords = []struct{ phrase, value string }{
	{"ультра все включено", "UAI"},
	{"все включено", "AI"},
	{"полный пансион", "FB"},
	{"полупансион", "HB"},
	{"завтрак", "BB"},
	{"без питания", "RO"},
}

// collectSlots records what the client stated in one message. Later
// statements override earlier ones.
func (st *State) collectSlots(text string) {
	folded := textnorm.Fold(text)
	found := map[string]string{}

	if dep, ok := repair.DepartureFromText(folded); ok {
		found[collectedDeparture] = dep.City
	}
	if resort, name, ok := repair.ResortFromText(folded); ok {
		found[collectedDestination] = strings.TrimSpace(name + " (" + resort.CountryName + ")")
	}
	if m := datePhraseRx.FindString(folded); m != "" {
		found[collectedDates] = strings.TrimSpace(m)
	}
	if m := nightsRx.FindString(folded); m != "" {
		found[collectedNights] = strings.TrimSpace(m)
	}
	if m := travelersRx.FindString(folded); m != "" && slots.MentionsTravelers(folded) {
		found[collectedTravelers] = strings.TrimSpace(m)
	}
	if m := starsRx.FindString(folded); m != "" {
		found[collectedStars] = strings.TrimSpace(m)
	}
	for _, w := range mealWords {
		if strings.Contains(folded, w.phrase) {
			found[collectedMeal] = w.value
			break
		}
	}
	if slots.IsIndifferent(folded) {
		if _, ok := found[collectedStars]; !ok {
			found[collectedStars] = "не важно"
		}
		if _, ok := found[collectedMeal]; !ok {
			found[collectedMeal] = "не важно"
		}
	}
	if m := budgetRx.FindString(folded); m != "" {
		found[collectedBudget] = strings.TrimSpace(m)
	}
	if len(found) == 0 {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for k, v := range found {
		st.CollectedSlots[k] = v
	}
}

// collectedReminder renders the stated slots for the system instruction.
func (st *State) collectedReminder() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	var parts []string
	for _, key := range collectedOrder {
		if v, ok := st.CollectedSlots[key]; ok {
			parts = append(parts, key+": "+v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Клиент уже сообщил: " + strings.Join(parts, "; ") + ". Не переспрашивай это."
}
