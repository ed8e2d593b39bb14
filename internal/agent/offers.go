package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rebekaee1/mgp-v2/internal/repair"
	"github.com/rebekaee1/mgp-v2/internal/slots"
	"github.com/rebekaee1/mgp-v2/internal/textnorm"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

const incompleteFlightHint = "Данные о рейсе НЕПОЛНЫЕ: доступны только даты перелёта, но НЕТ времени вылета и авиакомпании. " +
	"Сообщи клиенту даты и скажи, что время и авиакомпания будут уточнены при бронировании. НЕ вызывай get_tour_details повторно."

func (d *Dispatcher) actualize(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	tourID, err := d.tourID(st, args, invalidActualizeID)
	if err != nil {
		return nil, err
	}
	mode := args.IntOr("request", tourvisor.ActualizeCached)
	return d.inv.Actualize(ctx, tourID, mode, args.IntOr("currency", 0))
}

func (d *Dispatcher) tourDetails(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	tourID, err := d.tourID(st, args, invalidDetailsID)
	if err != nil {
		return nil, err
	}
	currency := args.IntOr("currency", 0)
	detail, err := d.inv.Detail(ctx, tourID, currency)
	if err != nil {
		return nil, err
	}

	if tourvisor.DetailFailed(detail) {
		for _, alt := range st.alternativeOffers(tourID, 2) {
			altDetail, err := d.inv.Detail(ctx, alt.TourID, currency)
			if err != nil || tourvisor.DetailFailed(altDetail) {
				continue
			}
			d.logger.WithFields(logging.Fields{
				"tour_id":     tourID,
				"alternative": alt.TourID,
			}).Info("Tour details taken from an alternative offer")
			altDetail["_note"] = fmt.Sprintf("Оператор не вернул детали исходного тура. Показаны детали похожего варианта: %s (tourid=%s).", alt.HotelName, alt.TourID)
			detail = altDetail
			break
		}
	}
	if incompleteFlight(detail) {
		detail["_hint"] = incompleteFlightHint
	}
	return detail, nil
}

// alternativeOffers returns up to n indexed offers other than tourID, in
// display order.
func (st *State) alternativeOffers(tourID string, n int) []OfferRef {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []OfferRef
	for _, pos := range st.indexPositions() {
		ref := st.TourIndex[pos]
		if ref.TourID == tourID {
			continue
		}
		out = append(out, ref)
		if len(out) == n {
			break
		}
	}
	return out
}

// dig walks nested JSON by map keys and slice indexes.
func dig(v any, path ...any) any {
	for _, p := range path {
		switch key := p.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[key]
		case int:
			s, ok := v.([]any)
			if !ok || key >= len(s) {
				return nil
			}
			v = s[key]
		}
	}
	return v
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// incompleteFlight reports whether the outbound flight has dates only.
func incompleteFlight(detail map[string]any) bool {
	root := any(detail)
	if data, ok := detail["data"].(map[string]any); ok {
		root = data
	}
	forward := dig(root, "flights", 0, "forward", 0)
	if forward == nil {
		return false
	}
	return isBlank(dig(forward, "departure", "time")) && isBlank(dig(forward, "company", "name"))
}

var hotelFields = []string{
	"name", "stars", "rating", "country", "region", "placement", "seadistance",
	"build", "description", "territory", "inroom", "roomtypes", "beach", "child",
	"services", "servicefree", "servicepay", "meallist", "mealtypes", "animation",
}

// infoFields are the descriptive fields; a hotel missing most of them has
// no usable description upstream.
var infoFields = []string{
	"description", "territory", "beach", "child", "services",
	"servicefree", "servicepay", "inroom", "roomtypes",
}

const missingInfoWarning = "Подробная информация по этому отелю временно недоступна. " +
	"Скажи клиенту: 'К сожалению, подробная информация по этому отелю временно недоступна. Рекомендую уточнить детали у менеджера.' " +
	"НЕ говори 'у меня нет информации'."

func (d *Dispatcher) hotelInfo(ctx context.Context, args toolargs.Args) (any, error) {
	code := strings.TrimSpace(args.Str("hotelcode"))
	if !isNumericID(code) {
		return nil, refuse("⛔ НЕВЕРНЫЙ hotelcode: '%s'. Используй ЧИСЛОВОЙ hotelcode из get_search_results или get_dictionaries(type=hotel).", code)
	}
	withReviews := args.IntOr("reviews", 0) == 1
	hotel, err := d.inv.HotelInfo(ctx, code, withReviews)
	if err != nil {
		return nil, err
	}

	out := map[string]any{"hotelcode": code}
	for _, key := range hotelFields {
		if v := hotel[key]; !isBlank(v) {
			out[key] = v
		}
	}
	images := hotelImages(hotel["images"])
	out["images_count"] = len(images)
	if len(images) > 5 {
		images = images[:5]
	}
	out["images"] = images
	if !isBlank(hotel["coord1"]) && !isBlank(hotel["coord2"]) {
		out["coordinates"] = map[string]any{"lat": hotel["coord1"], "lon": hotel["coord2"]}
	}
	if withReviews {
		out["reviews"] = hotelReviews(hotel["reviews"], 3)
	}

	empty := 0
	for _, key := range infoFields {
		if isBlank(hotel[key]) {
			empty++
		}
	}
	if empty >= 7 {
		out["_warning"] = missingInfoWarning
	}
	return out, nil
}

// items unwraps the API's list shapes: {"<name>": [...]}, {"<name>": {...}},
// a bare list or a single value.
func items(v any, name string) []any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m[name]; ok {
			v = inner
		}
	}
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		return x
	default:
		return []any{x}
	}
}

func hotelImages(v any) []string {
	var out []string
	for _, item := range items(v, "image") {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func hotelReviews(v any, n int) []map[string]any {
	out := []map[string]any{}
	for _, item := range items(v, "review") {
		r, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := r["content"].(string)
		if len([]rune(content)) > 300 {
			content = string([]rune(content)[:300]) + "..."
		}
		out = append(out, map[string]any{
			"name":       r["name"],
			"rate":       r["rate"],
			"content":    content,
			"traveltime": r["traveltime"],
			"sourcelink": r["sourcelink"],
		})
		if len(out) == n {
			break
		}
	}
	return out
}

var (
	beachRequest  = textnorm.MustCompile(`(?:на\s+мор[еёюя]|пляж\w*|beach)`)
	adultsCount   = textnorm.MustCompile(`(\d+)\s*(?:взр|в\b)`)
	childrenCount = textnorm.MustCompile(`(\d+)\s*(?:реб|дет|р\b)`)
	nightsFilter  = textnorm.MustCompile(`\d+\s*(?:ноч|дн[еёяи]|недел)`)
	childFilter   = textnorm.MustCompile(`(?:реб[её]н|дет[еиясь])`)
	budgetFilter  = textnorm.MustCompile(`(?:бюджет|\d+\s*[-–]\s*\d+\s*[кКтТ]|(?:от|до)\s+\d+\s*[кКтТ])`)
	adultsOnly    = regexp.MustCompile(`(?i)adults?\s*only|16\+|18\+`)
)

const (
	noHotToursHint = "⛔ НАЙДЕНО 0 ГОРЯЩИХ ТУРОВ. Честно скажи клиенту: «К сожалению, горящих туров сейчас нет. " +
		"Хотите сделать обычный поиск с конкретными параметрами?» НЕ говори «Нашёл!» если ничего не найдено."
	hotToursHint = "Карточки с фото, ценами, датами, питанием, звёздами УЖЕ отображены фронтендом. " +
		"НЕ перечисляй отели, цены, описания, звёзды в тексте! Напиши 3-4 коротких предложения: " +
		"1) Упомяни что цены за человека. 2) ОБЯЗАТЕЛЬНО добавь: «Горящие туры имеют фиксированные даты и длительность. " +
		"Если нужны конкретные параметры, могу сделать обычный поиск.» 3) Спроси «Хотите подробнее о каком-то варианте?»"
	hotToursLimit = 7
)

type hotTourSummary struct {
	HotelCode string `json:"hotelcode"`
	HotelName string `json:"hotelname"`
	TourID    string `json:"tourid"`
	Discount  int    `json:"discount,omitempty"`
}

type hotToursView struct {
	TotalFound int              `json:"total_found"`
	Note       string           `json:"note,omitempty"`
	Tours      []hotTourSummary `json:"tours"`
	Hint       string           `json:"_hint"`
	Warning    string           `json:"_warning,omitempty"`
	AdultsOnly string           `json:"_adults_only_warning,omitempty"`
}

func (d *Dispatcher) hotTours(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	userText := st.History.UserText()
	if !slots.MentionsDeparture(userText) {
		return nil, refuse("⛔ Для горящих туров ОБЯЗАТЕЛЕН город вылета. Клиент НЕ указал город. Спроси: «Из какого города планируете вылет?»")
	}
	if !args.Has("tourtype") && beachRequest.MatchString(strings.Join(st.History.LastUserTexts(20), " ")) {
		args.Set("tourtype", 1)
	}

	p := hotToursParams(args)
	if p.City == 0 {
		if dep, ok := repair.DepartureFromText(userText); ok {
			p.City = dep.ID
		}
	}
	started := d.now()
	tours, err := d.inv.HotTours(ctx, p)
	if err != nil {
		return nil, err
	}
	rec := newSearchRecord("", SearchHot, args, started)
	rec.Departure = p.City
	rec.HotelsFound, rec.ToursFound = len(tours), len(tours)
	rec.Duration = d.now().Sub(started)
	rec.Completed = true
	for _, t := range tours {
		if price := t.Price.Int(); price > 0 && (rec.MinPrice == 0 || price < rec.MinPrice) {
			rec.MinPrice = price
		}
	}
	st.logSearch(rec)
	if len(tours) == 0 {
		st.mu.Lock()
		st.PendingOffers = nil
		st.mu.Unlock()
		return hotToursView{Tours: []hotTourSummary{}, Hint: noHotToursHint}, nil
	}

	top := tours[:min(len(tours), hotToursLimit)]
	cards := make([]OfferCard, 0, len(top))
	summaries := make([]hotTourSummary, 0, len(top))
	index := make(map[int]OfferRef, len(top))
	var adultsOnlyHotels []string
	for i, t := range top {
		cards = append(cards, hotTourCard(t))
		summaries = append(summaries, hotTourSummary{
			HotelCode: t.HotelCode.String(),
			HotelName: t.HotelName.String(),
			TourID:    t.TourID.String(),
			Discount:  t.Discount(),
		})
		index[i+1] = OfferRef{TourID: t.TourID.String(), HotelCode: t.HotelCode.String(), HotelName: t.HotelName.String()}
		if adultsOnly.MatchString(t.HotelName.String()) {
			adultsOnlyHotels = append(adultsOnlyHotels, t.HotelName.String())
		}
	}

	st.mu.Lock()
	st.PendingOffers = cards
	st.TourIndex = index
	st.PinnedContext = pinnedSummary(cards)
	st.mu.Unlock()

	view := hotToursView{
		TotalFound: len(tours),
		Note:       perPersonNote(userText),
		Tours:      summaries,
		Hint:       hotToursHint,
		Warning:    ignoredFiltersWarning(userText),
	}
	if len(adultsOnlyHotels) > 0 && childFilter.MatchString(userText) {
		view.AdultsOnly = fmt.Sprintf("⚠️ В выдаче есть отели «только для взрослых»: %s. Они НЕ подходят для семей с детьми! ОБЯЗАТЕЛЬНО предупреди клиента.", strings.Join(adultsOnlyHotels, ", "))
	}
	return view, nil
}

func hotToursParams(args toolargs.Args) tourvisor.HotToursParams {
	countries := listArg(args, "countries")
	if countries == "" {
		countries = listArg(args, "country")
	}
	rating, _ := args.Float("rating")
	return tourvisor.HotToursParams{
		City:        args.IntOr("city", 0),
		Items:       args.IntOr("items", 10),
		City2:       args.IntOr("city2", 0),
		City3:       args.IntOr("city3", 0),
		Countries:   countries,
		Regions:     listArg(args, "regions"),
		Operators:   listArg(args, "operators"),
		DateFrom:    args.Str("datefrom"),
		DateTo:      args.Str("dateto"),
		Stars:       args.IntOr("stars", 0),
		Meal:        args.IntOr("meal", 0),
		Rating:      rating,
		MaxDays:     args.IntOr("maxdays", 0),
		TourType:    args.IntOr("tourtype", 0),
		VisaFree:    args.IntOr("visa", 0) == 1,
		SortByPrice: args.IntOr("sort", 0) == 1,
		Currency:    args.IntOr("currency", 0),
	}
}

// travelers counts the party from phrases like "2 взр и 1 реб".
func travelers(text string) int {
	total := 0
	if m := adultsCount.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n
	}
	if m := childrenCount.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		total += n
	} else if strings.Contains(text, "ребен") || strings.Contains(text, "с реб") {
		total++
	}
	if total == 0 {
		return 2
	}
	return total
}

func perPersonNote(text string) string {
	n := travelers(text)
	if n == 1 {
		return "ВАЖНО: Цены указаны ЗА ЧЕЛОВЕКА."
	}
	return fmt.Sprintf("ВАЖНО: Цены указаны ЗА ЧЕЛОВЕКА! Для %d путешественников умножай на %d.", n, n)
}

// ignoredFiltersWarning names what the client asked for that hot tours
// cannot filter by.
func ignoredFiltersWarning(text string) string {
	var ignored []string
	if nightsFilter.MatchString(text) {
		ignored = append(ignored, "количество ночей/дней")
	}
	if childFilter.MatchString(text) {
		ignored = append(ignored, "состав семьи (дети)")
	}
	if budgetFilter.MatchString(text) {
		ignored = append(ignored, "бюджет")
	}
	if len(ignored) == 0 {
		return ""
	}
	return fmt.Sprintf("Горящие туры НЕ фильтруются по: %s. ОБЯЗАТЕЛЬНО предупреди клиента, что показанные варианты могут отличаться по этим параметрам. "+
		"Предложи обычный поиск (search_tours) для точных фильтров.", strings.Join(ignored, ", "))
}
