package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/ranking"
	"github.com/rebekaee1/mgp-v2/internal/repair"
	"github.com/rebekaee1/mgp-v2/internal/slots"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

const (
	resultsHint = "Карточки с фото, ценами, датами, питанием, звёздами УЖЕ отображены фронтендом. " +
		"НЕ перечисляй отели, цены, описания, даты, питание, звёзды в тексте! " +
		"Напиши ТОЛЬКО краткий комментарий (1-2 предложения) и спроси клиента."
	allShownHint = "На этой странице больше нет вариантов: все доступные отели уже были показаны ранее. " +
		"Сообщи клиенту: «Все доступные варианты по этим параметрам уже показаны. " +
		"Хотите изменить фильтры или посмотреть другое направление?»"
)

// Departures with flights to every destination; no-results hints about the
// departure city are skipped for them.
var majorDepartures = map[int]bool{1: true, 3: true, 5: true}

func (d *Dispatcher) searchTours(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	st.mu.Lock()
	var last toolargs.Args
	if len(st.LastSearchParams) > 0 {
		last = st.LastSearchParams.Clone()
	}
	st.mu.Unlock()

	report, err := d.repairer.Apply(ctx, repair.Input{History: st.History, LastSearch: last}, args)
	if report.Has(repair.FixDateToClamp) {
		st.Metrics.Inc(MetricDateToCorrections)
	}
	if err != nil {
		searchesTotal.WithLabelValues("corrected").Inc()
		return nil, err
	}

	if slot, missing := slots.Check(st.History, args, last != nil).First(); missing {
		st.Metrics.Inc(MetricCascadeIncomplete)
		cascadeBlocksTotal.WithLabelValues(string(slot.Kind)).Inc()
		searchesTotal.WithLabelValues("blocked").Inc()
		d.logger.WithFields(logging.Fields{
			"slot":  slot.Kind,
			"label": slot.Label,
		}).Info("Search blocked: slot missing")
		return nil, &refusal{Message: slots.BlockMessage(slot)}
	}

	requestID, err := d.inv.Submit(ctx, searchParams(args))
	if err != nil {
		searchesTotal.WithLabelValues("error").Inc()
		var apiErr *tourvisor.APIError
		if errors.As(err, &apiErr) {
			d.logger.WithError(err).Warn("Search rejected upstream")
			return nil, &refusal{
				Message: "Не удалось создать поиск. Проверьте даты: они должны быть в будущем.",
				Hint:    "Используйте формат ДД.ММ.ГГГГ",
			}
		}
		return nil, fmt.Errorf("submit search: %w", err)
	}
	searchesTotal.WithLabelValues("submitted").Inc()
	st.Metrics.Inc(MetricTotalSearches)
	st.rememberSearch(requestID, args)
	st.logSearch(newSearchRecord(requestID, SearchRegular, args, d.now()))

	d.logger.WithFields(logging.Fields{
		"request_id": requestID,
		"applied":    report.Applied,
	}).Info("Search submitted")
	return map[string]any{
		"requestid": requestID,
		"message": fmt.Sprintf("⛔ Поиск запущен (requestid=%s). ОБЯЗАТЕЛЬНО сейчас вызови get_search_status(requestid=%s). "+
			"Ты ещё НЕ знаешь результатов, НЕ говори клиенту 'Нашёл' пока не вызовешь get_search_results!", requestID, requestID),
	}, nil
}

// rememberSearch records a submitted search: its handle, the arguments a
// follow-up inherits and what the ranking needs to know.
func (st *State) rememberSearch(requestID string, args toolargs.Args) {
	cached := toolargs.Args{}
	for _, key := range repair.CachedKeys {
		if args.Has(key) {
			cached[key] = args[key]
		}
	}
	cached[repair.KeyCountry] = args.Str("country")
	cached[repair.KeyRegions] = args.Str("regions")
	if hotels := listArg(args, "hotels"); hotels != "" {
		cached[repair.KeyHotels] = hotels
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.LastRequestID = requestID
	st.LastSearchParams = cached
	st.TourIndex = make(map[int]OfferRef)
	st.SearchAwaitingResults = true
	st.IdealDateFrom = args.Str("datefrom")
	st.IdealNightsFrom = args.IntOr("nightsfrom", 7)
	st.IdealNightsTo = args.IntOr("nightsto", 10)
	st.HasBudget = args.IntOr("pricefrom", 0) > 0 || args.IntOr("priceto", 0) > 0
	st.StatedBudget = args.IntOr("priceto", 0)
	if city, ok := repair.DepartureCity(args.IntOr("departure", 0)); ok {
		st.LastDepartureCity = city
	}
}

func searchParams(args toolargs.Args) tourvisor.SearchParams {
	p := tourvisor.SearchParams{
		Departure:    args.IntOr("departure", 0),
		Country:      args.IntOr("country", 0),
		DateFrom:     args.Str("datefrom"),
		DateTo:       args.Str("dateto"),
		NightsFrom:   args.IntOr("nightsfrom", 0),
		NightsTo:     args.IntOr("nightsto", 0),
		Adults:       args.IntOr("adults", 0),
		Children:     args.IntOr("child", 0),
		Stars:        args.IntOr("stars", 0),
		Meal:         args.IntOr("meal", 0),
		Rating:       args.IntOr("rating", 0),
		Hotels:       listArg(args, "hotels"),
		Regions:      listArg(args, "regions"),
		Subregions:   listArg(args, "subregions"),
		Operators:    listArg(args, "operators"),
		PriceFrom:    args.IntOr("pricefrom", 0),
		PriceTo:      args.IntOr("priceto", 0),
		HotelTypes:   listArg(args, "hoteltypes"),
		Services:     listArg(args, "services"),
		FlightClass:  args.Str("flightclass"),
		OnRequest:    optInt(args, "onrequest"),
		DirectFlight: optInt(args, "directflight"),
		Currency:     optInt(args, "currency"),
		PriceType:    optInt(args, "pricetype"),
		StarsBetter:  optInt(args, "starsbetter"),
		MealBetter:   optInt(args, "mealbetter"),
		HideRegular:  optInt(args, "hideregular"),
	}
	for i := 1; i <= p.Children && i <= 3; i++ {
		if age, ok := args.Int(fmt.Sprintf("childage%d", i)); ok {
			p.ChildAges = append(p.ChildAges, age)
		}
	}
	return p
}

func (d *Dispatcher) searchStatus(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	requestID, err := d.resolveRequestID(st, args, invalidRequestID)
	if err != nil {
		return nil, err
	}
	status, outcome, err := d.inv.Poll(ctx, requestID, d.poll)
	if err != nil {
		if nr, ok := tourvisor.IsNoResults(err); ok {
			st.completeSearch(requestID, 0, 0, 0, d.now())
			return nil, st.explainNoResults(nr)
		}
		return nil, err
	}

	hotels, tours := status.HotelsFound.Int(), status.ToursFound.Int()
	st.completeSearch(requestID, hotels, tours, status.MinPrice.Int(), d.now())
	var hint string
	switch outcome {
	case tourvisor.PollFinished:
		hint = fmt.Sprintf("Поиск завершён! Найдено %d отелей, %d туров. Вызови get_search_results с requestid для получения списка отелей.", hotels, tours)
	case tourvisor.PollEarly:
		hint = fmt.Sprintf("Поиск ещё идёт (%d%%), но уже найдено %d отелей. Вызови get_search_results с этим requestid для показа результатов.", status.Progress.Int(), hotels)
	default:
		hint = fmt.Sprintf("Поиск не завершился за %dс, но найдено %d отелей. Вызови get_search_results для показа частичных результатов.", int(d.poll.Timeout/time.Second), hotels)
	}

	st.mu.Lock()
	budget := st.StatedBudget
	st.mu.Unlock()
	if minPrice := status.MinPrice.Int(); budget > 0 && minPrice > budget {
		hint += fmt.Sprintf(" ВНИМАНИЕ: минимальная цена (%d руб.) ПРЕВЫШАЕТ бюджет клиента (%d руб.)! ОБЯЗАТЕЛЬНО предупреди клиента!", minPrice, budget)
	}

	return map[string]any{
		"state":       status.State,
		"hotelsfound": hotels,
		"toursfound":  tours,
		"progress":    status.Progress.Int(),
		"minprice":    status.MinPrice.Int(),
		"outcome":     outcome.String(),
		"_hint":       hint,
	}, nil
}

// explainNoResults extends an empty search with what most likely caused
// it. The search is over, so the session stops waiting for results.
func (st *State) explainNoResults(nr *tourvisor.NoResultsError) error {
	st.mu.Lock()
	last := st.LastSearchParams.Clone()
	st.SearchAwaitingResults = false
	st.mu.Unlock()

	msg := nr.Message
	if dep, ok := last.Int("departure"); ok && dep != repair.NoFlightDeparture && !majorDepartures[dep] {
		city, _ := repair.DepartureCity(dep)
		msg += fmt.Sprintf(" ⚠️ Из города '%s' (departure=%d) ноль туров. Вероятно, из этого города нет рейсов в данную страну. "+
			"Проверь через get_dictionaries(type=country, cndep=%d) какие направления доступны и предложи клиенту ближайшие альтернативные города вылета.", city, dep, dep)
	}
	if hotels := last.Str(repair.KeyHotels); hotels != "" {
		if meal := last.IntOr("meal", 0); meal > 0 {
			first := strings.Split(hotels, ",")[0]
			msg += fmt.Sprintf(" ⚠️ Поиск конкретного отеля (hotels=%s) с meal=%d вернул 0 туров. Вызови get_hotel_info(hotelcode=%s): "+
				"проверь поле meallist, чтобы узнать какие типы питания доступны в этом отеле, и предложи клиенту доступный вариант. "+
				"НЕ предлагай другие отели, пока не проверил питание в этом!", hotels, meal, first)
		}
	}
	return &tourvisor.NoResultsError{Message: msg, Hint: nr.Hint}
}

type hotelSummary struct {
	HotelCode string   `json:"hotelcode"`
	HotelName string   `json:"hotelname"`
	TourID    string   `json:"tourid"`
	Warnings  []string `json:"warnings,omitempty"`
}

type resultsView struct {
	HotelsFound int            `json:"hotels_found"`
	ToursFound  int            `json:"tours_found"`
	Hotels      []hotelSummary `json:"hotels"`
	Hint        string         `json:"_hint"`
}

func (d *Dispatcher) searchResults(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	requestID, err := d.resolveRequestID(st, args, invalidRequestID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.SearchAwaitingResults = false
	q := ranking.Query{
		NightsFrom: st.IdealNightsFrom,
		NightsTo:   st.IdealNightsTo,
		HasBudget:  st.HasBudget,
	}
	ideal := st.IdealDateFrom
	city := st.LastDepartureCity
	st.mu.Unlock()
	if t, err := time.Parse(tourvisor.DateLayout, ideal); err == nil {
		q.IdealDate = t
	}

	page := args.IntOr("page", 1)
	if page < 1 {
		page = 1
	}
	// A known date widens the pool so ranking can find tours close to it.
	pool := 10
	if !q.IdealDate.IsZero() {
		pool = 30
	}
	res, err := d.inv.Results(ctx, requestID, page, max(args.IntOr("onpage", 0), pool))
	if err != nil {
		return nil, err
	}

	ranked := ranking.Rank(res.Hotels, q)
	if len(ranked) == 0 {
		if page > 1 {
			return resultsView{Hotels: []hotelSummary{}, Hint: allShownHint}, nil
		}
		return nil, &tourvisor.NoResultsError{
			Message: "По этому поиску нет туров с ценами.",
			Hint:    "Предложи клиенту изменить даты, категорию отеля или питание.",
		}
	}

	cards := make([]OfferCard, 0, len(ranked))
	summaries := make([]hotelSummary, 0, len(ranked))
	index := make(map[int]OfferRef, len(ranked))
	for i, r := range ranked {
		cards = append(cards, searchCard(r, city))
		summaries = append(summaries, hotelSummary{
			HotelCode: r.Hotel.HotelCode.String(),
			HotelName: r.Hotel.HotelName.String(),
			TourID:    r.Tour.TourID.String(),
			Warnings:  r.Tour.Warnings(),
		})
		index[i+1] = OfferRef{
			TourID:    r.Tour.TourID.String(),
			HotelCode: r.Hotel.HotelCode.String(),
			HotelName: r.Hotel.HotelName.String(),
		}
	}

	st.mu.Lock()
	st.PendingOffers = cards
	st.TourIndex = index
	st.PinnedContext = pinnedSummary(cards)
	st.mu.Unlock()

	return resultsView{
		HotelsFound: res.Status.HotelsFound.Int(),
		ToursFound:  res.Status.ToursFound.Int(),
		Hotels:      summaries,
		Hint:        resultsHint,
	}, nil
}

func (d *Dispatcher) continueSearch(ctx context.Context, st *State, args toolargs.Args) (any, error) {
	requestID, err := d.resolveRequestID(st, args, invalidContinueID)
	if err != nil {
		return nil, err
	}
	page, err := d.inv.Continue(ctx, requestID)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	st.SearchAwaitingResults = true
	st.mu.Unlock()
	return map[string]any{
		"page":    page,
		"message": fmt.Sprintf("Продолжение поиска запущено (страница %s). Вызови get_search_status для ожидания завершения, затем get_search_results.", page),
	}, nil
}
