package agent

import "github.com/rebekaee1/mgp-v2/pkg/llm"

// Tool names.
const (
	ToolCurrentDate   = "get_current_date"
	ToolSearchTours   = "search_tours"
	ToolSearchStatus  = "get_search_status"
	ToolSearchResults = "get_search_results"
	ToolDictionaries  = "get_dictionaries"
	ToolHotelInfo     = "get_hotel_info"
	ToolActualize     = "actualize_tour"
	ToolTourDetails   = "get_tour_details"
	ToolHotTours      = "get_hot_tours"
	ToolContinue      = "continue_search"
)

// ToolNames lists the catalog in declaration order.
var ToolNames = []string{
	ToolCurrentDate, ToolSearchTours, ToolSearchStatus, ToolSearchResults,
	ToolContinue, ToolDictionaries, ToolActualize, ToolTourDetails,
	ToolHotelInfo, ToolHotTours,
}

// KnownTool reports whether name is in the catalog.
func KnownTool(name string) bool {
	for _, n := range ToolNames {
		if n == name {
			return true
		}
	}
	return false
}

// largeOutputTools get a bigger share of the context for their results.
var largeOutputTools = map[string]bool{
	ToolSearchResults: true,
	ToolHotelInfo:     true,
	ToolHotTours:      true,
}

func toolParams(properties map[string]any, required []string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func intParam(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func strParam(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// Tools is the catalog offered to the model.
var Tools = []llm.Tool{
	{
		Name:        ToolCurrentDate,
		Description: "Текущая дата и время. Вызывай перед search_tours, чтобы правильно посчитать даты.",
		Parameters:  toolParams(map[string]any{}, nil),
	},
	{
		Name: ToolSearchTours,
		Description: "Запускает асинхронный поиск туров и возвращает requestid. " +
			"Вызывай только когда известны город вылета, даты и длительность, состав путешественников, " +
			"категория отеля и питание. После вызова ОБЯЗАТЕЛЬНО вызови get_search_status.",
		Parameters: toolParams(map[string]any{
			"departure":    intParam("Код города вылета (1 Москва, 5 Санкт-Петербург, 99 без перелёта)."),
			"country":      intParam("Код страны из get_dictionaries(type=country)."),
			"regions":      strParam("Коды курортов через запятую."),
			"subregions":   strParam("Коды районов через запятую."),
			"hotels":       strParam("Коды отелей через запятую."),
			"datefrom":     strParam("Начало диапазона дат вылета, ДД.ММ.ГГГГ."),
			"dateto":       strParam("Конец диапазона дат вылета, ДД.ММ.ГГГГ."),
			"nightsfrom":   intParam("Минимум ночей."),
			"nightsto":     intParam("Максимум ночей."),
			"adults":       intParam("Количество взрослых."),
			"child":        intParam("Количество детей."),
			"childage1":    intParam("Возраст первого ребёнка."),
			"childage2":    intParam("Возраст второго ребёнка."),
			"childage3":    intParam("Возраст третьего ребёнка."),
			"stars":        intParam("Категория отеля (1-5)."),
			"starsbetter":  intParam("1 - показывать и более высокие категории."),
			"meal":         intParam("Код питания из get_dictionaries(type=meal)."),
			"mealbetter":   intParam("1 - показывать и более высокие типы питания."),
			"rating":       intParam("Минимальный рейтинг отеля."),
			"pricefrom":    intParam("Цена от, руб."),
			"priceto":      intParam("Цена до, руб."),
			"operators":    strParam("Коды туроператоров через запятую."),
			"hoteltypes":   strParam("Типы отелей через запятую (beach, family, ...)."),
			"services":     strParam("Коды услуг через запятую."),
			"onrequest":    intParam("0 - скрыть туры под запрос."),
			"directflight": intParam("1 - только прямые рейсы."),
			"flightclass":  strParam("Класс перелёта."),
			"currency":     intParam("Валюта цен (0 рубли)."),
			"pricetype":    intParam("0 - цена за тур, 1 - за человека."),
			"hideregular":  intParam("1 - скрыть регулярные рейсы."),
		}, []string{"departure", "country"}),
	},
	{
		Name:        ToolSearchStatus,
		Description: "Ждёт готовности поиска и возвращает его статус. Передавай requestid из search_tours.",
		Parameters: toolParams(map[string]any{
			"requestid": strParam("Числовой requestid из search_tours."),
		}, []string{"requestid"}),
	},
	{
		Name: ToolSearchResults,
		Description: "Возвращает лучшие найденные отели. Карточки с ценами показываются клиенту автоматически, " +
			"в тексте их не перечисляй.",
		Parameters: toolParams(map[string]any{
			"requestid": strParam("Числовой requestid из search_tours."),
			"page":      intParam("Номер страницы, по умолчанию 1."),
			"onpage":    intParam("Отелей на странице."),
		}, []string{"requestid"}),
	},
	{
		Name:        ToolContinue,
		Description: "Продолжает поиск, чтобы получить больше вариантов.",
		Parameters: toolParams(map[string]any{
			"requestid": strParam("Числовой requestid из search_tours."),
		}, []string{"requestid"}),
	},
	{
		Name: ToolDictionaries,
		Description: "Справочники: departure, country, region, subregion, meal, stars, operator, services, " +
			"flydate, hotel, currency. Для отеля по названию передай type=hotel, hotcountry и name.",
		Parameters: toolParams(map[string]any{
			"type":         strParam("Тип справочника."),
			"cndep":        intParam("Город вылета для списка стран."),
			"regcountry":   intParam("Страна для списка курортов."),
			"flydeparture": intParam("Город вылета для туроператоров и дат."),
			"flycountry":   intParam("Страна для туроператоров и дат."),
			"hotcountry":   intParam("Страна для списка отелей."),
			"hotregion":    strParam("Курорты для списка отелей."),
			"hotstars":     intParam("Категория для списка отелей."),
			"hotrating":    intParam("Рейтинг для списка отелей."),
			"name":         strParam("Фильтр по названию (курорт или отель)."),
		}, []string{"type"}),
	},
	{
		Name:        ToolActualize,
		Description: "Актуализирует цену тура по tourid.",
		Parameters: toolParams(map[string]any{
			"tourid":   strParam("Числовой tourid из get_search_results."),
			"request":  intParam("0 авто, 1 всегда запрос к оператору, 2 кэш."),
			"currency": intParam("Валюта цен."),
		}, []string{"tourid"}),
	},
	{
		Name:        ToolTourDetails,
		Description: "Детали тура: рейсы, время вылета, авиакомпания.",
		Parameters: toolParams(map[string]any{
			"tourid":   strParam("Числовой tourid из get_search_results."),
			"currency": intParam("Валюта цен."),
		}, []string{"tourid"}),
	},
	{
		Name:        ToolHotelInfo,
		Description: "Подробное описание отеля: территория, пляж, услуги, питание, фото, отзывы.",
		Parameters: toolParams(map[string]any{
			"hotelcode": strParam("Код отеля."),
			"reviews":   intParam("1 - добавить отзывы."),
		}, []string{"hotelcode"}),
	},
	{
		Name:        ToolHotTours,
		Description: "Горящие туры из города вылета. Цены указаны за человека, даты и длительность фиксированы.",
		Parameters: toolParams(map[string]any{
			"city":      intParam("Код города вылета."),
			"items":     intParam("Количество туров, по умолчанию 10."),
			"city2":     intParam("Второй город вылета."),
			"city3":     intParam("Третий город вылета."),
			"countries": strParam("Коды стран через запятую."),
			"regions":   strParam("Коды курортов через запятую."),
			"operators": strParam("Коды туроператоров через запятую."),
			"datefrom":  strParam("Вылет от, ДД.ММ.ГГГГ."),
			"dateto":    strParam("Вылет до, ДД.ММ.ГГГГ."),
			"stars":     intParam("Категория отеля."),
			"meal":      intParam("Код питания."),
			"rating":    intParam("Минимальный рейтинг."),
			"maxdays":   intParam("Максимум ночей."),
			"tourtype":  intParam("1 - пляжный отдых."),
			"visa":      intParam("1 - только безвизовые страны."),
			"sort":      intParam("1 - сортировать по цене."),
			"currency":  intParam("Валюта цен."),
		}, []string{"city"}),
	},
}
