package slots

import "github.com/rebekaee1/mgp-v2/internal/textnorm"

// All patterns run against folded text (lower case, ё → е).

var departurePatterns = textnorm.MustCompileAll(
	`\b(?:москв[аыуе]|мск)\b`,
	`петербург|питер|\bспб\b|санкт-петербург`,
	`екатеринбург|\bеката\b|\bекб\b`,
	`новосибирск`,
	`казан[ьи]`,
	`краснодар`,
	`красноярск`,
	`\bсамар`,
	`\bуф[аыуе]\b`,
	`\bперм[ьи]\b`,
	`челябинск`,
	`ростов`,
	`минеральн\w+\s*вод|мин\s*вод`,
	`тюмен[ьи]`,
	`нижн\w+\s*новгород|нижний`,
	`волгоград`,
	`воронеж`,
	`\bомск`,
	`иркутск`,
	`хабаровск`,
	`сочи`,
	`(?:вылет|вылетаем|летим|улетаем)\s+(?:из|с)\s+\w+`,
	`\b(?:из|с)\s+\w+\s+(?:вылет|вылетаем|улетаем)`,
	`без\s*перелет`,
)

const genitiveMonths = `(?:января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)`

var specificDatePatterns = textnorm.MustCompileAll(
	`\d{1,2}\.\d{1,2}(?:\.\d{2,4})?`,
	`\d{1,2}\s+`+genitiveMonths,
	`(?:в\s+)?(?:начал|середин|конц)\w*\s+(?:`+genitiveMonths+`|месяца)`,
	`майск|новогодн|новый\s+год|8\s+марта|23\s+февраля|каникул`,
	`\bзавтра\b|послезавтра|через\s+\d+\s*(?:дн|недел|месяц)|через\s+(?:неделю|месяц)`,
	`(?:этом|следующем)\s+месяце`,
	`ближайшее\s+время`,
	`(?:первой|второй)\s+половин[еы]`,
	`ближе\s+к\s+(?:начал|конц|середин)`,
	`(?:под|к)\s+конец`,
	`(?:весь|целый)\s+(?:январь|февраль|март|апрель|май|июнь|июль|август|сентябрь|октябрь|ноябрь|декабрь)`,
)

var bareMonthPattern = textnorm.MustCompile(
	`\b(?:январ[еья]|феврал[еья]|март[еа]?|апрел[еья]|ма[еяй]|июн[еья]|июл[еья]|август[еа]?|сентябр[еья]|октябр[еья]|ноябр[еья]|декабр[еья])\b`,
)

var monthPartPatterns = textnorm.MustCompileAll(
	`\b(?:начал[еоу]|начало)\b`,
	`середин[еуы]|середина`,
	`конц[еуы]|конец`,
	`(?:перв\w+|втор\w+)\s+половин`,
)

var nightsPatterns = textnorm.MustCompileAll(
	`\d+\s*(?:ноч|дн|день|дней|ночей)`,
	`\bнеделю\b|\bнедельку\b|\bдве\s+недели\b|\b2\s+недели\b`,
	`\bнедел[яюи]\b`,
	`выходные|уикенд`,
	`(?:с\s+)?\d{1,2}(?:\.\d{1,2})?\s*(?:по|-)\s*\d{1,2}`,
)

var travelerPatterns = textnorm.MustCompileAll(
	`взрослы[хй]|\bвзр\b\.?|\bвз\b\.?|\badults?\b`,
	`\bдет(?:ей|и|ьми|ям)?\b|ребен(?:ок|ка)|\bchild`,
	`\b(?:один|одна|сам|одиночк\w*)\b`,
	`\b(?:двое|два|две)\s+(?:взрослых|человек|чел)`,
	`\b(?:трое|три|четверо|четыре|пятеро|пять|шестеро|шесть)\s+(?:взрослых|человек|чел)`,
	`\d+\s*(?:взрослы[хй]|человек|чел\.?|взр|вз)`,
	`\d+\s*(?:в|вз)\s*\+`,
	`с\s+(?:мужем|женой|парнем|девушкой|подругой|другом)`,
	`вдвоем|втроем|вчетвером|впятером`,
	`\bмы\s+с\s+`,
)

var childAgePatterns = textnorm.MustCompileAll(
	`(?:ребен\w*|дет\w*|дочк\w*|сын\w*|малыш\w*)\s*(?:\d{1,2}\s*(?:лет|года?|мес))`,
	`\d{1,2}\s*(?:лет|года?)\s*(?:ребен|дет|дочк|сын)`,
	`(?:реб|ребенок)\s*\(\s*\d{1,2}`,
	`реб?\s*\d{1,2}\s*лет`,
	`\d+\s*(?:взр|в)\s*\+\s*(?:реб|р)?\s*\d{1,2}\s*(?:лет|г)`,
)

var starsPatterns = textnorm.MustCompileAll(
	`\d[\s\-]*(?:звезд|\*|⭐)`,
	`пятизвезд|четырехзвезд|трехзвезд`,
	`\b(?:пять|четыре|три|два)\s+звезд`,
	`\b(?:пятерк|четверк|тройк)`,
)

var mealPatterns = textnorm.MustCompileAll(
	`все\s*включен`,
	`ультра`,
	`all\s*incl`,
	`ол+\s*инклюзив`,
	`\b(?:аи|уаи)\b`,
	`\b(?:ai|uai)\b`,
	`полупансион|half\s*board|\bhb\b`,
	`полный\s+пансион|full\s*board|\bfb\b`,
	`(?:только\s+)?завтрак`,
	`\b(?:bb|ro|ob)\b`,
	`без\s*питани`,
)

var skipPatterns = textnorm.MustCompileAll(
	`(?:любой|любую|любое|любые)\s+(?:отель|категори|звезд|питани)`,
	`\b(?:любой|любая|любое)\b`,
	`без\s+разницы|все\s+равно`,
	`не\s+важно|неважно|не\s+принципиально`,
	`на\s+(?:ваше|твое)\s+усмотрени`,
	`рассмотрим\s+вариант|покажите\s+что\s+есть|какие\s+есть`,
	`покажите\s+что-нибудь|что\s+посоветуете`,
)

var brandPatterns = textnorm.MustCompileAll(
	`rixos|hilton|delphin|swissotel|kempinski|calista|titanic|gloria|regnum|maxx\s*royal`,
	`iberostar|marriott|sheraton|radisson|accor|hyatt|intercontinental`,
	`(?:в\s+)?отел[ьеи]\s+[а-яa-z]{3,}`,
)

var qualityQuestionPhrases = []string{
	"категорию отеля",
	"тип питания",
	"питание предпочитаете",
	"какой отель предпочитаете",
	"какую звездность",
	"сколько звезд",
	"звездность отел",
}
