package repair

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/slots"
	"github.com/rebekaee1/mgp-v2/internal/textnorm"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

func departureIDs(v any) []int {
	var raw []any
	switch d := v.(type) {
	case []any:
		raw = d
	case string:
		if !strings.Contains(d, ",") {
			return nil
		}
		for _, part := range strings.Split(d, ",") {
			raw = append(raw, strings.TrimSpace(part))
		}
	default:
		return nil
	}
	ids := make([]int, 0, len(raw))
	for _, item := range raw {
		if id, ok := (toolargs.Args{"v": item}).Int("v"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// fixDepartureList refuses several departure cities: the API takes one.
func fixDepartureList(_ context.Context, r *Repairer, _ Input, args toolargs.Args) (bool, error) {
	ids := departureIDs(args["departure"])
	switch {
	case len(ids) == 0:
		return false, nil
	case len(ids) == 1:
		args["departure"] = ids[0]
		return true, nil
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if city, ok := DepartureCity(id); ok {
			names = append(names, city)
		} else {
			names = append(names, "код "+strconv.Itoa(id))
		}
	}
	r.logger.WithField("departure", args["departure"]).Warn("several departure cities rejected")
	return false, &CorrectionError{
		Corrector: FixDepartureList,
		Message: "Клиент указал несколько городов вылета: " + strings.Join(names, ", ") +
			". Уточни у клиента, из какого ОДНОГО города ему удобнее вылетать, и выполни поиск с одним городом.",
	}
}

// fixDepartureText makes the departure agree with what the client wrote,
// unless the model switched to a city the client named recently.
func fixDepartureText(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	dep := args.IntOr("departure", 0)

	if prev, ok := in.LastSearch.Int("departure"); ok && dep != prev {
		if d, known := departureBy[dep]; known && d.verify.MatchString(in.recent(6)) {
			r.logger.WithFields(logging.Fields{
				"from": prev,
				"to":   dep,
			}).Info("departure change confirmed by client text")
			return false, nil
		}
	}

	d, ok := DepartureFromText(in.recent(20))
	if !ok || d.ID == dep {
		return false, nil
	}
	r.logger.WithFields(logging.Fields{
		"departure": dep,
		"corrected": d.ID,
		"city":      d.City,
	}).Warn("departure does not match client text")
	args["departure"] = d.ID
	return true, nil
}

var leakedCall = regexp.MustCompile(`get_\w+\(|search_\w+\(|"get_|function`)

// fixLeakedCall drops date values that contain call syntax instead of a date.
func fixLeakedCall(_ context.Context, r *Repairer, _ Input, args toolargs.Args) (bool, error) {
	changed := false
	for _, key := range []string{"datefrom", "dateto"} {
		v, ok := args[key].(string)
		if !ok || !leakedCall.MatchString(v) {
			continue
		}
		r.logger.WithFields(logging.Fields{"key": key, "value": truncate(v, 100)}).Warn("call syntax leaked into argument")
		delete(args, key)
		changed = true
	}
	return changed, nil
}

var dayMonth = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})$`)

// fixDateYear completes d.m dates with the current year, or the next one
// when the date already passed.
func fixDateYear(_ context.Context, r *Repairer, _ Input, args toolargs.Args) (bool, error) {
	changed := false
	today := r.today()
	for _, key := range []string{"datefrom", "dateto"} {
		m := dayMonth.FindStringSubmatch(strings.TrimSpace(args.Str(key)))
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			continue
		}
		d := time.Date(today.Year(), time.Month(month), day, 0, 0, 0, 0, today.Location())
		if d.Day() != day {
			continue
		}
		if d.Before(today) {
			d = d.AddDate(1, 0, 0)
		}
		r.logger.WithFields(logging.Fields{"key": key, "value": m[0], "completed": formatDate(d)}).Info("date completed with year")
		args[key] = formatDate(d)
		changed = true
	}
	return changed, nil
}

// fixDateToDefault makes a search without an end date an exact-day search.
func fixDateToDefault(_ context.Context, r *Repairer, _ Input, args toolargs.Args) (bool, error) {
	from := args.Str("datefrom")
	if _, ok := r.parseDate(from); !ok || strings.TrimSpace(args.Str("dateto")) != "" {
		return false, nil
	}
	args["dateto"] = from
	return true, nil
}

var explicitRange = textnorm.MustCompile(`\bс\s+\d{1,2}[\s./-].*?(?:по|-)\s*\d{1,2}`)

// fixDateToClamp undoes the common mistake of sending the return date as
// dateto. A span roughly equal to the trip length is the trip itself, so
// the departure is pinned to datefrom. An explicit "с D по D" window whose
// length differs from the nights is kept as a departure window.
func fixDateToClamp(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	from, ok := r.parseDate(args.Str("datefrom"))
	if !ok {
		return false, nil
	}
	to, ok := r.parseDate(args.Str("dateto"))
	if !ok || !to.After(from) {
		return false, nil
	}
	if !args.Has("nightsfrom") && !args.Has("nightsto") {
		return false, nil
	}

	span := daysBetween(from, to)
	clamp := false
	if explicitRange.MatchString(in.recent(20)) {
		nights := args.IntOr("nightsfrom", 0)
		if nights <= 0 {
			nights = 7
		}
		clamp = span > 2 && absInt(span-nights) <= 1
	} else {
		nights := args.IntOr("nightsto", 0)
		if nights <= 0 {
			nights = args.IntOr("nightsfrom", 0)
		}
		if nights <= 0 {
			nights = 7
		}
		clamp = span >= 4 && absInt(span-nights) <= 2
	}
	if !clamp {
		return false, nil
	}
	r.logger.WithFields(logging.Fields{
		"datefrom": args.Str("datefrom"),
		"dateto":   args.Str("dateto"),
		"span":     span,
	}).Warn("dateto looked like a return date, clamped to datefrom")
	args["dateto"] = formatDate(from)
	return true, nil
}

// fixPastDate moves a past departure to tomorrow.
func fixPastDate(_ context.Context, r *Repairer, _ Input, args toolargs.Args) (bool, error) {
	from, ok := r.parseDate(args.Str("datefrom"))
	today := r.today()
	if !ok || !from.Before(today) {
		return false, nil
	}
	tomorrow := today.AddDate(0, 0, 1)
	r.logger.WithFields(logging.Fields{"datefrom": args.Str("datefrom"), "moved_to": formatDate(tomorrow)}).Warn("datefrom in the past")
	args["datefrom"] = formatDate(tomorrow)
	if to, ok := r.parseDate(args.Str("dateto")); ok && to.Before(tomorrow) {
		args["dateto"] = formatDate(tomorrow.AddDate(0, 0, 2))
	}
	return true, nil
}

var monthPart = textnorm.MustCompile(
	`(начал\w*|середин\w*|конц\w*|перв\w+\s+половин\w*|втор\w+\s+половин\w*)\s+` +
		`(январ\w*|феврал\w*|март\w*|апрел\w*|ма[еяй]\w*|июн\w*|июл\w*|август\w*|сентябр\w*|октябр\w*|ноябр\w*|декабр\w*)`,
)

var monthPrefixes = []struct {
	prefix string
	month  time.Month
}{
	{"январ", time.January}, {"феврал", time.February}, {"март", time.March},
	{"апрел", time.April}, {"ма", time.May}, {"июн", time.June},
	{"июл", time.July}, {"август", time.August}, {"сентябр", time.September},
	{"октябр", time.October}, {"ноябр", time.November}, {"декабр", time.December},
}

func monthOf(word string) (time.Month, bool) {
	for _, p := range monthPrefixes {
		if strings.HasPrefix(word, p.prefix) {
			return p.month, true
		}
	}
	return 0, false
}

// fixMonthPart forces the canonical span of "начало/середина/конец месяца"
// and of month halves when the model sent a different one.
func fixMonthPart(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	from, ok := r.parseDate(args.Str("datefrom"))
	if !ok {
		return false, nil
	}
	to, ok := r.parseDate(args.Str("dateto"))
	if !ok {
		return false, nil
	}
	m := monthPart.FindStringSubmatch(in.recent(20))
	if m == nil {
		return false, nil
	}
	part := m[1]
	month, ok := monthOf(m[2])
	if !ok {
		return false, nil
	}
	year := from.Year()
	if month < from.Month() {
		year++
	}
	span := daysBetween(from, to)

	// endDay 0 stands for the last day of the month.
	var startDay, endDay int
	switch {
	case strings.HasPrefix(part, "начал"):
		if span != 3 {
			startDay, endDay = 1, 4
		}
	case strings.HasPrefix(part, "середин"):
		if span < 8 || span > 12 {
			startDay, endDay = 10, 20
		}
	case strings.HasPrefix(part, "конц"):
		if span < 8 || span > 14 {
			startDay, endDay = 20, 0
		}
	case strings.HasPrefix(part, "перв"):
		if span < 11 || span > 15 {
			startDay, endDay = 1, 14
		}
	case strings.HasPrefix(part, "втор"):
		if span < 11 || span > 15 {
			startDay, endDay = 15, 0
		}
	}
	if startDay == 0 {
		return false, nil
	}

	loc := from.Location()
	window := func(year int) (time.Time, time.Time) {
		end := time.Date(year, month, endDay, 0, 0, 0, 0, loc)
		if endDay == 0 {
			end = time.Date(year, month+1, 0, 0, 0, 0, 0, loc)
		}
		return time.Date(year, month, startDay, 0, 0, 0, 0, loc), end
	}
	start, end := window(year)
	today := r.today()
	if end.Before(today) {
		start, end = window(year + 1)
	} else if start.Before(today) {
		start = today.AddDate(0, 0, 1)
	}

	newFrom, newTo := formatDate(start), formatDate(end)
	if newFrom == args.Str("datefrom") && newTo == args.Str("dateto") {
		return false, nil
	}
	r.logger.WithFields(logging.Fields{
		"phrase": m[0],
		"was":    args.Str("datefrom") + "-" + args.Str("dateto"),
		"now":    newFrom + "-" + newTo,
	}).Warn("month part span corrected")
	args["datefrom"] = newFrom
	args["dateto"] = newTo
	return true, nil
}

// fixResortRegion turns a resort the client named into a region filter and
// makes the country agree with it. A named resort that cannot be resolved
// refuses the call rather than searching the whole country.
func fixResortRegion(ctx context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	changed := false
	country := args.IntOr("country", 0)
	if regions := strings.TrimSpace(args.Str("regions")); regions != "" && country > 0 && regions == strconv.Itoa(country) {
		r.logger.WithField("regions", regions).Warn("regions equals country, dropped")
		delete(args, "regions")
		changed = true
	}
	for _, key := range []string{"regions", "subregions", "hotels"} {
		if strings.TrimSpace(args.Str(key)) != "" {
			return changed, nil
		}
	}

	resort, name, ok := ResortFromText(in.recent(20))
	if !ok {
		return changed, nil
	}
	if country != resort.CountryID {
		r.logger.WithFields(logging.Fields{
			"country":   country,
			"corrected": resort.CountryID,
			"resort":    name,
		}).Warn("country does not match named resort")
		args["country"] = resort.CountryID
		changed = true
	}

	if resort.RegionID > 0 {
		args["regions"] = strconv.Itoa(resort.RegionID)
		r.logger.WithFields(logging.Fields{"resort": name, "regions": resort.RegionID}).Info("resort resolved from table")
		return true, nil
	}

	target := name
	if resort.Parent != "" {
		target = textnorm.Fold(resort.Parent)
	}
	if id, ok := r.lookupRegion(ctx, resort.CountryID, target); ok {
		args["regions"] = id
		r.logger.WithFields(logging.Fields{"resort": name, "regions": id}).Info("resort resolved from region dictionary")
		return true, nil
	}

	r.logger.WithFields(logging.Fields{"resort": name, "country": resort.CountryName}).Warn("resort not resolved, search refused")
	return changed, &CorrectionError{
		Corrector: FixResortRegion,
		Message: fmt.Sprintf("СИСТЕМНАЯ ОШИБКА: Клиент указал конкретный курорт '%s', но ты НЕ передал параметр regions в search_tours! "+
			"ОБЯЗАТЕЛЬНО определи код региона: вызови get_dictionaries(type='region', regcountry=%d) и найди код для '%s'. "+
			"Затем передай regions=КОД в search_tours. Без regions поиск вернёт туры по ВСЕЙ стране, а не по указанному курорту!",
			name, resort.CountryID, name),
		Hint: fmt.Sprintf("Определи код региона '%s' через get_dictionaries и передай в regions.", name),
	}
}

const regionMatchRatio = 0.65

func (r *Repairer) lookupRegion(ctx context.Context, countryID int, name string) (string, bool) {
	if r.regions == nil || name == "" {
		return "", false
	}
	entries, err := r.regions.Regions(ctx, countryID)
	if err != nil {
		r.logger.WithError(err).WithField("country", countryID).Error("region dictionary lookup failed")
		return "", false
	}
	prefix := []rune(name)
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	bestID, bestRatio := "", 0.0
	for _, e := range entries {
		region := textnorm.Fold(strings.TrimSpace(e.Name()))
		if region == "" {
			continue
		}
		if strings.Contains(region, name) || strings.Contains(name, region) || strings.HasPrefix(region, string(prefix)) {
			return e.ID(), true
		}
		if ratio := textnorm.Ratio(region, name); ratio >= regionMatchRatio && ratio > bestRatio {
			bestID, bestRatio = e.ID(), ratio
		}
	}
	return bestID, bestID != ""
}

// fixBackfill restores arguments a follow-up search dropped ("а в Египет?")
// from the last successful search. Cached regions belong to the cached
// country and are dropped when the country changed.
func fixBackfill(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	if len(in.LastSearch) == 0 {
		return false, nil
	}
	var restored []string
	for _, key := range CachedKeys {
		if !args.Has(key) && in.LastSearch.Has(key) {
			args[key] = in.LastSearch[key]
			restored = append(restored, key)
		}
	}
	changed := len(restored) > 0
	if args.Str("country") != in.LastSearch.Str(KeyCountry) &&
		args.Has("regions") && args.Str("regions") == in.LastSearch.Str(KeyRegions) {
		delete(args, "regions")
		r.logger.Info("stale regions dropped after country change")
		changed = true
	}
	if len(restored) > 0 {
		r.logger.WithField("restored", strings.Join(restored, ",")).Info("arguments restored from previous search")
	}
	return changed, nil
}

// fixNightsBounds enforces at least 3 nights and nightsfrom <= nightsto.
func fixNightsBounds(_ context.Context, r *Repairer, _ Input, args toolargs.Args) (bool, error) {
	changed := false
	nf, hasFrom := args.Int("nightsfrom")
	nt, hasTo := args.Int("nightsto")
	if hasFrom && nf < 3 {
		nf = 3
		args["nightsfrom"] = nf
		changed = true
	}
	if hasTo && nt < 3 {
		nt = 3
		args["nightsto"] = nt
		changed = true
	}
	if hasFrom && hasTo && nf > nt {
		args["nightsfrom"] = nt
		changed = true
	}
	if changed {
		r.logger.WithFields(logging.Fields{"nightsfrom": args["nightsfrom"], "nightsto": args["nightsto"]}).Warn("nights bounds corrected")
	}
	return changed, nil
}

var daysCount = textnorm.MustCompile(`(\d+)\s*(?:дней|дня|день)\b`)

// fixDaysToNights converts "N дней" that the model passed through as N
// nights: a trip of N days has N-1 nights.
func fixDaysToNights(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	nf, okFrom := args.Int("nightsfrom")
	nt, okTo := args.Int("nightsto")
	if !okFrom || !okTo {
		return false, nil
	}
	text := in.recent(6)
	m := daysCount.FindStringSubmatch(text)
	if m == nil || strings.Contains(text, "ноч") {
		return false, nil
	}
	days, _ := strconv.Atoi(m[1])
	if nf != days || nt != days || days-1 < 3 {
		return false, nil
	}
	r.logger.WithField("days", days).Info("days converted to nights")
	args["nightsfrom"] = days - 1
	return true, nil
}

var wantsBetter = textnorm.MustCompile(`от\s+\d|\d\s*[-–]\s*\d\s*(?:зв|★|\*)|не\s+ниже|минимум\s+\d|и\s+выше|выше`)

// fixBetterFlags defaults "or better" filters to exact matches; the API
// default would turn half board into all inclusive.
func fixBetterFlags(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	changed := false
	if args.Has("meal") && !args.Has("mealbetter") {
		args["mealbetter"] = 0
		changed = true
	}
	if args.Has("stars") {
		switch better, ok := args.Int("starsbetter"); {
		case !ok:
			args["starsbetter"] = 0
			changed = true
		case better == 1 && !wantsBetter.MatchString(in.recent(20)):
			args["starsbetter"] = 0
			changed = true
			r.logger.WithField("stars", args["stars"]).Info("starsbetter dropped, client did not ask for higher")
		}
	}
	return changed, nil
}

// fixIndifference removes quality filters when the client said any hotel
// will do.
func fixIndifference(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	if !args.Has("stars") || !slots.IsIndifferent(in.last()) {
		return false, nil
	}
	r.logger.WithFields(logging.Fields{"stars": args["stars"], "meal": args["meal"]}).Info("quality filters removed, client is indifferent")
	args.Delete("stars", "starsbetter", "meal", "mealbetter")
	return true, nil
}

var approximate = textnorm.MustCompile(`около|примерно|порядка|в\s+район[еу]|плюс.?минус`)

// fixApproximatePrice widens "около N" into N±20%.
func fixApproximatePrice(_ context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error) {
	priceTo := args.IntOr("priceto", 0)
	if priceTo <= 0 || args.IntOr("pricefrom", 0) > 0 || !approximate.MatchString(in.recent(20)) {
		return false, nil
	}
	args["pricefrom"] = int(math.Round(float64(priceTo) * 0.8))
	args["priceto"] = int(math.Round(float64(priceTo) * 1.2))
	r.logger.WithFields(logging.Fields{"pricefrom": args["pricefrom"], "priceto": args["priceto"]}).Info("approximate budget widened")
	return true, nil
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
