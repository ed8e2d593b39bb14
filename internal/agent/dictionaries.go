package agent

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rebekaee1/mgp-v2/internal/textnorm"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
)

const (
	hotelMatchThreshold = 0.65
	hotelMatchLimit     = 20
)

// Filters passed through to list.php.
var dictionaryFilters = []string{
	"cndep", "regcountry", "flydeparture", "flycountry",
	"hotcountry", "hotregion", "hotstars", "hotrating",
}

var hotelTypes = []string{"active", "relax", "family", "health", "city", "beach", "deluxe"}

func (d *Dispatcher) dictionaries(ctx context.Context, args toolargs.Args) (any, error) {
	kind := strings.ToLower(strings.TrimSpace(args.Str("type")))
	params := url.Values{}
	for _, key := range dictionaryFilters {
		if v := listArg(args, key); v != "" {
			params.Set(key, v)
		}
	}
	if kind == "hotel" {
		for _, t := range hotelTypes {
			if args.IntOr("hot"+t, 0) == 1 {
				params.Set("hot"+t, "1")
			}
		}
	}

	entries, err := d.inv.Dictionary(ctx, kind, params)
	if errors.Is(err, tourvisor.ErrUnknownDictionary) {
		return nil, refuse("Неизвестный тип справочника: %s", kind)
	}
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(args.Str("name"))
	switch kind {
	case "flydate":
		dates := make([]string, 0, len(entries))
		for _, e := range entries {
			dates = append(dates, e.Name())
		}
		return map[string]any{"type": kind, "flydates": dates}, nil
	case "region", "subregion":
		if name != "" {
			entries = filterRegions(entries, name)
		}
	case "hotel":
		if name != "" {
			entries = matchHotels(entries, name)
		}
		if len(entries) > hotelMatchLimit {
			entries = entries[:hotelMatchLimit]
		}
		hotels := make([]map[string]any, 0, len(entries))
		for _, e := range entries {
			hotels = append(hotels, compactEntry(e, "id", "name", "stars", "rating", "region", "regionname"))
		}
		return map[string]any{"type": kind, "total": len(hotels), "hotels": hotels}, nil
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, compactEntry(e, "id", "name", "russian", "russianfull", "fullname", "country"))
	}
	return map[string]any{"type": kind, "total": len(out), "items": out}, nil
}

func compactEntry(e tourvisor.Entry, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := e[k]; ok && !isBlank(v) {
			out[k] = v
		}
	}
	return out
}

// filterRegions keeps regions whose name contains the query or is contained
// in it, or that share a significant word with it.
func filterRegions(entries []tourvisor.Entry, query string) []tourvisor.Entry {
	q := textnorm.Fold(query)
	words := strings.Fields(q)
	var out []tourvisor.Entry
	for _, e := range entries {
		name := textnorm.Fold(e.Name())
		if name == "" {
			continue
		}
		if strings.Contains(name, q) || strings.Contains(q, name) {
			out = append(out, e)
			continue
		}
		for _, w := range words {
			if utf8.RuneCountInString(w) > 3 && strings.Contains(name, w) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// matchHotels finds hotels by a name as the client typed it. A substring
// match wins; otherwise Cyrillic names are transliterated and compared word
// by word.
func matchHotels(entries []tourvisor.Entry, query string) []tourvisor.Entry {
	q := normalizeHotelName(query)
	if q == "" {
		return entries
	}
	var exact []tourvisor.Entry
	for _, e := range entries {
		if strings.Contains(normalizeHotelName(e.Name()), q) {
			exact = append(exact, e)
		}
	}
	if len(exact) > 0 || utf8.RuneCountInString(q) < 3 {
		return exact
	}

	variants := []string{q}
	if textnorm.HasCyrillic(q) {
		variants = []string{textnorm.Transliterate(q, false), textnorm.Transliterate(q, true)}
	}
	type scored struct {
		entry tourvisor.Entry
		score float64
	}
	var matches []scored
	for _, e := range entries {
		name := normalizeHotelName(e.Name())
		best := 0.0
		for _, v := range variants {
			if s := nameScore(v, name); s > best {
				best = s
			}
		}
		if best >= hotelMatchThreshold {
			matches = append(matches, scored{entry: e, score: best})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	out := make([]tourvisor.Entry, len(matches))
	for i, m := range matches {
		out[i] = m.entry
	}
	return out
}

func normalizeHotelName(s string) string {
	return strings.Join(strings.Fields(textnorm.StripPunct(textnorm.Fold(s))), " ")
}

// nameScore averages, over the query words, the best similarity to any word
// of the name, and takes the whole-string similarity when that is higher.
func nameScore(query, name string) float64 {
	qWords, nWords := strings.Fields(query), strings.Fields(name)
	if len(qWords) == 0 || len(nWords) == 0 {
		return 0
	}
	total := 0.0
	for _, qw := range qWords {
		best := 0.0
		for _, nw := range nWords {
			if r := textnorm.Ratio(qw, nw); r > best {
				best = r
			}
		}
		total += best
	}
	return max(total/float64(len(qWords)), textnorm.Ratio(query, name))
}
