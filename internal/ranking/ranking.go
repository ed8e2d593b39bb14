// Package ranking picks the best tour per hotel and orders hotels for
// display. It is pure: inputs are never mutated.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
)

const (
	// MissingPrice sorts tours without a price last.
	MissingPrice = 999999999
	// DateParseMiss is the date distance of an unparseable fly date.
	DateParseMiss = 99
	// DefaultLimit is the number of hotels shown.
	DefaultLimit = 5

	nightsWeight = 15
)

// Query is what the traveller asked for.
type Query struct {
	// IdealDate is the requested departure date; zero when unknown.
	IdealDate  time.Time
	NightsFrom int
	NightsTo   int
	// HasBudget switches hotel ordering to price-first.
	HasBudget bool
	Limit     int
}

// Ranked is a hotel together with its selected tour.
type Ranked struct {
	Hotel     tourvisor.Hotel
	Tour      tourvisor.Tour
	Relevance float64
	Price     int
}

func price(t tourvisor.Tour) int {
	if t.Price <= 0 {
		return MissingPrice
	}
	return t.Price.Int()
}

func dateDistance(t tourvisor.Tour, ideal time.Time) int {
	if ideal.IsZero() {
		return 0
	}
	fly, err := time.Parse(tourvisor.DateLayout, t.FlyDate.String())
	if err != nil {
		return DateParseMiss
	}
	days := int(math.Round(fly.Sub(ideal).Hours() / 24))
	if days < 0 {
		days = -days
	}
	return days
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// nightsTier is 0 for exactly nightsTo, growing downwards inside the range;
// out-of-range tours start at 100.
func nightsTier(nights, from, to int) int {
	if from == 0 || to == 0 {
		return 0
	}
	if nights >= from && nights <= to {
		return to - nights
	}
	return 100 + min(absInt(nights-from), absInt(nights-to))
}

// NightsPenalty prefers the upper bound inside the range and grows with the
// distance outside it.
func NightsPenalty(nights, from, to int) float64 {
	if from == 0 && to == 0 {
		return 0
	}
	lo, hi := from, to
	if lo == 0 {
		lo = hi
	}
	if hi == 0 {
		hi = lo
	}
	if nights >= lo && nights <= hi {
		return float64(hi-nights) * 0.5
	}
	return float64(min(absInt(nights-lo), absInt(nights-hi))) * 2
}

// PickBestTour orders by nights tier, then date distance, then price. With
// no preferences at all the first tour wins.
func PickBestTour(tours []tourvisor.Tour, q Query) (tourvisor.Tour, bool) {
	if len(tours) == 0 {
		return tourvisor.Tour{}, false
	}
	if q.IdealDate.IsZero() && q.NightsFrom == 0 && q.NightsTo == 0 {
		return tours[0], true
	}
	best := 0
	bestKey := [3]int{}
	for i, t := range tours {
		key := [3]int{
			nightsTier(t.Nights.Int(), q.NightsFrom, q.NightsTo),
			dateDistance(t, q.IdealDate),
			price(t),
		}
		if i == 0 || less(key, bestKey) {
			best, bestKey = i, key
		}
	}
	return tours[best], true
}

func less(a, b [3]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Relevance combines the nights penalty and the date distance; lower is
// better.
func Relevance(t tourvisor.Tour, q Query) float64 {
	score := NightsPenalty(t.Nights.Int(), q.NightsFrom, q.NightsTo) * nightsWeight
	if !q.IdealDate.IsZero() {
		score += float64(dateDistance(t, q.IdealDate))
	}
	return score
}

// Rank selects each hotel's best tour and returns the top hotels. Hotels
// without tours are skipped. Without a budget and with a known date the
// order is relevance then price; otherwise price.
func Rank(hotels []tourvisor.Hotel, q Query) []Ranked {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	ranked := make([]Ranked, 0, len(hotels))
	for _, h := range hotels {
		tour, ok := PickBestTour(h.Tours.Tour, q)
		if !ok {
			continue
		}
		ranked = append(ranked, Ranked{
			Hotel:     h,
			Tour:      tour,
			Relevance: Relevance(tour, q),
			Price:     price(tour),
		})
	}

	if !q.HasBudget && !q.IdealDate.IsZero() {
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Relevance != ranked[j].Relevance {
				return ranked[i].Relevance < ranked[j].Relevance
			}
			return ranked[i].Price < ranked[j].Price
		})
	} else {
		sort.SliceStable(ranked, func(i, j int) bool {
			return ranked[i].Price < ranked[j].Price
		})
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
