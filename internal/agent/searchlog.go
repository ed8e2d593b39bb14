package agent

import (
	"time"

	"github.com/rebekaee1/mgp-v2/internal/toolargs"
)

const (
	SearchRegular = "regular"
	SearchHot     = "hot"
)

// SearchRecord describes one inventory search for analytics.
type SearchRecord struct {
	RequestID   string
	Type        string
	Departure   int
	Country     int
	Regions     string
	DateFrom    string
	DateTo      string
	NightsFrom  int
	NightsTo    int
	Adults      int
	Children    int
	Stars       int
	Meal        int
	PriceFrom   int
	PriceTo     int
	HotelsFound int
	ToursFound  int
	MinPrice    int
	Duration    time.Duration
	Completed   bool

	started time.Time
}

func newSearchRecord(requestID, kind string, args toolargs.Args, at time.Time) SearchRecord {
	return SearchRecord{
		RequestID:  requestID,
		Type:       kind,
		Departure:  args.IntOr("departure", args.IntOr("city", 0)),
		Country:    args.IntOr("country", args.IntOr("countries", 0)),
		Regions:    listArg(args, "regions"),
		DateFrom:   args.Str("datefrom"),
		DateTo:     args.Str("dateto"),
		NightsFrom: args.IntOr("nightsfrom", 0),
		NightsTo:   args.IntOr("nightsto", 0),
		Adults:     args.IntOr("adults", 0),
		Children:   args.IntOr("child", 0),
		Stars:      args.IntOr("stars", 0),
		Meal:       args.IntOr("meal", 0),
		PriceFrom:  args.IntOr("pricefrom", 0),
		PriceTo:    args.IntOr("priceto", 0),
		started:    at,
	}
}

func (st *State) logSearch(rec SearchRecord) {
	st.mu.Lock()
	st.searches = append(st.searches, rec)
	st.mu.Unlock()
}

// completeSearch fills in the outcome of the logged search with requestID.
// Later polls of the same search overwrite earlier ones.
func (st *State) completeSearch(requestID string, hotels, tours, minPrice int, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := len(st.searches) - 1; i >= 0; i-- {
		rec := &st.searches[i]
		if rec.RequestID != requestID {
			continue
		}
		rec.HotelsFound = hotels
		rec.ToursFound = tours
		rec.MinPrice = minPrice
		rec.Duration = at.Sub(rec.started)
		rec.Completed = true
		return
	}
}

// TakeSearches returns the logged searches that are done: completed, or
// superseded by a later search. The latest search stays until its status
// arrives.
func (st *State) TakeSearches() []SearchRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := len(st.searches)
	if n == 0 {
		return nil
	}
	keep := 0
	if !st.searches[n-1].Completed {
		keep = 1
	}
	out := append([]SearchRecord(nil), st.searches[:n-keep]...)
	st.searches = append(st.searches[:0:0], st.searches[n-keep:]...)
	return out
}
