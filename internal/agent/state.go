package agent

import (
	"sort"
	"sync"

	"github.com/rebekaee1/mgp-v2/internal/conversation"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
)

// Per-session counter names reported by GetMetrics.
const (
	MetricTotalMessages        = "total_messages"
	MetricTotalSearches        = "total_searches"
	MetricCascadeIncomplete    = "cascade_incomplete_detections"
	MetricPromisedSearch       = "promised_search_detections"
	MetricDateToCorrections    = "dateto_corrections"
	MetricPlaceholderRejection = "placeholder_id_rejections"
	MetricPlaintextRecoveries  = "plaintext_tool_call_recoveries"
	MetricRejectedToolCalls    = "rejected_tool_calls_sanitized"
	MetricResultLeakFiltered   = "result_leak_filtered"
)

// baseMetrics are always present in a snapshot, even at zero.
var baseMetrics = []string{
	MetricPromisedSearch,
	MetricCascadeIncomplete,
	MetricDateToCorrections,
	MetricTotalSearches,
	MetricTotalMessages,
}

// Counters is a set of named per-session counters, safe for the concurrent
// tool fan-out.
type Counters struct {
	mu sync.Mutex
	m  map[string]int
}

func (c *Counters) Inc(name string) { c.Add(name, 1) }

func (c *Counters) Add(name string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]int)
	}
	c.m[name] += n
}

func (c *Counters) Get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

// Snapshot copies the counters.
func (c *Counters) Snapshot() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.m)+len(baseMetrics))
	for _, name := range baseMetrics {
		out[name] = 0
	}
	for k, v := range c.m {
		out[k] = v
	}
	return out
}

func (c *Counters) reset() {
	c.mu.Lock()
	c.m = nil
	c.mu.Unlock()
}

// OfferRef is what the tour index remembers about a shown offer.
type OfferRef struct {
	TourID    string
	HotelCode string
	HotelName string
}

// State is everything the agent remembers about one conversation. The
// session layer runs one message at a time per State; mu only guards the
// fields tool handlers touch while fanned out.
type State struct {
	mu sync.Mutex

	History *conversation.History
	// PinnedContext summarizes the offers on screen and survives trimming.
	PinnedContext string
	// CollectedSlots holds what the client already stated, by slot label.
	CollectedSlots map[string]string
	// LastSearchParams are the arguments of the last submitted search plus
	// the repair bookkeeping keys.
	LastSearchParams toolargs.Args
	// TourIndex maps 1-based display positions to offers.
	TourIndex     map[int]OfferRef
	PendingOffers []OfferCard
	Metrics       Counters

	LastRequestID         string
	SearchAwaitingResults bool
	IdealDateFrom         string
	IdealNightsFrom       int
	IdealNightsTo         int
	HasBudget             bool
	StatedBudget          int
	LastDepartureCity     string

	searches []SearchRecord
}

const defaultDepartureCity = "Москва"

func NewState() *State {
	s := &State{}
	s.clear()
	return s
}

// Reset forgets the conversation and every derived field.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *State) clear() {
	s.History = conversation.NewHistory()
	s.PinnedContext = ""
	s.CollectedSlots = make(map[string]string)
	s.LastSearchParams = nil
	s.TourIndex = make(map[int]OfferRef)
	s.PendingOffers = nil
	s.Metrics.reset()
	s.LastRequestID = ""
	s.SearchAwaitingResults = false
	s.IdealDateFrom = ""
	s.IdealNightsFrom = 0
	s.IdealNightsTo = 0
	s.HasBudget = false
	s.StatedBudget = 0
	s.LastDepartureCity = defaultDepartureCity
	s.searches = nil
}

// Offers returns a copy of the pending offer cards.
func (s *State) Offers() []OfferCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OfferCard(nil), s.PendingOffers...)
}

// hasPrevious reports whether a search was submitted before; follow-up
// searches inherit its parameters.
func (s *State) hasPrevious() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.LastSearchParams) > 0
}

func (s *State) awaiting() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.SearchAwaitingResults, s.LastRequestID
}

// indexPositions returns the tour index positions in ascending order.
func (s *State) indexPositions() []int {
	positions := make([]int, 0, len(s.TourIndex))
	for pos := range s.TourIndex {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	return positions
}
