// Package repair rewrites the arguments of a proposed search call before it
// is validated and submitted. Each corrector targets one known model mistake
// (wrong city code, a year-less date, a trip span sent as a departure
// window, ...). Correctors run in a fixed order; most only log, and two can
// refuse the call with an instruction for the model.
package repair

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/conversation"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// Bookkeeping keys stored next to the cached search arguments.
const (
	KeyCountry = "_country"
	KeyRegions = "_regions"
	KeyHotels  = "_hotels"
)

// CachedKeys are the search arguments carried over into a follow-up search.
var CachedKeys = []string{
	"departure", "datefrom", "dateto", "nightsfrom", "nightsto",
	"adults", "child", "childage1", "childage2", "childage3",
	"stars", "starsbetter", "meal", "mealbetter",
}

// RegionResolver lists the regions of a country. *tourvisor.Client
// satisfies it.
type RegionResolver interface {
	Regions(ctx context.Context, countryID int) ([]tourvisor.Entry, error)
}

// CorrectionError refuses a call and tells the model what to do instead.
type CorrectionError struct {
	Corrector string
	Message   string
	Hint      string
}

func (e *CorrectionError) Error() string { return e.Message }

// AsCorrection unwraps err into a *CorrectionError.
func AsCorrection(err error) (*CorrectionError, bool) {
	var ce *CorrectionError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Input is the conversational context of one call.
type Input struct {
	History *conversation.History
	// LastSearch holds the arguments of the last successful search plus the
	// bookkeeping keys; nil before the first one.
	LastSearch toolargs.Args
}

func (in Input) recent(n int) string {
	if in.History == nil {
		return ""
	}
	return strings.Join(in.History.LastUserTexts(n), " ")
}

func (in Input) last() string {
	if in.History == nil {
		return ""
	}
	return in.History.LastUserText()
}

// Report lists the correctors that changed the arguments, in run order.
type Report struct {
	Applied []string
}

// Has reports whether the named corrector changed anything.
func (r Report) Has(name string) bool {
	for _, a := range r.Applied {
		if a == name {
			return true
		}
	}
	return false
}

// corrector returns true when it changed args.
type corrector struct {
	name string
	fn   func(ctx context.Context, r *Repairer, in Input, args toolargs.Args) (bool, error)
}

// Corrector names, also used as metric labels.
const (
	FixDepartureList    = "departure_list"
	FixDepartureText    = "departure_text"
	FixLeakedCall       = "leaked_call"
	FixDateYear         = "date_year"
	FixDateToDefault    = "dateto_default"
	FixDateToClamp      = "dateto_clamp"
	FixPastDate         = "past_date"
	FixMonthPart        = "month_part"
	FixResortRegion     = "resort_region"
	FixBackfill         = "backfill"
	FixNightsBounds     = "nights_bounds"
	FixBetterFlags      = "better_flags"
	FixIndifference     = "indifference"
	FixApproximatePrice = "approximate_price"
	FixDaysToNights     = "days_to_nights"
)

var pipeline = []corrector{
	{FixDepartureList, fixDepartureList},
	{FixDepartureText, fixDepartureText},
	{FixLeakedCall, fixLeakedCall},
	{FixDateYear, fixDateYear},
	{FixDateToDefault, fixDateToDefault},
	{FixDateToClamp, fixDateToClamp},
	{FixPastDate, fixPastDate},
	{FixMonthPart, fixMonthPart},
	{FixResortRegion, fixResortRegion},
	{FixBackfill, fixBackfill},
	{FixNightsBounds, fixNightsBounds},
	{FixDaysToNights, fixDaysToNights},
	{FixBetterFlags, fixBetterFlags},
	{FixIndifference, fixIndifference},
	{FixApproximatePrice, fixApproximatePrice},
}

// dateCorrectors is the date-only subset, exposed for the idempotence check.
var dateCorrectors = map[string]bool{
	FixLeakedCall: true, FixDateYear: true, FixDateToDefault: true,
	FixDateToClamp: true, FixPastDate: true, FixMonthPart: true,
}

type Repairer struct {
	logger  logging.Logger
	regions RegionResolver
	now     func() time.Time
}

type Option func(*Repairer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repairer) { r.now = now }
}

// New builds a Repairer. regions may be nil; resort lookups that need the
// region dictionary then fail with a correction.
func New(logger logging.Logger, regions RegionResolver, opts ...Option) *Repairer {
	r := &Repairer{logger: logger, regions: regions, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply runs every corrector over args in place. A *CorrectionError means
// the call must not be submitted.
func (r *Repairer) Apply(ctx context.Context, in Input, args toolargs.Args) (Report, error) {
	return r.run(ctx, in, args, func(string) bool { return true })
}

// ApplyDates runs only the date correctors.
func (r *Repairer) ApplyDates(ctx context.Context, in Input, args toolargs.Args) (Report, error) {
	return r.run(ctx, in, args, func(name string) bool { return dateCorrectors[name] })
}

func (r *Repairer) run(ctx context.Context, in Input, args toolargs.Args, include func(string) bool) (Report, error) {
	var report Report
	for _, c := range pipeline {
		if !include(c.name) {
			continue
		}
		changed, err := c.fn(ctx, r, in, args)
		if err != nil {
			correctionsTotal.WithLabelValues(c.name, "rejected").Inc()
			return report, err
		}
		if changed {
			report.Applied = append(report.Applied, c.name)
			correctionsTotal.WithLabelValues(c.name, "applied").Inc()
		}
	}
	return report, nil
}

func (r *Repairer) today() time.Time {
	now := r.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (r *Repairer) parseDate(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(tourvisor.DateLayout, strings.TrimSpace(s), r.now().Location())
	return t, err == nil
}

func formatDate(t time.Time) string {
	return t.Format(tourvisor.DateLayout)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Round(24*time.Hour).Hours() / 24)
}
