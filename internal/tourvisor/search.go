package tourvisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// DateLayout is the API's date format.
const DateLayout = "02.01.2006"

// SearchParams are the search.php query parameters. Zero values are not
// sent, except where a pointer marks an explicit zero as meaningful.
type SearchParams struct {
	Departure   int
	Country     int
	DateFrom    string
	DateTo      string
	NightsFrom  int
	NightsTo    int
	Adults      int
	Children    int
	ChildAges   []int
	Stars       int
	Meal        int
	Rating      int
	Hotels      string
	Regions     string
	Subregions  string
	Operators   string
	PriceFrom   int
	PriceTo     int
	HotelTypes  string
	Services    string
	FlightClass string

	OnRequest    *int
	DirectFlight *int
	Currency     *int
	PriceType    *int
	StarsBetter  *int
	MealBetter   *int
	HideRegular  *int
}

// Values renders the parameters, filling date defaults the way the API
// expects: no dateto means an exact-day search on datefrom.
func (p SearchParams) Values(now time.Time) url.Values {
	if p.DateFrom == "" {
		p.DateFrom = now.AddDate(0, 0, 1).Format(DateLayout)
	}
	if p.DateTo == "" {
		p.DateTo = p.DateFrom
	}
	if from, err := time.Parse(DateLayout, p.DateFrom); err == nil {
		if to, err := time.Parse(DateLayout, p.DateTo); err == nil && to.Before(from) {
			p.DateTo = p.DateFrom
		}
	}
	if p.NightsFrom == 0 {
		p.NightsFrom = 7
	}
	if p.NightsTo == 0 {
		p.NightsTo = 10
	}
	if p.Adults == 0 {
		p.Adults = 2
	}

	v := url.Values{}
	v.Set("departure", strconv.Itoa(p.Departure))
	v.Set("country", strconv.Itoa(p.Country))
	v.Set("datefrom", p.DateFrom)
	v.Set("dateto", p.DateTo)
	v.Set("nightsfrom", strconv.Itoa(p.NightsFrom))
	v.Set("nightsto", strconv.Itoa(p.NightsTo))
	v.Set("adults", strconv.Itoa(p.Adults))
	v.Set("child", strconv.Itoa(p.Children))
	for i, age := range p.ChildAges {
		if i == 3 {
			break
		}
		v.Set("childage"+strconv.Itoa(i+1), strconv.Itoa(age))
	}

	setInt := func(key string, n int) {
		if n != 0 {
			v.Set(key, strconv.Itoa(n))
		}
	}
	setStr := func(key, s string) {
		if s != "" {
			v.Set(key, s)
		}
	}
	setPtr := func(key string, n *int) {
		if n != nil {
			v.Set(key, strconv.Itoa(*n))
		}
	}
	setInt("stars", p.Stars)
	setInt("meal", p.Meal)
	setInt("rating", p.Rating)
	setStr("hotels", p.Hotels)
	setStr("regions", p.Regions)
	setStr("subregions", p.Subregions)
	setStr("operators", p.Operators)
	setInt("pricefrom", p.PriceFrom)
	setInt("priceto", p.PriceTo)
	setStr("hoteltypes", p.HotelTypes)
	setStr("services", p.Services)
	setStr("flightclass", p.FlightClass)
	setPtr("onrequest", p.OnRequest)
	setPtr("directflight", p.DirectFlight)
	setPtr("currency", p.Currency)
	setPtr("pricetype", p.PriceType)
	setPtr("starsbetter", p.StarsBetter)
	setPtr("mealbetter", p.MealBetter)
	setPtr("hideregular", p.HideRegular)
	return v
}

// Submit starts an asynchronous search and returns its request id.
func (c *Client) Submit(ctx context.Context, p SearchParams) (string, error) {
	values := p.Values(time.Now())
	body, err := c.request(ctx, "search.php", values)
	if err != nil {
		return "", err
	}
	var resp struct {
		Result struct {
			RequestID Text `json:"requestid"`
		} `json:"result"`
		RequestID Text `json:"requestid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("tourvisor search.php: decode: %w", err)
	}
	id := resp.Result.RequestID.String()
	if id == "" {
		id = resp.RequestID.String()
	}
	if id == "" {
		return "", &APIError{Endpoint: "search.php", Message: "no requestid in response"}
	}
	c.logger.WithFields(logging.Fields{
		"request_id": id,
		"departure":  p.Departure,
		"country":    p.Country,
		"datefrom":   values.Get("datefrom"),
		"dateto":     values.Get("dateto"),
		"nights":     values.Get("nightsfrom") + "-" + values.Get("nightsto"),
		"adults":     values.Get("adults"),
		"child":      p.Children,
	}).Info("search started")
	return id, nil
}

// Status fetches the progress of a search.
func (c *Client) Status(ctx context.Context, requestID string) (Status, error) {
	body, err := c.request(ctx, "result.php", url.Values{
		"requestid": {requestID},
		"type":      {"status"},
	})
	if err != nil {
		return Status{}, err
	}
	var data struct {
		Status Status `json:"status"`
	}
	if err := decodeData(body, &data); err != nil {
		return Status{}, fmt.Errorf("tourvisor result.php: decode status: %w", err)
	}
	return data.Status, nil
}

// Results fetches one page of hotels with their tours.
func (c *Client) Results(ctx context.Context, requestID string, page, perPage int) (ResultPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 25
	}
	body, err := c.request(ctx, "result.php", url.Values{
		"requestid": {requestID},
		"type":      {"result"},
		"page":      {strconv.Itoa(page)},
		"onpage":    {strconv.Itoa(perPage)},
	})
	if err != nil {
		return ResultPage{}, err
	}
	var data struct {
		Status Status `json:"status"`
		Result struct {
			Hotel List[Hotel] `json:"hotel"`
		} `json:"result"`
	}
	if err := decodeData(body, &data); err != nil {
		return ResultPage{}, fmt.Errorf("tourvisor result.php: decode result: %w", err)
	}
	c.logger.WithFields(logging.Fields{
		"request_id":   requestID,
		"page":         page,
		"hotels":       len(data.Result.Hotel),
		"hotels_found": data.Status.HotelsFound.Int(),
		"tours_found":  data.Status.ToursFound.Int(),
	}).Info("search results")
	return ResultPage{Status: data.Status, Hotels: data.Result.Hotel}, nil
}

// Continue asks the API to extend a finished search and returns the new
// page number.
func (c *Client) Continue(ctx context.Context, requestID string) (string, error) {
	body, err := c.request(ctx, "search.php", url.Values{"continue": {requestID}})
	if err != nil {
		return "", err
	}
	var resp struct {
		Result struct {
			Page Text `json:"page"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("tourvisor search.php: decode continue: %w", err)
	}
	page := resp.Result.Page.String()
	if page == "" {
		page = "2"
	}
	return page, nil
}

// PollOutcome tells how a poll ended.
type PollOutcome int

const (
	// PollFinished means the search completed.
	PollFinished PollOutcome = iota
	// PollEarly means enough hotels arrived to show results while slow
	// operators are still answering.
	PollEarly
	// PollTimeout means the budget ran out with a partial result.
	PollTimeout
)

func (o PollOutcome) String() string {
	switch o {
	case PollFinished:
		return "finished"
	case PollEarly:
		return "early"
	case PollTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// PollOptions bounds the wait for a search.
type PollOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	// EarlyAfter returns as soon as a single hotel is known once this much
	// time has passed.
	EarlyAfter time.Duration
}

func DefaultPollOptions() PollOptions {
	return PollOptions{
		Timeout:    60 * time.Second,
		Interval:   3 * time.Second,
		EarlyAfter: 12 * time.Second,
	}
}

// ReadyEarly reports whether a running search already has enough to show.
func ReadyEarly(s Status, elapsed, earlyAfter time.Duration) bool {
	hotels, tours, progress := s.HotelsFound.Int(), s.ToursFound.Int(), s.Progress.Int()
	switch {
	case hotels >= 3 && progress >= 40:
		return true
	case hotels >= 1 && tours >= 20 && progress >= 30:
		return true
	case hotels >= 1 && elapsed >= earlyAfter:
		return true
	}
	return false
}

// Poll waits until the search is usable. A finished search without hotels
// or tours, and a timeout without hotels, yield *NoResultsError.
func (c *Client) Poll(ctx context.Context, requestID string, opts PollOptions) (Status, PollOutcome, error) {
	def := DefaultPollOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.EarlyAfter <= 0 {
		opts.EarlyAfter = def.EarlyAfter
	}

	log := c.logger.WithField("request_id", requestID)
	start := time.Now()
	var last Status
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.pollCancelled(ctx, last, start)
		case <-timer.C:
		}

		status, err := c.Status(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return c.pollCancelled(ctx, last, start)
			}
			return last, PollFinished, err
		}
		last = status
		elapsed := time.Since(start)

		if status.Finished() {
			pollDuration.WithLabelValues("finished").Observe(elapsed.Seconds())
			if status.HotelsFound.Int() == 0 || status.ToursFound.Int() == 0 {
				return status, PollFinished, &NoResultsError{
					Message: fmt.Sprintf("Поиск завершён: найдено %d отелей, %d туров.",
						status.HotelsFound.Int(), status.ToursFound.Int()),
					Hint: "Попробуйте расширить даты, увеличить бюджет или убрать фильтры",
				}
			}
			return status, PollFinished, nil
		}
		if ReadyEarly(status, elapsed, opts.EarlyAfter) {
			pollDuration.WithLabelValues("early").Observe(elapsed.Seconds())
			log.WithFields(logging.Fields{
				"progress": status.Progress.Int(),
				"hotels":   status.HotelsFound.Int(),
				"elapsed":  elapsed.Round(time.Millisecond).String(),
			}).Info("search ready before completion")
			return status, PollEarly, nil
		}
		if elapsed+opts.Interval > opts.Timeout {
			break
		}
		log.WithFields(logging.Fields{
			"progress": status.Progress.Int(),
			"hotels":   status.HotelsFound.Int(),
		}).Debug("search still running")
		timer.Reset(opts.Interval)
	}

	pollDuration.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
	if last.HotelsFound.Int() == 0 {
		return last, PollTimeout, &NoResultsError{
			Message: fmt.Sprintf("Поиск не завершился за %d с и результатов нет.", int(opts.Timeout.Seconds())),
			Hint:    "Попробуйте позже или измените параметры поиска",
		}
	}
	return last, PollTimeout, nil
}

// pollCancelled ends a poll whose context is done. Hotels already found are
// served as a partial result, like a timeout.
func (c *Client) pollCancelled(ctx context.Context, last Status, start time.Time) (Status, PollOutcome, error) {
	pollDuration.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
	if last.HotelsFound.Int() > 0 {
		return last, PollTimeout, nil
	}
	return last, PollTimeout, ctx.Err()
}
