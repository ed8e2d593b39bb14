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

// Actualize request modes.
const (
	ActualizeAuto   = 0
	ActualizeForce  = 1
	ActualizeCached = 2
)

// Actualize refreshes the price of one offer. An offer older than its
// validity window yields ErrTourIDExpired.
func (c *Client) Actualize(ctx context.Context, tourID string, mode, currency int) (map[string]any, error) {
	params := url.Values{
		"tourid":  {tourID},
		"request": {strconv.Itoa(mode)},
	}
	if currency != 0 {
		params.Set("currency", strconv.Itoa(currency))
	}
	body, err := c.request(ctx, "actualize.php", params)
	if err != nil {
		return nil, err
	}
	var data struct {
		Tour map[string]any `json:"tour"`
	}
	if err := decodeData(body, &data); err != nil {
		return nil, fmt.Errorf("tourvisor actualize.php: decode: %w", err)
	}
	if data.Tour == nil {
		data.Tour = map[string]any{}
	}
	data.Tour["_actualized"] = true
	data.Tour["_actualized_at"] = time.Now().Format(time.RFC3339)
	c.logger.WithFields(logging.Fields{
		"tour_id":  tourID,
		"price":    data.Tour["price"],
		"operator": data.Tour["operatorname"],
	}).Info("tour actualized")
	return data.Tour, nil
}

// Detail fetches flight details of one offer. The raw response is returned
// because a top-level iserror is meaningful to the caller.
func (c *Client) Detail(ctx context.Context, tourID string, currency int) (map[string]any, error) {
	params := url.Values{"tourid": {tourID}}
	if currency != 0 {
		params.Set("currency", strconv.Itoa(currency))
	}
	body, err := c.request(ctx, "actdetail.php", params)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("tourvisor actdetail.php: decode: %w", err)
	}
	return out, nil
}

// DetailFailed reports whether a Detail response carries the operator's
// top-level error flag.
func DetailFailed(detail map[string]any) bool {
	switch v := detail["iserror"].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0" && v != "false"
	}
	return false
}

// HotelInfo fetches the hotel description with large images and without
// HTML tags.
func (c *Client) HotelInfo(ctx context.Context, hotelCode string, reviews bool) (map[string]any, error) {
	params := url.Values{
		"hotelcode":  {hotelCode},
		"imgbig":     {"1"},
		"removetags": {"1"},
	}
	if reviews {
		params.Set("reviews", "1")
	}
	body, err := c.request(ctx, "hotel.php", params)
	if err != nil {
		return nil, err
	}
	var data struct {
		Hotel map[string]any `json:"hotel"`
	}
	if err := decodeData(body, &data); err != nil {
		return nil, fmt.Errorf("tourvisor hotel.php: decode: %w", err)
	}
	if data.Hotel == nil {
		data.Hotel = map[string]any{}
	}
	return data.Hotel, nil
}

// HotToursParams are the hottours.php query parameters.
type HotToursParams struct {
	City        int
	Items       int
	City2       int
	City3       int
	Countries   string
	Regions     string
	Operators   string
	DateFrom    string
	DateTo      string
	Stars       int
	Meal        int
	Rating      float64
	MaxDays     int
	TourType    int
	VisaFree    bool
	SortByPrice bool
	PictureType int
	Currency    int
}

func (p HotToursParams) values() url.Values {
	if p.Items <= 0 {
		p.Items = 10
	}
	v := url.Values{
		"city":  {strconv.Itoa(p.City)},
		"items": {strconv.Itoa(p.Items)},
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
	setInt("city2", p.City2)
	setInt("city3", p.City3)
	setStr("countries", p.Countries)
	setStr("regions", p.Regions)
	setStr("operators", p.Operators)
	setStr("datefrom", p.DateFrom)
	setStr("dateto", p.DateTo)
	setInt("stars", p.Stars)
	setInt("meal", p.Meal)
	if p.Rating > 0 {
		v.Set("rating", strconv.FormatFloat(p.Rating, 'f', -1, 64))
	}
	setInt("maxdays", p.MaxDays)
	setInt("tourtype", p.TourType)
	if p.VisaFree {
		v.Set("visa", "1")
	}
	if p.SortByPrice {
		v.Set("sort", "1")
	}
	setInt("picturetype", p.PictureType)
	setInt("currency", p.Currency)
	return v
}

// HotTours lists last-minute offers.
func (c *Client) HotTours(ctx context.Context, p HotToursParams) ([]HotTour, error) {
	body, err := c.request(ctx, "hottours.php", p.values())
	if err != nil {
		return nil, err
	}
	var resp struct {
		HotTours struct {
			Tour List[HotTour] `json:"tour"`
		} `json:"hottours"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tourvisor hottours.php: decode: %w", err)
	}
	c.logger.WithFields(logging.Fields{
		"city":      p.City,
		"found":     len(resp.HotTours.Tour),
		"countries": p.Countries,
	}).Info("hot tours")
	return resp.HotTours.Tour, nil
}
