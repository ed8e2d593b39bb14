package tourvisor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rebekaee1/mgp-v2/pkg/redis"
)

// Dictionary types accepted by list.php, with the JSON path of their items.
var dictionaryPaths = map[string][2]string{
	"departure": {"departures", "departure"},
	"country":   {"countries", "country"},
	"region":    {"regions", "region"},
	"subregion": {"subregions", "subregion"},
	"meal":      {"meals", "meal"},
	"stars":     {"stars", "star"},
	"operator":  {"operators", "operator"},
	"services":  {"services", "service"},
	"hotel":     {"hotels", "hotel"},
	"flydate":   {"flydates", "flydate"},
	"currency":  {"currencies", "currency"},
}

// ErrUnknownDictionary is returned for a list.php type the client does not
// know how to read.
var ErrUnknownDictionary = errors.New("tourvisor: unknown dictionary type")

// DictionaryKey is the cache key of one dictionary query. Credentials are
// never part of params.
func DictionaryKey(kind string, params url.Values) string {
	sum := sha1.Sum([]byte(params.Encode()))
	return redis.Key("dict", kind, hex.EncodeToString(sum[:8]))
}

// rawDictionary returns the item list of a dictionary as raw JSON, going
// through the in-process cache, then Redis, then the API.
func (c *Client) rawDictionary(ctx context.Context, kind string, params url.Values) (json.RawMessage, error) {
	path, ok := dictionaryPaths[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDictionary, kind)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("type", kind)
	key := DictionaryKey(kind, params)

	return c.dict.Get(ctx, key, func(ctx context.Context, key string) (json.RawMessage, error) {
		if c.redis != nil {
			cached, err := c.redis.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				dictionaryLookupsTotal.WithLabelValues("redis_hit").Inc()
				return json.RawMessage(cached), nil
			case !errors.Is(err, goredis.Nil):
				c.logger.WithError(err).WithField("key", key).Warn("redis dictionary read failed")
			}
		}

		body, err := c.request(ctx, "list.php", cloneValues(params))
		if err != nil {
			return nil, err
		}
		items, err := extractItems(body, path[0], path[1])
		if err != nil {
			return nil, fmt.Errorf("tourvisor list.php %s: %w", kind, err)
		}

		if c.redis != nil {
			if err := c.redis.Set(ctx, key, []byte(items), c.dictTTL).Err(); err != nil {
				c.logger.WithError(err).WithField("key", key).Warn("redis dictionary write failed")
			}
		}
		return items, nil
	})
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// extractItems pulls lists.<plural>.<singular> out of a list.php response
// and normalizes it to a JSON array.
func extractItems(body []byte, plural, singular string) (json.RawMessage, error) {
	var resp struct {
		Lists map[string]json.RawMessage `json:"lists"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	group, ok := resp.Lists[plural]
	if !ok || len(group) == 0 || group[0] != '{' {
		return json.RawMessage("[]"), nil
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(group, &inner); err != nil {
		return nil, err
	}
	var items List[json.RawMessage]
	if raw, ok := inner[singular]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
	}
	if items == nil {
		items = List[json.RawMessage]{}
	}
	return json.Marshal([]json.RawMessage(items))
}

// Dictionary returns the records of one dictionary type; extra holds the
// type-specific filters (cndep, regcountry, hotcountry, ...).
func (c *Client) Dictionary(ctx context.Context, kind string, extra url.Values) ([]Entry, error) {
	raw, err := c.rawDictionary(ctx, kind, cloneValues(extra))
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		var e Entry
		if err := json.Unmarshal(item, &e); err != nil {
			// flydate lists hold bare strings
			var s string
			if json.Unmarshal(item, &s) != nil {
				continue
			}
			e = Entry{"name": s}
		}
		out = append(out, e)
	}
	return out, nil
}

func idParam(key string, id int) url.Values {
	v := url.Values{}
	if id > 0 {
		v.Set(key, strconv.Itoa(id))
	}
	return v
}

func (c *Client) Departures(ctx context.Context) ([]Entry, error) {
	return c.Dictionary(ctx, "departure", nil)
}

// Countries lists destinations, optionally only those served from departureID.
func (c *Client) Countries(ctx context.Context, departureID int) ([]Entry, error) {
	return c.Dictionary(ctx, "country", idParam("cndep", departureID))
}

func (c *Client) Regions(ctx context.Context, countryID int) ([]Entry, error) {
	return c.Dictionary(ctx, "region", idParam("regcountry", countryID))
}

func (c *Client) Subregions(ctx context.Context, countryID int) ([]Entry, error) {
	return c.Dictionary(ctx, "subregion", idParam("regcountry", countryID))
}

func (c *Client) Meals(ctx context.Context) ([]Entry, error) {
	return c.Dictionary(ctx, "meal", nil)
}

func (c *Client) Stars(ctx context.Context) ([]Entry, error) {
	return c.Dictionary(ctx, "stars", nil)
}

func (c *Client) Services(ctx context.Context) ([]Entry, error) {
	return c.Dictionary(ctx, "services", nil)
}

func (c *Client) Currencies(ctx context.Context) ([]Entry, error) {
	return c.Dictionary(ctx, "currency", nil)
}

func (c *Client) Operators(ctx context.Context, departureID, countryID int) ([]Entry, error) {
	v := idParam("flydeparture", departureID)
	if countryID > 0 {
		v.Set("flycountry", strconv.Itoa(countryID))
	}
	return c.Dictionary(ctx, "operator", v)
}

// FlyDates lists the available departure dates (dd.mm.yyyy).
func (c *Client) FlyDates(ctx context.Context, departureID, countryID int) ([]string, error) {
	v := url.Values{
		"flydeparture": {strconv.Itoa(departureID)},
		"flycountry":   {strconv.Itoa(countryID)},
	}
	entries, err := c.Dictionary(ctx, "flydate", v)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if s := e.Name(); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// HotelFilter narrows the hotel dictionary.
type HotelFilter struct {
	Country int
	Region  string
	Stars   int
	Rating  float64
	// Types are hotel type flags such as "beach" or "family".
	Types []string
}

func (c *Client) Hotels(ctx context.Context, f HotelFilter) ([]Entry, error) {
	v := url.Values{"hotcountry": {strconv.Itoa(f.Country)}}
	if f.Region != "" {
		v.Set("hotregion", f.Region)
	}
	if f.Stars > 0 {
		v.Set("hotstars", strconv.Itoa(f.Stars))
	}
	if f.Rating > 0 {
		v.Set("hotrating", strconv.FormatFloat(f.Rating, 'f', -1, 64))
	}
	for _, t := range f.Types {
		v.Set("hot"+t, "1")
	}
	return c.Dictionary(ctx, "hotel", v)
}
