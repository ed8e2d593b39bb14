package tourvisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rebekaee1/mgp-v2/pkg/clients"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// fakeAPI serves canned bodies per endpoint and records the queries.
type fakeAPI struct {
	mu      sync.Mutex
	bodies  map[string][]string
	queries map[string][]url.Values
	hits    atomic.Int32
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{bodies: map[string][]string{}, queries: map[string][]url.Values{}}
}

// on queues bodies for an endpoint; the last one repeats.
func (f *fakeAPI) on(endpoint string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[endpoint] = append(f.bodies[endpoint], bodies...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	endpoint := strings.TrimPrefix(r.URL.Path, "/")
	f.mu.Lock()
	f.queries[endpoint] = append(f.queries[endpoint], r.URL.Query())
	queue := f.bodies[endpoint]
	var body string
	switch len(queue) {
	case 0:
		f.mu.Unlock()
		http.NotFound(w, r)
		return
	case 1:
		body = queue[0]
	default:
		body = queue[0]
		f.bodies[endpoint] = queue[1:]
	}
	f.mu.Unlock()
	if strings.HasPrefix(body, "status:") {
		var code int
		_, _ = fmt.Sscanf(body, "status:%d", &code)
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) lastQuery(endpoint string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queries[endpoint]
	if len(q) == 0 {
		return nil
	}
	return q[len(q)-1]
}

func newTestClient(t *testing.T, api *fakeAPI, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithExecutorConfig(clients.ExecutorConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	})}, opts...)
	return NewClient(Config{BaseURL: srv.URL, Login: "login", Password: "secret"}, logging.NewDiscardLogger(), opts...)
}

func TestSubmitSendsAuthAndDefaults(t *testing.T) {
	api := newFakeAPI()
	api.on("search.php", `{"result":{"requestid":"123456"}}`)
	c := newTestClient(t, api)

	id, err := c.Submit(context.Background(), SearchParams{
		Departure: 1, Country: 4, DateFrom: "10.03.2030", DateTo: "05.03.2030",
		ChildAges: []int{3, 5, 7, 9}, Children: 4,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "123456" {
		t.Fatalf("request id = %q", id)
	}
	q := api.lastQuery("search.php")
	checks := map[string]string{
		"authlogin":  "login",
		"authpass":   "secret",
		"format":     "json",
		"dateto":     "10.03.2030",
		"nightsfrom": "7",
		"nightsto":   "10",
		"adults":     "2",
		"childage3":  "7",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Fatalf("%s = %q, want %q", k, got, want)
		}
	}
	if q.Has("childage4") {
		t.Fatal("only three child ages are sent")
	}
	if q.Has("stars") {
		t.Fatal("zero stars must not be sent")
	}
}

func TestSubmitTopLevelRequestID(t *testing.T) {
	api := newFakeAPI()
	api.on("search.php", `{"requestid":777}`)
	c := newTestClient(t, api)
	id, err := c.Submit(context.Background(), SearchParams{Departure: 1, Country: 4})
	if err != nil || id != "777" {
		t.Fatalf("Submit = %q, %v", id, err)
	}
}

func TestInBandErrors(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		body     string
		check    func(error) bool
	}{
		{"expired tour", "actualize.php", `{"data":{"errormessage":"Wrong (obsolete) TourID."}}`,
			func(err error) bool { return errors.Is(err, ErrTourIDExpired) }},
		{"api message", "actualize.php", `{"data":{"errormessage":"Operator unavailable"}}`,
			func(err error) bool { var e *APIError; return errors.As(err, &e) && e.Message == "Operator unavailable" }},
		{"success zero", "actualize.php", `{"data":{"success":0}}`,
			func(err error) bool { var e *APIError; return errors.As(err, &e) }},
		{"unknown search", "result.php", `{"data":{"status":{"state":"no search results"}}}`,
			func(err error) bool { return errors.Is(err, ErrSearchNotFound) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI()
			api.on(tt.endpoint, tt.body)
			c := newTestClient(t, api)
			var err error
			if tt.endpoint == "result.php" {
				_, err = c.Status(context.Background(), "1")
			} else {
				_, err = c.Actualize(context.Background(), "1", ActualizeCached, 0)
			}
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDetailKeepsTopLevelIsError(t *testing.T) {
	api := newFakeAPI()
	api.on("actdetail.php", `{"iserror":true,"errormessage":"operator timeout"}`)
	c := newTestClient(t, api)
	detail, err := c.Detail(context.Background(), "42", 0)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if !DetailFailed(detail) {
		t.Fatalf("expected iserror to be visible: %v", detail)
	}
}

func TestActualizeMarksTour(t *testing.T) {
	api := newFakeAPI()
	api.on("actualize.php", `{"data":{"tour":{"price":"98000","operatorname":"Anex"}}}`)
	c := newTestClient(t, api)
	tour, err := c.Actualize(context.Background(), "42", ActualizeCached, 0)
	if err != nil {
		t.Fatalf("Actualize: %v", err)
	}
	if tour["_actualized"] != true || tour["price"] != "98000" {
		t.Fatalf("tour = %v", tour)
	}
	if got := api.lastQuery("actualize.php").Get("request"); got != "2" {
		t.Fatalf("request mode = %q", got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	api := newFakeAPI()
	api.on("hotel.php", "status:503", "status:503", `{"data":{"hotel":{"name":"Rixos"}}}`)
	c := newTestClient(t, api)
	hotel, err := c.HotelInfo(context.Background(), "10", false)
	if err != nil {
		t.Fatalf("HotelInfo: %v", err)
	}
	if hotel["name"] != "Rixos" {
		t.Fatalf("hotel = %v", hotel)
	}
	if api.hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", api.hits.Load())
	}
}

func TestStatusErrorIsNotRetried(t *testing.T) {
	api := newFakeAPI()
	api.on("hotel.php", "status:404")
	c := newTestClient(t, api)
	_, err := c.HotelInfo(context.Background(), "10", false)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
	if api.hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", api.hits.Load())
	}
}

func TestResultsDecodesLooseShapes(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{
		"status":{"state":"finished","hotelsfound":"1","toursfound":"2","progress":100},
		"result":{"hotel":{
			"hotelcode":"501","hotelname":"Sunrise","hotelstars":"5","hotelrating":"4,6",
			"isphoto":1,"picturelink":"https://img/x.jpg",
			"tours":{"tour":[
				{"tourid":"9001","nights":7,"price":"120000","flydate":"10.03.2030","nightflight":"1"},
				{"tourid":9002,"nights":"9","price":110000,"flydate":"12.03.2030"}
			]}
		}}
	}}`)
	c := newTestClient(t, api)
	page, err := c.Results(context.Background(), "1", 1, 30)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(page.Hotels) != 1 {
		t.Fatalf("hotels = %d", len(page.Hotels))
	}
	h := page.Hotels[0]
	if h.HotelRating.Float() != 4.6 || h.HotelStars.Int() != 5 {
		t.Fatalf("hotel numbers = %v %v", h.HotelRating, h.HotelStars)
	}
	if h.Picture() != "https://img/x.jpg" {
		t.Fatalf("picture = %q", h.Picture())
	}
	tours := h.Tours.Tour
	if len(tours) != 2 || tours[1].TourID != "9002" || tours[1].Nights.Int() != 9 {
		t.Fatalf("tours = %+v", tours)
	}
	if w := tours[0].Warnings(); len(w) != 1 || w[0] != "ночной перелёт" {
		t.Fatalf("warnings = %v", w)
	}
	if got := api.lastQuery("result.php").Get("onpage"); got != "30" {
		t.Fatalf("onpage = %q", got)
	}
}

func TestPollFinished(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php",
		`{"data":{"status":{"state":"searching","hotelsfound":0,"progress":10}}}`,
		`{"data":{"status":{"state":"finished","hotelsfound":12,"toursfound":150,"progress":100}}}`)
	c := newTestClient(t, api)
	status, outcome, err := c.Poll(context.Background(), "1", PollOptions{Timeout: time.Second, Interval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if outcome != PollFinished || status.HotelsFound.Int() != 12 {
		t.Fatalf("outcome = %v, status = %+v", outcome, status)
	}
}

func TestPollEarlyReturn(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{"status":{"state":"searching","hotelsfound":4,"toursfound":9,"progress":45}}}`)
	c := newTestClient(t, api)
	_, outcome, err := c.Poll(context.Background(), "1", PollOptions{Timeout: time.Second, Interval: 5 * time.Millisecond})
	if err != nil || outcome != PollEarly {
		t.Fatalf("outcome = %v, err = %v", outcome, err)
	}
}

func TestPollFinishedEmpty(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{"status":{"state":"finished","hotelsfound":0,"toursfound":0,"progress":100}}}`)
	c := newTestClient(t, api)
	_, _, err := c.Poll(context.Background(), "1", PollOptions{Timeout: time.Second, Interval: 5 * time.Millisecond})
	nr, ok := IsNoResults(err)
	if !ok || nr.Hint == "" {
		t.Fatalf("expected NoResultsError, got %v", err)
	}
}

func TestPollTimeout(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{"status":{"state":"searching","hotelsfound":0,"progress":5}}}`)
	c := newTestClient(t, api)
	_, outcome, err := c.Poll(context.Background(), "1", PollOptions{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond})
	if _, ok := IsNoResults(err); !ok || outcome != PollTimeout {
		t.Fatalf("outcome = %v, err = %v", outcome, err)
	}
}

func TestPollTimeoutPartial(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{"status":{"state":"searching","hotelsfound":1,"toursfound":2,"progress":5}}}`)
	c := newTestClient(t, api)
	opts := PollOptions{Timeout: 30 * time.Millisecond, Interval: 5 * time.Millisecond, EarlyAfter: time.Hour}
	status, outcome, err := c.Poll(context.Background(), "1", opts)
	if err != nil || outcome != PollTimeout || status.HotelsFound.Int() != 1 {
		t.Fatalf("status = %+v, outcome = %v, err = %v", status, outcome, err)
	}
}

func TestPollHonoursContext(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{"status":{"state":"searching","hotelsfound":0,"progress":5}}}`)
	c := newTestClient(t, api)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := c.Poll(ctx, "1", PollOptions{Timeout: time.Minute, Interval: 5 * time.Millisecond})
	if err == nil {
		t.Fatal("expected the poll to stop with the context")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("poll ignored cancellation for %v", time.Since(start))
	}
}

func TestPollCancelledKeepsPartialHotels(t *testing.T) {
	api := newFakeAPI()
	api.on("result.php", `{"data":{"status":{"state":"searching","hotelsfound":1,"toursfound":2,"progress":5}}}`)
	c := newTestClient(t, api)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	opts := PollOptions{Timeout: time.Minute, Interval: 5 * time.Millisecond, EarlyAfter: time.Hour}
	status, outcome, err := c.Poll(ctx, "1", opts)
	if err != nil || outcome != PollTimeout || status.HotelsFound.Int() != 1 {
		t.Fatalf("status = %+v, outcome = %v, err = %v", status, outcome, err)
	}
}

func TestReadyEarlyThresholds(t *testing.T) {
	tests := []struct {
		hotels, tours, progress int
		elapsed                 time.Duration
		want                    bool
	}{
		{3, 0, 40, 0, true},
		{2, 0, 90, 0, false},
		{1, 20, 30, 0, true},
		{1, 19, 30, 0, false},
		{1, 0, 0, 12 * time.Second, true},
		{0, 0, 0, time.Minute, false},
	}
	for _, tt := range tests {
		s := Status{HotelsFound: Num(tt.hotels), ToursFound: Num(tt.tours), Progress: Num(tt.progress)}
		if got := ReadyEarly(s, tt.elapsed, 12*time.Second); got != tt.want {
			t.Fatalf("ReadyEarly(%+v, %v) = %v", tt, tt.elapsed, got)
		}
	}
}

func TestDictionaryCachedInProcess(t *testing.T) {
	api := newFakeAPI()
	api.on("list.php", `{"lists":{"departures":{"departure":[{"id":"1","name":"Москва"},{"id":"2","name":"Пермь"}]}}}`)
	c := newTestClient(t, api)
	for i := 0; i < 3; i++ {
		deps, err := c.Departures(context.Background())
		if err != nil {
			t.Fatalf("Departures: %v", err)
		}
		if len(deps) != 2 || deps[0].ID() != "1" || deps[1].Name() != "Пермь" {
			t.Fatalf("departures = %v", deps)
		}
	}
	if api.hits.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", api.hits.Load())
	}
}

func TestDictionarySingleItemAndFlyDates(t *testing.T) {
	api := newFakeAPI()
	api.on("list.php", `{"lists":{"flydates":{"flydate":["10.03.2030","11.03.2030"]}}}`)
	c := newTestClient(t, api)
	dates, err := c.FlyDates(context.Background(), 1, 4)
	if err != nil {
		t.Fatalf("FlyDates: %v", err)
	}
	if len(dates) != 2 || dates[1] != "11.03.2030" {
		t.Fatalf("dates = %v", dates)
	}
	if got := api.lastQuery("list.php").Get("type"); got != "flydate" {
		t.Fatalf("type = %q", got)
	}
}

func TestDictionaryRedisLayer(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	api := newFakeAPI()
	api.on("list.php", `{"lists":{"meals":{"meal":{"id":7,"name":"AI"}}}}`)
	c := newTestClient(t, api, WithRedis(rdb))

	meals, err := c.Meals(context.Background())
	if err != nil {
		t.Fatalf("Meals: %v", err)
	}
	if len(meals) != 1 || meals[0].ID() != "7" {
		t.Fatalf("meals = %v", meals)
	}
	key := DictionaryKey("meal", url.Values{"type": {"meal"}})
	if !mr.Exists(key) {
		t.Fatalf("expected %s in redis, keys = %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl != 24*time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	// A fresh client with an empty process cache is served from redis.
	api2 := newFakeAPI()
	c2 := newTestClient(t, api2, WithRedis(rdb))
	meals, err = c2.Meals(context.Background())
	if err != nil || len(meals) != 1 {
		t.Fatalf("Meals from redis = %v, %v", meals, err)
	}
	if api2.hits.Load() != 0 {
		t.Fatalf("expected no upstream call, got %d", api2.hits.Load())
	}
}

func TestUnknownDictionary(t *testing.T) {
	c := newTestClient(t, newFakeAPI())
	if _, err := c.Dictionary(context.Background(), "planets", nil); !errors.Is(err, ErrUnknownDictionary) {
		t.Fatalf("err = %v", err)
	}
}

func TestHotToursDiscount(t *testing.T) {
	api := newFakeAPI()
	api.on("hottours.php", `{"hottours":{"tour":[{"hotelname":"A","price":"75000","priceold":"100000","hotelpicture":"https://x/reg-1.jpg"}]}}`)
	c := newTestClient(t, api)
	tours, err := c.HotTours(context.Background(), HotToursParams{City: 1, TourType: 1, PictureType: 1})
	if err != nil {
		t.Fatalf("HotTours: %v", err)
	}
	if len(tours) != 1 || tours[0].Discount() != 25 || tours[0].Picture() != "" {
		t.Fatalf("tours = %+v", tours)
	}
	q := api.lastQuery("hottours.php")
	if q.Get("tourtype") != "1" || q.Get("items") != "10" {
		t.Fatalf("query = %v", q)
	}
}

func TestContinueDefaultsPage(t *testing.T) {
	api := newFakeAPI()
	api.on("search.php", `{"result":{}}`)
	c := newTestClient(t, api)
	page, err := c.Continue(context.Background(), "1")
	if err != nil || page != "2" {
		t.Fatalf("Continue = %q, %v", page, err)
	}
}
