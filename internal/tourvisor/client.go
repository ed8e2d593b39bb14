package tourvisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rebekaee1/mgp-v2/pkg/cache"
	"github.com/rebekaee1/mgp-v2/pkg/clients"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

const DefaultBaseURL = "https://tourvisor.ru/xml"

// Endpoints whose upstream (the tour operator) is slow; they get a single
// retry on timeout and nothing else.
var slowEndpoints = map[string]bool{
	"actualize.php": true,
	"actdetail.php": true,
}

// Config holds the credentials and transport settings.
type Config struct {
	BaseURL  string
	Login    string
	Password string
	Timeout  time.Duration
}

// Client talks to the Tourvisor XML/JSON API. It holds no business logic.
type Client struct {
	baseURL  string
	login    string
	password string
	logger   logging.Logger
	client   *http.Client

	executor     failsafe.Executor[*http.Response]
	slowExecutor failsafe.Executor[*http.Response]

	dict    *cache.Cache[json.RawMessage]
	redis   goredis.UniversalClient
	dictTTL time.Duration
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithExecutorConfig replaces the retry and breaker settings of the
// regular endpoints.
func WithExecutorConfig(cfg clients.ExecutorConfig) Option {
	return func(c *Client) {
		c.executor = clients.NewExecutor(cfg)
	}
}

// WithRedis enables the shared dictionary cache layer.
func WithRedis(rdb goredis.UniversalClient) Option {
	return func(c *Client) {
		c.redis = rdb
	}
}

// WithDictionaryCache overrides the in-process dictionary cache.
func WithDictionaryCache(dc *cache.Cache[json.RawMessage]) Option {
	return func(c *Client) {
		if dc != nil {
			c.dict = dc
		}
	}
}

func NewClient(cfg Config, logger logging.Logger, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewLoggerWithService("tourvisor")
	}

	breaker := clients.NewHTTPBreaker(clients.BreakerConfig{
		Name:         "tourvisor",
		Cooldown:     20 * time.Second,
		FailureRatio: 0.6,
		Window:       10,
		Logger:       logger,
	})
	regular := clients.ExecutorConfig{
		Name:       "tourvisor",
		MaxRetries: 2,
		BaseDelay:  300 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Breaker:    breaker,
	}
	slow := clients.ExecutorConfig{
		Name:        "tourvisor_slow",
		MaxRetries:  1,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    time.Second,
		ShouldRetry: clients.TimeoutOnlyRetry,
		Breaker:     breaker,
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		login:        cfg.Login,
		password:     cfg.Password,
		logger:       logger,
		client:       clients.NewHTTPClient(cfg.Timeout),
		executor:     clients.NewExecutor(regular),
		slowExecutor: clients.NewExecutor(slow),
		dictTTL:      24 * time.Hour,
	}
	c.dict = cache.New[json.RawMessage](cache.Options{
		TTL:                  6 * time.Hour,
		StaleWhileRevalidate: 18 * time.Hour,
		NegativeTTL:          30 * time.Second,
		MaxEntries:           512,
	}, cache.Hooks{
		OnHit:   func(string) { dictionaryLookupsTotal.WithLabelValues("hit").Inc() },
		OnStale: func(string) { dictionaryLookupsTotal.WithLabelValues("stale").Inc() },
		OnMiss:  func(string) { dictionaryLookupsTotal.WithLabelValues("miss").Inc() },
		OnError: func(key string, err error) {
			dictionaryLookupsTotal.WithLabelValues("error").Inc()
			logger.WithError(err).WithField("key", key).Warn("dictionary load failed")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the part of every response used for in-band error detection.
type envelope struct {
	IsError      Num             `json:"iserror"`
	ErrorMessage string          `json:"errormessage"`
	Data         json.RawMessage `json:"data"`
}

type innerStatus struct {
	ErrorMessage string `json:"errormessage"`
	Success      *Num   `json:"success"`
	Status       *struct {
		State string `json:"state"`
	} `json:"status"`
}

// request performs one GET and returns the raw body after in-band error
// checks.
func (c *Client) request(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	logged := params.Encode()
	params.Set("authlogin", c.login)
	params.Set("authpass", c.password)
	params.Set("format", "json")
	target := c.baseURL + "/" + endpoint + "?" + params.Encode()

	executor, shouldRetry := c.executor, clients.DefaultShouldRetry
	if slowEndpoints[endpoint] {
		executor, shouldRetry = c.slowExecutor, clients.TimeoutOnlyRetry
	}

	log := c.logger.WithFields(logging.Fields{"endpoint": endpoint, "params": logged})
	log.Debug("tourvisor request")
	start := time.Now()

	resp, err := clients.Do(ctx, executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.client.Do(req)
		if shouldRetry(resp, err) && resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return resp, err
	})
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		log.WithError(err).WithField("elapsed_ms", elapsed.Milliseconds()).Error("tourvisor request failed")
		return nil, fmt.Errorf("tourvisor %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		requestsTotal.WithLabelValues(endpoint, "http_error").Inc()
		log.WithFields(logging.Fields{
			"status":     resp.StatusCode,
			"elapsed_ms": elapsed.Milliseconds(),
		}).Error("tourvisor returned non-2xx")
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, fmt.Errorf("tourvisor %s: read body: %w", endpoint, err)
	}

	if err := c.checkAPIError(endpoint, body); err != nil {
		requestsTotal.WithLabelValues(endpoint, "api_error").Inc()
		log.WithError(err).Warn("tourvisor api error")
		return nil, err
	}
	requestsTotal.WithLabelValues(endpoint, "ok").Inc()
	log.WithFields(logging.Fields{
		"elapsed_ms": elapsed.Milliseconds(),
		"bytes":      len(body),
	}).Info("tourvisor response")
	return body, nil
}

// checkAPIError maps the in-band error conventions. A top-level iserror is
// only logged: actdetail.php reports operator failures that way and callers
// fall back to other offers.
func (c *Client) checkAPIError(endpoint string, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("tourvisor %s: decode response: %w", endpoint, err)
	}
	if env.IsError.Bool() {
		c.logger.WithFields(logging.Fields{
			"endpoint": endpoint,
			"message":  env.ErrorMessage,
		}).Warn("tourvisor top-level iserror")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var inner innerStatus
	if err := json.Unmarshal(data, &inner); err != nil {
		return nil
	}
	if msg := inner.ErrorMessage; msg != "" {
		if strings.Contains(strings.ToLower(msg), "tourid") {
			return fmt.Errorf("%w: %s", ErrTourIDExpired, msg)
		}
		return &APIError{Endpoint: endpoint, Message: msg}
	}
	if inner.Success != nil && *inner.Success == 0 {
		return &APIError{Endpoint: endpoint, Message: "success=0"}
	}
	if endpoint == "result.php" && inner.Status != nil && inner.Status.State == StateNotFound {
		return ErrSearchNotFound
	}
	return nil
}

// decodeData unmarshals the "data" member of a response into out.
func decodeData(body []byte, out any) error {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return err
	}
	if len(wrapper.Data) == 0 {
		return nil
	}
	return json.Unmarshal(wrapper.Data, out)
}
