package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	goredis "github.com/redis/go-redis/v9"

	"github.com/rebekaee1/mgp-v2/pkg/logging"
	"github.com/rebekaee1/mgp-v2/pkg/redis"
)

var rateLimitDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tourbot",
		Name:      "rate_limit_decisions_total",
		Help:      "Rate limiter decisions",
	},
	[]string{"scope", "decision"}, // "allowed", "limited", "fail_open"
)

// RateLimiter counts requests per key in fixed windows stored in Redis. When
// Redis is unavailable every request is allowed.
type RateLimiter struct {
	client goredis.UniversalClient
	scope  string
	limit  int
	window time.Duration
	logger logging.Logger
}

func NewRateLimiter(client goredis.UniversalClient, scope string, limit int, window time.Duration, logger logging.Logger) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, scope: scope, limit: limit, window: window, logger: logger}
}

// Allow consumes one request for key and reports whether it is within the
// limit.
func (l *RateLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil || l.limit <= 0 || key == "" {
		return true
	}
	bucket := time.Now().UnixNano() / int64(l.window)
	redisKey := redis.Key("ratelimit", l.scope, key, strconv.FormatInt(bucket, 10))

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		rateLimitDecisions.WithLabelValues(l.scope, "fail_open").Inc()
		l.logger.WithError(err).WithField("scope", l.scope).Warn("Rate limiter unavailable, allowing request")
		return true
	}
	if incr.Val() > int64(l.limit) {
		rateLimitDecisions.WithLabelValues(l.scope, "limited").Inc()
		return false
	}
	rateLimitDecisions.WithLabelValues(l.scope, "allowed").Inc()
	return true
}

// Middleware limits requests by client IP.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.Request.Context(), c.ClientIP()) {
			c.Header("Retry-After", strconv.Itoa(int(l.window/time.Second)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Слишком много запросов. Попробуйте через минуту."})
			return
		}
		c.Next()
	}
}
