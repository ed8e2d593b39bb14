package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/rebekaee1/mgp-v2/pkg/ctxkeys"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 128

var panicsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "tourbot",
	Name:      "http_panics_total",
	Help:      "Handler panics recovered by the HTTP middleware",
})

// quietPaths are polled by probes and scrapers and log at debug level.
var quietPaths = map[string]bool{"/health": true, "/metrics": true}

// Setup installs the middleware shared by every route, outermost first.
// allowedOrigins configures CORS; see CORS.
func Setup(r *gin.Engine, logger logging.Logger, allowedOrigins []string) {
	r.Use(
		RequestContext(),
		AccessLog(logger),
		Recovery(logger),
		CORS(allowedOrigins),
	)
}

// RequestContext assigns the request id and stores it in the request
// context together with the client address and user agent.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := ctxkeys.WithRequestID(c.Request.Context(), requestID)
		ctx = ctxkeys.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLog writes one line per request. Server errors log as warnings.
func AccessLog(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := Logger(c, logger).WithFields(logging.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"bytes":      c.Writer.Size(),
			"user_agent": c.Request.UserAgent(),
		})
		switch {
		case quietPaths[c.Request.URL.Path]:
			entry.Debug("HTTP request")
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}

// Recovery turns a handler panic into a 500.
func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				panicsTotal.Inc()
				Logger(c, logger).WithField("panic", rec).Error("Request handler panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()

		c.Next()
	}
}

// CORS lets the chat widget call the API from another origin. An empty
// list or a "*" entry allows any origin; otherwise only listed origins are
// echoed back.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	anyOrigin := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			anyOrigin = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case anyOrigin:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
		c.Header("Access-Control-Expose-Headers", RequestIDHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestContext.
func GetRequestID(c *gin.Context) string {
	return ctxkeys.GetRequestID(c.Request.Context())
}

// Logger returns logger annotated with the request id and route.
func Logger(c *gin.Context, logger logging.Logger) *logrus.Entry {
	return logger.WithFields(logging.Fields{
		"request_id": GetRequestID(c),
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"client_ip":  c.ClientIP(),
	})
}
