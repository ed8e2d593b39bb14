package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rebekaee1/mgp-v2/pkg/config"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
	"github.com/rebekaee1/mgp-v2/pkg/middleware"
	"github.com/rebekaee1/mgp-v2/pkg/monitoring"
)

// Config represents server configuration
type Config struct {
	Port            string
	ServiceName     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigins is passed to middleware.CORS.
	AllowedOrigins []string
}

// DefaultConfig returns default server configuration. WriteTimeout covers
// a full agent turn including search polling.
func DefaultConfig(serviceName, defaultPort string) Config {
	return Config{
		Port:            config.GetEnv("PORT", defaultPort),
		ServiceName:     serviceName,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    180 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		AllowedOrigins:  config.GetEnvList("CORS_ALLOWED_ORIGINS", nil),
	}
}

// SetupServiceRouter creates a Gin router with the shared middleware,
// /health backed by the health checker and /metrics for Prometheus.
func SetupServiceRouter(logger logging.Logger, cfg Config, hc *monitoring.HealthChecker) *gin.Engine {
	if config.GetEnv("GIN_MODE", "debug") == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	middleware.Setup(router, logger, cfg.AllowedOrigins)

	if hc == nil {
		hc = monitoring.NewHealthChecker(cfg.ServiceName, "")
	}
	router.GET("/health", hc.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to ShutdownTimeout.
func Run(ctx context.Context, cfg Config, handler http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log := logger.WithField("service", cfg.ServiceName)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Port).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	log.WithField("timeout", timeout).Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
