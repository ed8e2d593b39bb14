package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	appconfig "github.com/rebekaee1/mgp-v2/internal/config"
	"github.com/rebekaee1/mgp-v2/internal/handler"
	"github.com/rebekaee1/mgp-v2/pkg/config"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
	"github.com/rebekaee1/mgp-v2/pkg/monitoring"
	"github.com/rebekaee1/mgp-v2/pkg/server"
	"github.com/rebekaee1/mgp-v2/pkg/version"
)

const serviceName = "tourbot"

func newServeCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(serviceName)
			config.LoadEnv(logger)
			logger.SetLevel(config.GetLogLevel())

			cfg := appconfig.LoadConfig()
			if port != "" {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT or 8080)")
	return cmd
}

func serve(ctx context.Context, cfg appconfig.Config, logger logging.Logger) error {
	a, err := buildApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.service.Run(ctx)

	healthChecker := monitoring.NewHealthChecker(serviceName, version.String())
	if a.db != nil {
		healthChecker.AddOptionalCheck("database", monitoring.DatabaseCheck(a.db))
	}
	if a.redis != nil {
		healthChecker.AddOptionalCheck("redis", monitoring.RedisCheck(a.redis))
	}
	healthChecker.AddCheck("config", monitoring.RequiredConfig(map[string]string{
		"LLM_PROVIDER":         cfg.LLM.Provider,
		"TOURVISOR_AUTH_LOGIN": cfg.Tourvisor.Login,
	}))

	serverConfig := server.DefaultConfig(serviceName, cfg.Port)
	serverConfig.Port = cfg.Port
	router := server.SetupServiceRouter(logger, serverConfig, healthChecker)
	router.Use(timeoutMiddleware(cfg.RequestTimeout))

	var ipLimiter, sessionLimiter *handler.RateLimiter
	if a.redis != nil {
		ipLimiter = handler.NewRateLimiter(a.redis, "ip", cfg.RateLimitPerIP, time.Minute, logger)
		sessionLimiter = handler.NewRateLimiter(a.redis, "session", cfg.RateLimitPerSession, time.Minute, logger)
	}
	chatHandler := handler.NewChatHandler(a.service, sessionLimiter, cfg.LLM.Provider, cfg.LLM.Model, logger)
	handler.RegisterRoutes(router, chatHandler, ipLimiter)

	return server.Run(ctx, serverConfig, router, logger)
}

// timeoutMiddleware bounds the work of one request, including every model
// and inventory call it makes.
func timeoutMiddleware(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
