package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"arbor/internal/cache"
	"arbor/internal/config"
	"arbor/internal/metrics"
	"arbor/internal/services"
	"arbor/internal/store"
)

type Server struct {
	app    *fiber.App
	config *config.Config
	store  *store.Store
	logger *slog.Logger
	links  services.LinksService
	rdb    *redis.Client
}

func NewServer(cfg *config.Config, st *store.Store, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadBufferSize: 16 * 1024,
	})

	// Redis backs the cache layer and deep health checks.
	var rdb *redis.Client
	if cfg.Cache.RedisURL != "" {
		if opt, err := redis.ParseURL(cfg.Cache.RedisURL); err == nil {
			rdb = redis.NewClient(opt)
		} else if logger != nil {
			logger.Warn("invalid redis URL, caching disabled", "error", err)
		}
	}

	cch := cache.New(rdb, logger, time.Duration(cfg.Cache.DefaultTTLSeconds)*time.Second)
	svc := services.NewLinksService(cfg, cch, logger)

	s := &Server{
		app:    app,
		config: cfg,
		store:  st,
		logger: logger,
		links:  svc,
		rdb:    rdb,
	}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		// Deep health: check Redis and database connectivity, and
		// browser configuration.
		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		redisStatus := "disabled"
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		dbStatus := "disabled"
		if st != nil && st.DB != nil {
			if err := st.DB.PingContext(ctx); err != nil {
				dbStatus = "error"
			} else {
				dbStatus = "ok"
			}
		}

		browserStatus := "disabled"
		if cfg.Browser.Enabled {
			browserStatus = "enabled"
		}

		status := "ok"
		if redisStatus == "error" || dbStatus == "error" {
			status = "error"
		}

		return c.JSON(fiber.Map{
			"status":  status,
			"redis":   redisStatus,
			"db":      dbStatus,
			"browser": browserStatus,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	v1 := app.Group("/v1")
	v1.Post("/links", s.linksPostHandler)
	v1.Get("/links", s.linksGetHandler)
	v1.Get("/requests/recent", s.recentRequestsHandler)

	return s
}

// Listen blocks serving the API on the configured address.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}
