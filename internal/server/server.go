package server

import (
	"backend-racesync/internal/auth"
	"backend-racesync/internal/config"
	"backend-racesync/internal/db"
	"backend-racesync/internal/stream"
	"backend-racesync/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     db.Querier
	Redis  *redis.Client
	Stream *stream.Hub
}

func NewServer(cfg config.Config, q db.Querier, redisClient *redis.Client) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     q,
		Redis:  redisClient,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

// Close stops the hub and disconnects its streams. The fiber app is shut down separately.
func (s *Server) Close() {
	s.Stream.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	tracking.RegisterRoutes(s.App.Group("/tracking"), tracking.NewService(s.DB, s.Stream), jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
	stream.RegisterSSERoutes(s.App.Group("/api/v1"), s.Stream, stream.DefaultKeepAlive)
}
