package server

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/Anvoria/backoffice/internal/config"
	"github.com/Anvoria/backoffice/internal/database"
	"github.com/Anvoria/backoffice/internal/migrations"
	"github.com/Anvoria/backoffice/internal/utils"
)

// Start initializes logging, connects to the database and optionally Redis,
// runs migrations, wires the domain services and guard pipelines, registers
// routes and starts listening on the configured address.
func Start(cfg *config.Config) error {
	initLogger(cfg.Logging.Level)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: utils.ErrorHandler,
	})

	app.Use(helmet.New())

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.Server.RateLimit.Max,
		Expiration: time.Duration(cfg.Server.RateLimit.Expiration) * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.ErrorResponse(c, "Too many requests, please try again later.",
				fiber.StatusTooManyRequests)
		},
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,X-Request-ID",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	if err := database.ConnectDB(cfg); err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return err
	}
	slog.Info("Database connected successfully")

	if err := migrations.RunMigrations(database.DB); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return err
	}
	slog.Info("Migrations completed successfully")

	teardown, err := SetupRoutes(app, cfg)
	if err != nil {
		slog.Error("Failed to setup routes", "error", err)
		return err
	}
	defer teardown()

	addr := cfg.Server.Address()
	slog.Info("Server starting",
		"address", addr,
		"app", cfg.App.Name,
	)
	if err := app.Listen(addr); err != nil {
		slog.Error("Failed to start server", "error", err)
		return err
	}

	return nil
}

func initLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(handler))
}
