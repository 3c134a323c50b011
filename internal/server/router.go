package server

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/backoffice/internal/cache"
	"github.com/Anvoria/backoffice/internal/config"
	"github.com/Anvoria/backoffice/internal/database"
	"github.com/Anvoria/backoffice/internal/domain/admin"
	"github.com/Anvoria/backoffice/internal/domain/auth"
	"github.com/Anvoria/backoffice/internal/domain/permission"
	"github.com/Anvoria/backoffice/internal/domain/session"
	"github.com/Anvoria/backoffice/internal/domain/stepup"
	"github.com/Anvoria/backoffice/internal/signals"
)

// SetupRoutes wires repositories, services, the step-up engine and the two
// guard pipelines, then registers all routes. The returned teardown drains
// the signal dispatcher on shutdown.
func SetupRoutes(app *fiber.App, cfg *config.Config) (func(), error) {
	// Grant storage: ephemeral Redis when configured, durable Postgres
	// otherwise. Both enforce the same single-use semantics.
	var grantStore stepup.Store
	if cfg.Redis.Enabled() {
		client, err := cache.Connect(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		grantStore = stepup.NewRedisStore(client)
		slog.Info("Step-up grants backed by Redis", "address", cfg.Redis.Address())
	} else {
		grantStore = stepup.NewGormStore(database.DB)
		slog.Info("Step-up grants backed by Postgres")
	}

	dispatcher := signals.NewDispatcher(signals.LogSink{}, 256)

	hasher, err := admin.NewPasswordHasher(cfg.Auth.Pepper)
	if err != nil {
		return nil, fmt.Errorf("failed to build password hasher: %w", err)
	}

	adminRepo := admin.NewRepository(database.DB)
	adminService := admin.NewService(adminRepo, hasher)

	sessionRepo := session.NewRepository(database.DB)
	sessionService := session.NewService(sessionRepo, grantStore)

	engine := stepup.NewEngine(grantStore, adminService, sessionService, dispatcher, stepup.Config{
		ElevatedTTL: cfg.Auth.StepUpTTL(),
		Issuer:      cfg.Auth.TOTPIssuer,
	})
	registry := stepup.DefaultRegistry()

	permissionService := permission.NewService(database.DB)

	rememberRepo := auth.NewRememberRepository(database.DB)
	abuseIssuer := auth.NewAbuseCookieIssuer(cfg.Auth.AbuseSigningKey)
	authService := auth.NewService(adminService, sessionService, rememberRepo,
		abuseIssuer, dispatcher, cfg.Auth.SessionTTL())
	authHandler := auth.NewHandler(authService, adminService, sessionService, engine)

	guardDeps := auth.Deps{
		Sessions:    sessionService,
		Admins:      adminService,
		Engine:      engine,
		Registry:    registry,
		Permissions: permissionService,
	}
	api := auth.NewPipeline(guardDeps, auth.SurfaceAPI)
	ui := auth.NewPipeline(guardDeps, auth.SurfaceUI)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	})

	v1 := app.Group("/api/v1")
	v1.Post("/login", authHandler.Login).Name("auth.login")
	v1.Post("/login/remember", authHandler.LoginWithRememberToken).Name("auth.login.remember")
	v1.Post("/logout", api.Protect("auth.logout", authHandler.Logout)...).Name("auth.logout")
	v1.Get("/me", api.Protect("auth.me", authHandler.Me)...).Name("auth.me")

	v1.Get("/2fa/setup", api.Protect("twofactor.setup.begin", authHandler.TwoFactorSetupBegin)...).
		Name("twofactor.setup.begin")
	v1.Post("/2fa/setup", api.Protect("twofactor.setup", authHandler.TwoFactorSetupComplete)...).
		Name("twofactor.setup")
	v1.Post("/2fa/verify", api.Protect("twofactor.verify", authHandler.TwoFactorVerify)...).
		Name("twofactor.verify")

	v1.Post("/admins", api.Protect("admin.create", authHandler.CreateAdmin)...).
		Name("admin.create")
	v1.Post("/password", api.Protect("admin.password_change", authHandler.ChangePassword)...).
		Name("admin.password_change")
	v1.Get("/sessions", api.Protect("session.list", authHandler.ListSessions)...).
		Name("session.list")
	v1.Delete("/sessions", api.Protect("session.revoke_all", authHandler.RevokeSessions)...).
		Name("session.revoke_all")

	// Browser surface: same guards, redirect denials.
	adminPages := app.Group("/admin")
	adminPages.Get("/", ui.Protect("dashboard.view", authHandler.Dashboard)...).
		Name("dashboard.view")
	adminPages.Post("/2fa/verify", ui.Protect("twofactor.verify", authHandler.TwoFactorVerify)...).
		Name("twofactor.verify.page")
	adminPages.Post("/logout", ui.Protect("auth.logout", authHandler.Logout)...).
		Name("auth.logout.page")

	return dispatcher.Close, nil
}
