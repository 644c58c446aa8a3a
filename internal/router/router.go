package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/coder-judge-api/internal/config"
	"github.com/noah-isme/coder-judge-api/internal/handler"
	"github.com/noah-isme/coder-judge-api/internal/middleware"
	"github.com/noah-isme/coder-judge-api/internal/models"
	"github.com/noah-isme/coder-judge-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	SubmissionHandler       *handler.SubmissionHandler
	SubmissionStreamHandler *handler.SubmissionStreamHandler
	JWTMiddleware           fiber.Handler
	HealthProbes            map[string]handler.HealthProbe
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes))

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	submissions := api.Group("/submissions", jwtMiddleware)

	// The stream route goes first so the upgrade check runs before the REST :id routes.
	if deps.SubmissionStreamHandler != nil {
		deps.SubmissionStreamHandler.Register(submissions)
	}

	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.Register(submissions, Guards(cfg))
	}
}

// Guards builds the submission route guards from configuration.
func Guards(cfg config.Config) handler.SubmissionGuards {
	guards := handler.SubmissionGuards{
		AdminOnly:     middleware.RequireRole(models.RoleAdmin),
		ResultWriters: middleware.RequireRole(models.RoleAdmin, models.RoleJudge),
	}
	if cfg.SubmitRateLimit > 0 && cfg.SubmitRateLimitEvery > 0 {
		guards.CreateLimiter = middleware.RateLimit("submissions:create", cfg.SubmitRateLimit, cfg.SubmitRateLimitEvery)
	}
	return guards
}
