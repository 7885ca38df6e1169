// Package http holds what the router needs from the composition root: the
// process dependencies and the modules that mount routes.
package http

import (
	"context"

	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/httpkit"
	"leadrouting_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// HealthChecker backs /api/health. *pgxpool.Pool satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in main and handed to router.New.
type App struct {
	Config  config.HTTPConfig
	Logger  *logger.Logger
	Health  HealthChecker // optional
	Modules []Module
}

// Module is a bounded context with HTTP routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is passed to every Module.RegisterRoutes.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is the /api/v1 group.
	V1 *gin.RouterGroup
	// WebhookLimiter throttles unauthenticated inbound endpoints per client IP.
	WebhookLimiter *httpkit.IPRateLimiter
}
