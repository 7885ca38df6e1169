// Package routing provides the lead routing and board ordering bounded context.
// This file defines the module that encapsulates route registration.
package routing

import (
	apphttp "leadrouting_backend/internal/http"
	"leadrouting_backend/internal/routing/handler"
	"leadrouting_backend/internal/routing/service"
	"leadrouting_backend/platform/validator"
)

// Module is the routing bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule wires the HTTP handler around an assembled service.
func NewModule(svc *service.Service, val *validator.Validator) *Module {
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "routing"
}

// Service exposes the routing service for background jobs.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the routing, board and webhook endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1)
	if ctx.WebhookLimiter != nil {
		m.handler.RegisterWebhookRoutes(ctx.V1, ctx.WebhookLimiter.RateLimit())
		return
	}
	m.handler.RegisterWebhookRoutes(ctx.V1)
}

var _ apphttp.Module = (*Module)(nil)
