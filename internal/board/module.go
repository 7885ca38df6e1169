package board

import (
	apphttp "leadrouting_backend/internal/http"
)

// Module exposes the board live feed.
type Module struct {
	hub *Hub
}

func NewModule(hub *Hub) *Module {
	return &Module{hub: hub}
}

func (m *Module) Name() string { return "board" }

// RegisterRoutes mounts GET /api/v1/board/:pipelineId/stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/board/:pipelineId/stream", m.hub.Handler())
}

var _ apphttp.Module = (*Module)(nil)
