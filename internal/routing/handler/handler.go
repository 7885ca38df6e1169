package handler

import (
	"errors"
	"net/http"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/service"
	"leadrouting_backend/internal/routing/transport"
	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/httpkit"
	"leadrouting_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler serves routing and board endpoints.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes mounts /routing and /board under rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	routing := rg.Group("/routing")
	routing.POST("/route", h.RouteNewLead)
	routing.POST("/leads/:id/reconcile", h.ReconcileOwner)

	board := rg.Group("/board")
	board.POST("/rank", h.ComputeInsertRank)
	board.POST("/leads/:id/move", h.MoveLead)
	board.POST("/stages/:pipelineId/:stageId/rebalance", h.RebalanceStage)
}

func (h *Handler) RouteNewLead(c *gin.Context) {
	var req transport.RouteLeadRequest
	if !h.bind(c, &req) {
		return
	}

	agentID, err := h.svc.RouteNewLead(c.Request.Context(), req.UnitCount, req.HasLegalEntity)
	if handleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RouteLeadResponse{AgentID: agentID})
}

func (h *Handler) ReconcileOwner(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req transport.ReconcileOwnerRequest
	if !h.bind(c, &req) {
		return
	}

	agentID, err := h.svc.ReconcileOwner(c.Request.Context(), id, req.UnitCount, req.HasLegalEntity)
	if handleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RouteLeadResponse{AgentID: agentID})
}

func (h *Handler) ComputeInsertRank(c *gin.Context) {
	var req transport.InsertRankRequest
	if !h.bind(c, &req) {
		return
	}

	r, err := h.svc.ComputeInsertRank(c.Request.Context(), req.PipelineID, req.StageID, req.BeforeID, req.AfterID)
	if handleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RankResponse{Rank: r.String()})
}

func (h *Handler) MoveLead(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req transport.MoveLeadRequest
	if !h.bind(c, &req) {
		return
	}

	lead, err := h.svc.MoveLead(c.Request.Context(), id, req.PipelineID, req.StageID, req.BeforeID, req.AfterID)
	if handleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToLeadResponse(lead))
}

func (h *Handler) RebalanceStage(c *gin.Context) {
	pipelineID, ok := uuidParam(c, "pipelineId")
	if !ok {
		return
	}
	stageID, ok := uuidParam(c, "stageId")
	if !ok {
		return
	}

	n, err := h.svc.RebalanceStage(c.Request.Context(), pipelineID, stageID)
	if handleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RebalanceResponse{PipelineID: pipelineID, StageID: stageID, Cards: n})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return false
	}
	return true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, gin.H{name: "uuid"})
		return uuid.Nil, false
	}
	return id, true
}

// handleError reports a step that kept failing through its retries as 409
// naming the step, and defers everything else to httpkit.
func handleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var stageErr *domain.StageError
	if errors.As(err, &stageErr) {
		_ = c.Error(err)
		return httpkit.HandleError(c, apperr.Wrap(apperr.KindConflict, "concurrent update, retry later", err).
			WithDetails(gin.H{"stage": stageErr.Step, "attempts": stageErr.Attempts}))
	}
	if errors.Is(err, domain.ErrRankConflict) || errors.Is(err, domain.ErrAssignmentRace) {
		_ = c.Error(err)
		return httpkit.HandleError(c, apperr.Wrap(apperr.KindConflict, "concurrent update, retry later", err))
	}
	return httpkit.HandleError(c, err)
}
