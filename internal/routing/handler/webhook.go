package handler

import (
	"net/http"
	"strings"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/transport"
	"leadrouting_backend/platform/sanitize"

	"github.com/gin-gonic/gin"
)

// HeaderDeliveryID identifies one delivery attempt chain of a lead source.
// Retries of the same submission carry the same value.
const HeaderDeliveryID = "X-Delivery-ID"

const maxDeliveryIDLength = 200

// RegisterWebhookRoutes mounts the inbound lead endpoint behind the given middleware.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup, middleware ...gin.HandlerFunc) {
	handlers := append(append([]gin.HandlerFunc{}, middleware...), h.IngestLead)
	rg.POST("/webhook/leads", handlers...)
}

// IngestLead merges an inbound submission into an existing lead or creates one.
// POST /api/v1/webhook/leads
func (h *Handler) IngestLead(c *gin.Context) {
	var req transport.InboundLeadRequest
	if !h.bind(c, &req) {
		return
	}

	deliveryID := strings.TrimSpace(c.GetHeader(HeaderDeliveryID))
	if len(deliveryID) > maxDeliveryIDLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest, "details": gin.H{"deliveryId": "max"}})
		return
	}

	ev := domain.InboundContactEvent{
		DeliveryID:     deliveryID,
		Source:         sanitize.Text(req.Source),
		Stage:          domain.StageRef{PipelineID: req.PipelineID, StageID: req.StageID},
		ContactName:    sanitize.Limit(sanitize.Text(req.ContactName), 200),
		Phone:          strings.TrimSpace(req.Phone),
		Email:          strings.TrimSpace(req.Email),
		UnitCount:      req.UnitCount,
		HasLegalEntity: req.HasLegalEntity,
	}

	result, err := h.svc.MergeOrCreate(c.Request.Context(), ev)
	if handleError(c, err) {
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}
