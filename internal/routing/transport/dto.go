package transport

import (
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/google/uuid"
)

// Request DTOs
type RouteLeadRequest struct {
	UnitCount      int  `json:"unitCount" validate:"required,gt=0"`
	HasLegalEntity bool `json:"hasLegalEntity"`
}

type ReconcileOwnerRequest struct {
	UnitCount      int  `json:"unitCount" validate:"required,gt=0"`
	HasLegalEntity bool `json:"hasLegalEntity"`
}

// InsertRankRequest asks for the rank of a card dropped between two others.
// BeforeID is the card that ends up directly above, AfterID directly below.
type InsertRankRequest struct {
	PipelineID uuid.UUID  `json:"pipelineId" validate:"required"`
	StageID    uuid.UUID  `json:"stageId" validate:"required"`
	BeforeID   *uuid.UUID `json:"beforeId,omitempty"`
	AfterID    *uuid.UUID `json:"afterId,omitempty"`
}

type MoveLeadRequest struct {
	PipelineID uuid.UUID  `json:"pipelineId" validate:"required"`
	StageID    uuid.UUID  `json:"stageId" validate:"required"`
	BeforeID   *uuid.UUID `json:"beforeId,omitempty"`
	AfterID    *uuid.UUID `json:"afterId,omitempty"`
}

// InboundLeadRequest is the webhook payload of a lead source.
type InboundLeadRequest struct {
	Source         string    `json:"source" validate:"required,max=100"`
	PipelineID     uuid.UUID `json:"pipelineId" validate:"required"`
	StageID        uuid.UUID `json:"stageId" validate:"required"`
	ContactName    string    `json:"contactName" validate:"max=200"`
	Phone          string    `json:"phone" validate:"max=40"`
	Email          string    `json:"email" validate:"omitempty,email,max=254"`
	UnitCount      int       `json:"unitCount" validate:"gte=0"`
	HasLegalEntity *bool     `json:"hasLegalEntity,omitempty"`
}

// Response DTOs
type RouteLeadResponse struct {
	AgentID *uuid.UUID `json:"agentId"`
}

type RankResponse struct {
	Rank string `json:"rank"`
}

type RebalanceResponse struct {
	PipelineID uuid.UUID `json:"pipelineId"`
	StageID    uuid.UUID `json:"stageId"`
	Cards      int       `json:"cards"`
}

type LeadResponse struct {
	ID             uuid.UUID   `json:"id"`
	PipelineID     uuid.UUID   `json:"pipelineId"`
	StageID        uuid.UUID   `json:"stageId"`
	Rank           string      `json:"rank"`
	UnitCount      int         `json:"unitCount"`
	HasLegalEntity bool        `json:"hasLegalEntity"`
	OwnerIDs       []uuid.UUID `json:"ownerIds"`
	ContactName    string      `json:"contactName"`
	Phone          string      `json:"phone,omitempty"`
	Email          string      `json:"email,omitempty"`
	Source         string      `json:"source"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

func ToLeadResponse(l domain.Lead) LeadResponse {
	owners := l.OwnerIDs
	if owners == nil {
		owners = []uuid.UUID{}
	}
	return LeadResponse{
		ID:             l.ID,
		PipelineID:     l.Stage.PipelineID,
		StageID:        l.Stage.StageID,
		Rank:           l.Rank.String(),
		UnitCount:      l.UnitCount,
		HasLegalEntity: l.HasLegalEntity,
		OwnerIDs:       owners,
		ContactName:    l.ContactName,
		Phone:          l.Phone,
		Email:          l.Email,
		Source:         l.Source,
		UpdatedAt:      l.UpdatedAt,
	}
}
