// Package events defines the routing and board events published on the bus.
// The bus itself lives in platform/events; the aliases below let modules
// depend on this package alone.
package events

import (
	"leadrouting_backend/platform/events"
	"leadrouting_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates the process-local bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// BoardEvent is an event that changes what viewers of a pipeline board see.
type BoardEvent interface {
	Event
	BoardPipelineID() uuid.UUID
}

// =============================================================================
// Leads Domain Events
// =============================================================================

// LeadCreated is published when ingestion created a new lead.
type LeadCreated struct {
	BaseEvent
	LeadID          uuid.UUID  `json:"leadId"`
	PipelineID      uuid.UUID  `json:"pipelineId"`
	StageID         uuid.UUID  `json:"stageId"`
	Rank            string     `json:"rank"`
	AssignedAgentID *uuid.UUID `json:"assignedAgentId,omitempty"`
	Source          string     `json:"source,omitempty"`
}

func (e LeadCreated) EventName() string          { return "leads.lead.created" }
func (e LeadCreated) BoardPipelineID() uuid.UUID { return e.PipelineID }

// LeadMerged is published when an inbound submission was folded into an existing lead.
type LeadMerged struct {
	BaseEvent
	LeadID     uuid.UUID `json:"leadId"`
	PipelineID uuid.UUID `json:"pipelineId"`
	StageID    uuid.UUID `json:"stageId"`
	Source     string    `json:"source,omitempty"`
}

func (e LeadMerged) EventName() string          { return "leads.lead.merged" }
func (e LeadMerged) BoardPipelineID() uuid.UUID { return e.PipelineID }

// LeadAssigned is published when the primary owner of a lead changed.
type LeadAssigned struct {
	BaseEvent
	LeadID        uuid.UUID  `json:"leadId"`
	PipelineID    uuid.UUID  `json:"pipelineId"`
	PreviousAgent *uuid.UUID `json:"previousAgent,omitempty"`
	NewAgent      *uuid.UUID `json:"newAgent,omitempty"`
	Reason        string     `json:"reason"`
}

func (e LeadAssigned) EventName() string          { return "leads.assigned" }
func (e LeadAssigned) BoardPipelineID() uuid.UUID { return e.PipelineID }

// =============================================================================
// Routing Domain Events
// =============================================================================

// NoEligibleAgent is the operational alert raised when a lead could not be routed.
type NoEligibleAgent struct {
	BaseEvent
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
	UnitCount      int        `json:"unitCount"`
	HasLegalEntity bool       `json:"hasLegalEntity"`
}

func (e NoEligibleAgent) EventName() string { return "routing.no_eligible_agent" }

// =============================================================================
// Board Domain Events
// =============================================================================

// CardMoved is published after a lead changed stage or position.
type CardMoved struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	PipelineID  uuid.UUID `json:"pipelineId"`
	FromStageID uuid.UUID `json:"fromStageId"`
	ToStageID   uuid.UUID `json:"toStageId"`
	FromRank    string    `json:"fromRank"`
	ToRank      string    `json:"toRank"`
}

func (e CardMoved) EventName() string          { return "board.card.moved" }
func (e CardMoved) BoardPipelineID() uuid.UUID { return e.PipelineID }

// StageRebalanced is published after every rank in a stage was rewritten.
// Viewers must re-fetch the stage.
type StageRebalanced struct {
	BaseEvent
	PipelineID uuid.UUID `json:"pipelineId"`
	StageID    uuid.UUID `json:"stageId"`
	Epoch      int64     `json:"epoch"`
	Cards      int       `json:"cards"`
}

func (e StageRebalanced) EventName() string          { return "board.stage.rebalanced" }
func (e StageRebalanced) BoardPipelineID() uuid.UUID { return e.PipelineID }

// BoardEventNames lists every event relayed to board viewers.
var BoardEventNames = []string{
	LeadCreated{}.EventName(),
	LeadMerged{}.EventName(),
	LeadAssigned{}.EventName(),
	CardMoved{}.EventName(),
	StageRebalanced{}.EventName(),
}
