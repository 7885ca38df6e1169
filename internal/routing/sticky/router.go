// Package sticky decides whether a lead keeps its owner after its sizing
// changed. It is the only place that makes the keep-or-reassign decision.
package sticky

import (
	"context"
	"errors"
	"fmt"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/repository"

	"github.com/google/uuid"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonRetained         Reason = "retained"
	ReasonFallbackRetained Reason = "fallback_retained"
	ReasonReassigned       Reason = "reassigned"
	ReasonAssigned         Reason = "assigned"
	ReasonUnassigned       Reason = "unassigned"
)

// Decision is the owner a lead should have after a resync.
type Decision struct {
	OwnerID *uuid.UUID
	Changed bool
	Reason  Reason
}

// Selector picks and stamps a fresh owner. *assignment.Queue implements it.
type Selector interface {
	SelectAgent(ctx context.Context, lead domain.LeadProfile) (*uuid.UUID, error)
}

// Router applies sticky ownership.
type Router struct {
	agents   repository.AgentStore
	selector Selector
}

// New creates a Router.
func New(agents repository.AgentStore, selector Selector) *Router {
	return &Router{agents: agents, selector: selector}
}

// Resync keeps currentOwnerID while it is still eligible for lead. Otherwise
// a replacement is selected; when none is available the current owner stays
// rather than orphaning the lead.
func (r *Router) Resync(ctx context.Context, lead domain.LeadProfile, currentOwnerID *uuid.UUID) (Decision, error) {
	if currentOwnerID == nil {
		owner, err := r.selector.SelectAgent(ctx, lead)
		if err != nil {
			return Decision{}, err
		}
		if owner == nil {
			return Decision{Reason: ReasonUnassigned}, nil
		}
		return Decision{OwnerID: owner, Changed: true, Reason: ReasonAssigned}, nil
	}

	current := *currentOwnerID
	eligible, err := r.stillEligible(ctx, lead, current)
	if err != nil {
		return Decision{}, err
	}
	if eligible {
		return Decision{OwnerID: &current, Reason: ReasonRetained}, nil
	}

	replacement, err := r.selector.SelectAgent(ctx, lead)
	if err != nil {
		return Decision{}, err
	}
	if replacement == nil {
		return Decision{OwnerID: &current, Reason: ReasonFallbackRetained}, nil
	}
	return Decision{
		OwnerID: replacement,
		Changed: *replacement != current,
		Reason:  ReasonReassigned,
	}, nil
}

func (r *Router) stillEligible(ctx context.Context, lead domain.LeadProfile, ownerID uuid.UUID) (bool, error) {
	agent, err := r.agents.GetAgent(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load owner %s: %w", ownerID, err)
	}
	return domain.Eligible(lead, agent), nil
}
