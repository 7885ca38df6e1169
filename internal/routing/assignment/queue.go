// Package assignment selects the agent that receives a lead: the eligible
// agent idle the longest, stamped through a compare-and-swap on lastAssignedAt.
package assignment

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/repository"
	"leadrouting_backend/platform/logger"

	"github.com/google/uuid"
)

// DefaultAttempts bounds re-selection after lost stamp races.
const DefaultAttempts = 5

// stampPrecision matches timestamptz.
const stampPrecision = time.Microsecond

// Queue is a longest-idle-first scheduler. It keeps no rotation state of its
// own; every call reads the agents afresh.
type Queue struct {
	agents   repository.AgentStore
	bus      events.Bus
	log      *logger.Logger
	attempts int
	now      func() time.Time
}

// New creates a queue. attempts <= 0 falls back to DefaultAttempts.
func New(agents repository.AgentStore, bus events.Bus, log *logger.Logger, attempts int) *Queue {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Queue{
		agents:   agents,
		bus:      bus,
		log:      log,
		attempts: attempts,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// SelectAgent picks and stamps the agent for lead. It returns nil without an
// error when no agent is eligible; the lead then stays unassigned.
func (q *Queue) SelectAgent(ctx context.Context, lead domain.LeadProfile) (*uuid.UUID, error) {
	for attempt := 1; attempt <= q.attempts; attempt++ {
		agents, err := q.agents.LoadAgents(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("load agents: %w", err)
		}

		eligible := domain.FilterEligible(lead, agents)
		if len(eligible) == 0 {
			q.alertNoEligible(ctx, lead)
			return nil, nil
		}

		Order(eligible)
		head := eligible[0]

		stamped, err := q.agents.StampAssigned(ctx, head.ID, head.LastAssignedAt, q.stampTime(agents))
		if err != nil {
			return nil, fmt.Errorf("stamp agent %s: %w", head.ID, err)
		}
		if stamped {
			return &head.ID, nil
		}

		q.log.WithContext(ctx).Debug("assignment race, reselecting", "agentId", head.ID, "attempt", attempt)
	}

	return nil, &domain.StageError{Step: domain.StepAssignment, Attempts: q.attempts, Err: domain.ErrAssignmentRace}
}

// Order sorts agents longest-idle first: never-assigned agents lead, then by
// lastAssignedAt ascending, ties broken by id.
func Order(agents []domain.Agent) {
	sort.SliceStable(agents, func(i, j int) bool {
		a, b := agents[i].LastAssignedAt, agents[j].LastAssignedAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return bytes.Compare(agents[i].ID[:], agents[j].ID[:]) < 0
	})
}

// stampTime returns now, moved past the newest stamp among agents so the
// selected agent always sorts strictly last afterwards.
func (q *Queue) stampTime(agents []domain.Agent) time.Time {
	at := q.now().UTC().Truncate(stampPrecision)
	for _, a := range agents {
		if a.LastAssignedAt != nil && !at.After(*a.LastAssignedAt) {
			at = a.LastAssignedAt.UTC().Truncate(stampPrecision).Add(stampPrecision)
		}
	}
	return at
}

func (q *Queue) alertNoEligible(ctx context.Context, lead domain.LeadProfile) {
	q.log.WithContext(ctx).NoEligibleAgent(lead.UnitCount, lead.HasLegalEntity)
	if q.bus == nil {
		return
	}
	q.bus.Publish(ctx, events.NoEligibleAgent{
		BaseEvent:      events.NewBaseEvent(),
		UnitCount:      lead.UnitCount,
		HasLegalEntity: lead.HasLegalEntity,
	})
}
