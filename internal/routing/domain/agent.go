// Package domain holds the value objects and pure rules of the routing core.
// Values are only constructed through the explicit constructors below, at the
// persistence or transport boundary.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LegalEntityRule restricts which leads an agent accepts by the legal-entity flag.
type LegalEntityRule string

const (
	LegalEntityRequired  LegalEntityRule = "REQUIRED"
	LegalEntityForbidden LegalEntityRule = "FORBIDDEN"
	LegalEntityEither    LegalEntityRule = "EITHER"
)

// ParseLegalEntityRule accepts the rule name case-insensitively.
func ParseLegalEntityRule(raw string) (LegalEntityRule, error) {
	switch rule := LegalEntityRule(strings.ToUpper(strings.TrimSpace(raw))); rule {
	case LegalEntityRequired, LegalEntityForbidden, LegalEntityEither:
		return rule, nil
	default:
		return "", fmt.Errorf("unknown legal entity rule %q", raw)
	}
}

// Matches reports whether a lead with the given flag satisfies the rule.
// Unknown rules never match.
func (r LegalEntityRule) Matches(hasLegalEntity bool) bool {
	switch r {
	case LegalEntityRequired:
		return hasLegalEntity
	case LegalEntityForbidden:
		return !hasLegalEntity
	case LegalEntityEither:
		return true
	default:
		return false
	}
}

// Agent is a sales agent as seen by the router.
type Agent struct {
	ID              uuid.UUID
	DisplayName     string
	Active          bool
	RoutingEnabled  bool
	MinUnits        int
	MaxUnits        int
	LegalEntityRule LegalEntityRule
	LastAssignedAt  *time.Time
}

// AgentParams carries raw agent attributes read from storage or configuration.
type AgentParams struct {
	ID              uuid.UUID
	DisplayName     string
	Active          bool
	RoutingEnabled  bool
	MinUnits        int
	MaxUnits        int
	LegalEntityRule string
	LastAssignedAt  *time.Time
}

// NewAgent validates params and builds an Agent.
func NewAgent(p AgentParams) (Agent, error) {
	if p.ID == uuid.Nil {
		return Agent{}, fmt.Errorf("agent id is required")
	}
	if p.MinUnits < 0 {
		return Agent{}, fmt.Errorf("agent %s: minUnits must not be negative", p.ID)
	}
	if p.MinUnits > p.MaxUnits {
		return Agent{}, fmt.Errorf("agent %s: minUnits %d exceeds maxUnits %d", p.ID, p.MinUnits, p.MaxUnits)
	}
	rule, err := ParseLegalEntityRule(p.LegalEntityRule)
	if err != nil {
		return Agent{}, fmt.Errorf("agent %s: %w", p.ID, err)
	}

	var last *time.Time
	if p.LastAssignedAt != nil {
		t := p.LastAssignedAt.UTC()
		last = &t
	}

	return Agent{
		ID:              p.ID,
		DisplayName:     p.DisplayName,
		Active:          p.Active,
		RoutingEnabled:  p.RoutingEnabled,
		MinUnits:        p.MinUnits,
		MaxUnits:        p.MaxUnits,
		LegalEntityRule: rule,
		LastAssignedAt:  last,
	}, nil
}
