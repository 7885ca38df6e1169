package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func agent(min, max int, rule LegalEntityRule) Agent {
	return Agent{
		ID:              uuid.New(),
		Active:          true,
		RoutingEnabled:  true,
		MinUnits:        min,
		MaxUnits:        max,
		LegalEntityRule: rule,
	}
}

func TestEligibleUnitBoundaries(t *testing.T) {
	a := agent(2, 5, LegalEntityEither)

	cases := map[int]bool{1: false, 2: true, 3: true, 5: true, 6: false}
	for units, want := range cases {
		if got := Eligible(LeadProfile{UnitCount: units}, a); got != want {
			t.Fatalf("unitCount %d: expected %v, got %v", units, want, got)
		}
	}
}

func TestEligibleLegalEntityRules(t *testing.T) {
	cases := []struct {
		rule           LegalEntityRule
		hasLegalEntity bool
		want           bool
	}{
		{LegalEntityRequired, true, true},
		{LegalEntityRequired, false, false},
		{LegalEntityForbidden, true, false},
		{LegalEntityForbidden, false, true},
		{LegalEntityEither, true, true},
		{LegalEntityEither, false, true},
		{LegalEntityRule("SOMETIMES"), true, false},
	}
	for _, tc := range cases {
		lead := LeadProfile{UnitCount: 3, HasLegalEntity: tc.hasLegalEntity}
		if got := Eligible(lead, agent(0, 5, tc.rule)); got != tc.want {
			t.Fatalf("%s/%v: expected %v, got %v", tc.rule, tc.hasLegalEntity, tc.want, got)
		}
	}
}

func TestEligibleRequiresActiveAndRoutingEnabled(t *testing.T) {
	lead := LeadProfile{UnitCount: 1}

	inactive := agent(0, 5, LegalEntityEither)
	inactive.Active = false
	if Eligible(lead, inactive) {
		t.Fatalf("inactive agent must not be eligible")
	}

	paused := agent(0, 5, LegalEntityEither)
	paused.RoutingEnabled = false
	if Eligible(lead, paused) {
		t.Fatalf("agent with routing disabled must not be eligible")
	}
}

func TestFilterEligiblePreservesOrder(t *testing.T) {
	a := agent(0, 5, LegalEntityEither)
	b := agent(6, 9, LegalEntityEither)
	c := agent(0, 5, LegalEntityForbidden)

	got := FilterEligible(LeadProfile{UnitCount: 4}, []Agent{a, b, c})
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != c.ID {
		t.Fatalf("unexpected eligible set: %+v", got)
	}
}

func TestNewAgentValidation(t *testing.T) {
	id := uuid.New()
	if _, err := NewAgent(AgentParams{ID: id, MinUnits: 6, MaxUnits: 5, LegalEntityRule: "either"}); err == nil {
		t.Fatalf("expected error for minUnits > maxUnits")
	}
	if _, err := NewAgent(AgentParams{ID: id, MinUnits: -1, MaxUnits: 5, LegalEntityRule: "EITHER"}); err == nil {
		t.Fatalf("expected error for negative minUnits")
	}
	if _, err := NewAgent(AgentParams{ID: id, MaxUnits: 5, LegalEntityRule: "maybe"}); err == nil {
		t.Fatalf("expected error for unknown rule")
	}
	if _, err := NewAgent(AgentParams{MaxUnits: 5, LegalEntityRule: "EITHER"}); err == nil {
		t.Fatalf("expected error for missing id")
	}

	a, err := NewAgent(AgentParams{ID: id, MinUnits: 5, MaxUnits: 5, LegalEntityRule: " required "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.LegalEntityRule != LegalEntityRequired {
		t.Fatalf("expected REQUIRED, got %q", a.LegalEntityRule)
	}
}

func TestNewLeadProfileRequiresPositiveUnits(t *testing.T) {
	if _, err := NewLeadProfile(0, false); err == nil {
		t.Fatalf("expected error for zero units")
	}
	if p, err := NewLeadProfile(3, true); err != nil || p.UnitCount != 3 || !p.HasLegalEntity {
		t.Fatalf("unexpected profile %+v, err %v", p, err)
	}
}

func TestWithPrimaryOwnerReplacesHead(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	lead := Lead{OwnerIDs: []uuid.UUID{a, b}}

	got := lead.WithPrimaryOwner(&c)
	if len(got) != 2 || got[0] != c || got[1] != b {
		t.Fatalf("unexpected owners: %v", got)
	}

	got = lead.WithPrimaryOwner(&b)
	if len(got) != 1 || got[0] != b {
		t.Fatalf("co-owner promoted to primary must not be duplicated: %v", got)
	}

	if (Lead{}).PrimaryOwner() != nil {
		t.Fatalf("expected no primary owner")
	}
}

func TestStageErrorUnwrapsAndNamesStep(t *testing.T) {
	err := fmt.Errorf("move: %w", &StageError{Step: StepRanking, Attempts: 5, Err: ErrRankConflict})

	if !errors.Is(err, ErrRankConflict) {
		t.Fatalf("expected ErrRankConflict in chain")
	}
	step, ok := StepOf(err)
	if !ok || step != StepRanking {
		t.Fatalf("expected ranking step, got %q (%v)", step, ok)
	}
	if _, ok := StepOf(ErrNotFound); ok {
		t.Fatalf("plain errors carry no step")
	}
}
