package domain

// Eligible reports whether agent may receive lead.
func Eligible(lead LeadProfile, agent Agent) bool {
	return agent.Active &&
		agent.RoutingEnabled &&
		agent.MinUnits <= lead.UnitCount &&
		lead.UnitCount <= agent.MaxUnits &&
		agent.LegalEntityRule.Matches(lead.HasLegalEntity)
}

// FilterEligible returns the agents eligible for lead, preserving input order.
func FilterEligible(lead LeadProfile, agents []Agent) []Agent {
	out := make([]Agent, 0, len(agents))
	for _, a := range agents {
		if Eligible(lead, a) {
			out = append(out, a)
		}
	}
	return out
}
