package repository

import (
	"context"
	"fmt"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const agentColumns = `id, display_name, active, routing_enabled, min_units, max_units, legal_entity_rule, last_assigned_at`

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var p domain.AgentParams
	if err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Active,
		&p.RoutingEnabled,
		&p.MinUnits,
		&p.MaxUnits,
		&p.LegalEntityRule,
		&p.LastAssignedAt,
	); err != nil {
		return domain.Agent{}, err
	}
	return domain.NewAgent(p)
}

func (r *Repository) LoadAgents(ctx context.Context, activeRoutingOnly bool) ([]domain.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM routing_agents
		WHERE NOT $1 OR (active AND routing_enabled)
		ORDER BY id
	`, activeRoutingOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]domain.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (r *Repository) GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error) {
	a, err := scanAgent(r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM routing_agents WHERE id = $1`, id))
	if err != nil {
		return domain.Agent{}, notFoundIfNoRows(err)
	}
	return a, nil
}

func (r *Repository) StampAssigned(ctx context.Context, id uuid.UUID, expected *time.Time, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE routing_agents
		SET last_assigned_at = $3, updated_at = now()
		WHERE id = $1 AND last_assigned_at IS NOT DISTINCT FROM $2
	`, id, expected, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
