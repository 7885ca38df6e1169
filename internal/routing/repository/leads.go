package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const leadSelect = `
	SELECT l.id, l.pipeline_id, l.stage_id, l.rank, l.unit_count, l.has_legal_entity,
		ARRAY(SELECT o.agent_id FROM lead_owners o WHERE o.lead_id = l.id ORDER BY o.position),
		l.contact_name, l.phone, l.phone_normalized, l.email, l.email_normalized, l.source,
		l.created_at, l.updated_at
	FROM leads l`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var l domain.Lead
	err := row.Scan(
		&l.ID,
		&l.Stage.PipelineID,
		&l.Stage.StageID,
		&l.Rank,
		&l.UnitCount,
		&l.HasLegalEntity,
		&l.OwnerIDs,
		&l.ContactName,
		&l.Phone,
		&l.PhoneNormalized,
		&l.Email,
		&l.EmailNormalized,
		&l.Source,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

func (r *Repository) GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	l, err := scanLead(r.pool.QueryRow(ctx, leadSelect+` WHERE l.id = $1`, id))
	if err != nil {
		return domain.Lead{}, notFoundIfNoRows(err)
	}
	return l, nil
}

func (r *Repository) FindLeadByPhoneOrEmail(ctx context.Context, phone, email string) (*domain.Lead, error) {
	if phone == "" && email == "" {
		return nil, nil
	}

	l, err := scanLead(r.pool.QueryRow(ctx, leadSelect+`
		WHERE ($1::text <> '' AND l.phone_normalized = $1::text)
		   OR ($2::text <> '' AND l.email_normalized = $2::text)
		ORDER BY ($1::text <> '' AND l.phone_normalized = $1::text) DESC, l.created_at, l.id
		LIMIT 1
	`, phone, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repository) CreateLead(ctx context.Context, draft domain.LeadDraft) (domain.Lead, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Lead{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkEpoch(ctx, tx, draft.Stage, draft.RankEpoch); err != nil {
		return domain.Lead{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO leads (
			id, pipeline_id, stage_id, rank, unit_count, has_legal_entity,
			contact_name, phone, phone_normalized, email, email_normalized, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, draft.ID, draft.Stage.PipelineID, draft.Stage.StageID, draft.Rank, draft.UnitCount, draft.HasLegalEntity,
		draft.ContactName, draft.Phone, draft.PhoneNormalized, draft.Email, draft.EmailNormalized, draft.Source)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Lead{}, domain.ErrRankConflict
		}
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}

	if draft.OwnerID != nil {
		if err := replaceOwners(ctx, tx, draft.ID, []uuid.UUID{*draft.OwnerID}); err != nil {
			return domain.Lead{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Lead{}, err
	}
	return r.GetLead(ctx, draft.ID)
}

func (r *Repository) UpdateLead(ctx context.Context, patch domain.LeadPatch, notes ...domain.Note) (domain.Lead, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Lead{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE leads SET
			unit_count = COALESCE($2, unit_count),
			has_legal_entity = COALESCE($3, has_legal_entity),
			contact_name = COALESCE($4, contact_name),
			phone = COALESCE($5, phone),
			phone_normalized = COALESCE($6, phone_normalized),
			email = COALESCE($7, email),
			email_normalized = COALESCE($8, email_normalized),
			updated_at = now()
		WHERE id = $1
	`, patch.LeadID, patch.UnitCount, patch.HasLegalEntity, patch.ContactName,
		patch.Phone, patch.PhoneNormalized, patch.Email, patch.EmailNormalized)
	if err != nil {
		return domain.Lead{}, fmt.Errorf("update lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Lead{}, domain.ErrNotFound
	}

	if patch.OwnerIDs != nil {
		if err := replaceOwners(ctx, tx, patch.LeadID, *patch.OwnerIDs); err != nil {
			return domain.Lead{}, err
		}
	}

	for _, n := range notes {
		if err := insertNote(ctx, tx, patch.LeadID, n); err != nil {
			return domain.Lead{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Lead{}, err
	}
	return r.GetLead(ctx, patch.LeadID)
}

func replaceOwners(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, owners []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM lead_owners WHERE lead_id = $1`, leadID); err != nil {
		return fmt.Errorf("clear owners: %w", err)
	}
	for i, id := range owners {
		if _, err := tx.Exec(ctx, `
			INSERT INTO lead_owners (lead_id, agent_id, position) VALUES ($1, $2, $3)
		`, leadID, id, i); err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
	}
	return nil
}

func insertNote(ctx context.Context, tx pgx.Tx, leadID uuid.UUID, n domain.Note) error {
	meta := n.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO lead_notes (lead_id, kind, body, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, leadID, string(n.Kind), n.Body, meta, createdAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (r *Repository) ListNotes(ctx context.Context, leadID uuid.UUID) ([]domain.Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lead_id, kind, body, metadata, created_at
		FROM lead_notes
		WHERE lead_id = $1
		ORDER BY created_at, id
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]domain.Note, 0)
	for rows.Next() {
		var n domain.Note
		var kind string
		if err := rows.Scan(&n.LeadID, &kind, &n.Body, &n.Metadata, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = domain.NoteKind(kind)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
