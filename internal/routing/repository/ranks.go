package repository

import (
	"context"
	"errors"
	"fmt"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/rank"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const stageColumns = `id, pipeline_id, name, display_order, rank_epoch`

func scanStage(row pgx.Row) (domain.Stage, error) {
	var st domain.Stage
	err := row.Scan(&st.ID, &st.PipelineID, &st.Name, &st.DisplayOrder, &st.RankEpoch)
	return st, err
}

func (r *Repository) GetStage(ctx context.Context, ref domain.StageRef) (domain.Stage, error) {
	st, err := scanStage(r.pool.QueryRow(ctx, `
		SELECT `+stageColumns+` FROM pipeline_stages WHERE pipeline_id = $1 AND id = $2
	`, ref.PipelineID, ref.StageID))
	if err != nil {
		return domain.Stage{}, notFoundIfNoRows(err)
	}
	return st, nil
}

func (r *Repository) ListStages(ctx context.Context) ([]domain.Stage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stageColumns+` FROM pipeline_stages ORDER BY pipeline_id, display_order, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stages := make([]domain.Stage, 0)
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// FetchStageNeighborRanks reads the epoch and both neighbors from one snapshot.
func (r *Repository) FetchStageNeighborRanks(ctx context.Context, q domain.NeighborQuery) (domain.NeighborRanks, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.NeighborRanks{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var out domain.NeighborRanks
	err = tx.QueryRow(ctx, `
		SELECT rank_epoch FROM pipeline_stages WHERE pipeline_id = $1 AND id = $2
	`, q.Stage.PipelineID, q.Stage.StageID).Scan(&out.Epoch)
	if err != nil {
		return domain.NeighborRanks{}, fmt.Errorf("stage %s: %w", q.Stage, notFoundIfNoRows(err))
	}

	exclude := uuid.Nil
	if q.ExcludeID != nil {
		exclude = *q.ExcludeID
	}

	switch {
	case q.BeforeID != nil:
		before, err := anchorRank(ctx, tx, q.Stage, *q.BeforeID)
		if err != nil {
			return domain.NeighborRanks{}, err
		}
		out.Before = &before
		out.After, err = optionalRank(ctx, tx, `
			SELECT rank FROM leads
			WHERE pipeline_id = $1 AND stage_id = $2 AND rank > $3 AND id <> $4
			ORDER BY rank LIMIT 1
		`, q.Stage.PipelineID, q.Stage.StageID, before, exclude)
		if err != nil {
			return domain.NeighborRanks{}, err
		}

	case q.AfterID != nil:
		after, err := anchorRank(ctx, tx, q.Stage, *q.AfterID)
		if err != nil {
			return domain.NeighborRanks{}, err
		}
		out.After = &after
		out.Before, err = optionalRank(ctx, tx, `
			SELECT rank FROM leads
			WHERE pipeline_id = $1 AND stage_id = $2 AND rank < $3 AND id <> $4
			ORDER BY rank DESC LIMIT 1
		`, q.Stage.PipelineID, q.Stage.StageID, after, exclude)
		if err != nil {
			return domain.NeighborRanks{}, err
		}

	default:
		out.Before, err = optionalRank(ctx, tx, `
			SELECT rank FROM leads
			WHERE pipeline_id = $1 AND stage_id = $2 AND id <> $3
			ORDER BY rank DESC LIMIT 1
		`, q.Stage.PipelineID, q.Stage.StageID, exclude)
		if err != nil {
			return domain.NeighborRanks{}, err
		}
	}

	return out, tx.Commit(ctx)
}

func anchorRank(ctx context.Context, tx pgx.Tx, stage domain.StageRef, leadID uuid.UUID) (rank.Rank, error) {
	var r rank.Rank
	err := tx.QueryRow(ctx, `
		SELECT rank FROM leads WHERE id = $1 AND pipeline_id = $2 AND stage_id = $3
	`, leadID, stage.PipelineID, stage.StageID).Scan(&r)
	if err != nil {
		return "", fmt.Errorf("lead %s in stage %s: %w", leadID, stage, notFoundIfNoRows(err))
	}
	return r, nil
}

func optionalRank(ctx context.Context, tx pgx.Tx, query string, args ...any) (*rank.Rank, error) {
	var r rank.Rank
	err := tx.QueryRow(ctx, query, args...).Scan(&r)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Repository) PersistRank(ctx context.Context, leadID uuid.UUID, stage domain.StageRef, k rank.Rank, epoch int64) (domain.Lead, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Lead{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkEpoch(ctx, tx, stage, epoch); err != nil {
		return domain.Lead{}, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE leads SET pipeline_id = $2, stage_id = $3, rank = $4, updated_at = now()
		WHERE id = $1
	`, leadID, stage.PipelineID, stage.StageID, k)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Lead{}, domain.ErrRankConflict
		}
		return domain.Lead{}, fmt.Errorf("persist rank: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Lead{}, domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Lead{}, err
	}
	return r.GetLead(ctx, leadID)
}

func (r *Repository) ListStageRanks(ctx context.Context, stage domain.StageRef) ([]RankedLead, int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var epoch int64
	if err := tx.QueryRow(ctx, `
		SELECT rank_epoch FROM pipeline_stages WHERE pipeline_id = $1 AND id = $2
	`, stage.PipelineID, stage.StageID).Scan(&epoch); err != nil {
		return nil, 0, notFoundIfNoRows(err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, rank FROM leads WHERE pipeline_id = $1 AND stage_id = $2 ORDER BY rank
	`, stage.PipelineID, stage.StageID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	ranked := make([]RankedLead, 0)
	for rows.Next() {
		var rl RankedLead
		if err := rows.Scan(&rl.LeadID, &rl.Rank); err != nil {
			return nil, 0, err
		}
		ranked = append(ranked, rl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return ranked, epoch, tx.Commit(ctx)
}

// RewriteStageRanks holds the stage row exclusively, so no move or insert
// validated against the old epoch can commit in between.
func (r *Repository) RewriteStageRanks(ctx context.Context, stage domain.StageRef, assign func(ordered []uuid.UUID) []rank.Rank) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var epoch int64
	if err := tx.QueryRow(ctx, `
		SELECT rank_epoch FROM pipeline_stages WHERE pipeline_id = $1 AND id = $2 FOR UPDATE
	`, stage.PipelineID, stage.StageID).Scan(&epoch); err != nil {
		return 0, notFoundIfNoRows(err)
	}

	// New keys may transiently equal old ones of other cards.
	if _, err := tx.Exec(ctx, `SET CONSTRAINTS leads_stage_rank_key DEFERRED`); err != nil {
		return 0, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id FROM leads WHERE pipeline_id = $1 AND stage_id = $2 ORDER BY rank FOR UPDATE
	`, stage.PipelineID, stage.StageID)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return 0, err
	}

	ranks := assign(ids)
	if len(ranks) != len(ids) {
		return 0, fmt.Errorf("rewrite stage %s: got %d ranks for %d leads", stage, len(ranks), len(ids))
	}

	batch := &pgx.Batch{}
	for i, id := range ids {
		batch.Queue(`UPDATE leads SET rank = $2, updated_at = now() WHERE id = $1`, id, ranks[i])
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("rewrite stage %s: %w", stage, err)
	}

	if err := tx.QueryRow(ctx, `
		UPDATE pipeline_stages SET rank_epoch = rank_epoch + 1
		WHERE pipeline_id = $1 AND id = $2
		RETURNING rank_epoch
	`, stage.PipelineID, stage.StageID).Scan(&epoch); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return epoch, nil
}
