package repository

import (
	"context"
	"errors"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation = "23505"

	defaultLockAttempts = 200
	defaultLockInterval = 25 * time.Millisecond
)

// Repository is the Postgres implementation of RoutingRepository.
type Repository struct {
	pool         *pgxpool.Pool
	lockAttempts int
	lockInterval time.Duration
}

// New creates a repository over pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:         pool,
		lockAttempts: defaultLockAttempts,
		lockInterval: defaultLockInterval,
	}
}

// WithLockPolicy bounds how long WithIdentityLock polls for a held lock.
func (r *Repository) WithLockPolicy(attempts int, interval time.Duration) *Repository {
	if attempts > 0 {
		r.lockAttempts = attempts
	}
	if interval > 0 {
		r.lockInterval = interval
	}
	return r
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFoundIfNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// checkEpoch share-locks the stage row for the rest of tx and verifies its epoch.
func checkEpoch(ctx context.Context, tx pgx.Tx, stage domain.StageRef, epoch int64) error {
	var current int64
	err := tx.QueryRow(ctx, `
		SELECT rank_epoch FROM pipeline_stages
		WHERE pipeline_id = $1 AND id = $2
		FOR SHARE
	`, stage.PipelineID, stage.StageID).Scan(&current)
	if err != nil {
		return notFoundIfNoRows(err)
	}
	if current != epoch {
		return domain.ErrRankConflict
	}
	return nil
}
