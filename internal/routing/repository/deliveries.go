package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadrouting_backend/internal/routing/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeliveryTable is the Postgres-backed delivery ledger, used when no Redis is configured.
type DeliveryTable struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewDeliveryTable creates a ledger whose entries expire after ttl.
func NewDeliveryTable(pool *pgxpool.Pool, ttl time.Duration) *DeliveryTable {
	return &DeliveryTable{pool: pool, ttl: ttl}
}

func (d *DeliveryTable) Lookup(ctx context.Context, deliveryID string) (*domain.MergeResult, error) {
	var result domain.MergeResult
	err := d.pool.QueryRow(ctx, `
		SELECT lead_id, created FROM inbound_deliveries
		WHERE delivery_id = $1 AND expires_at > now()
	`, deliveryID).Scan(&result.LeadID, &result.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup delivery: %w", err)
	}
	return &result, nil
}

// Record keeps the first result for a delivery. Expired rows are overwritten.
func (d *DeliveryTable) Record(ctx context.Context, deliveryID string, result domain.MergeResult) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO inbound_deliveries (delivery_id, lead_id, created, expires_at)
		VALUES ($1, $2, $3, now() + $4::interval)
		ON CONFLICT (delivery_id) DO UPDATE
		SET lead_id = EXCLUDED.lead_id,
			created = EXCLUDED.created,
			recorded_at = now(),
			expires_at = EXCLUDED.expires_at
		WHERE inbound_deliveries.expires_at <= now()
	`, deliveryID, result.LeadID, result.Created, d.ttl)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// PurgeExpired deletes ledger rows past their expiry and returns how many went.
func (d *DeliveryTable) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM inbound_deliveries WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
