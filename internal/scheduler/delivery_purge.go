package scheduler

import (
	"context"
	"time"

	"leadrouting_backend/platform/logger"
)

const defaultDeliveryPurgeInterval = time.Hour

// DeliveryPurger deletes expired inbound delivery records.
type DeliveryPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// DeliveryPurge periodically removes expired entries of the Postgres delivery ledger.
type DeliveryPurge struct {
	purger   DeliveryPurger
	log      *logger.Logger
	interval time.Duration
}

func NewDeliveryPurge(purger DeliveryPurger, log *logger.Logger, interval time.Duration) *DeliveryPurge {
	if interval <= 0 {
		interval = defaultDeliveryPurgeInterval
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DeliveryPurge{purger: purger, log: log, interval: interval}
}

func (p *DeliveryPurge) Run(ctx context.Context) {
	if p == nil || p.purger == nil {
		return
	}

	p.purge(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.purge(ctx)
		}
	}
}

func (p *DeliveryPurge) purge(ctx context.Context) {
	deleted, err := p.purger.PurgeExpired(ctx)
	if err != nil {
		p.log.WithContext(ctx).DatabaseError("purge_expired_deliveries", err)
		return
	}
	if deleted > 0 {
		p.log.Info("delivery purge removed expired records", "deleted", deleted)
	}
}
