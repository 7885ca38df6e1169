package routing

import (
	"fmt"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/internal/routing/enrichment"
	"leadrouting_backend/internal/routing/idempotency"
	"leadrouting_backend/internal/routing/ranking"
	"leadrouting_backend/internal/routing/repository"
	"leadrouting_backend/internal/routing/service"
	"leadrouting_backend/platform/config"
	"leadrouting_backend/platform/logger"
	"leadrouting_backend/platform/phone"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ServiceConfig is the configuration the routing service reads.
type ServiceConfig interface {
	config.RoutingConfig
	config.PhoneConfig
	config.EnrichmentConfig
}

// Deps are the process-level resources shared with the routing service.
type Deps struct {
	Pool *pgxpool.Pool
	// Redis is optional. Without it the delivery ledger lives in Postgres.
	Redis redis.UniversalClient
	// Scheduler is optional. Without it long ranks are rebalanced inline.
	Scheduler ranking.RebalanceScheduler
	Bus       events.Bus
	Log       *logger.Logger
}

// Assembled is the routing service plus the ledger table when one is in use.
type Assembled struct {
	Service *service.Service
	// Deliveries is set when the ledger is the Postgres table and needs purging.
	Deliveries *repository.DeliveryTable
}

// NewService builds the routing service over Postgres.
func NewService(cfg ServiceConfig, deps Deps) (*Assembled, error) {
	rules, err := phone.RulesFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("phone rules: %w", err)
	}

	repo := repository.New(deps.Pool)
	out := &Assembled{}

	var ledger repository.DeliveryLedger
	if deps.Redis != nil {
		ledger = idempotency.NewRedisLedger(deps.Redis, "", cfg.GetDeliveryTTL())
	} else {
		out.Deliveries = repository.NewDeliveryTable(deps.Pool, cfg.GetDeliveryTTL())
		ledger = out.Deliveries
	}

	opts := service.Options{
		AssignmentAttempts: cfg.GetAssignmentAttempts(),
		RankAttempts:       cfg.GetRankAttempts(),
		RankMaxLength:      cfg.GetRankMaxLength(),
		Scheduler:          deps.Scheduler,
	}
	if client := enrichment.New(cfg, deps.Log); client != nil {
		opts.Enricher = client
	}

	out.Service = service.New(repo, ledger, phone.NewNormalizer(rules), deps.Bus, deps.Log, opts)
	return out, nil
}
