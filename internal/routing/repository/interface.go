package repository

import (
	"context"
	"time"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/rank"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces
// =====================================

// AgentStore owns agent rotation state.
type AgentStore interface {
	LoadAgents(ctx context.Context, activeRoutingOnly bool) ([]domain.Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (domain.Agent, error)
	// StampAssigned sets lastAssignedAt to at only if it still equals expected
	// (nil meaning never assigned). It returns false when another caller got there first.
	StampAssigned(ctx context.Context, id uuid.UUID, expected *time.Time, at time.Time) (bool, error)
}

// LeadFinder looks leads up by id or contact identity.
type LeadFinder interface {
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	// FindLeadByPhoneOrEmail matches normalized identities. When both match
	// different leads the phone match wins. Returns nil when nothing matches.
	FindLeadByPhoneOrEmail(ctx context.Context, phone, email string) (*domain.Lead, error)
}

// RankedLead is one card of a stage in board order.
type RankedLead struct {
	LeadID uuid.UUID
	Rank   rank.Rank
}

// RankStore owns the ordering of cards within stages.
type RankStore interface {
	GetStage(ctx context.Context, ref domain.StageRef) (domain.Stage, error)
	ListStages(ctx context.Context) ([]domain.Stage, error)
	FetchStageNeighborRanks(ctx context.Context, q domain.NeighborQuery) (domain.NeighborRanks, error)
	// PersistRank moves a lead to stage at r. It fails with domain.ErrRankConflict
	// when the stage epoch is no longer epoch or r is already taken in the stage.
	PersistRank(ctx context.Context, leadID uuid.UUID, stage domain.StageRef, r rank.Rank, epoch int64) (domain.Lead, error)
	ListStageRanks(ctx context.Context, stage domain.StageRef) ([]RankedLead, int64, error)
	// RewriteStageRanks locks the stage, hands the current board order to assign
	// and stores the returned ranks in one transaction, bumping the stage epoch.
	RewriteStageRanks(ctx context.Context, stage domain.StageRef, assign func(ordered []uuid.UUID) []rank.Rank) (int64, error)
}

// LeadWriter persists lead drafts, patches and history.
type LeadWriter interface {
	// CreateLead inserts draft. Like PersistRank it fails with domain.ErrRankConflict
	// when draft.RankEpoch is stale or draft.Rank is taken.
	CreateLead(ctx context.Context, draft domain.LeadDraft) (domain.Lead, error)
	// UpdateLead applies patch and appends notes atomically.
	UpdateLead(ctx context.Context, patch domain.LeadPatch, notes ...domain.Note) (domain.Lead, error)
	ListNotes(ctx context.Context, leadID uuid.UUID) ([]domain.Note, error)
}

// IdentityLocker serializes work on the same contact identity across processes.
type IdentityLocker interface {
	WithIdentityLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// DeliveryLedger remembers processed inbound deliveries.
type DeliveryLedger interface {
	// Lookup returns the recorded result, or nil for an unseen delivery.
	Lookup(ctx context.Context, deliveryID string) (*domain.MergeResult, error)
	Record(ctx context.Context, deliveryID string, result domain.MergeResult) error
}

// =====================================
// Composite Interface
// =====================================

// RoutingRepository is everything the routing core needs from storage.
type RoutingRepository interface {
	AgentStore
	LeadFinder
	RankStore
	LeadWriter
	IdentityLocker
}

// Ensure Repository implements RoutingRepository
var _ RoutingRepository = (*Repository)(nil)
var _ DeliveryLedger = (*DeliveryTable)(nil)
