// Package ranking places cards inside pipeline stages. It reads neighbor ranks
// from the store, computes a key between them and persists it with a
// conditional write, retrying against fresh neighbors on conflict.
package ranking

import (
	"context"
	"errors"
	"fmt"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/rank"
	"leadrouting_backend/internal/routing/repository"
	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	// DefaultAttempts bounds recomputation after rank conflicts.
	DefaultAttempts = 5
	// DefaultMaxLength is the key length past which a stage gets rebalanced.
	DefaultMaxLength = 24
)

// Store is the storage the allocator needs.
type Store interface {
	repository.RankStore
	GetLead(ctx context.Context, id uuid.UUID) (domain.Lead, error)
}

// RebalanceScheduler defers a stage rebalance to a background worker.
type RebalanceScheduler interface {
	ScheduleRebalance(ctx context.Context, stage domain.StageRef) error
}

// Options tunes an Allocator. Zero values select the defaults.
type Options struct {
	Attempts  int
	MaxLength int
	Scheduler RebalanceScheduler
}

// Placement is a computed rank together with the stage epoch it is valid for.
type Placement struct {
	Rank  rank.Rank
	Epoch int64
}

// MoveRequest moves a lead into Stage directly below BeforeID, or directly
// above AfterID when BeforeID is nil. With neither it goes to the tail.
type MoveRequest struct {
	LeadID   uuid.UUID
	Stage    domain.StageRef
	BeforeID *uuid.UUID
	AfterID  *uuid.UUID
}

// Allocator computes and persists ranks.
type Allocator struct {
	store     Store
	bus       events.Bus
	log       *logger.Logger
	attempts  int
	maxLength int
	scheduler RebalanceScheduler
}

// New creates an Allocator.
func New(store Store, bus events.Bus, log *logger.Logger, opts Options) *Allocator {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Allocator{
		store:     store,
		bus:       bus,
		log:       log,
		attempts:  opts.Attempts,
		maxLength: opts.MaxLength,
		scheduler: opts.Scheduler,
	}
}

// Place re-reads the neighbors described by q and returns a key between them.
func (a *Allocator) Place(ctx context.Context, q domain.NeighborQuery) (Placement, error) {
	neighbors, err := a.store.FetchStageNeighborRanks(ctx, q)
	if err != nil {
		return Placement{}, err
	}
	r, err := rank.Between(neighbors.Before, neighbors.After)
	if err != nil {
		// Stored ranks that do not order are corrupt; a rebalance rewrites them.
		return Placement{}, fmt.Errorf("stage %s neighbors: %w", q.Stage, err)
	}
	return Placement{Rank: r, Epoch: neighbors.Epoch}, nil
}

// ComputeInsertRank returns the key for a card inserted at q.
func (a *Allocator) ComputeInsertRank(ctx context.Context, q domain.NeighborQuery) (rank.Rank, error) {
	p, err := a.Place(ctx, q)
	if err != nil {
		return "", err
	}
	return p.Rank, nil
}

// TailRank returns the placement for a new card at the bottom of a stage.
func (a *Allocator) TailRank(ctx context.Context, stage domain.StageRef) (Placement, error) {
	return a.Place(ctx, domain.NeighborQuery{Stage: stage})
}

// Commit runs write with p. While write reports domain.ErrRankConflict the
// neighbors of q are re-read and write is retried with the new placement.
// Exhausted retries surface as a ranking StageError.
func (a *Allocator) Commit(ctx context.Context, q domain.NeighborQuery, p Placement, write func(ctx context.Context, p Placement) error) (Placement, error) {
	for attempt := 1; ; attempt++ {
		err := write(ctx, p)
		if err == nil {
			a.checkLength(ctx, q.Stage, p.Rank)
			return p, nil
		}
		if !errors.Is(err, domain.ErrRankConflict) {
			return Placement{}, err
		}

		a.log.WithContext(ctx).RankConflict(q.Stage.PipelineID.String(), q.Stage.StageID.String(), attempt)
		if attempt >= a.attempts {
			return Placement{}, &domain.StageError{Step: domain.StepRanking, Attempts: attempt, Err: err}
		}

		if p, err = a.Place(ctx, q); err != nil {
			return Placement{}, err
		}
	}
}

// MoveLead moves a card and publishes the move to board viewers.
func (a *Allocator) MoveLead(ctx context.Context, req MoveRequest) (domain.Lead, error) {
	if (req.BeforeID != nil && *req.BeforeID == req.LeadID) || (req.AfterID != nil && *req.AfterID == req.LeadID) {
		return domain.Lead{}, apperr.Validation("a card cannot be placed next to itself")
	}

	current, err := a.store.GetLead(ctx, req.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}

	q := domain.NeighborQuery{
		Stage:     req.Stage,
		BeforeID:  req.BeforeID,
		AfterID:   req.AfterID,
		ExcludeID: &req.LeadID,
	}
	if req.BeforeID != nil {
		// The card above is authoritative; the one below is whatever follows it now.
		q.AfterID = nil
	}

	p, err := a.Place(ctx, q)
	if err != nil {
		return domain.Lead{}, err
	}

	var moved domain.Lead
	_, err = a.Commit(ctx, q, p, func(ctx context.Context, p Placement) error {
		var werr error
		moved, werr = a.store.PersistRank(ctx, req.LeadID, req.Stage, p.Rank, p.Epoch)
		return werr
	})
	if err != nil {
		return domain.Lead{}, err
	}

	if a.bus != nil {
		a.bus.Publish(ctx, events.CardMoved{
			BaseEvent:   events.NewBaseEvent(),
			LeadID:      moved.ID,
			PipelineID:  moved.Stage.PipelineID,
			FromStageID: current.Stage.StageID,
			ToStageID:   moved.Stage.StageID,
			FromRank:    current.Rank.String(),
			ToRank:      moved.Rank.String(),
		})
	}
	return moved, nil
}

// RebalanceStage rewrites every rank in stage with evenly spread keys,
// keeping the board order. Concurrent writers holding the old epoch conflict
// and retry against the new keys.
func (a *Allocator) RebalanceStage(ctx context.Context, stage domain.StageRef) (int, error) {
	cards := 0
	epoch, err := a.store.RewriteStageRanks(ctx, stage, func(ordered []uuid.UUID) []rank.Rank {
		cards = len(ordered)
		return rank.Spread(len(ordered))
	})
	if err != nil {
		return 0, fmt.Errorf("rebalance stage %s: %w", stage, err)
	}

	a.log.WithContext(ctx).Info("stage rebalanced",
		"pipelineId", stage.PipelineID, "stageId", stage.StageID, "cards", cards, "epoch", epoch)

	if a.bus != nil {
		a.bus.Publish(ctx, events.StageRebalanced{
			BaseEvent:  events.NewBaseEvent(),
			PipelineID: stage.PipelineID,
			StageID:    stage.StageID,
			Epoch:      epoch,
			Cards:      cards,
		})
	}
	return cards, nil
}

// StageReport describes the rank state of one stage.
type StageReport struct {
	Stage          domain.Stage
	Cards          int
	LongestRank    int
	NeedsRebalance bool
}

// InspectStage reports how long the keys of stage have grown.
func (a *Allocator) InspectStage(ctx context.Context, stage domain.StageRef) (StageReport, error) {
	st, err := a.store.GetStage(ctx, stage)
	if err != nil {
		return StageReport{}, err
	}
	ranked, epoch, err := a.store.ListStageRanks(ctx, stage)
	if err != nil {
		return StageReport{}, err
	}
	st.RankEpoch = epoch

	report := StageReport{Stage: st, Cards: len(ranked)}
	for _, rl := range ranked {
		report.LongestRank = max(report.LongestRank, len(rl.Rank))
	}
	report.NeedsRebalance = report.LongestRank > a.maxLength
	return report, nil
}

func (a *Allocator) checkLength(ctx context.Context, stage domain.StageRef, r rank.Rank) {
	if len(r) <= a.maxLength {
		return
	}

	log := a.log.WithContext(ctx)
	if a.scheduler != nil {
		if err := a.scheduler.ScheduleRebalance(ctx, stage); err != nil {
			log.Error("failed to schedule stage rebalance", "stage", stage.String(), "error", err)
		}
		return
	}

	if _, err := a.RebalanceStage(ctx, stage); err != nil {
		log.Error("inline stage rebalance failed", "stage", stage.String(), "error", err)
	}
}
