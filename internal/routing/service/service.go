// Package service is the routing core facade: owner routing, board ranks and
// inbound lead ingestion.
package service

import (
	"context"
	"errors"
	"time"

	"leadrouting_backend/internal/events"
	"leadrouting_backend/internal/routing/assignment"
	"leadrouting_backend/internal/routing/dedup"
	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/rank"
	"leadrouting_backend/internal/routing/ranking"
	"leadrouting_backend/internal/routing/repository"
	"leadrouting_backend/internal/routing/sticky"
	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/logger"
	"leadrouting_backend/platform/phone"

	"github.com/google/uuid"
)

// Enricher looks up missing sizing attributes for a submission.
type Enricher interface {
	Enrich(ctx context.Context, ev domain.InboundContactEvent) (domain.Enrichment, error)
}

// Options tunes the service. Zero values select package defaults.
type Options struct {
	AssignmentAttempts int
	RankAttempts       int
	RankMaxLength      int
	Scheduler          ranking.RebalanceScheduler
	Enricher           Enricher
	Clock              func() time.Time
}

// Service wires the routing components over one repository.
type Service struct {
	repo     repository.RoutingRepository
	ledger   repository.DeliveryLedger
	queue    *assignment.Queue
	router   *sticky.Router
	alloc    *ranking.Allocator
	resolver *dedup.Resolver
	enricher Enricher
	bus      events.Bus
	log      *logger.Logger
	now      func() time.Time
}

// New creates the routing service.
func New(repo repository.RoutingRepository, ledger repository.DeliveryLedger, normalizer *phone.Normalizer, bus events.Bus, log *logger.Logger, opts Options) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	queue := assignment.New(repo, bus, log, opts.AssignmentAttempts).WithClock(opts.Clock)
	router := sticky.New(repo, queue)
	alloc := ranking.New(repo, bus, log, ranking.Options{
		Attempts:  opts.RankAttempts,
		MaxLength: opts.RankMaxLength,
		Scheduler: opts.Scheduler,
	})
	resolver := dedup.New(repo, normalizer, router, queue, alloc, log).WithClock(opts.Clock)

	return &Service{
		repo:     repo,
		ledger:   ledger,
		queue:    queue,
		router:   router,
		alloc:    alloc,
		resolver: resolver,
		enricher: opts.Enricher,
		bus:      bus,
		log:      log,
		now:      opts.Clock,
	}
}

// Allocator exposes the rank allocator for background jobs.
func (s *Service) Allocator() *ranking.Allocator {
	return s.alloc
}

// RouteNewLead selects and stamps an owner for a lead about to be created.
// A nil owner means no agent is eligible; the lead proceeds unassigned.
func (s *Service) RouteNewLead(ctx context.Context, unitCount int, hasLegalEntity bool) (*uuid.UUID, error) {
	profile, err := domain.NewLeadProfile(unitCount, hasLegalEntity)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	owner, err := s.queue.SelectAgent(ctx, profile)
	if err != nil {
		return nil, err
	}
	reason := sticky.ReasonAssigned
	if owner == nil {
		reason = sticky.ReasonUnassigned
	}
	s.log.WithContext(ctx).RoutingDecision("", ownerString(owner), string(reason))
	return owner, nil
}

// ReconcileOwner applies new sizing to a lead and keeps or replaces its owner.
func (s *Service) ReconcileOwner(ctx context.Context, leadID uuid.UUID, unitCount int, hasLegalEntity bool) (*uuid.UUID, error) {
	profile, err := domain.NewLeadProfile(unitCount, hasLegalEntity)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	lead, err := s.repo.GetLead(ctx, leadID)
	if err != nil {
		return nil, notFound(err, "lead not found")
	}

	keys := append(dedup.Identity{Phone: lead.PhoneNormalized, Email: lead.EmailNormalized}.LockKeys(), "lead:"+leadID.String())

	var owner *uuid.UUID
	err = s.repo.WithIdentityLock(ctx, keys, func(ctx context.Context) error {
		// Re-read under the lock: a merge may have changed the owner meanwhile.
		lead, err := s.repo.GetLead(ctx, leadID)
		if err != nil {
			return notFound(err, "lead not found")
		}

		previous := lead.PrimaryOwner()
		decision, err := s.router.Resync(ctx, profile, previous)
		if err != nil {
			return err
		}

		patch := domain.LeadPatch{LeadID: lead.ID}
		if unitCount != lead.UnitCount {
			patch.UnitCount = &unitCount
		}
		if hasLegalEntity != lead.HasLegalEntity {
			patch.HasLegalEntity = &hasLegalEntity
		}
		var notes []domain.Note
		if decision.Changed {
			owners := lead.WithPrimaryOwner(decision.OwnerID)
			patch.OwnerIDs = &owners
			notes = append(notes, dedup.OwnerChangeNote(lead.ID, previous, decision, s.now().UTC()))
		}

		if !patch.IsEmpty() {
			if _, err := s.repo.UpdateLead(ctx, patch, notes...); err != nil {
				return err
			}
		}

		s.afterDecision(ctx, lead, previous, decision)
		owner = decision.OwnerID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return owner, nil
}

// ComputeInsertRank returns the rank for a card dropped below beforeID or
// above afterID in a stage. The card above wins when both are given.
func (s *Service) ComputeInsertRank(ctx context.Context, pipelineID, stageID uuid.UUID, beforeID, afterID *uuid.UUID) (rank.Rank, error) {
	q := domain.NeighborQuery{
		Stage:    domain.StageRef{PipelineID: pipelineID, StageID: stageID},
		BeforeID: beforeID,
		AfterID:  afterID,
	}
	if beforeID != nil {
		q.AfterID = nil
	}
	r, err := s.alloc.ComputeInsertRank(ctx, q)
	if err != nil {
		return "", notFound(err, "stage or neighbor card not found")
	}
	return r, nil
}

// MoveLead moves a card on the board.
func (s *Service) MoveLead(ctx context.Context, leadID, pipelineID, stageID uuid.UUID, beforeID, afterID *uuid.UUID) (domain.Lead, error) {
	lead, err := s.alloc.MoveLead(ctx, ranking.MoveRequest{
		LeadID:   leadID,
		Stage:    domain.StageRef{PipelineID: pipelineID, StageID: stageID},
		BeforeID: beforeID,
		AfterID:  afterID,
	})
	if err != nil {
		return domain.Lead{}, notFound(err, "lead, stage or neighbor card not found")
	}
	return lead, nil
}

// RebalanceStage rewrites the ranks of a stage with short, evenly spaced keys.
func (s *Service) RebalanceStage(ctx context.Context, pipelineID, stageID uuid.UUID) (int, error) {
	n, err := s.alloc.RebalanceStage(ctx, domain.StageRef{PipelineID: pipelineID, StageID: stageID})
	if err != nil {
		return 0, notFound(err, "stage not found")
	}
	return n, nil
}

// InspectStage reports card count and key length of a stage.
func (s *Service) InspectStage(ctx context.Context, pipelineID, stageID uuid.UUID) (ranking.StageReport, error) {
	report, err := s.alloc.InspectStage(ctx, domain.StageRef{PipelineID: pipelineID, StageID: stageID})
	if err != nil {
		return ranking.StageReport{}, notFound(err, "stage not found")
	}
	return report, nil
}

// ListStages returns every stage of every pipeline.
func (s *Service) ListStages(ctx context.Context) ([]domain.Stage, error) {
	return s.repo.ListStages(ctx)
}

// MergeOrCreate ingests one inbound contact event. Replaying a delivery id
// returns the recorded result without side effects. Submissions sharing a
// contact identity are processed one at a time.
func (s *Service) MergeOrCreate(ctx context.Context, ev domain.InboundContactEvent) (domain.MergeResult, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now().UTC()
	}
	if ev.DeliveryID != "" {
		ctx = context.WithValue(ctx, logger.DeliveryIDKey, ev.DeliveryID)
		if recorded, err := s.lookupDelivery(ctx, ev.DeliveryID); err != nil || recorded != nil {
			return deref(recorded), err
		}
	}

	ev = s.enrich(ctx, ev)

	keys := s.resolver.Identify(ev).LockKeys()
	if ev.DeliveryID != "" {
		keys = append(keys, "delivery:"+ev.DeliveryID)
	}

	var result domain.MergeResult
	ingest := func(ctx context.Context) error {
		if ev.DeliveryID != "" {
			recorded, err := s.lookupDelivery(ctx, ev.DeliveryID)
			if err != nil {
				return err
			}
			if recorded != nil {
				result = *recorded
				return nil
			}
		}

		res, err := s.resolver.Resolve(ctx, ev)
		if err != nil {
			return err
		}
		if res.IsNew {
			result, err = s.create(ctx, *res.Draft)
		} else {
			result, err = s.applyMerge(ctx, *res.Merge, ev)
		}
		if err != nil {
			return err
		}

		if ev.DeliveryID != "" && s.ledger != nil {
			if err := s.ledger.Record(ctx, ev.DeliveryID, result); err != nil {
				// The lead is persisted; a lost ledger entry only weakens replay detection.
				s.log.WithContext(ctx).Error("failed to record delivery", "leadId", result.LeadID, "error", err)
			}
		}
		return nil
	}

	if len(keys) == 0 {
		err := ingest(ctx)
		return result, err
	}
	if err := s.repo.WithIdentityLock(ctx, keys, ingest); err != nil {
		return domain.MergeResult{}, err
	}
	return result, nil
}

func (s *Service) lookupDelivery(ctx context.Context, deliveryID string) (*domain.MergeResult, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.Lookup(ctx, deliveryID)
}

func (s *Service) create(ctx context.Context, draft domain.LeadDraft) (domain.MergeResult, error) {
	q := domain.NeighborQuery{Stage: draft.Stage}
	first := ranking.Placement{Rank: draft.Rank, Epoch: draft.RankEpoch}

	var lead domain.Lead
	_, err := s.alloc.Commit(ctx, q, first, func(ctx context.Context, p ranking.Placement) error {
		draft.Rank, draft.RankEpoch = p.Rank, p.Epoch
		var err error
		lead, err = s.repo.CreateLead(ctx, draft)
		return err
	})
	if err != nil {
		return domain.MergeResult{}, notFound(err, "stage not found")
	}

	reason := sticky.ReasonAssigned
	if draft.OwnerID == nil {
		reason = sticky.ReasonUnassigned
	}
	s.log.WithContext(ctx).RoutingDecision(lead.ID.String(), ownerString(draft.OwnerID), string(reason))

	s.publish(ctx, events.LeadCreated{
		BaseEvent:       events.NewBaseEvent(),
		LeadID:          lead.ID,
		PipelineID:      lead.Stage.PipelineID,
		StageID:         lead.Stage.StageID,
		Rank:            lead.Rank.String(),
		AssignedAgentID: draft.OwnerID,
		Source:          draft.Source,
	})
	return domain.MergeResult{LeadID: lead.ID, Created: true}, nil
}

func (s *Service) applyMerge(ctx context.Context, plan dedup.MergePlan, ev domain.InboundContactEvent) (domain.MergeResult, error) {
	lead, err := s.repo.UpdateLead(ctx, plan.Patch, plan.Notes...)
	if err != nil {
		return domain.MergeResult{}, notFound(err, "lead not found")
	}

	s.publish(ctx, events.LeadMerged{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		PipelineID: lead.Stage.PipelineID,
		StageID:    lead.Stage.StageID,
		Source:     ev.Source,
	})
	s.afterDecision(ctx, plan.Lead, plan.Lead.PrimaryOwner(), plan.Decision)
	return domain.MergeResult{LeadID: lead.ID, Created: false}, nil
}

func (s *Service) afterDecision(ctx context.Context, lead domain.Lead, previous *uuid.UUID, d sticky.Decision) {
	s.log.WithContext(ctx).RoutingDecision(lead.ID.String(), ownerString(d.OwnerID), string(d.Reason))
	if !d.Changed {
		return
	}
	s.publish(ctx, events.LeadAssigned{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        lead.ID,
		PipelineID:    lead.Stage.PipelineID,
		PreviousAgent: previous,
		NewAgent:      d.OwnerID,
		Reason:        string(d.Reason),
	})
}

// enrich fills missing sizing attributes. Lookup failures never block
// ingestion; the event continues with what it has.
func (s *Service) enrich(ctx context.Context, ev domain.InboundContactEvent) domain.InboundContactEvent {
	if s.enricher == nil || (ev.UnitCount > 0 && ev.HasLegalEntity != nil) {
		return ev
	}

	found, err := s.enricher.Enrich(ctx, ev)
	if err != nil {
		s.log.WithContext(ctx).Warn("enrichment failed, proceeding with partial data", "source", ev.Source, "error", err)
		return ev
	}
	if ev.UnitCount <= 0 && found.UnitCount != nil && *found.UnitCount > 0 {
		ev.UnitCount = *found.UnitCount
	}
	if ev.HasLegalEntity == nil && found.HasLegalEntity != nil {
		flag := *found.HasLegalEntity
		ev.HasLegalEntity = &flag
	}
	return ev
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if s.bus != nil {
		s.bus.Publish(ctx, e)
	}
}

func notFound(err error, message string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, message, err)
	}
	return err
}

func ownerString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func deref(r *domain.MergeResult) domain.MergeResult {
	if r == nil {
		return domain.MergeResult{}
	}
	return *r
}
