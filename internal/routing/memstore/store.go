// Package memstore is an in-memory routing repository. It enforces the same
// conditional writes as the Postgres repository (stamp compare-and-swap,
// unique ranks per stage, stage epochs, identity locks). The routing unit
// tests run against it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/rank"
	"leadrouting_backend/internal/routing/repository"

	"github.com/google/uuid"
)

// Store holds all routing state behind one mutex.
type Store struct {
	mu         sync.Mutex
	agents     map[uuid.UUID]domain.Agent
	stages     map[domain.StageRef]domain.Stage
	leads      map[uuid.UUID]domain.Lead
	notes      map[uuid.UUID][]domain.Note
	deliveries map[string]domain.MergeResult
	locks      *keyedMutex
	now        func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		agents:     make(map[uuid.UUID]domain.Agent),
		stages:     make(map[domain.StageRef]domain.Stage),
		leads:      make(map[uuid.UUID]domain.Lead),
		notes:      make(map[uuid.UUID][]domain.Note),
		deliveries: make(map[string]domain.MergeResult),
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
}

// PutAgent inserts or replaces an agent.
func (s *Store) PutAgent(a domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = cloneAgent(a)
}

// PutStage inserts or replaces a stage.
func (s *Store) PutStage(st domain.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[st.Ref()] = st
}

// PutLead inserts a lead without rank checks. Used to seed fixtures.
func (s *Store) PutLead(l domain.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = cloneLead(l)
}

// Leads returns every lead, oldest first.
func (s *Store) Leads() []domain.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		out = append(out, cloneLead(l))
	}
	sortLeads(out)
	return out
}

// ---- AgentStore ----

func (s *Store) LoadAgents(_ context.Context, activeRoutingOnly bool) ([]domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		if activeRoutingOnly && !(a.Active && a.RoutingEnabled) {
			continue
		}
		out = append(out, cloneAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) GetAgent(_ context.Context, id uuid.UUID) (domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return cloneAgent(a), nil
}

func (s *Store) StampAssigned(_ context.Context, id uuid.UUID, expected *time.Time, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !sameStamp(a.LastAssignedAt, expected) {
		return false, nil
	}
	stamp := at.UTC()
	a.LastAssignedAt = &stamp
	s.agents[id] = a
	return true, nil
}

func sameStamp(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ---- LeadFinder ----

func (s *Store) GetLead(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, domain.ErrNotFound
	}
	return cloneLead(l), nil
}

func (s *Store) FindLeadByPhoneOrEmail(_ context.Context, phone, email string) (*domain.Lead, error) {
	if phone == "" && email == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.Lead, 0, len(s.leads))
	for _, l := range s.leads {
		all = append(all, l)
	}
	sortLeads(all)

	if phone != "" {
		for _, l := range all {
			if l.PhoneNormalized == phone {
				found := cloneLead(l)
				return &found, nil
			}
		}
	}
	if email != "" {
		for _, l := range all {
			if l.EmailNormalized == email {
				found := cloneLead(l)
				return &found, nil
			}
		}
	}
	return nil, nil
}

// ---- RankStore ----

func (s *Store) GetStage(_ context.Context, ref domain.StageRef) (domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stages[ref]
	if !ok {
		return domain.Stage{}, domain.ErrNotFound
	}
	return st, nil
}

func (s *Store) ListStages(_ context.Context) ([]domain.Stage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Stage, 0, len(s.stages))
	for _, st := range s.stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PipelineID != out[j].PipelineID {
			return out[i].PipelineID.String() < out[j].PipelineID.String()
		}
		return out[i].DisplayOrder < out[j].DisplayOrder
	})
	return out, nil
}

func (s *Store) FetchStageNeighborRanks(_ context.Context, q domain.NeighborQuery) (domain.NeighborRanks, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[q.Stage]
	if !ok {
		return domain.NeighborRanks{}, fmt.Errorf("stage %s: %w", q.Stage, domain.ErrNotFound)
	}

	column := s.columnLocked(q.Stage, q.ExcludeID)
	out := domain.NeighborRanks{Epoch: st.RankEpoch}

	switch {
	case q.BeforeID != nil:
		i := indexOf(column, *q.BeforeID)
		if i < 0 {
			return domain.NeighborRanks{}, fmt.Errorf("lead %s in stage %s: %w", *q.BeforeID, q.Stage, domain.ErrNotFound)
		}
		out.Before = rankPtr(column[i].Rank)
		if i+1 < len(column) {
			out.After = rankPtr(column[i+1].Rank)
		}
	case q.AfterID != nil:
		i := indexOf(column, *q.AfterID)
		if i < 0 {
			return domain.NeighborRanks{}, fmt.Errorf("lead %s in stage %s: %w", *q.AfterID, q.Stage, domain.ErrNotFound)
		}
		out.After = rankPtr(column[i].Rank)
		if i > 0 {
			out.Before = rankPtr(column[i-1].Rank)
		}
	default:
		if n := len(column); n > 0 {
			out.Before = rankPtr(column[n-1].Rank)
		}
	}
	return out, nil
}

func (s *Store) PersistRank(_ context.Context, leadID uuid.UUID, stage domain.StageRef, r rank.Rank, epoch int64) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[leadID]
	if !ok {
		return domain.Lead{}, domain.ErrNotFound
	}
	if err := s.checkRankLocked(stage, r, epoch, leadID); err != nil {
		return domain.Lead{}, err
	}

	l.Stage = stage
	l.Rank = r
	l.UpdatedAt = s.now().UTC()
	s.leads[leadID] = l
	return cloneLead(l), nil
}

func (s *Store) ListStageRanks(_ context.Context, stage domain.StageRef) ([]repository.RankedLead, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[stage]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	column := s.columnLocked(stage, nil)
	out := make([]repository.RankedLead, len(column))
	for i, l := range column {
		out[i] = repository.RankedLead{LeadID: l.ID, Rank: l.Rank}
	}
	return out, st.RankEpoch, nil
}

func (s *Store) RewriteStageRanks(_ context.Context, stage domain.StageRef, assign func(ordered []uuid.UUID) []rank.Rank) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stages[stage]
	if !ok {
		return 0, domain.ErrNotFound
	}

	column := s.columnLocked(stage, nil)
	ids := make([]uuid.UUID, len(column))
	for i, l := range column {
		ids[i] = l.ID
	}
	ranks := assign(ids)
	if len(ranks) != len(ids) {
		return 0, fmt.Errorf("rewrite stage %s: got %d ranks for %d leads", stage, len(ranks), len(ids))
	}

	now := s.now().UTC()
	for i, id := range ids {
		l := s.leads[id]
		l.Rank = ranks[i]
		l.UpdatedAt = now
		s.leads[id] = l
	}
	st.RankEpoch++
	s.stages[stage] = st
	return st.RankEpoch, nil
}

// ---- LeadWriter ----

func (s *Store) CreateLead(_ context.Context, draft domain.LeadDraft) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.leads[draft.ID]; exists {
		return domain.Lead{}, fmt.Errorf("lead %s already exists", draft.ID)
	}
	if err := s.checkRankLocked(draft.Stage, draft.Rank, draft.RankEpoch, draft.ID); err != nil {
		return domain.Lead{}, err
	}

	now := s.now().UTC()
	l := domain.Lead{
		ID:              draft.ID,
		Stage:           draft.Stage,
		Rank:            draft.Rank,
		UnitCount:       draft.UnitCount,
		HasLegalEntity:  draft.HasLegalEntity,
		ContactName:     draft.ContactName,
		Phone:           draft.Phone,
		PhoneNormalized: draft.PhoneNormalized,
		Email:           draft.Email,
		EmailNormalized: draft.EmailNormalized,
		Source:          draft.Source,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if draft.OwnerID != nil {
		l.OwnerIDs = []uuid.UUID{*draft.OwnerID}
	}
	s.leads[l.ID] = l
	return cloneLead(l), nil
}

func (s *Store) UpdateLead(_ context.Context, patch domain.LeadPatch, notes ...domain.Note) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leads[patch.LeadID]
	if !ok {
		return domain.Lead{}, domain.ErrNotFound
	}
	now := s.now().UTC()
	l = patch.Apply(l)
	l.UpdatedAt = now
	s.leads[l.ID] = l

	for _, n := range notes {
		n.LeadID = l.ID
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		s.notes[l.ID] = append(s.notes[l.ID], n)
	}
	return cloneLead(l), nil
}

func (s *Store) ListNotes(_ context.Context, leadID uuid.UUID) ([]domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Note(nil), s.notes[leadID]...), nil
}

// ---- IdentityLocker ----

func (s *Store) WithIdentityLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	unlock := s.locks.lock(keys)
	defer unlock()
	return fn(ctx)
}

// ---- DeliveryLedger ----

func (s *Store) Lookup(_ context.Context, deliveryID string) (*domain.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.deliveries[deliveryID]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (s *Store) Record(_ context.Context, deliveryID string, result domain.MergeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[deliveryID]; !ok {
		s.deliveries[deliveryID] = result
	}
	return nil
}

// ---- helpers ----

func (s *Store) checkRankLocked(stage domain.StageRef, r rank.Rank, epoch int64, self uuid.UUID) error {
	st, ok := s.stages[stage]
	if !ok {
		return fmt.Errorf("stage %s: %w", stage, domain.ErrNotFound)
	}
	if st.RankEpoch != epoch {
		return domain.ErrRankConflict
	}
	for _, other := range s.leads {
		if other.ID != self && other.Stage == stage && other.Rank == r {
			return domain.ErrRankConflict
		}
	}
	return nil
}

func (s *Store) columnLocked(stage domain.StageRef, exclude *uuid.UUID) []domain.Lead {
	var column []domain.Lead
	for _, l := range s.leads {
		if l.Stage != stage || (exclude != nil && l.ID == *exclude) {
			continue
		}
		column = append(column, l)
	}
	sort.Slice(column, func(i, j int) bool { return column[i].Rank < column[j].Rank })
	return column
}

func indexOf(column []domain.Lead, id uuid.UUID) int {
	for i, l := range column {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func rankPtr(r rank.Rank) *rank.Rank { return &r }

func sortLeads(leads []domain.Lead) {
	sort.Slice(leads, func(i, j int) bool {
		if !leads[i].CreatedAt.Equal(leads[j].CreatedAt) {
			return leads[i].CreatedAt.Before(leads[j].CreatedAt)
		}
		return leads[i].ID.String() < leads[j].ID.String()
	})
}

func cloneAgent(a domain.Agent) domain.Agent {
	if a.LastAssignedAt != nil {
		t := *a.LastAssignedAt
		a.LastAssignedAt = &t
	}
	return a
}

func cloneLead(l domain.Lead) domain.Lead {
	l.OwnerIDs = append([]uuid.UUID(nil), l.OwnerIDs...)
	return l
}

var (
	_ repository.RoutingRepository = (*Store)(nil)
	_ repository.DeliveryLedger     = (*Store)(nil)
)
