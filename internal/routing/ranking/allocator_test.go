package ranking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/memstore"
	"leadrouting_backend/internal/routing/rank"
	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/logger"

	"github.com/google/uuid"
)

type board struct {
	store *memstore.Store
	stage domain.StageRef
}

func newBoard(t *testing.T, ranks ...string) (*board, []uuid.UUID) {
	t.Helper()
	store := memstore.New()
	st := domain.Stage{ID: uuid.New(), PipelineID: uuid.New(), Name: "Intake"}
	store.PutStage(st)

	ids := make([]uuid.UUID, len(ranks))
	for i, r := range ranks {
		ids[i] = uuid.New()
		store.PutLead(domain.Lead{ID: ids[i], Stage: st.Ref(), Rank: rank.MustParse(r), UnitCount: 1})
	}
	return &board{store: store, stage: st.Ref()}, ids
}

func (b *board) order(t *testing.T) []uuid.UUID {
	t.Helper()
	ranked, _, err := b.store.ListStageRanks(context.Background(), b.stage)
	if err != nil {
		t.Fatalf("list ranks: %v", err)
	}
	seen := map[rank.Rank]bool{}
	out := make([]uuid.UUID, len(ranked))
	for i, r := range ranked {
		if seen[r.Rank] {
			t.Fatalf("duplicate rank %q in stage", r.Rank)
		}
		seen[r.Rank] = true
		out[i] = r.LeadID
	}
	return out
}

func sameOrder(got, want []uuid.UUID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestComputeInsertRank(t *testing.T) {
	ctx := context.Background()

	empty, _ := newBoard(t)
	alloc := New(empty.store, nil, logger.Nop(), Options{})
	r, err := alloc.ComputeInsertRank(ctx, domain.NeighborQuery{Stage: empty.stage})
	if err != nil || r != rank.Seed() {
		t.Fatalf("expected seed for empty stage, got %q (err %v)", r, err)
	}

	b, ids := newBoard(t, "a", "c", "e")
	alloc = New(b.store, nil, logger.Nop(), Options{})

	tail, _ := alloc.ComputeInsertRank(ctx, domain.NeighborQuery{Stage: b.stage})
	if !(tail > "e") {
		t.Fatalf("tail rank %q must sort after e", tail)
	}

	head, _ := alloc.ComputeInsertRank(ctx, domain.NeighborQuery{Stage: b.stage, AfterID: &ids[0]})
	if !(head < "a") {
		t.Fatalf("head rank %q must sort before a", head)
	}

	mid, _ := alloc.ComputeInsertRank(ctx, domain.NeighborQuery{Stage: b.stage, BeforeID: &ids[1]})
	if !("c" < mid && mid < "e") {
		t.Fatalf("rank below c must land between c and e, got %q", mid)
	}

	missing := uuid.New()
	if _, err := alloc.ComputeInsertRank(ctx, domain.NeighborQuery{Stage: b.stage, BeforeID: &missing}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown neighbor, got %v", err)
	}
}

func TestMoveLeadWithinStage(t *testing.T) {
	b, ids := newBoard(t, "a", "c", "e")
	alloc := New(b.store, nil, logger.Nop(), Options{})

	// Move the last card directly below the first.
	moved, err := alloc.MoveLead(context.Background(), MoveRequest{LeadID: ids[2], Stage: b.stage, BeforeID: &ids[0]})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !("a" < moved.Rank && moved.Rank < "c") {
		t.Fatalf("moved rank %q must be between a and c", moved.Rank)
	}
	if got := b.order(t); !sameOrder(got, []uuid.UUID{ids[0], ids[2], ids[1]}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestMoveLeadAcrossStages(t *testing.T) {
	b, ids := newBoard(t, "a", "c")
	target := domain.Stage{ID: uuid.New(), PipelineID: b.stage.PipelineID, Name: "Qualified"}
	b.store.PutStage(target)

	alloc := New(b.store, nil, logger.Nop(), Options{})
	moved, err := alloc.MoveLead(context.Background(), MoveRequest{LeadID: ids[0], Stage: target.Ref()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.Stage != target.Ref() || moved.Rank != rank.Seed() {
		t.Fatalf("expected seed rank in the empty target stage, got %+v", moved)
	}
}

func TestMoveLeadRejectsSelfNeighbor(t *testing.T) {
	b, ids := newBoard(t, "a")
	alloc := New(b.store, nil, logger.Nop(), Options{})

	_, err := alloc.MoveLead(context.Background(), MoveRequest{LeadID: ids[0], Stage: b.stage, BeforeID: &ids[0]})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// barrierStore holds the first two neighbor reads until both happened, so two
// moves compute their keys from the same snapshot.
type barrierStore struct {
	*memstore.Store
	reads     atomic.Int32
	conflicts atomic.Int32
	barrier   sync.WaitGroup
}

func newBarrierStore(s *memstore.Store) *barrierStore {
	b := &barrierStore{Store: s}
	b.barrier.Add(2)
	return b
}

func (b *barrierStore) FetchStageNeighborRanks(ctx context.Context, q domain.NeighborQuery) (domain.NeighborRanks, error) {
	n, err := b.Store.FetchStageNeighborRanks(ctx, q)
	if b.reads.Add(1) <= 2 {
		b.barrier.Done()
		b.barrier.Wait()
	}
	return n, err
}

func (b *barrierStore) PersistRank(ctx context.Context, leadID uuid.UUID, stage domain.StageRef, r rank.Rank, epoch int64) (domain.Lead, error) {
	l, err := b.Store.PersistRank(ctx, leadID, stage, r, epoch)
	if errors.Is(err, domain.ErrRankConflict) {
		b.conflicts.Add(1)
	}
	return l, err
}

func TestConcurrentMovesAgainstSameNeighborsStayUnique(t *testing.T) {
	b, ids := newBoard(t, "a", "m", "x", "y")
	store := newBarrierStore(b.store)
	alloc := New(store, nil, logger.Nop(), Options{})

	// Both cards are dropped directly below "a", i.e. between "a" and "m".
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, lead := range []uuid.UUID{ids[2], ids[3]} {
		wg.Add(1)
		go func(i int, lead uuid.UUID) {
			defer wg.Done()
			_, errs[i] = alloc.MoveLead(context.Background(), MoveRequest{LeadID: lead, Stage: b.stage, BeforeID: &ids[0]})
		}(i, lead)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := store.conflicts.Load(); got != 1 {
		t.Fatalf("expected exactly one conflict, got %d", got)
	}

	order := b.order(t)
	if order[0] != ids[0] || order[3] != ids[1] {
		t.Fatalf("both moved cards must sit between a and m, got %v", order)
	}
}

type conflictingStore struct {
	*memstore.Store
	writes int
}

func (c *conflictingStore) PersistRank(context.Context, uuid.UUID, domain.StageRef, rank.Rank, int64) (domain.Lead, error) {
	c.writes++
	return domain.Lead{}, domain.ErrRankConflict
}

func TestMoveLeadSurfacesRankingStageErrorAfterRetries(t *testing.T) {
	b, ids := newBoard(t, "a", "c")
	store := &conflictingStore{Store: b.store}
	alloc := New(store, nil, logger.Nop(), Options{Attempts: 4})

	_, err := alloc.MoveLead(context.Background(), MoveRequest{LeadID: ids[1], Stage: b.stage})
	step, ok := domain.StepOf(err)
	if !ok || step != domain.StepRanking {
		t.Fatalf("expected ranking stage error, got %v", err)
	}
	if store.writes != 4 {
		t.Fatalf("expected 4 write attempts, got %d", store.writes)
	}
}

func TestRebalancePreservesOrderAndInvalidatesStaleWrites(t *testing.T) {
	b, ids := newBoard(t, "a", "a0000001", "a00000011", "zzzzzzzz1")
	alloc := New(b.store, nil, logger.Nop(), Options{})
	ctx := context.Background()

	stale, err := alloc.TailRank(ctx, b.stage)
	if err != nil {
		t.Fatalf("tail rank: %v", err)
	}

	before := b.order(t)
	n, err := alloc.RebalanceStage(ctx, b.stage)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 cards rebalanced, got %d (err %v)", n, err)
	}
	if after := b.order(t); !sameOrder(after, before) {
		t.Fatalf("rebalance changed order: %v -> %v", before, after)
	}

	ranked, _, _ := b.store.ListStageRanks(ctx, b.stage)
	for _, r := range ranked {
		if len(r.Rank) != 1 {
			t.Fatalf("expected short keys after rebalance, got %q", r.Rank)
		}
	}

	if _, err := b.store.PersistRank(ctx, ids[0], b.stage, stale.Rank, stale.Epoch); !errors.Is(err, domain.ErrRankConflict) {
		t.Fatalf("write with pre-rebalance epoch must conflict, got %v", err)
	}
}

type recordingScheduler struct {
	stages []domain.StageRef
}

func (r *recordingScheduler) ScheduleRebalance(_ context.Context, stage domain.StageRef) error {
	r.stages = append(r.stages, stage)
	return nil
}

func TestLongKeysScheduleRebalance(t *testing.T) {
	b, ids := newBoard(t, "a", "a00001")
	sched := &recordingScheduler{}
	alloc := New(b.store, nil, logger.Nop(), Options{MaxLength: 4, Scheduler: sched})

	// Dropping a card between "a" and "a00001" needs a key longer than four digits.
	newcomer := uuid.New()
	b.store.PutLead(domain.Lead{ID: newcomer, Stage: b.stage, Rank: "z", UnitCount: 1})
	if _, err := alloc.MoveLead(context.Background(), MoveRequest{LeadID: newcomer, Stage: b.stage, BeforeID: &ids[0]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sched.stages) != 1 || sched.stages[0] != b.stage {
		t.Fatalf("expected one scheduled rebalance, got %v", sched.stages)
	}
}

func TestLongKeysRebalanceInlineWithoutScheduler(t *testing.T) {
	b, ids := newBoard(t, "a", "a00001")
	alloc := New(b.store, nil, logger.Nop(), Options{MaxLength: 4})

	newcomer := uuid.New()
	b.store.PutLead(domain.Lead{ID: newcomer, Stage: b.stage, Rank: "z", UnitCount: 1})
	if _, err := alloc.MoveLead(context.Background(), MoveRequest{LeadID: newcomer, Stage: b.stage, BeforeID: &ids[0]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, _ := b.store.GetStage(context.Background(), b.stage)
	if st.RankEpoch != 1 {
		t.Fatalf("expected inline rebalance to bump epoch, got %d", st.RankEpoch)
	}
	if got := b.order(t); !sameOrder(got, []uuid.UUID{ids[0], newcomer, ids[1]}) {
		t.Fatalf("unexpected order after inline rebalance: %v", got)
	}
}

func TestInspectStageReportsKeyGrowth(t *testing.T) {
	b, _ := newBoard(t, "a", "a00001", "m")
	alloc := New(b.store, nil, logger.Nop(), Options{MaxLength: 4})

	report, err := alloc.InspectStage(context.Background(), b.stage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Cards != 3 || report.LongestRank != 6 || !report.NeedsRebalance {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Stage.Name != "Intake" {
		t.Fatalf("expected stage name Intake, got %q", report.Stage.Name)
	}

	if _, err := alloc.RebalanceStage(context.Background(), b.stage); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	report, err = alloc.InspectStage(context.Background(), b.stage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.NeedsRebalance || report.Stage.RankEpoch != 1 {
		t.Fatalf("expected a rebalanced stage, got %+v", report)
	}
}

func TestInspectStageUnknownStage(t *testing.T) {
	b, _ := newBoard(t)
	alloc := New(b.store, nil, logger.Nop(), Options{})

	missing := domain.StageRef{PipelineID: b.stage.PipelineID, StageID: uuid.New()}
	if _, err := alloc.InspectStage(context.Background(), missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
