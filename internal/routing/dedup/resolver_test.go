package dedup

import (
	"context"
	"testing"
	"time"

	"leadrouting_backend/internal/routing/assignment"
	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/memstore"
	"leadrouting_backend/internal/routing/ranking"
	"leadrouting_backend/internal/routing/rank"
	"leadrouting_backend/internal/routing/sticky"
	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/logger"
	"leadrouting_backend/platform/phone"

	"github.com/google/uuid"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	resolver *Resolver
	stage    domain.StageRef
	small    domain.Agent
	large    domain.Agent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	st := domain.Stage{ID: uuid.New(), PipelineID: uuid.New(), Name: "New"}
	store.PutStage(st)

	small := domain.Agent{ID: uuid.New(), Active: true, RoutingEnabled: true, MinUnits: 1, MaxUnits: 5, LegalEntityRule: domain.LegalEntityEither}
	large := domain.Agent{ID: uuid.New(), Active: true, RoutingEnabled: true, MinUnits: 6, MaxUnits: 50, LegalEntityRule: domain.LegalEntityEither}
	store.PutAgent(small)
	store.PutAgent(large)

	log := logger.Nop()
	queue := assignment.New(store, nil, log, 5).WithClock(func() time.Time { return now })
	router := sticky.New(store, queue)
	alloc := ranking.New(store, nil, log, ranking.Options{})
	normalizer := phone.NewNormalizer(phone.Rules{Prefixes: []phone.PrefixRule{{Prefix: "0", Replace: "+31"}}})

	return &fixture{
		store:    store,
		resolver: New(store, normalizer, router, queue, alloc, log).WithClock(func() time.Time { return now }),
		stage:    st.Ref(),
		small:    small,
		large:    large,
	}
}

func (f *fixture) seedLead(phoneRaw, phoneNorm, email string, units int, owner *uuid.UUID) domain.Lead {
	l := domain.Lead{
		ID:              uuid.New(),
		Stage:           f.stage,
		Rank:            rank.MustParse("i"),
		UnitCount:       units,
		ContactName:     "Jan",
		Phone:           phoneRaw,
		PhoneNormalized: phoneNorm,
		Email:           email,
		EmailNormalized: domain.NormalizeEmail(email),
		CreatedAt:       now,
	}
	if owner != nil {
		l.OwnerIDs = []uuid.UUID{*owner}
	}
	f.store.PutLead(l)
	return l
}

func TestResolveNewLeadDraft(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{
		Stage:     f.stage,
		Phone:     "06-1234 5678",
		Email:     " Jan@Example.COM ",
		UnitCount: 3,
		Source:    "webform",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsNew || res.Draft == nil {
		t.Fatalf("expected a draft, got %+v", res)
	}

	d := res.Draft
	if d.PhoneNormalized != "+31612345678" || d.EmailNormalized != "jan@example.com" {
		t.Fatalf("identity not normalized: %q %q", d.PhoneNormalized, d.EmailNormalized)
	}
	if d.Rank != rank.Seed() || d.Stage != f.stage {
		t.Fatalf("expected seed rank in target stage, got %q", d.Rank)
	}
	if d.OwnerID == nil || *d.OwnerID != f.small.ID {
		t.Fatalf("expected small-lead agent, got %v", d.OwnerID)
	}
	if d.ID == uuid.Nil {
		t.Fatalf("draft needs a fresh id")
	}
}

func TestResolvePhoneMatchWinsOverEmail(t *testing.T) {
	f := newFixture(t)
	byPhone := f.seedLead("0612345678", "+31612345678", "", 2, nil)
	f.seedLead("", "", "jan@example.com", 2, nil)

	res, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{
		Stage: f.stage, Phone: "+31 6 12345678", Email: "jan@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsNew || res.Merge.Lead.ID != byPhone.ID {
		t.Fatalf("expected merge into phone match %s, got %+v", byPhone.ID, res)
	}
}

func TestResolveMatchesByEmailAlone(t *testing.T) {
	f := newFixture(t)
	existing := f.seedLead("", "", "Jan@example.com", 2, nil)

	res, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{Stage: f.stage, Email: "JAN@EXAMPLE.COM"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsNew || res.Merge.Lead.ID != existing.ID {
		t.Fatalf("expected merge into %s, got %+v", existing.ID, res)
	}
}

func TestResolveMergeKeepsExistingFieldsAndOwner(t *testing.T) {
	f := newFixture(t)
	existing := f.seedLead("0612345678", "+31612345678", "jan@example.com", 2, &f.small.ID)

	res, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{
		Stage: f.stage, Phone: "06 12345678", UnitCount: 4, DeliveryID: "d-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan := res.Merge
	if plan.Patch.Email != nil || plan.Patch.ContactName != nil {
		t.Fatalf("empty incoming fields must not erase: %+v", plan.Patch)
	}
	if plan.Patch.UnitCount == nil || *plan.Patch.UnitCount != 4 {
		t.Fatalf("expected unit count update, got %+v", plan.Patch.UnitCount)
	}
	if plan.Decision.Reason != sticky.ReasonRetained || plan.Patch.OwnerIDs != nil {
		t.Fatalf("owner in range must be retained, got %+v", plan.Decision)
	}
	if len(plan.Notes) != 1 || plan.Notes[0].Kind != domain.NoteMergeSnapshot {
		t.Fatalf("expected a single snapshot note, got %+v", plan.Notes)
	}
	if plan.Notes[0].Metadata["deliveryId"] != "d-1" || !plan.Notes[0].CreatedAt.Equal(now) {
		t.Fatalf("snapshot note missing delivery id or timestamp: %+v", plan.Notes[0])
	}
	if plan.Patch.LeadID != existing.ID {
		t.Fatalf("patch targets wrong lead")
	}
}

func TestResolveMergeReassignsWhenSizingLeavesOwnerRange(t *testing.T) {
	f := newFixture(t)
	f.seedLead("0612345678", "+31612345678", "", 2, &f.small.ID)

	res, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{
		Stage: f.stage, Phone: "0612345678", UnitCount: 20,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan := res.Merge
	if plan.Decision.Reason != sticky.ReasonReassigned || *plan.Decision.OwnerID != f.large.ID {
		t.Fatalf("expected reassignment to large agent, got %+v", plan.Decision)
	}
	if plan.Patch.OwnerIDs == nil || (*plan.Patch.OwnerIDs)[0] != f.large.ID {
		t.Fatalf("patch must replace primary owner, got %v", plan.Patch.OwnerIDs)
	}
	if len(plan.Notes) != 2 || plan.Notes[1].Kind != domain.NoteOwnerChange {
		t.Fatalf("expected snapshot and owner change notes, got %+v", plan.Notes)
	}
}

func TestResolveWithoutIdentityAlwaysCreates(t *testing.T) {
	f := newFixture(t)
	f.seedLead("", "", "", 2, nil)

	res, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{
		Stage: f.stage, Phone: "n/a", ContactName: "Anonymous", UnitCount: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsNew {
		t.Fatalf("event without identity must create a new lead")
	}
}

func TestResolveNewLeadRequiresUnitCount(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Resolve(context.Background(), domain.InboundContactEvent{Stage: f.stage, Email: "new@example.com"})
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestIdentityLockKeys(t *testing.T) {
	keys := Identity{Phone: "+31612345678", Email: "a@b.c"}.LockKeys()
	if len(keys) != 2 || keys[0] != "phone:+31612345678" || keys[1] != "email:a@b.c" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if len((Identity{}).LockKeys()) != 0 {
		t.Fatalf("empty identity has no keys")
	}
}
