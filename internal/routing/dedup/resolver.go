// Package dedup decides whether an inbound contact event belongs to an
// existing lead and, if so, how it is folded into it.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadrouting_backend/internal/routing/domain"
	"leadrouting_backend/internal/routing/ranking"
	"leadrouting_backend/internal/routing/repository"
	"leadrouting_backend/internal/routing/sticky"
	"leadrouting_backend/platform/apperr"
	"leadrouting_backend/platform/logger"
	"leadrouting_backend/platform/phone"

	"github.com/google/uuid"
)

// OwnerRouter makes the keep-or-reassign decision. *sticky.Router implements it.
type OwnerRouter interface {
	Resync(ctx context.Context, lead domain.LeadProfile, currentOwnerID *uuid.UUID) (sticky.Decision, error)
}

// TailPlacer returns the rank for a card appended to a stage. *ranking.Allocator implements it.
type TailPlacer interface {
	TailRank(ctx context.Context, stage domain.StageRef) (ranking.Placement, error)
}

// MergePlan describes how an event is folded into Lead.
type MergePlan struct {
	Lead     domain.Lead
	Patch    domain.LeadPatch
	Notes    []domain.Note
	Decision sticky.Decision
}

// Resolution is either a Draft for a new lead or a Merge into an existing one.
type Resolution struct {
	IsNew bool
	Draft *domain.LeadDraft
	Merge *MergePlan
}

// Identity is the normalized contact identity of an event.
type Identity struct {
	Phone string
	Email string
}

// Empty reports whether the event carries no usable identity.
func (i Identity) Empty() bool { return i.Phone == "" && i.Email == "" }

// LockKeys returns the identity lock keys for i.
func (i Identity) LockKeys() []string {
	var keys []string
	if i.Phone != "" {
		keys = append(keys, "phone:"+i.Phone)
	}
	if i.Email != "" {
		keys = append(keys, "email:"+i.Email)
	}
	return keys
}

// Resolver matches events against existing leads.
type Resolver struct {
	finder     repository.LeadFinder
	normalizer *phone.Normalizer
	owners     OwnerRouter
	selector   sticky.Selector
	placer     TailPlacer
	log        *logger.Logger
	now        func() time.Time
}

// New creates a Resolver.
func New(finder repository.LeadFinder, normalizer *phone.Normalizer, owners OwnerRouter, selector sticky.Selector, placer TailPlacer, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		finder:     finder,
		normalizer: normalizer,
		owners:     owners,
		selector:   selector,
		placer:     placer,
		log:        log,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for note timestamps.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Identify normalizes the phone and email of ev.
func (r *Resolver) Identify(ev domain.InboundContactEvent) Identity {
	return Identity{
		Phone: r.normalizer.Normalize(ev.Phone),
		Email: domain.NormalizeEmail(ev.Email),
	}
}

// Resolve decides between merge and create. An event without a usable phone
// or email cannot be matched and always yields a new lead.
func (r *Resolver) Resolve(ctx context.Context, ev domain.InboundContactEvent) (Resolution, error) {
	id := r.Identify(ev)

	if id.Empty() {
		r.log.WithContext(ctx).Warn("contact identity unusable, creating new lead", "source", ev.Source)
		return r.create(ctx, ev, id)
	}

	existing, err := r.finder.FindLeadByPhoneOrEmail(ctx, id.Phone, id.Email)
	if err != nil {
		return Resolution{}, fmt.Errorf("find lead by identity: %w", err)
	}
	if existing == nil {
		return r.create(ctx, ev, id)
	}
	return r.merge(ctx, ev, id, *existing)
}

func (r *Resolver) create(ctx context.Context, ev domain.InboundContactEvent, id Identity) (Resolution, error) {
	hasLegalEntity := ev.HasLegalEntity != nil && *ev.HasLegalEntity
	profile, err := domain.NewLeadProfile(ev.UnitCount, hasLegalEntity)
	if err != nil {
		return Resolution{}, apperr.Validation("unitCount is required for a new lead").WithDetails(map[string]any{"unitCount": ev.UnitCount})
	}

	placement, err := r.placer.TailRank(ctx, ev.Stage)
	if err != nil {
		return Resolution{}, err
	}

	owner, err := r.selector.SelectAgent(ctx, profile)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		IsNew: true,
		Draft: &domain.LeadDraft{
			ID:              uuid.New(),
			Stage:           ev.Stage,
			Rank:            placement.Rank,
			RankEpoch:       placement.Epoch,
			UnitCount:       profile.UnitCount,
			HasLegalEntity:  profile.HasLegalEntity,
			OwnerID:         owner,
			ContactName:     strings.TrimSpace(ev.ContactName),
			Phone:           strings.TrimSpace(ev.Phone),
			PhoneNormalized: id.Phone,
			Email:           strings.TrimSpace(ev.Email),
			EmailNormalized: id.Email,
			Source:          ev.Source,
		},
	}, nil
}

func (r *Resolver) merge(ctx context.Context, ev domain.InboundContactEvent, id Identity, lead domain.Lead) (Resolution, error) {
	now := r.now().UTC()
	patch := incomingPatch(ev, id, lead)

	profile := patch.Apply(lead).Profile()
	current := lead.PrimaryOwner()
	decision, err := r.owners.Resync(ctx, profile, current)
	if err != nil {
		return Resolution{}, err
	}

	notes := []domain.Note{snapshotNote(lead, ev, now)}
	if decision.Changed {
		owners := lead.WithPrimaryOwner(decision.OwnerID)
		patch.OwnerIDs = &owners
		notes = append(notes, OwnerChangeNote(lead.ID, current, decision, now))
	}

	return Resolution{
		Merge: &MergePlan{
			Lead:     lead,
			Patch:    patch,
			Notes:    notes,
			Decision: decision,
		},
	}, nil
}

// incomingPatch applies every non-empty incoming field that differs from the
// lead. Empty fields never erase existing data.
func incomingPatch(ev domain.InboundContactEvent, id Identity, lead domain.Lead) domain.LeadPatch {
	patch := domain.LeadPatch{LeadID: lead.ID}

	if name := strings.TrimSpace(ev.ContactName); name != "" && name != lead.ContactName {
		patch.ContactName = &name
	}
	if raw := strings.TrimSpace(ev.Phone); id.Phone != "" && (raw != lead.Phone || id.Phone != lead.PhoneNormalized) {
		normalized := id.Phone
		patch.Phone = &raw
		patch.PhoneNormalized = &normalized
	}
	if raw := strings.TrimSpace(ev.Email); id.Email != "" && (raw != lead.Email || id.Email != lead.EmailNormalized) {
		normalized := id.Email
		patch.Email = &raw
		patch.EmailNormalized = &normalized
	}
	if ev.UnitCount > 0 && ev.UnitCount != lead.UnitCount {
		units := ev.UnitCount
		patch.UnitCount = &units
	}
	if ev.HasLegalEntity != nil && *ev.HasLegalEntity != lead.HasLegalEntity {
		flag := *ev.HasLegalEntity
		patch.HasLegalEntity = &flag
	}
	return patch
}

func snapshotNote(lead domain.Lead, ev domain.InboundContactEvent, at time.Time) domain.Note {
	body := fmt.Sprintf("Contact details before merge at %s: name=%q phone=%q email=%q units=%d legalEntity=%t",
		at.Format(time.RFC3339), lead.ContactName, lead.Phone, lead.Email, lead.UnitCount, lead.HasLegalEntity)

	meta := map[string]any{
		"previous": map[string]any{
			"contactName":    lead.ContactName,
			"phone":          lead.Phone,
			"email":          lead.Email,
			"unitCount":      lead.UnitCount,
			"hasLegalEntity": lead.HasLegalEntity,
		},
		"source": ev.Source,
	}
	if ev.DeliveryID != "" {
		meta["deliveryId"] = ev.DeliveryID
	}

	return domain.Note{LeadID: lead.ID, Kind: domain.NoteMergeSnapshot, Body: body, Metadata: meta, CreatedAt: at}
}

// OwnerChangeNote records an owner decision in the lead history.
func OwnerChangeNote(leadID uuid.UUID, previous *uuid.UUID, d sticky.Decision, at time.Time) domain.Note {
	return domain.Note{
		LeadID: leadID,
		Kind:   domain.NoteOwnerChange,
		Body:   fmt.Sprintf("Owner changed from %s to %s (%s)", ownerLabel(previous), ownerLabel(d.OwnerID), d.Reason),
		Metadata: map[string]any{
			"previousOwnerId": ownerLabel(previous),
			"newOwnerId":      ownerLabel(d.OwnerID),
			"reason":          string(d.Reason),
		},
		CreatedAt: at,
	}
}

func ownerLabel(id *uuid.UUID) string {
	if id == nil {
		return "unassigned"
	}
	return id.String()
}
