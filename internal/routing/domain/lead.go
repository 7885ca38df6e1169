package domain

import (
	"fmt"
	"strings"
	"time"

	"leadrouting_backend/internal/routing/rank"

	"github.com/google/uuid"
)

// LeadProfile holds the attributes eligibility is evaluated against.
type LeadProfile struct {
	UnitCount      int
	HasLegalEntity bool
}

// NewLeadProfile validates the sizing attributes of a lead.
func NewLeadProfile(unitCount int, hasLegalEntity bool) (LeadProfile, error) {
	if unitCount <= 0 {
		return LeadProfile{}, fmt.Errorf("unitCount must be positive, got %d", unitCount)
	}
	return LeadProfile{UnitCount: unitCount, HasLegalEntity: hasLegalEntity}, nil
}

// StageRef identifies one rank partition.
type StageRef struct {
	PipelineID uuid.UUID
	StageID    uuid.UUID
}

func (s StageRef) String() string {
	return s.PipelineID.String() + "/" + s.StageID.String()
}

// Stage is a pipeline column. RankEpoch changes whenever the stage is rebalanced.
type Stage struct {
	ID           uuid.UUID
	PipelineID   uuid.UUID
	Name         string
	DisplayOrder int
	RankEpoch    int64
}

// Ref returns the partition key of the stage.
func (s Stage) Ref() StageRef {
	return StageRef{PipelineID: s.PipelineID, StageID: s.ID}
}

// Lead is a contact record on the board.
type Lead struct {
	ID              uuid.UUID
	Stage           StageRef
	Rank            rank.Rank
	UnitCount       int
	HasLegalEntity  bool
	OwnerIDs        []uuid.UUID
	ContactName     string
	Phone           string
	PhoneNormalized string
	Email           string
	EmailNormalized string
	Source          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Profile returns the eligibility attributes of the lead.
func (l Lead) Profile() LeadProfile {
	return LeadProfile{UnitCount: l.UnitCount, HasLegalEntity: l.HasLegalEntity}
}

// PrimaryOwner returns the first owner, or nil for an unassigned lead.
func (l Lead) PrimaryOwner() *uuid.UUID {
	if len(l.OwnerIDs) == 0 {
		return nil
	}
	id := l.OwnerIDs[0]
	return &id
}

// WithPrimaryOwner returns the owner list with the primary owner replaced.
// Co-owners keep their order; a nil owner keeps the list unchanged.
func (l Lead) WithPrimaryOwner(owner *uuid.UUID) []uuid.UUID {
	if owner == nil {
		return append([]uuid.UUID(nil), l.OwnerIDs...)
	}
	out := []uuid.UUID{*owner}
	for i, id := range l.OwnerIDs {
		if i == 0 || id == *owner {
			continue
		}
		out = append(out, id)
	}
	return out
}

// NormalizeEmail trims and lower-cases an email identity.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NoteKind classifies lead history entries written by the routing core.
type NoteKind string

const (
	NoteMergeSnapshot NoteKind = "merge_snapshot"
	NoteOwnerChange   NoteKind = "owner_change"
)

// Note is an append-only history entry on a lead.
type Note struct {
	LeadID    uuid.UUID
	Kind      NoteKind
	Body      string
	Metadata  map[string]any
	CreatedAt time.Time
}

// InboundContactEvent is a normalized lead submission from a webhook or form.
// UnitCount 0 and a nil HasLegalEntity mean the submission did not carry them.
type InboundContactEvent struct {
	DeliveryID     string
	Source         string
	Stage          StageRef
	ContactName    string
	Phone          string
	Email          string
	UnitCount      int
	HasLegalEntity *bool
	ReceivedAt     time.Time
}

// LeadDraft is a lead ready to be inserted.
type LeadDraft struct {
	ID              uuid.UUID
	Stage           StageRef
	Rank            rank.Rank
	RankEpoch       int64
	UnitCount       int
	HasLegalEntity  bool
	OwnerID         *uuid.UUID
	ContactName     string
	Phone           string
	PhoneNormalized string
	Email           string
	EmailNormalized string
	Source          string
}

// Profile returns the eligibility attributes of the draft.
func (d LeadDraft) Profile() LeadProfile {
	return LeadProfile{UnitCount: d.UnitCount, HasLegalEntity: d.HasLegalEntity}
}

// LeadPatch updates an existing lead. Nil fields are left unchanged.
type LeadPatch struct {
	LeadID          uuid.UUID
	UnitCount       *int
	HasLegalEntity  *bool
	ContactName     *string
	Phone           *string
	PhoneNormalized *string
	Email           *string
	EmailNormalized *string
	OwnerIDs        *[]uuid.UUID
}

// IsEmpty reports whether the patch changes nothing.
func (p LeadPatch) IsEmpty() bool {
	return p.UnitCount == nil && p.HasLegalEntity == nil && p.ContactName == nil &&
		p.Phone == nil && p.PhoneNormalized == nil && p.Email == nil &&
		p.EmailNormalized == nil && p.OwnerIDs == nil
}

// Apply returns lead with the patch applied.
func (p LeadPatch) Apply(lead Lead) Lead {
	if p.UnitCount != nil {
		lead.UnitCount = *p.UnitCount
	}
	if p.HasLegalEntity != nil {
		lead.HasLegalEntity = *p.HasLegalEntity
	}
	if p.ContactName != nil {
		lead.ContactName = *p.ContactName
	}
	if p.Phone != nil {
		lead.Phone = *p.Phone
	}
	if p.PhoneNormalized != nil {
		lead.PhoneNormalized = *p.PhoneNormalized
	}
	if p.Email != nil {
		lead.Email = *p.Email
	}
	if p.EmailNormalized != nil {
		lead.EmailNormalized = *p.EmailNormalized
	}
	if p.OwnerIDs != nil {
		lead.OwnerIDs = append([]uuid.UUID(nil), (*p.OwnerIDs)...)
	}
	return lead
}

// NeighborQuery asks for the ranks around an insertion point. BeforeID is the
// card displayed directly above the insertion point, AfterID the one below.
// ExcludeID is the card being moved, which never counts as its own neighbor.
type NeighborQuery struct {
	Stage     StageRef
	BeforeID  *uuid.UUID
	AfterID   *uuid.UUID
	ExcludeID *uuid.UUID
}

// NeighborRanks are the current bounds of an insertion point and the stage
// epoch they were read at.
type NeighborRanks struct {
	Before *rank.Rank
	After  *rank.Rank
	Epoch  int64
}

// MergeResult is the outcome of ingesting one inbound contact event.
type MergeResult struct {
	LeadID  uuid.UUID `json:"leadId"`
	Created bool      `json:"created"`
}

// Enrichment carries sizing attributes looked up for a submission.
// Nil fields were not found.
type Enrichment struct {
	UnitCount      *int
	HasLegalEntity *bool
}
