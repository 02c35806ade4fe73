package models

import "time"

// Offering kinds carried by a payment intent.
const (
	KindProgram  = "program"
	KindSkill    = "skill"
	KindDonation = "donation"
	KindOther    = "other"
)

// Registration kinds used by the wizard.
const (
	RegIndividual   = "individual"
	RegFamilyHead   = "family-head"
	RegFamilyMember = "family-member"
)

// Registration statuses. Drafts stay "pending" until finalized.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusPaid      = "paid"
	StatusRefunded  = "refunded"
)

// Plan types.
const (
	PlanIndividual = "individual"
	PlanFamily     = "family"
)

type Program struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Title       string `gorm:"not null"`
	Description string
}

type Skill struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Title string `gorm:"not null"`
}

// PlanPrice is read-only to the engine. EntityKind is "program" or "skill".
// ParticipantBucket 0 means "any count".
type PlanPrice struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	EntityKind        string `gorm:"not null;uniqueIndex:idx_plan_entity"`
	EntityID          uint   `gorm:"not null;uniqueIndex:idx_plan_entity"`
	PlanType          string `gorm:"not null;uniqueIndex:idx_plan_entity"` // individual | family
	ParticipantBucket int    `gorm:"not null;default:0;uniqueIndex:idx_plan_entity"`
	Amount            int64  `gorm:"not null"`
	Currency          string `gorm:"not null;default:NGN"`
}

// FormSchema stores one JSON schema document per program and plan type.
type FormSchema struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ProgramID uint   `gorm:"not null;uniqueIndex:idx_schema_program_plan"`
	PlanType  string `gorm:"not null;uniqueIndex:idx_schema_program_plan"`
	Document  string `gorm:"type:text;not null"`
}

// Registration is shared by wizard drafts, submitted registrations and
// payment intents. IsDraft separates the wizard lifecycle from the
// submitted/paid one.
type Registration struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID    string `gorm:"index"`
	UserEmail string `gorm:"index"`
	UserName  string

	Kind             string `gorm:"not null;default:program"` // program | skill | donation | other
	RegistrationKind string // individual | family-head | family-member
	ProgramID        *uint
	SkillID          *uint
	PlanID           *uint
	FamilySize       *int

	DraftData string `gorm:"type:text"`
	FormData  string `gorm:"type:text"`
	IsDraft   bool   `gorm:"not null;default:false"`

	Status           string `gorm:"not null;default:pending"` // pending | submitted | paid | refunded
	Amount           int64
	Currency         string
	ParticipantCount int     `gorm:"not null;default:1"`
	TxRef            *string `gorm:"uniqueIndex"`

	LastEditedAt *time.Time
	PaidAt       *time.Time
}

// EntityID returns the program or skill id the row is attached to.
func (r Registration) EntityID() uint {
	switch {
	case r.ProgramID != nil:
		return *r.ProgramID
	case r.SkillID != nil:
		return *r.SkillID
	}
	return 0
}
