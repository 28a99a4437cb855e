package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/destiny/internal/calendar"
	"gorm.io/datatypes"
)

type LockState string

const (
	LockStateDraft  LockState = "draft"
	LockStateLocked LockState = "locked"
)

type NoteKind string

const (
	NoteKindAnnotation NoteKind = "annotation"
	NoteKindUnlock     NoteKind = "unlock"
)

// RectificationNote is a free-form audit annotation. Notes never influence computation.
type RectificationNote struct {
	Kind        NoteKind                       `json:"kind"`
	Text        string                         `json:"text"`
	ActorType   string                         `json:"actor_type,omitempty"`
	ActorID     string                         `json:"actor_id,omitempty"`
	PriorMoment *calendar.CanonicalBirthMoment `json:"prior_moment,omitempty"`
	PriorPolicy calendar.RectificationPolicy   `json:"prior_policy,omitempty"`
	CreatedAt   time.Time                      `json:"created_at"`
}

// BirthProfile is the single birth record of a user.
type BirthProfile struct {
	ID                 snowflake.ID                                      `gorm:"primaryKey" json:"id"`
	UserID             string                                            `gorm:"type:varchar(128);not null;uniqueIndex" json:"user_id"`
	LockState          LockState                                         `gorm:"type:varchar(16);not null" json:"lock_state"`
	Policy             calendar.RectificationPolicy                      `gorm:"type:varchar(32);not null" json:"policy"`
	Input              datatypes.JSONType[calendar.BirthInput]           `gorm:"not null" json:"input"`
	Moment             datatypes.JSONType[calendar.CanonicalBirthMoment] `gorm:"not null" json:"moment"`
	RectificationNotes datatypes.JSONSlice[RectificationNote]            `json:"rectification_notes"`
	LockedAt           *time.Time                                        `json:"locked_at,omitempty"`
	Version            int64                                             `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time                                         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                                         `gorm:"not null" json:"updated_at"`
}

func (BirthProfile) TableName() string { return "birth_profiles" }

func (p *BirthProfile) Locked() bool {
	return p != nil && p.LockState == LockStateLocked
}

// CanonicalMoment returns the resolved birth moment.
func (p *BirthProfile) CanonicalMoment() calendar.CanonicalBirthMoment {
	return p.Moment.Data()
}

func (p *BirthProfile) BirthInput() calendar.BirthInput {
	return p.Input.Data()
}
